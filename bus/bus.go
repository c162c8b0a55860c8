// bus.go
package bus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Tokens + Topics
// -----------------------------------------------------------------------------

const (
	kindStr byte = iota
	kindInt
	kindPlus
	kindHash
)

// Token is a single element in a topic path.
// It can be a string, an integer, or one of the two wildcards.
type Token struct {
	kind byte
	sval string
	ival int
}

// Constructors
func S(s string) Token { return Token{kind: kindStr, sval: s} }
func I(i int) Token    { return Token{kind: kindInt, ival: i} }

// Wildcards: Plus matches exactly one token, Hash matches any remainder
// (including none). Both are subscription-side only.
var (
	Plus = Token{kind: kindPlus}
	Hash = Token{kind: kindHash}
)

// Int returns the value of an integer token; ok is false for any other kind.
func (t Token) Int() (int, bool) { return t.ival, t.kind == kindInt }

// Str returns the value of a string token; ok is false for any other kind.
func (t Token) Str() (string, bool) { return t.sval, t.kind == kindStr }

func (t Token) String() string {
	switch t.kind {
	case kindInt:
		return strconv.Itoa(t.ival)
	case kindPlus:
		return "+"
	case kindHash:
		return "#"
	}
	return t.sval
}

// Topic is a sequence of tokens.
type Topic []Token

func (tp Topic) String() string {
	parts := make([]string, len(tp))
	for i, t := range tp {
		parts[i] = t.String()
	}
	return strings.Join(parts, "/")
}

// T builds a Topic from string, int and Token parts. The strings "+" and
// "#" become the corresponding wildcard tokens. Any other part type is a
// programming error and panics.
func T(parts ...any) Topic {
	tp := make(Topic, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			switch v {
			case "+":
				tp = append(tp, Plus)
			case "#":
				tp = append(tp, Hash)
			default:
				tp = append(tp, S(v))
			}
		case int:
			tp = append(tp, I(v))
		case Token:
			tp = append(tp, v)
		default:
			panic(fmt.Sprintf("bus: topic part %T is not a string, int or Token", p))
		}
	}
	return tp
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	ReplyTo  Topic
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	bus   *Bus
	conn  *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{
		root: &node{},
		qLen: queueLen,
	}
}

// NewMessage builds a message ready to publish.
func (b *Bus) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// deliver hands msg to one subscription without ever blocking: a full
// queue drops its oldest entry so the stream stays fresh.
func deliver(sub *Subscription, msg *Message) {
	select {
	case sub.ch <- msg:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- msg:
	default:
	}
}

// addSubscription inserts a subscription into the trie and replays any
// retained messages its pattern matches.
func (b *Bus) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	n.subs = append(n.subs, sub)

	var replay []*Message
	b.matchRetained(b.root, topic, 0, &replay)
	for _, msg := range replay {
		deliver(sub, msg)
	}
}

// matchRetained collects retained messages under nodes matching pattern.
func (b *Bus) matchRetained(n *node, pattern Topic, depth int, out *[]*Message) {
	if n == nil {
		return
	}
	if depth == len(pattern) {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[depth] {
	case Hash:
		b.subtreeRetained(n, out)
	case Plus:
		for _, child := range n.children {
			b.matchRetained(child, pattern, depth+1, out)
		}
	default:
		if n.children != nil {
			b.matchRetained(n.children[pattern[depth]], pattern, depth+1, out)
		}
	}
}

func (b *Bus) subtreeRetained(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, child := range n.children {
		b.subtreeRetained(child, out)
	}
}

// Publish delivers a message to every subscription whose pattern matches
// its topic, and stores or clears the retained copy at the topic's node.
// Topics published to are concrete: wildcards live on the subscribe side.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var subs []*Subscription
	b.matchSubs(b.root, msg.Topic, 0, &subs)
	for _, sub := range subs {
		deliver(sub, msg)
	}

	if !msg.Retained {
		return
	}
	n := b.root
	for _, tok := range msg.Topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	if msg.Payload == nil {
		n.retained = nil
	} else {
		n.retained = msg
	}
}

// matchSubs walks the trie along topic, branching into wildcard children.
func (b *Bus) matchSubs(n *node, topic Topic, depth int, out *[]*Subscription) {
	if n == nil {
		return
	}
	if depth == len(topic) {
		*out = append(*out, n.subs...)
		if n.children != nil {
			// "#" also matches an empty remainder.
			if h := n.children[Hash]; h != nil {
				*out = append(*out, h.subs...)
			}
		}
		return
	}
	if n.children == nil {
		return
	}
	b.matchSubs(n.children[topic[depth]], topic, depth+1, out)
	b.matchSubs(n.children[Plus], topic, depth+1, out)
	if h := n.children[Hash]; h != nil {
		*out = append(*out, h.subs...)
	}
}

// unsubscribe removes a subscription from the trie.
func (b *Bus) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, t := range topic {
		if n.children == nil {
			return
		}
		child, ok := n.children[t]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	// Prune empty nodes.
	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string // placeholder for future identity/auth
	seq  uint32 // reply topic counter
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{
		bus: b,
		id:  id,
	}
}

// NewMessage builds a message ready to publish on this connection.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) {
	c.bus.Publish(msg)
}

// Reply answers a request on its ReplyTo topic. Requests without one are
// silently dropped.
func (c *Connection) Reply(req *Message, payload any, retained bool) {
	if len(req.ReplyTo) == 0 {
		return
	}
	c.bus.Publish(&Message{Topic: req.ReplyTo, Payload: payload, Retained: retained})
}

// Request stamps req with a fresh reply topic, subscribes to it and then
// publishes. The caller reads the reply from the returned subscription and
// unsubscribes when done.
func (c *Connection) Request(req *Message) *Subscription {
	req.ReplyTo = T("reply", c.id, int(atomic.AddUint32(&c.seq, 1)))
	sub := c.Subscribe(req.ReplyTo)
	c.bus.Publish(req)
	return sub
}

// RequestWait is Request plus blocking for the first reply or ctx.
func (c *Connection) RequestWait(ctx context.Context, req *Message) (*Message, error) {
	sub := c.Request(req)
	defer c.Unsubscribe(sub)
	select {
	case m := <-sub.Channel():
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.bus.qLen),
		bus:   c.bus,
		conn:  c,
	}
	c.bus.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.bus.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}
