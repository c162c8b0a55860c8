package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable). The receiver core reports setup failures
// with exactly one of these, one per fallible acquisition stage, so callers
// can tell a missing pin from a clock that would not program.
const (
	OK Code = "ok"

	// Setup-time failures, in acquisition order.
	ResourceUnavailable Code = "resource_unavailable" // pin or clock handle denied
	ClockConfigFailed   Code = "clock_config_failed"  // rate set or enable refused
	MapFailed           Code = "map_failed"           // register window not mappable
	IRQRegisterFailed   Code = "irq_register_failed"  // interrupt line not attachable

	// Runtime conditions.
	HardwareOverflow Code = "hardware_overflow" // FIFO overrun, recovered in place

	// Guard rails.
	InvalidConfig Code = "invalid_config"
	InvalidState  Code = "invalid_state"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.MapFailed) match through the wrapper.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap builds an E for op with cause err. A nil err stays nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}
