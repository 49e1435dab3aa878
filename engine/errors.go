package engine

import "fmt"

// Code identifies one kind of engine failure.
type Code uint8

const (
	// ScheduleNotSatisfied means neither the interval nor the balance threshold holds.
	ScheduleNotSatisfied Code = iota + 1

	// InvalidRoutingConfig means the basis-point weights sum above 10000.
	InvalidRoutingConfig

	// Unauthorized means the caller is not the record's authority.
	Unauthorized

	// ExecutionAlreadyPerformed means another commit won the same window.
	ExecutionAlreadyPerformed
)

// Message constants, one per Code.
const (
	MsgScheduleNotSatisfied      = "Schedule conditions not met"
	MsgInvalidRoutingConfig      = "Invalid routing configuration"
	MsgUnauthorized              = "Unauthorized caller"
	MsgExecutionAlreadyPerformed = "Execution already performed in this window"
)

// Message returns the human-readable message for the code.
func (c Code) Message() string {
	switch c {
	case ScheduleNotSatisfied:
		return MsgScheduleNotSatisfied
	case InvalidRoutingConfig:
		return MsgInvalidRoutingConfig
	case Unauthorized:
		return MsgUnauthorized
	case ExecutionAlreadyPerformed:
		return MsgExecutionAlreadyPerformed
	default:
		return fmt.Sprintf("unknown error code %d", uint8(c))
	}
}

// String returns the identifier of the code.
func (c Code) String() string {
	switch c {
	case ScheduleNotSatisfied:
		return "ScheduleNotSatisfied"
	case InvalidRoutingConfig:
		return "InvalidRoutingConfig"
	case Unauthorized:
		return "Unauthorized"
	case ExecutionAlreadyPerformed:
		return "ExecutionAlreadyPerformed"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// Error is a typed engine failure. Two Errors match under errors.Is when
// their codes are equal, regardless of Detail.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "engine: " + e.Code.Message()
	}
	return "engine: " + e.Code.Message() + ": " + e.Detail
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf returns an *Error for code with a formatted detail.
func Errorf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

var (
	// ErrScheduleNotSatisfied is returned by Require when the record is cooling down.
	ErrScheduleNotSatisfied = &Error{Code: ScheduleNotSatisfied}

	// ErrInvalidRoutingConfig is returned when the weights sum above 10000.
	ErrInvalidRoutingConfig = &Error{Code: InvalidRoutingConfig}

	// ErrUnauthorized is returned by the authorization layer.
	ErrUnauthorized = &Error{Code: Unauthorized}

	// ErrExecutionAlreadyPerformed is returned when a commit loses the compare-and-set.
	ErrExecutionAlreadyPerformed = &Error{Code: ExecutionAlreadyPerformed}
)
