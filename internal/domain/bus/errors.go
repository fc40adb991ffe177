package bus

import (
	"context"
	"errors"
)

// Status is the symbolic result of a bus operation, for telemetry and the
// diagnostic API. Go callers use the sentinel errors below with errors.Is.
type Status int

const (
	StatusSuccess Status = iota
	StatusBadArgument
	StatusMaxMsgsMet
	StatusMaxDestsMet
	StatusMaxPipesMet
	StatusPipeCreateErr
	StatusNoSubscribers
	StatusTimeOut
	StatusNoMessage
	StatusMsgTooBig
	StatusBufAllocErr
	StatusPipeReadErr
	StatusInternalErr
	StatusBufferInvalid
)

var statusNames = [...]string{
	StatusSuccess:       "SUCCESS",
	StatusBadArgument:   "BAD_ARGUMENT",
	StatusMaxMsgsMet:    "MAX_MSGS_MET",
	StatusMaxDestsMet:   "MAX_DESTS_MET",
	StatusMaxPipesMet:   "MAX_PIPES_MET",
	StatusPipeCreateErr: "PIPE_CR_ERR",
	StatusNoSubscribers: "NO_SUBSCRIBERS",
	StatusTimeOut:       "TIME_OUT",
	StatusNoMessage:     "NO_MESSAGE",
	StatusMsgTooBig:     "MSG_TOO_BIG",
	StatusBufAllocErr:   "BUF_ALOC_ERR",
	StatusPipeReadErr:   "PIPE_RD_ERR",
	StatusInternalErr:   "INTERNAL_ERR",
	StatusBufferInvalid: "BUFFER_INVALID",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "UNKNOWN"
	}
	return statusNames[s]
}

var (
	ErrBadArgument   = errors.New("bad argument")
	ErrMaxMsgsMet    = errors.New("maximum msg ids in use")
	ErrMaxDestsMet   = errors.New("maximum destinations for msg id")
	ErrMaxPipesMet   = errors.New("maximum pipes in use")
	ErrPipeCreate    = errors.New("pipe creation failed")
	ErrNoSubscribers = errors.New("no subscribers")
	ErrTimeOut       = errors.New("receive timed out")
	ErrNoMessage     = errors.New("no message")
	ErrMsgTooBig     = errors.New("message too big")
	ErrBufferAlloc   = errors.New("buffer allocation failed")
	ErrPipeRead      = errors.New("pipe read failed")
	ErrInternal      = errors.New("internal error")
	ErrBufferInvalid = errors.New("buffer invalid")

	// ErrNotOwner wraps ErrBadArgument: the caller does not own the pipe.
	ErrNotOwner = errorWithParent("caller does not own pipe", ErrBadArgument)
	// ErrClosed means the bus was shut down.
	ErrClosed = errorWithParent("bus closed", ErrInternal)
)

var statusErrors = []struct {
	err    error
	status Status
}{
	{ErrBadArgument, StatusBadArgument},
	{ErrMaxMsgsMet, StatusMaxMsgsMet},
	{ErrMaxDestsMet, StatusMaxDestsMet},
	{ErrMaxPipesMet, StatusMaxPipesMet},
	{ErrPipeCreate, StatusPipeCreateErr},
	{ErrNoSubscribers, StatusNoSubscribers},
	{ErrTimeOut, StatusTimeOut},
	{ErrNoMessage, StatusNoMessage},
	{ErrMsgTooBig, StatusMsgTooBig},
	{ErrBufferAlloc, StatusBufAllocErr},
	{ErrPipeRead, StatusPipeReadErr},
	{ErrInternal, StatusInternalErr},
	{ErrBufferInvalid, StatusBufferInvalid},
}

// StatusOf maps err to its Status. nil is SUCCESS; a cancelled context is
// reported as a pipe read error; anything unrecognised is INTERNAL_ERR.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return StatusPipeReadErr
	}
	return StatusInternalErr
}

type parentError struct {
	msg    string
	parent error
}

func (e *parentError) Error() string { return e.msg }
func (e *parentError) Unwrap() error { return e.parent }

func errorWithParent(msg string, parent error) error {
	return &parentError{msg: msg, parent: parent}
}
