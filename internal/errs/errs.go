// Package errs defines the runtime's ResultCode taxonomy (spec §7) and a
// small Error type that carries one through the ordinary Go error interface,
// the way the teacher's database package wraps driver errors with added
// context rather than inventing a parallel status-code return value.
package errs

import "fmt"

// ResultCode enumerates the failure categories the façade and session layers
// report (spec §7).
type ResultCode int

const (
	NoErr ResultCode = iota
	ParamErr
	MemErr
	MutexErr
	NoInitErr
	NoPubErr
	NoSubErr
	NoSessionErr
	TimeoutErr
	ReplyTimeoutErr
	ConfirmTimeoutErr
	SockErr
	IoErr
	MarshallingErr
	UnknownComIdErr
	UnknownDatasetErr
	SizeErr
	ThreadErr
	XmlErr
)

func (c ResultCode) String() string {
	switch c {
	case NoErr:
		return "NO_ERR"
	case ParamErr:
		return "PARAM_ERR"
	case MemErr:
		return "MEM_ERR"
	case MutexErr:
		return "MUTEX_ERR"
	case NoInitErr:
		return "NOINIT_ERR"
	case NoPubErr:
		return "NOPUB_ERR"
	case NoSubErr:
		return "NOSUB_ERR"
	case NoSessionErr:
		return "NOSESSION_ERR"
	case TimeoutErr:
		return "TIMEOUT_ERR"
	case ReplyTimeoutErr:
		return "REPLYTIMEOUT_ERR"
	case ConfirmTimeoutErr:
		return "CONFIRMTIMEOUT_ERR"
	case SockErr:
		return "SOCK_ERR"
	case IoErr:
		return "IO_ERR"
	case MarshallingErr:
		return "MARSHALLING_ERR"
	case UnknownComIdErr:
		return "UNKNOWN_COMID_ERR"
	case UnknownDatasetErr:
		return "UNKNOWN_DATASET_ERR"
	case SizeErr:
		return "SIZE_ERR"
	case ThreadErr:
		return "THREAD_ERR"
	case XmlErr:
		return "XML_ERR"
	default:
		return "UNKNOWN_ERR"
	}
}

// Error pairs a ResultCode with the context that produced it.
type Error struct {
	Code ResultCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(code ResultCode, op string) *Error {
	return &Error{Code: code, Op: op}
}

// Wrap builds an *Error carrying err as its cause.
func Wrap(code ResultCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf extracts the ResultCode from err if it (or something it wraps) is
// an *Error; otherwise it reports IoErr for a non-nil err, NoErr for nil.
func CodeOf(err error) ResultCode {
	if err == nil {
		return NoErr
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return IoErr
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
