// Package rc defines the numeric error-code space surfaced to servlet
// code, grounded on original_source/server/libs/libgx/rc.h.
package rc

// Code is a reserved-range logic result code. Values below the range
// are free for embedder/application use; this package only reserves
// the core's own codes.
type Code int

const (
	base Code = 128

	FAIL       Code = base + iota // generic logic failure
	DUP                           // duplicate key
	EXISTS                        // key already exists
	NOTEXISTS                     // key does not exist
	READY                         // collaborator already ready (liveness condition)
	NOTREADY                      // collaborator not ready
	LESS                          // validation: value too small
	MORE                          // validation: value too large
	PARAM                         // validation: bad parameter
	AGAIN                         // retryable
	sysRC                         // reserved: start of "system" response codes
	TIMEOUT                       // call did not return within rpc_timeout
	CLOSED                        // peer gone
	CLOSE                         // peer gone (close in progress)
	BUSY                          // no route, no peer, or no seq available
	sysEnd                        // reserved: end of "system" response codes
)

// SystemThreshold returns the response-code value at and above which a
// response is re-raised as an error by Network.call, per spec.md §7.
func SystemThreshold() Code { return sysRC }

func (c Code) String() string {
	switch c {
	case FAIL:
		return "FAIL"
	case DUP:
		return "DUP"
	case EXISTS:
		return "EXISTS"
	case NOTEXISTS:
		return "NOTEXISTS"
	case READY:
		return "READY"
	case NOTREADY:
		return "NOTREADY"
	case LESS:
		return "LESS"
	case MORE:
		return "MORE"
	case PARAM:
		return "PARAM"
	case AGAIN:
		return "AGAIN"
	case TIMEOUT:
		return "TIMEOUT"
	case CLOSED:
		return "CLOSED"
	case CLOSE:
		return "CLOSE"
	case BUSY:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Code as a servlet-visible error, the Go analogue of the
// original's ServletException{int rc}.
type Error struct{ Code Code }

func (e Error) Error() string { return "gx: " + e.Code.String() }

// CancelError is the cancellation unwinding signal (original
// CallCancelException). It is not a logic error and must not be
// logged as one.
type CancelError struct{}

func (CancelError) Error() string { return "gx: call cancelled" }

// IsCancel reports whether err is (or wraps) a CancelError.
func IsCancel(err error) bool {
	_, ok := err.(CancelError)
	return ok
}
