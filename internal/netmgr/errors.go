package netmgr

import (
	"errors"
	"fmt"
	"io"
)

// Result is the explicit completion code delivered to every callback that
// crosses the event-loop boundary. No Go error value or panic ever crosses
// that boundary directly; Result is the currency instead.
type Result int

const (
	// ResultSuccess indicates the operation completed normally.
	ResultSuccess Result = iota
	// ResultCanceled indicates cancellation via CancelRead, shutdown, or
	// pause-induced abandonment.
	ResultCanceled
	// ResultTimedOut indicates a connect or read idle-timeout fired.
	ResultTimedOut
	// ResultEOF indicates a clean peer close (TLS close_notify or TCP FIN).
	ResultEOF
	// ResultTLSError indicates an unrecoverable TLS layer failure.
	ResultTLSError
	// ResultQuota indicates the accept was refused by admission control.
	ResultQuota
	// ResultSoftQuota indicates a soft admission-control limit was hit;
	// rate-limited at the log, distinct from a hard ResultQuota refusal.
	ResultSoftQuota
	// ResultNotConnected indicates the client disconnected before accept
	// completed. Callers tolerate this silently.
	ResultNotConnected
	// ResultNoResources maps an ENOMEM/EMFILE-class socket(2) failure.
	ResultNoResources
	// ResultFamilyNoSupport maps an EAFNOSUPPORT-class socket(2) failure.
	ResultFamilyNoSupport
	// ResultUnexpected is the catch-all for unmapped errno values.
	ResultUnexpected
	// resultNoMore is internal: "need more bytes" from the frame reader.
	// It must never be surfaced to a callback.
	resultNoMore
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultCanceled:
		return "CANCELED"
	case ResultTimedOut:
		return "TIMEDOUT"
	case ResultEOF:
		return "EOF"
	case ResultTLSError:
		return "TLSERROR"
	case ResultQuota:
		return "QUOTA"
	case ResultSoftQuota:
		return "SOFTQUOTA"
	case ResultNotConnected:
		return "NOTCONNECTED"
	case ResultNoResources:
		return "NORESOURCES"
	case ResultFamilyNoSupport:
		return "FAMILYNOSUPPORT"
	case ResultUnexpected:
		return "UNEXPECTED"
	case resultNoMore:
		return "NOMORE"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// OK reports whether the result represents successful completion.
func (r Result) OK() bool { return r == ResultSuccess }

// Err converts a non-success Result into an error, or nil for ResultSuccess.
func (r Result) Err() error {
	if r == ResultSuccess {
		return nil
	}
	return &resultError{r}
}

type resultError struct{ r Result }

func (e *resultError) Error() string { return "netmgr: " + e.r.String() }

// ResultOf unwraps a Result from an error produced by Result.Err, falling
// back to ResultUnexpected for any other non-nil error and ResultSuccess
// for nil.
func ResultOf(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	var re *resultError
	if errors.As(err, &re) {
		return re.r
	}
	return ResultUnexpected
}

// Manager-level sentinel errors, returned directly (not via Result) from
// synchronous API calls that fail before any event is ever dispatched.
var (
	// ErrAlreadyPaused is returned by Pause when the manager is already paused.
	ErrAlreadyPaused = errors.New("netmgr: manager already paused")
	// ErrNotPaused is returned by Resume when the manager is not paused.
	ErrNotPaused = errors.New("netmgr: manager not paused")
	// ErrShutdown is returned by operations attempted after Shutdown.
	ErrShutdown = errors.New("netmgr: manager is shut down")
	// ErrClosed is returned by operations attempted on a closed socket.
	ErrClosed = errors.New("netmgr: socket is closed")
	// ErrWrongSocketKind is returned when an operation is attempted on a
	// socket kind that does not support it (e.g. tlsdns_keepalive on a
	// non-TLSDNS handle).
	ErrWrongSocketKind = errors.New("netmgr: operation not supported for this socket kind")
	// ErrNotWorker0 is returned when a worker goroutine other than worker 0
	// calls Pause, which would deadlock that worker against its own
	// barrier wait.
	ErrNotWorker0 = errors.New("netmgr: pause must be called from worker 0 or a non-worker goroutine")
)

func classifyDialError(err error) Result {
	if err == nil {
		return ResultSuccess
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return ResultTimedOut
	}
	if errors.Is(err, io.EOF) {
		return ResultEOF
	}
	return ResultUnexpected
}
