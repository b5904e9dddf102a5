package netmgr

// eventKind identifies the network event types of spec.md §4.1/§2: pause,
// resume, stop, shutdown, task, privileged-task, and the per-operation
// TLSDNS events.
type eventKind int

const (
	evPause eventKind = iota
	evResume
	evStop
	evShutdown

	evTask
	evPrivilegedTask

	evTLSDNSListen
	evTLSDNSAccept
	evTLSDNSConnect
	evTLSDNSSend
	evTLSDNSRead
	evTLSDNSClose
	evTLSDNSCancel
	evTLSDNSCycle
	evTLSDNSShutdown
	evTLSDNSTimeout

	evDetachHandle
	evDetachSocket
)

// queueClass is one of the four per-worker queues, in decreasing urgency.
type queueClass int

const (
	queuePriority queueClass = iota
	queuePrivileged
	queueTask
	queueNormal
	numQueueClasses
)

// classOf routes an event kind to its queue, per the table in spec.md §4.1.
func (k eventKind) classOf() queueClass {
	switch k {
	case evPause, evResume, evStop, evShutdown:
		return queuePriority
	case evTask:
		return queueTask
	case evPrivilegedTask:
		return queuePrivileged
	default:
		return queueNormal
	}
}

// event is the pooled unit of cross-thread (cross-goroutine) dispatch.
// Only one of sock/handle is meaningful for most kinds; fn carries a task
// closure for evTask/evPrivilegedTask.
type event struct {
	kind   eventKind
	sock   *socket
	handle *Handle
	req    *uvreq
	fn     func()
	result Result
	// done, when non-nil, is closed after the event has been fully
	// processed by the owning worker — used by synchronous callers
	// (Listen/Connect) that block on the socket's condvar instead, but
	// kept here for task submission which wants simple completion signaling.
	done chan struct{}
}

func (e *event) reset() {
	e.kind = 0
	e.sock = nil
	e.handle = nil
	e.req = nil
	e.fn = nil
	e.result = ResultSuccess
	e.done = nil
}
