package netmgr

import "sync/atomic"

// Stats collects network-manager counters. All methods are safe for
// concurrent use. Grounded on the teacher's internal/server/stats.go
// DNSStats, generalized from DNS-query counters to manager-level counters
// (spec.md §3: "statistics sink... a sink of named counter increments").
type Stats struct {
	listens     atomic.Uint64
	connects    atomic.Uint64
	accepts     atomic.Uint64
	acceptsFail atomic.Uint64
	quotaDenied atomic.Uint64
	reads       atomic.Uint64
	sends       atomic.Uint64
	timeouts    atomic.Uint64
	tlsErrors   atomic.Uint64
	closes      atomic.Uint64
	destroys    atomic.Uint64
	socketsLive atomic.Int64
	handlesLive atomic.Int64
}

func newStats() *Stats { return &Stats{} }

func (s *Stats) incrListen()        { s.listens.Add(1) }
func (s *Stats) incrConnect()       { s.connects.Add(1) }
func (s *Stats) incrAccept()        { s.accepts.Add(1) }
func (s *Stats) incrAcceptFail()    { s.acceptsFail.Add(1) }
func (s *Stats) incrQuotaDenied()   { s.quotaDenied.Add(1) }
func (s *Stats) incrRead()          { s.reads.Add(1) }
func (s *Stats) incrSend()          { s.sends.Add(1) }
func (s *Stats) incrTimeout()       { s.timeouts.Add(1) }
func (s *Stats) incrTLSError()      { s.tlsErrors.Add(1) }
func (s *Stats) incrClose()         { s.closes.Add(1) }
func (s *Stats) incrDestroy()       { s.destroys.Add(1) }
func (s *Stats) socketCreated()     { s.socketsLive.Add(1) }
func (s *Stats) socketDestroyed()   { s.socketsLive.Add(-1) }
func (s *Stats) handleCreated()     { s.handlesLive.Add(1) }
func (s *Stats) handleReleased()    { s.handlesLive.Add(-1) }

// Snapshot is a point-in-time, allocation-free copy of Stats for reporting
// (e.g. by internal/diag).
type Snapshot struct {
	Listens      uint64
	Connects     uint64
	Accepts      uint64
	AcceptsFail  uint64
	QuotaDenied  uint64
	Reads        uint64
	Sends        uint64
	Timeouts     uint64
	TLSErrors    uint64
	Closes       uint64
	Destroys     uint64
	SocketsLive  int64
	HandlesLive  int64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Listens:     s.listens.Load(),
		Connects:    s.connects.Load(),
		Accepts:     s.accepts.Load(),
		AcceptsFail: s.acceptsFail.Load(),
		QuotaDenied: s.quotaDenied.Load(),
		Reads:       s.reads.Load(),
		Sends:       s.sends.Load(),
		Timeouts:    s.timeouts.Load(),
		TLSErrors:   s.tlsErrors.Load(),
		Closes:      s.closes.Load(),
		Destroys:    s.destroys.Load(),
		SocketsLive: s.socketsLive.Load(),
		HandlesLive: s.handlesLive.Load(),
	}
}

// QueueDepths reports the approximate per-queue backlog of every worker,
// used by internal/diag's /stats endpoint.
type QueueDepths struct {
	WorkerID   int
	Priority   int64
	Privileged int64
	Task       int64
	Normal     int64
}
