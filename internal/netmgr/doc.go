// Package netmgr implements a multi-worker, event-loop-driven network
// manager for DNS-over-TLS (TLSDNS) connections: a fixed pool of worker
// goroutines, each running its own four-priority event loop, a
// reference-counted socket/handle abstraction, length-prefixed DNS
// framing, per-connection timers, and quota-gated admission control.
//
// Application code interacts with opaque *Handle values returned by
// ListenTLSDNS's accept callback or ConnectTLSDNS's connect callback; the
// manager performs the actual socket I/O and TLS record pumping on the
// handle's owning worker.
package netmgr
