package netmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocket_NewActiveHandleReusesFreeSlotsLIFO(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)

	h0 := s.newActiveHandle()
	h1 := s.newActiveHandle()
	h2 := s.newActiveHandle()
	require.Equal(t, 0, h0.ahIndex)
	require.Equal(t, 1, h1.ahIndex)
	require.Equal(t, 2, h2.ahIndex)

	h1.unref() // frees slot 1
	assert.Equal(t, []int{1}, s.freeSlots)

	h3 := s.newActiveHandle()
	assert.Equal(t, 1, h3.ahIndex, "free slot must be reused instead of growing the table")
	assert.Len(t, s.activeHandles, 3)
}

func TestSocket_RecycleHandleReturnsToInactiveStackForReuse(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)

	h := s.newActiveHandle()
	originalPtr := h
	h.unref()

	require.Len(t, s.inactiveHandles, 1)

	h2 := s.newActiveHandle()
	assert.Same(t, originalPtr, h2, "a recycled handle struct should be reused rather than reallocated")
	assert.Equal(t, handleMagic, int(h2.magic))
}

func TestSocket_ActiveHandleCountIgnoresRecycledSlots(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)

	h0 := s.newActiveHandle()
	_ = s.newActiveHandle()
	assert.Equal(t, 2, s.activeHandleCount())

	h0.unref()
	assert.Equal(t, 1, s.activeHandleCount())
}

func TestSocket_RefUnrefDestroysAtZero(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)
	require.Equal(t, int32(1), s.refcount.Load())

	s.ref()
	assert.Equal(t, int32(2), s.refcount.Load())

	s.unref()
	assert.NotEqual(t, stateDestroying, s.getState(), "unref above zero must not destroy")

	s.unref()
	assert.Equal(t, stateDestroying, s.getState())
}

func TestSocket_DestroyIsIdempotent(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)

	s.destroy()
	s.destroy() // closeOnce must make this a no-op, not a double-stats-decrement

	assert.Equal(t, stateDestroying, s.getState())
}

func TestSocket_AddRemoveChild(t *testing.T) {
	m := testManager(t)
	parent := newSocket(m, m.workers[0], socketKindTLSDNSListener)
	child := newSocket(m, m.workers[0], socketKindTLSDNSConn)
	child.parent = parent

	parent.addChild(child)
	assert.Len(t, parent.children, 1)

	parent.removeChild(child)
	assert.Empty(t, parent.children)
}

func TestSocket_AllocReqRecyclesFromInactiveStack(t *testing.T) {
	m := testManager(t)
	s := newSocket(m, m.workers[0], socketKindTLSDNSConn)

	r := s.allocReq(reqRecv)
	assert.Equal(t, reqRecv, r.kind)
	assert.Same(t, s, r.sock)

	s.recycleReq(r)
	require.Len(t, s.inactiveReqs, 1)

	r2 := s.allocReq(reqSend)
	assert.Same(t, r, r2, "a recycled req struct should be reused rather than reallocated")
	assert.Equal(t, reqSend, r2.kind)
}
