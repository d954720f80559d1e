package gdb

import (
	"sync"
	"testing"

	"github.com/onsi/gomega"

	"github.com/Sahlo97/Luma3DS/internal/kernel/sim"
)

func testServer() *Server {
	return NewServer(DefaultPortBase, testLogger(), sim.NewBackend(), nil)
}

func TestSelectAvailableContextAssignsDistinctPorts(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()

	seen := map[uint16]bool{}
	for i := 0; i < 3; i++ {
		c, err := s.SelectAvailableContext(s.portBase, s.portBase+3)
		g.Expect(err).NotTo(gomega.HaveOccurred())
		g.Expect(c.Flags & FlagSelected).NotTo(gomega.BeZero())
		g.Expect(seen[c.LocalPort]).To(gomega.BeFalse(), "port %d assigned twice", c.LocalPort)
		seen[c.LocalPort] = true
	}
}

func TestSelectAvailableContextExhaustsPool(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()

	for i := 0; i < MaxDebug; i++ {
		_, err := s.SelectAvailableContext(s.portBase, s.portBase+uint16(MaxDebug))
		g.Expect(err).NotTo(gomega.HaveOccurred())
	}
	_, err := s.SelectAvailableContext(s.portBase, s.portBase+uint16(MaxDebug))
	g.Expect(err).To(gomega.Equal(errNoFreeContext))
}

func TestSelectAvailableContextExhaustsPortRange(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()

	// Only one port available in range but two free context slots: the
	// second selection must fail on the port, not silently reuse slot 0,
	// and must release the context it speculatively picked.
	_, err := s.SelectAvailableContext(s.portBase, s.portBase+1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = s.SelectAvailableContext(s.portBase, s.portBase+1)
	g.Expect(err).To(gomega.Equal(errNoFreePort))

	// The failed attempt must not have left a stray SELECTED context.
	selected := 0
	for _, c := range s.ctxs {
		if c.Flags&FlagSelected != 0 {
			selected++
		}
	}
	g.Expect(selected).To(gomega.Equal(1))
}

func TestSetNextApplicationDebugHandleReservesAndFreesSlot(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()

	s.SetNextApplicationDebugHandle(99, 7)
	reserved := s.ctxs[reservedIndex]
	g.Expect(reserved.Flags & FlagSelected).NotTo(gomega.BeZero())
	g.Expect(reserved.Flags & FlagAttachedAtStart).NotTo(gomega.BeZero())
	g.Expect(reserved.Debug).To(gomega.BeEquivalentTo(99))
	g.Expect(reserved.Pid).To(gomega.BeEquivalentTo(7))
	g.Expect(reserved.LocalPort).To(gomega.Equal(s.portBase + uint16(reservedIndex)))

	s.SetNextApplicationDebugHandle(0, 0)
	g.Expect(reserved.IsFree()).To(gomega.BeTrue())
}

func TestLockAllContextsOrderingUnderConcurrentCallers(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.LockAllContexts()
			defer s.UnlockAllContexts()
			for _, c := range s.ctxs {
				c.Flags ^= FlagAttachedAtStart
				c.Flags ^= FlagAttachedAtStart
			}
		}()
	}
	wg.Wait()

	// No invariant violation (e.g. a stuck lock) would let this return.
	s.LockAllContexts()
	s.UnlockAllContexts()
	g.Expect(true).To(gomega.BeTrue())
}

func TestCloseContextDisablesBreakpointsAndClearsTransientState(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()
	c := s.ctxs[0]
	c.Flags |= FlagSelected | FlagUsed
	c.LocalPort = s.portBase
	c.Breakpoints = append(c.Breakpoints, Breakpoint{Address: 0x1000, Kind: BreakpointKindARM})
	c.Watchpoints = append(c.Watchpoints, Watchpoint{Address: 0x1000})
	c.XferCursors["threads"] = &XferCursor{Kind: "threads", NextOffset: 4}

	s.closeContext(c)

	g.Expect(c.State).To(gomega.Equal(StateClosing))
	g.Expect(c.Breakpoints).To(gomega.BeEmpty())
	g.Expect(c.Watchpoints).To(gomega.BeEmpty())
	g.Expect(c.SvcMask).To(gomega.Equal([32]byte{}))
	g.Expect(c.XferCursors).To(gomega.BeEmpty())
	g.Expect(c.LocalPort).To(gomega.BeZero())
	g.Expect(c.conn).To(gomega.BeNil())
}

func TestReleaseContextClearsUsedAndBroadcasts(t *testing.T) {
	g := gomega.NewWithT(t)
	s := testServer()
	c := s.ctxs[0]
	c.Flags |= FlagSelected | FlagUsed
	c.State = StateClosing
	close(c.ClientAcceptedEvent)

	updated := s.StatusUpdated()
	s.releaseContext(c)

	select {
	case <-updated:
	default:
		t.Fatalf("expected statusUpdated to be broadcast on release")
	}
	// SELECTED survives a detach: the port reservation is the listener's
	// to keep, not the client's; only USED (and the debug/process state)
	// clears on release.
	g.Expect(c.Flags & FlagSelected).NotTo(gomega.BeZero())
	g.Expect(c.Flags & FlagUsed).To(gomega.BeZero())
	g.Expect(c.State).To(gomega.Equal(StateDisconnected))

	// The one-shot accept signal must be replaced, not left closed, or the
	// next session on this slot would see it as already-fired.
	select {
	case <-c.ClientAcceptedEvent:
		t.Fatalf("expected a fresh ClientAcceptedEvent channel after release")
	default:
	}
}
