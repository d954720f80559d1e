package gdb

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/onsi/gomega"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

func testLogger() hclog.Logger {
	return hclog.NewNullLogger()
}

func TestNewContextStartsFree(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	g.Expect(c.IsFree()).To(gomega.BeTrue())
	g.Expect(c.LocalPort).To(gomega.BeZero())
	g.Expect(c.Pid).To(gomega.BeZero())
	g.Expect(c.Debug).To(gomega.BeZero())
	g.Expect(c.State).To(gomega.Equal(StateDisconnected))
	g.Expect(c.Breakpoints).To(gomega.BeEmpty())
	g.Expect(c.Watchpoints).To(gomega.BeEmpty())
	g.Expect(c.PacketSize).To(gomega.Equal(DefaultPacketSize))
}

func TestResetToFreeRestoresInvariant(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(1, testLogger())

	c.Flags |= FlagSelected | FlagUsed
	c.LocalPort = 4001
	c.Pid = 42
	c.Debug = 7
	c.State = StateConnected
	c.Breakpoints = append(c.Breakpoints, Breakpoint{Address: 0x1000})
	c.Watchpoints = append(c.Watchpoints, Watchpoint{Address: 0x2000})
	c.NoAck = true

	c.resetToFree()

	g.Expect(c.IsFree()).To(gomega.BeTrue())
	g.Expect(c.LocalPort).To(gomega.BeZero())
	g.Expect(c.Pid).To(gomega.BeZero())
	g.Expect(c.Debug).To(gomega.BeZero())
	g.Expect(c.State).To(gomega.Equal(StateDisconnected))
	g.Expect(c.Breakpoints).To(gomega.BeEmpty())
	g.Expect(c.Watchpoints).To(gomega.BeEmpty())
	g.Expect(c.NoAck).To(gomega.BeFalse())
	g.Expect(c.ContinueFlags).To(gomega.Equal(kernel.DefaultContinueFlags))
}

func TestSvcMaskBit(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	g.Expect(c.svcMaskBit(17)).To(gomega.BeFalse())
	c.setSvcMaskBit(17, true)
	g.Expect(c.svcMaskBit(17)).To(gomega.BeTrue())
	g.Expect(c.svcMaskBit(16)).To(gomega.BeFalse())
	g.Expect(c.svcMaskBit(18)).To(gomega.BeFalse())

	c.setSvcMaskBit(17, false)
	g.Expect(c.svcMaskBit(17)).To(gomega.BeFalse())

	// Out-of-range syscall numbers never panic or alias into the table.
	g.Expect(c.svcMaskBit(256)).To(gomega.BeFalse())
	c.setSvcMaskBit(999, true)
	g.Expect(c.svcMaskBit(999)).To(gomega.BeFalse())
}

func TestFindThread(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	g.Expect(c.findThread(1)).To(gomega.Equal(-1))
	c.InsertThread(1, 0)
	c.InsertThread(2, 1)
	g.Expect(c.findThread(1)).To(gomega.Equal(0))
	g.Expect(c.findThread(2)).To(gomega.Equal(1))
	g.Expect(c.findThread(3)).To(gomega.Equal(-1))
}

func TestSendAsyncWithoutConnIsNoop(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	g.Expect(c.sendAsync([]byte("OK"))).To(gomega.Succeed())
}
