package gdb

import (
	"testing"

	"github.com/onsi/gomega"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

func TestShouldAutoContinueSyscallGatedBySvcMask(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	ev := kernel.Event{Type: kernel.EventException, Exception: kernel.ExceptionSyscall, SyscallNumber: 17}

	// Empty mask: not stopped on, so auto-continue.
	g.Expect(c.shouldAutoContinue(ev)).To(gomega.BeTrue())

	c.setSvcMaskBit(17, true)
	g.Expect(c.shouldAutoContinue(ev)).To(gomega.BeFalse())
}

func TestStopReplySurfacesCaughtSyscall(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())
	c.setSvcMaskBit(17, true)

	ev := kernel.Event{Type: kernel.EventException, Exception: kernel.ExceptionSyscall, SyscallNumber: 17, Tid: 1}
	payload, ok := c.StopReply(ev)
	g.Expect(ok).To(gomega.BeTrue())
	g.Expect(string(payload)).To(gomega.ContainSubstring("syscall_entry:11;"))
}

func TestStopReplyAutoContinuesUncaughtSyscall(t *testing.T) {
	g := gomega.NewWithT(t)
	c := NewContext(0, testLogger())

	ev := kernel.Event{Type: kernel.EventException, Exception: kernel.ExceptionSyscall, SyscallNumber: 17, Tid: 1}
	_, ok := c.StopReply(ev)
	g.Expect(ok).To(gomega.BeFalse())
}
