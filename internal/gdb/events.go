package gdb

import (
	"encoding/hex"
	"fmt"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// GDB signal numbers used in stop replies (T/S/W/X), per the standard
// GDB/BSD signal numbering RSP stubs report against.
const (
	sigTrap = 5
	sigIll  = 4
	sigSegv = 11
)

// PreprocessDebugEvent updates thread/process bookkeeping for one kernel
// debug event. It must run for every event, including ones that are
// ultimately auto-continued rather than surfaced. Caller holds ctx.Lock.
func (c *Context) PreprocessDebugEvent(ev kernel.Event) {
	c.LatestEvent = ev
	switch ev.Type {
	case kernel.EventAttachProcess:
		c.Pid = ev.Pid
		c.ProcessEnded = false
		c.ProcessExited = false
	case kernel.EventAttachThread, kernel.EventCreateThread:
		c.InsertThread(ev.Tid, ev.CreatorTid)
		c.CurrentTid = ev.Tid
	case kernel.EventExitThread:
		c.RemoveThread(ev.Tid)
	case kernel.EventExitProcess:
		c.ProcessExited = true
		c.ProcessEnded = true
	case kernel.EventException:
		c.CurrentTid = ev.Tid
	}
}

// shouldAutoContinue reports whether ev should be silently continued
// rather than surfaced as a stop reply: thread create/attach events
// auto-continue unless CatchThreadEvents is set, and syscall exceptions
// auto-continue unless the syscall number is set in SvcMask (via
// QCatchSyscalls). An empty SvcMask, the default, lets every syscall
// pass through uninterrupted.
func (c *Context) shouldAutoContinue(ev kernel.Event) bool {
	switch ev.Type {
	case kernel.EventAttachThread, kernel.EventCreateThread:
		return !c.CatchThreadEvents
	case kernel.EventException:
		if ev.Exception == kernel.ExceptionSyscall {
			return !c.svcMaskBit(ev.SyscallNumber)
		}
		return false
	default:
		return false
	}
}

// StopReply renders a kernel debug event as the RSP stop-reply payload
// (without the leading '$'/trailing checksum — that's the transport
// layer's job). ok is false when the event produced no payload because
// it should be auto-continued (shouldAutoContinue) or has no stop-reply
// form. An output event yields its own O-packet with ok true, sent as a
// separate asynchronous packet rather than folded into the next stop
// reply.
func (c *Context) StopReply(ev kernel.Event) (payload []byte, ok bool) {
	if ev.Type == kernel.EventOutput {
		return outputReply(ev.OutputData), true
	}
	if c.shouldAutoContinue(ev) {
		return nil, false
	}

	switch ev.Type {
	case kernel.EventExitProcess:
		if ev.Abnormal {
			return []byte(fmt.Sprintf("X%02x", byte(ev.ExitSignal))), true
		}
		return []byte(fmt.Sprintf("W%02x", byte(ev.ExitCode))), true

	case kernel.EventException:
		return c.exceptionStopReply(ev), true

	case kernel.EventAttachThread, kernel.EventCreateThread:
		return []byte(fmt.Sprintf("T%02xthread:%x;create:;", sigTrap, ev.Tid)), true

	case kernel.EventExitThread:
		return []byte(fmt.Sprintf("w%02x:%x;", 0, ev.Tid)), true

	default:
		return nil, false
	}
}

func (c *Context) exceptionStopReply(ev kernel.Event) []byte {
	var sig int
	var extra string

	switch ev.Exception {
	case kernel.ExceptionUndefinedInstruction:
		sig = sigIll
	case kernel.ExceptionDataAbort, kernel.ExceptionPrefetchAbort:
		sig = sigSegv
	case kernel.ExceptionAttachBreak, kernel.ExceptionUserBreak:
		sig = sigTrap
	case kernel.ExceptionSyscall:
		sig = sigTrap
		if c.svcMaskBit(ev.SyscallNumber) {
			if ev.SyscallIsReturn {
				extra = fmt.Sprintf("syscall_return:%x;", ev.SyscallNumber)
			} else {
				extra = fmt.Sprintf("syscall_entry:%x;", ev.SyscallNumber)
			}
		}
	case kernel.ExceptionWatchpoint:
		sig = sigTrap
		extra = fmt.Sprintf("%s:%x;", watchpointTag(ev.Watchpoint), ev.FaultAddress)
	default:
		sig = sigTrap
	}

	return []byte(fmt.Sprintf("T%02xthread:%x;%s", sig, ev.Tid, extra))
}

func watchpointTag(kind kernel.WatchpointKind) string {
	switch kind {
	case kernel.WatchpointRead:
		return "rwatch"
	case kernel.WatchpointAccess:
		return "awatch"
	default:
		return "watch"
	}
}

// outputReply wraps debuggee output as an O<hex> packet.
func outputReply(data []byte) []byte {
	return []byte("O" + hex.EncodeToString(data))
}

// LastStopReply renders the `?` handler's answer: the last stop reason
// for the selected thread, without initiating any new stop.
func (c *Context) LastStopReply() []byte {
	if payload, ok := c.StopReply(c.LatestEvent); ok {
		return payload
	}
	return []byte(fmt.Sprintf("S%02x", sigTrap))
}
