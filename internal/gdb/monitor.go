package gdb

import (
	"context"
	"time"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// monitorTick is how often the monitor worker polls each USED context's
// eventToWaitFor. The real kernel wait primitive this stands in for
// blocks until signaled rather than polling; a short poll interval is
// this package's approximation of that wait, since kernel.Debugger
// exposes no blocking wait call of its own.
const monitorTick = 2 * time.Millisecond

// runMonitor is the monitor worker: one per server, iterating every
// USED context, draining debug events and turning them into stop
// replies or auto-continuing them, and reacting to the socket worker's
// continuedEvent signal.
func (s *Server) runMonitor(ctx context.Context) error {
	s.enterWorker()
	defer s.exitWorker()

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shallTerminate:
			return nil
		case <-ticker.C:
			s.monitorPass()
		}
	}
}

// monitorPass visits every USED context once.
func (s *Server) monitorPass() {
	for _, c := range s.ctxs {
		c.Lock.Lock()
		used := c.Flags&FlagUsed != 0
		if used {
			s.monitorContext(c)
		}
		c.Lock.Unlock()
	}
}

// monitorContext services one context's eventToWaitFor transition.
// Caller holds c.Lock.
func (s *Server) monitorContext(c *Context) {
	switch c.EventToWaitFor {
	case WaitClientAccepted:
		select {
		case <-c.ClientAcceptedEvent:
			c.EventToWaitFor = WaitDebugHandle
		default:
			return
		}
	case WaitDebugHandle:
		select {
		case <-c.ContinuedEvent:
			if err := s.kernel.ContinueDebugEvent(c.Debug, c.ContinueFlags); err != nil {
				c.log.Warn("continue debug event failed", "err", err)
			}
		default:
		}
		s.drainEvents(c)
	}
}

// drainEvents dequeues every pending debug event for c until
// kernel.WouldBlock, pre-processing each and surfacing a stop reply for
// the ones that aren't silently auto-continued. The first surfaced stop
// clears PROCESS_CONTINUING. Caller holds c.Lock.
func (s *Server) drainEvents(c *Context) {
	clearedContinuing := false
	for {
		ev, err := s.kernel.GetProcessDebugEvent(c.Debug)
		if err == kernel.WouldBlock {
			return
		}
		if err != nil {
			// The monitor never fails a session on a single event error;
			// log and keep polling next tick.
			c.log.Warn("debug event error", "err", err)
			return
		}

		c.PreprocessDebugEvent(ev)

		payload, ok := c.StopReply(ev)
		if !ok {
			continue
		}

		if !clearedContinuing && ev.Type != kernel.EventOutput {
			c.Flags &^= FlagProcessContinuing
			clearedContinuing = true
		}

		if s.metrics != nil {
			s.metrics.stopReply(stopReplyKind(ev))
		}

		if err := c.sendAsync(payload); err != nil {
			c.log.Warn("failed to deliver stop reply", "err", err)
			return
		}
	}
}

func stopReplyKind(ev kernel.Event) string {
	switch ev.Type {
	case kernel.EventOutput:
		return "output"
	case kernel.EventExitProcess:
		if ev.Abnormal {
			return "exit_signal"
		}
		return "exit_code"
	case kernel.EventException:
		return "exception"
	case kernel.EventAttachThread, kernel.EventCreateThread:
		return "thread_create"
	case kernel.EventExitThread:
		return "thread_exit"
	default:
		return "other"
	}
}
