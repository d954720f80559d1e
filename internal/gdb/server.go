package gdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
	"github.com/Sahlo97/Luma3DS/internal/rsp"
)

// reservedIndex is the fourth context slot, bound to PortBase+3 and only
// ever populated via SetNextApplicationDebugHandle rather than the
// on-demand accept path.
const reservedIndex = MaxDebug - 1

// Server is the fixed context pool, the port allocator, and the
// two-worker lifecycle (socket + monitor). One Server owns its own
// kernel.Debugger and its own Metrics so tests can run several
// independent servers side by side rather than reaching for package
// globals.
type Server struct {
	log     hclog.Logger
	kernel  kernel.Debugger
	metrics *Metrics

	portBase   uint16
	packetSize int

	ctxs [MaxDebug]*Context

	listeners []net.Listener

	shutdownOnce sync.Once
	shallTerminate chan struct{}

	statusMu      sync.Mutex
	statusUpdated chan struct{}

	refcount int32
	refMu    sync.Mutex
}

// NewServer builds the fixed-size context pool and wires in the kernel
// facility and logger. It does not bind any sockets; call Start for that.
func NewServer(portBase uint16, logger hclog.Logger, k kernel.Debugger, metrics *Metrics) *Server {
	s := &Server{
		log:            logger.Named("gdb"),
		kernel:         k,
		metrics:        metrics,
		portBase:       portBase,
		packetSize:     DefaultPacketSize,
		shallTerminate: make(chan struct{}),
		statusUpdated:  make(chan struct{}),
	}
	for i := range s.ctxs {
		s.ctxs[i] = NewContext(i, logger)
	}
	return s
}

// SetPacketSize overrides the PacketSize advertised to clients via
// qSupported and enforced on outbound frames, from a validated config
// value. Every context picks it up the next time a client is accepted;
// call before Start for it to apply to the first session on each port.
func (s *Server) SetPacketSize(n int) { s.packetSize = n }

// LockAllContexts acquires every context's lock in ascending slot order;
// UnlockAllContexts releases them in reverse. Together they give a fixed
// composite lock order for deadlock-free operations that touch more
// than one context (the port allocator, pool-wide metrics, shutdown).
func (s *Server) LockAllContexts() {
	for _, c := range s.ctxs {
		c.Lock.Lock()
	}
}

func (s *Server) UnlockAllContexts() {
	for i := len(s.ctxs) - 1; i >= 0; i-- {
		s.ctxs[i].Lock.Unlock()
	}
}

var errNoFreeContext = errors.New("gdb: no free context slot")
var errNoFreePort = errors.New("gdb: no free port in range")

// SelectAvailableContext implements the reserved-slot API consumed by a
// frontend's "debug next application" workflow: pick the lowest-indexed
// unselected context, then the lowest free port in
// [minPort, maxPort). Both searches run under the all-contexts lock so no
// two callers can double-allocate the same slot or port.
func (s *Server) SelectAvailableContext(minPort, maxPort uint16) (*Context, error) {
	s.LockAllContexts()
	defer s.UnlockAllContexts()

	var candidate *Context
	for _, c := range s.ctxs {
		if c.IsFree() {
			candidate = c
			break
		}
	}
	if candidate == nil {
		return nil, errNoFreeContext
	}

	var port uint16
	found := false
	for p := minPort; p < maxPort; p++ {
		bound := false
		for _, c := range s.ctxs {
			if c.Flags&FlagSelected != 0 && c.LocalPort == p {
				bound = true
				break
			}
		}
		if !bound {
			port = p
			found = true
			break
		}
	}
	if !found {
		candidate.Flags &^= FlagSelected // defensively clear the reservation
		return nil, errNoFreePort
	}

	candidate.Flags |= FlagSelected
	candidate.LocalPort = port
	return candidate, nil
}

// SetNextApplicationDebugHandle implements the frontend-facing half of
// the reserved-slot workflow: store an externally-attached debug handle
// into the reserved slot and mark it ATTACHED_AT_START. A zero handle
// cancels the reservation and frees the slot.
func (s *Server) SetNextApplicationDebugHandle(h kernel.Handle, pid kernel.Pid) {
	c := s.ctxs[reservedIndex]
	c.Lock.Lock()
	defer c.Lock.Unlock()

	if h == 0 {
		c.resetToFree()
		return
	}
	c.Flags |= FlagSelected | FlagAttachedAtStart
	c.LocalPort = s.portBase + reservedIndex
	c.Debug = h
	c.Pid = pid
}

func (s *Server) enterWorker() { s.refMu.Lock(); s.refcount++; s.refMu.Unlock() }

// exitWorker decrements the refcount and logs when it reaches zero. No
// teardown runs here; listeners are closed by Start's shutdown
// goroutine.
func (s *Server) exitWorker() {
	s.refMu.Lock()
	s.refcount--
	done := s.refcount == 0
	s.refMu.Unlock()
	if done {
		s.log.Debug("server refcount reached zero, finalized")
	}
}

// StatusUpdated returns the current status-updated channel, closed the
// next time a context finishes its release path. Callers must re-fetch
// the channel after it fires since a closed channel is replaced, not
// reused.
func (s *Server) StatusUpdated() <-chan struct{} {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.statusUpdated
}

// broadcastStatusUpdated wakes anyone waiting on statusUpdated.
// Closing-and-replacing a channel is the standard Go substitute for a
// reusable broadcast event.
func (s *Server) broadcastStatusUpdated() {
	s.statusMu.Lock()
	close(s.statusUpdated)
	s.statusUpdated = make(chan struct{})
	s.statusMu.Unlock()
}

// Start binds the four RSP ports (portBase..portBase+3, the first three
// selected up front for on-demand attach, the fourth left free for the
// reserved-slot workflow) and runs the socket accept loops and the
// monitor worker under one errgroup: a fatal error in either unblocks a
// clean shutdown of both. Start blocks until ctx is canceled, Stop is
// called, or a worker returns a fatal error.
func (s *Server) Start(ctx context.Context) error {
	for i := 0; i < MaxDebug-1; i++ {
		c := s.ctxs[i]
		c.Lock.Lock()
		c.Flags |= FlagSelected
		c.LocalPort = s.portBase + uint16(i)
		c.Lock.Unlock()
	}

	for i := 0; i < MaxDebug; i++ {
		port := s.portBase + uint16(i)
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("gdb: bind port %d: %w", port, err)
		}
		s.listeners = append(s.listeners, l)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, l := range s.listeners {
		i, l := i, l
		g.Go(func() error { return s.acceptLoop(gctx, i, l) })
	}
	g.Go(func() error { return s.runMonitor(gctx) })

	go func() {
		select {
		case <-gctx.Done():
		case <-s.shallTerminate:
		}
		s.closeListeners()
	}()

	return g.Wait()
}

// Stop signals shallTerminate and unblocks Start. Safe to call more
// than once.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shallTerminate) })
	return nil
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// acceptLoop services one bound port with an accept-then-serve shape,
// generalized to four ports and a context pool instead of one global
// debuggee.
func (s *Server) acceptLoop(ctx context.Context, portIndex int, l net.Listener) error {
	s.enterWorker()
	defer s.exitWorker()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			select {
			case <-s.shallTerminate:
				return nil
			default:
			}
			s.log.Warn("accept error", "port_index", portIndex, "err", err)
			return err
		}

		c := s.allocContext(s.portBase + uint16(portIndex))
		if c == nil {
			s.log.Warn("no selected context for accepting port, rejecting", "port_index", portIndex)
			_ = conn.Close()
			continue
		}
		s.serveClient(ctx, c, conn)

		// The three on-demand slots stay bound to their fixed port for the
		// listener's whole lifetime; closeContext zeroed LocalPort as part
		// of the per-session reset, so the next Accept on this listener
		// needs it re-armed before allocContext can find this slot again.
		// The reserved slot (portIndex==MaxDebug-1) is deliberately
		// excluded: it only gets bound again via an explicit
		// SetNextApplicationDebugHandle call.
		if portIndex < MaxDebug-1 {
			c.Lock.Lock()
			c.Flags |= FlagSelected
			c.LocalPort = s.portBase + uint16(portIndex)
			c.Lock.Unlock()
		}
	}
}

// allocContext is the generic socket server's "alloc" callback: find the
// context whose localPort equals the accepting port and whose SELECTED
// bit is set.
func (s *Server) allocContext(port uint16) *Context {
	for _, c := range s.ctxs {
		c.Lock.Lock()
		match := c.Flags&FlagSelected != 0 && c.LocalPort == port
		c.Lock.Unlock()
		if match {
			return c
		}
	}
	return nil
}

// serveClient runs the accept prelude, then the packet loop, then the
// close/release path, for one accepted TCP connection bound to c.
func (s *Server) serveClient(ctx context.Context, c *Context, netConn net.Conn) {
	defer netConn.Close()

	sessionID := xid.New()
	c.Lock.Lock()
	c.SessionID = sessionID
	c.log = c.log.With("session", sessionID.String())
	log := c.log
	c.Lock.Unlock()
	log.Info("client accepted")

	if err := s.acceptPrelude(ctx, c); err != nil {
		log.Error("accept prelude failed", "err", err)
		s.closeContext(c)
		s.releaseContext(c)
		return
	}
	close(c.ClientAcceptedEvent)
	s.recomputePoolGauges()

	conn := rsp.NewConn(netConn, netConn)
	conn.SetPacketSize(s.packetSize)
	c.Lock.Lock()
	c.conn = conn
	c.PacketSize = s.packetSize
	c.Lock.Unlock()

	s.packetLoop(conn, c, log)

	s.closeContext(c)
	s.releaseContext(c)
	s.recomputePoolGauges()
}

// acceptPrelude performs one of two preludes depending on how the
// context was attached. Without ATTACHED_AT_START it attaches itself and
// then drains events until the attach-break exception is observed,
// rather than assuming a fixed event count -- the same loop serves the
// ATTACHED_AT_START case, since a handle supplied externally still has
// its prelude events queued and waiting to be drained the same way.
func (s *Server) acceptPrelude(ctx context.Context, c *Context) error {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	if c.Flags&FlagAttachedAtStart == 0 {
		h, err := s.kernel.DebugActiveProcess(ctx, c.Pid)
		if err != nil {
			return err
		}
		c.Debug = h
	}

	for {
		ev, err := s.kernel.GetProcessDebugEvent(c.Debug)
		if err == kernel.WouldBlock {
			time.Sleep(time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
		c.PreprocessDebugEvent(ev)
		if ev.Type == kernel.EventException && ev.Exception == kernel.ExceptionAttachBreak {
			break
		}
	}

	c.Flags |= FlagUsed
	c.State = StateConnected
	c.EventToWaitFor = WaitDebugHandle
	return nil
}

// packetLoop is the socket worker's per-connection body: read a token,
// dispatch under the context lock, send the reply, repeat. Generalized
// to the ack/nak/interrupt token set internal/rsp exposes.
func (s *Server) packetLoop(conn *rsp.Conn, c *Context, log hclog.Logger) {
	for {
		tok, err := conn.ReadToken()
		if err != nil {
			if errors.Is(err, rsp.ErrChecksum) || errors.Is(err, rsp.ErrFraming) ||
				errors.Is(err, rsp.ErrTooLarge) || errors.Is(err, rsp.ErrTruncatedRLE) {
				// ReadToken already sent the NAK; the client is expected to
				// retransmit the frame, so the session stays open.
				log.Debug("malformed frame, awaiting retransmit", "err", err)
				if errors.Is(err, rsp.ErrChecksum) && s.metrics != nil {
					s.metrics.checksumError()
				}
				continue
			}
			if !errors.Is(err, errExpectedEOF) {
				log.Debug("connection ended", "err", err)
			}
			return
		}

		switch tok.Kind {
		case rsp.TokenAck:
			continue
		case rsp.TokenNak:
			_ = conn.ResendLast()
			continue
		case rsp.TokenInterrupt:
			s.handleInterrupt(c, log)
			continue
		case rsp.TokenPacket:
			if s.metrics != nil {
				s.metrics.packetIn()
			}
		}

		c.Lock.Lock()
		wasContinuing := c.Flags&FlagProcessContinuing != 0
		res := Dispatch(s, c, s.kernel, tok.Payload)
		nowContinuing := c.Flags&FlagProcessContinuing != 0
		if !wasContinuing && nowContinuing {
			// c/s/vCont;c just set PROCESS_CONTINUING: wake the monitor
			// via its continuedEvent signal.
			s.signalContinued(c)
		}
		noAck := c.NoAck
		closed := res.closed
		noReply := res.noReply
		payload := res.payload
		c.Lock.Unlock()

		if noAck && conn.AckMode() {
			// QStartNoAckMode flips the context-level flag; the wire-level
			// ack suppression lives on conn, so carry it over here rather
			// than in the handler, which only sees the context.
			conn.SetNoAckMode()
		}

		if closed {
			log.Debug("session closed by handler", "err", errSessionClosed)
			return
		}
		if !noReply {
			if err := c.sendAsync(payload); err != nil {
				log.Debug("send failed", "err", err)
				return
			}
			if s.metrics != nil {
				s.metrics.packetOut()
			}
		}
	}
}

// errExpectedEOF is never actually matched against (io.EOF is returned
// directly by ReadToken on client disconnect); kept so packetLoop's
// logging condition reads as an intentional allow-list rather than a
// blanket suppression, for anyone later adding a second benign error.
var errExpectedEOF = errors.New("gdb: connection closed")

// handleInterrupt services a bare 0x03 byte received mid-continue:
// request a break, restoring PROCESS_CONTINUING if the break fails
// because the process already stopped.
func (s *Server) handleInterrupt(c *Context, log hclog.Logger) {
	c.Lock.Lock()
	defer c.Lock.Unlock()
	if c.Flags&FlagProcessContinuing == 0 {
		return
	}
	c.Flags &^= FlagProcessContinuing
	if err := s.kernel.BreakDebugProcess(c.Debug); err != nil {
		log.Warn("break request failed, restoring continuing flag", "err", err)
		c.Flags |= FlagProcessContinuing
		return
	}
}

// signalContinued notifies the monitor worker that it should resume the
// debuggee with the context's current continueFlags.
// Non-blocking: if the monitor hasn't drained the previous signal yet,
// a select/default avoids the socket worker ever stalling on it.
func (s *Server) signalContinued(c *Context) {
	select {
	case c.ContinuedEvent <- struct{}{}:
	default:
	}
}

// closeContext applies the close half of the disconnect sequence: disable
// non-persistent breakpoints, drop watchpoints, clear svcMask, reset the
// XML cursor cache, rewind eventToWaitFor, and zero localPort.
func (s *Server) closeContext(c *Context) {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	c.CloseBreakpoints(s.kernel)
	c.RemoveAllWatchpoints()
	c.SvcMask = [32]byte{}
	c.XferCursors = map[string]*XferCursor{}
	c.EventToWaitFor = WaitClientAccepted
	c.LocalPort = 0
	c.State = StateClosing
	c.conn = nil
}

// releaseContext applies the release half of the disconnect sequence, invoked after
// Close: drain any leftover events, terminate the debuggee if requested,
// close the debug handle, reset continue flags, and broadcast
// statusUpdated. The slot keeps SELECTED (port reservation survives a
// detach) unless it was never reserved for reuse.
func (s *Server) releaseContext(c *Context) {
	c.Lock.Lock()

	for {
		_, err := s.kernel.GetProcessDebugEvent(c.Debug)
		if err != nil {
			break
		}
	}

	terminate := c.Flags&FlagTerminateProcess != 0
	debug := c.Debug

	c.Flags &^= FlagUsed | FlagProcessContinuing | FlagTerminateProcess | FlagAttachedAtStart
	c.State = StateDisconnected
	c.ContinueFlags = kernel.DefaultContinueFlags
	c.Debug = 0
	c.Pid = 0
	c.Threads = nil
	c.CurrentTid = 0
	c.Selection = ThreadSelection{}
	c.ClientAcceptedEvent = make(chan struct{})

	c.Lock.Unlock()

	if terminate && debug != 0 {
		_ = s.kernel.TerminateDebugProcess(debug)
	}
	if debug != 0 {
		_ = s.kernel.Close(debug)
	}

	s.broadcastStatusUpdated()
}
