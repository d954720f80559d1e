package gdb

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/rs/xid"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
	"github.com/Sahlo97/Luma3DS/internal/rsp"
)

// Flags is the bit set carried on a connection's context. It is kept as
// a bitfield (not split into enum+capabilities) deliberately: that split
// is a plausible later cleanup, not a contract change, so this keeps
// the original flag-bitmask shape rather than preempting a redesign
// nothing requires yet.
type Flags uint32

const (
	FlagSelected Flags = 1 << iota
	FlagUsed
	FlagAttachedAtStart
	FlagProcessContinuing
	FlagTerminateProcess
	FlagAllowDebug
	FlagExtendedRemote
	FlagNonStop // must never be set; non-stop mode is out of scope
)

// State is the context's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Breakpoint is one software breakpoint entry.
type Breakpoint struct {
	Address             uint64
	OriginalInstruction []byte
	Kind                BreakpointKind
	Persistent          bool
}

type BreakpointKind int

const (
	BreakpointKindThumb BreakpointKind = 2
	BreakpointKindARM   BreakpointKind = 4
)

// ThreadSelection distinguishes the two independent H<op> selections:
// one for g/m/p, one for c/s.
type ThreadSelection struct {
	General    kernel.Tid // selected via Hg, used by g/m/p
	Continuing kernel.Tid // selected via Hc, used by c/s; -1 means "all"
}

const TidAny kernel.Tid = 0
const TidAll kernel.Tid = ^kernel.Tid(0)

// XferCursor tracks a chunked qXfer:<kind>:read position: the blob
// rendered by the most recent read and the offset the next read in the
// same sequence is expected to ask for, so a client walking the blob in
// order doesn't trigger a fresh render on every call.
type XferCursor struct {
	Kind       string
	NextOffset int
	Blob       []byte
}

// Context is the central per-connection state machine. All mutable
// fields are guarded by Lock, which stands in for the 3DS kernel's
// RecursiveLock primitive but is a plain sync.Mutex and so is not
// reentrant: a goroutine that already holds it must not lock it again.
// Instead every exported Context method assumes the
// caller already holds Lock if it is documented to, and internal helpers
// never re-lock; see server.go's single lock-acquisition points.
type Context struct {
	Lock sync.Mutex

	index int // position in Server.ctxs, stable for this context's lifetime

	Flags      Flags
	State      State
	LocalPort  uint16
	Pid        kernel.Pid
	Debug      kernel.Handle
	SessionID  xid.ID

	ClientAcceptedEvent chan struct{} // one-shot, closed then replaced on signal
	ContinuedEvent      chan struct{}
	EventToWaitFor      WaitTarget

	ContinueFlags kernel.ContinueFlags
	LatestEvent   kernel.Event

	ProcessExited bool
	ProcessEnded  bool

	CatchThreadEvents          bool
	EnableExternalMemoryAccess bool

	Threads    []kernel.ThreadInfo
	TotalCreated int
	CurrentTid   kernel.Tid
	Selection    ThreadSelection

	Breakpoints []Breakpoint
	Watchpoints []Watchpoint

	PacketSize int
	NoAck      bool

	SvcMask [32]byte // 256-bit syscall-number stop mask

	XferCursors map[string]*XferCursor

	log hclog.Logger

	// conn and sendMu let the monitor worker deliver an unsolicited stop
	// reply on this context's connection concurrently with the socket
	// worker's own replies; sendMu (not Lock) guards the wire write so an
	// in-progress drain doesn't hold the state lock for the duration of
	// an I/O call: a reply to a command packet must go out before any
	// stop reply generated after it.
	conn   *rsp.Conn
	sendMu sync.Mutex
}

// sendAsync writes payload on this context's connection, serialized
// against any other sender via sendMu. No-op if no connection is bound
// (e.g. a drain that races the connection's teardown).
func (c *Context) sendAsync(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.SendPacket(payload)
}

// WaitTarget names what the monitor worker is currently blocked on for
// this context.
type WaitTarget int

const (
	WaitClientAccepted WaitTarget = iota
	WaitDebugHandle
)

// NewContext builds one pool slot at server-init time. It is called
// exactly MaxDebug times and the returned Context is never reallocated
// for the lifetime of the server.
func NewContext(index int, logger hclog.Logger) *Context {
	c := &Context{
		index:               index,
		ClientAcceptedEvent: make(chan struct{}),
		ContinuedEvent:      make(chan struct{}),
		log:                 logger.Named("ctx").With("slot", index),
	}
	c.resetToFree()
	return c
}

// resetToFree restores every field to the "free slot" invariant:
// SELECTED clear implies localPort==0, pid==0, debug==0,
// state==Disconnected, no breakpoints/watchpoints. Caller must hold Lock.
func (c *Context) resetToFree() {
	c.Flags = 0
	c.State = StateDisconnected
	c.LocalPort = 0
	c.Pid = 0
	c.Debug = 0
	c.ContinueFlags = kernel.DefaultContinueFlags
	c.ProcessExited = false
	c.ProcessEnded = false
	c.CatchThreadEvents = false
	c.EnableExternalMemoryAccess = false
	c.Threads = nil
	c.TotalCreated = 0
	c.CurrentTid = 0
	c.Selection = ThreadSelection{}
	c.Breakpoints = nil
	c.Watchpoints = nil
	c.PacketSize = DefaultPacketSize
	c.NoAck = false
	c.SvcMask = [32]byte{}
	c.XferCursors = map[string]*XferCursor{}
	c.EventToWaitFor = WaitClientAccepted
	c.conn = nil
}

// Logger returns this context's named sub-logger, tagged with its
// session id once one has been assigned.
func (c *Context) Logger() hclog.Logger { return c.log }

// IsFree reports whether the SELECTED flag is clear, i.e. the slot is
// available for reservation.
func (c *Context) IsFree() bool { return c.Flags&FlagSelected == 0 }

// svcMaskBit reports whether syscall number n is set in SvcMask (the
// 256-bit stop-on-syscall set).
func (c *Context) svcMaskBit(n uint32) bool {
	if n >= 256 {
		return false
	}
	return c.SvcMask[n/8]&(1<<(n%8)) != 0
}

func (c *Context) setSvcMaskBit(n uint32, v bool) {
	if n >= 256 {
		return
	}
	if v {
		c.SvcMask[n/8] |= 1 << (n % 8)
	} else {
		c.SvcMask[n/8] &^= 1 << (n % 8)
	}
}

// findThread returns the index of tid in c.Threads, or -1.
func (c *Context) findThread(tid kernel.Tid) int {
	for i, t := range c.Threads {
		if t.Tid == tid {
			return i
		}
	}
	return -1
}
