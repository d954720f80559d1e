// Package kernel defines the narrow interface the debugger core consumes
// from the host's kernel-level debug facility. Nothing in this package
// implements the facility itself; internal/kernel/sim provides a
// software stand-in used by tests and by this repo's reference binary
// when no real kernel backend is wired in.
package kernel

import "context"

// Handle identifies an attached debug session with the kernel facility.
// Zero means "not attached".
type Handle uint32

// Pid is a debuggee process id. NextApplicationPid is the sentinel
// assigned to a reserved slot awaiting "the next application to
// launch".
type Pid uint32

const NextApplicationPid Pid = 0xFFFFFFFF

// Tid is a debuggee thread id.
type Tid uint32

// ContinueFlags mirrors the kernel's debug continue bitmask.
type ContinueFlags uint32

const (
	ContinueSignalFaultEvents ContinueFlags = 1 << iota
	ContinueInhibitUserHandlers
	ContinueSingleStep
)

// DefaultContinueFlags is the default continueFlags value a fresh
// context gets: signal fault events, inhibit user handlers.
const DefaultContinueFlags = ContinueSignalFaultEvents | ContinueInhibitUserHandlers

// EventType enumerates the debug events the kernel can deliver.
type EventType int

const (
	EventAttachProcess EventType = iota
	EventAttachThread
	EventCreateThread
	EventExitThread
	EventExitProcess
	EventException
	EventOutput
)

// ExceptionType narrows EventException to a specific fault/trap kind.
type ExceptionType int

const (
	ExceptionUndefinedInstruction ExceptionType = iota
	ExceptionDataAbort
	ExceptionPrefetchAbort
	ExceptionAttachBreak
	ExceptionUserBreak
	ExceptionSyscall
	ExceptionWatchpoint
)

// WatchpointKind distinguishes the three watchpoint flavors, each
// surfaced with a distinct stop-reply annotation.
type WatchpointKind int

const (
	WatchpointWrite WatchpointKind = iota
	WatchpointRead
	WatchpointAccess
)

// Event is the decoded form of one svcGetProcessDebugEvent result.
type Event struct {
	Type EventType

	Pid Pid
	Tid Tid

	// EventExitProcess
	ExitCode    int32
	Abnormal    bool // true -> X<signal> reply, false -> W<exitcode>
	ExitSignal  int32

	// EventException
	Exception       ExceptionType
	FaultAddress    uint64
	SyscallNumber   uint32
	SyscallIsReturn bool
	Watchpoint      WatchpointKind

	// EventOutput
	OutputData []byte

	// EventCreateThread / EventAttachThread
	CreatorTid Tid
}

// WouldBlock is returned by GetProcessDebugEvent when no event is queued;
// it is not an error in the Go sense, merely a sentinel the monitor worker
// uses to know when to stop draining.
var WouldBlock = &blockErr{}

type blockErr struct{}

func (*blockErr) Error() string { return "kernel: would block" }

// MemoryRegion describes one mapped range, used both to service memory
// reads/writes and to build the qXfer:memory-map blob.
type MemoryRegion struct {
	Start    uint64
	Length   uint64
	ReadOnly bool
	Kind     string // "flash", "ram", ...
}

// Registers is the fixed ARM register file: 16 core registers, CPSR,
// and optionally FPU registers, in target.xml order.
type Registers struct {
	Core [16]uint32
	CPSR uint32
	FPU  []uint32 // nil when the target has no FPU registers configured
}

// ThreadInfo is the per-thread bookkeeping record this server tracks.
type ThreadInfo struct {
	Tid     Tid
	Creator Tid
}

// Debugger is the kernel debug facility consumed by this server. One
// Debugger instance serves every attached process; each is addressed by
// the Handle that DebugActiveProcess returned for it.
type Debugger interface {
	// DebugActiveProcess attaches to a running process and returns a
	// handle, or starts delivering already-queued events if the process
	// was supplied pre-attached (ATTACHED_AT_START).
	DebugActiveProcess(ctx context.Context, pid Pid) (Handle, error)

	// GetProcessDebugEvent performs a non-blocking dequeue. It returns
	// WouldBlock (as the error) when no event is queued.
	GetProcessDebugEvent(h Handle) (Event, error)

	// ContinueDebugEvent resumes the debuggee with the given flags.
	ContinueDebugEvent(h Handle, flags ContinueFlags) error

	// BreakDebugProcess asynchronously requests a stop; it can fail if
	// the process is already stopped, in which case the caller (the
	// socket worker's interrupt handler) must restore PROCESS_CONTINUING.
	BreakDebugProcess(h Handle) error

	// TerminateDebugProcess kills the debuggee outright.
	TerminateDebugProcess(h Handle) error

	ReadProcessMemory(h Handle, addr uint64, length int) ([]byte, error)
	WriteProcessMemory(h Handle, addr uint64, data []byte) error

	GetThreadContext(h Handle, tid Tid) (Registers, error)
	SetThreadContext(h Handle, tid Tid, regs Registers) error

	QueryMemoryMap(h Handle) ([]MemoryRegion, error)
	ListThreads(h Handle) ([]ThreadInfo, error)

	// Close releases any kernel-side resources bound to h; it is safe to
	// call on an already-terminated handle.
	Close(h Handle) error
}
