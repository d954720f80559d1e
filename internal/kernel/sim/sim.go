// Package sim is a software stand-in for a kernel's debug facility. It
// backs this repo's reference binary and its tests with an in-memory
// "process": a flat
// byte-addressable memory, a fixed ARM register file per thread, and a
// manually-driven event queue, so the rest of the tree can be exercised
// without real hardware debug syscalls.
package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

var ErrNoSuchThread = errors.New("sim: no such thread")
var ErrNotAttached = errors.New("sim: handle not attached")

type thread struct {
	tid     kernel.Tid
	creator kernel.Tid
	regs    kernel.Registers
}

// Process is one simulated debuggee: a memory image, a thread set, and a
// queue of pending debug events that a test (or a driving goroutine)
// populates with Push*.
type Process struct {
	mu sync.Mutex

	pid     kernel.Pid
	mem     []byte
	regions []kernel.MemoryRegion
	threads map[kernel.Tid]*thread
	nextTid kernel.Tid

	events []kernel.Event

	terminated bool
}

// NewProcess creates a simulated process with memSize bytes of RAM mapped
// at 0x20000000 and one initial thread.
func NewProcess(pid kernel.Pid, memSize int) *Process {
	p := &Process{
		pid:     pid,
		mem:     make([]byte, memSize),
		threads: map[kernel.Tid]*thread{},
		nextTid: 1,
		regions: []kernel.MemoryRegion{
			{Start: 0x20000000, Length: uint64(memSize), Kind: "ram"},
		},
	}
	p.addThread(0)
	return p
}

func (p *Process) addThread(creator kernel.Tid) kernel.Tid {
	tid := p.nextTid
	p.nextTid++
	p.threads[tid] = &thread{tid: tid, creator: creator}
	return tid
}

// WriteAt seeds memory for tests, bypassing the region/read-only checks a
// real WriteProcessMemory call would apply.
func (p *Process) WriteAt(addr uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	base := addr - 0x20000000
	copy(p.mem[base:], data)
}

// PushEvent enqueues a debug event to be returned by the next
// GetProcessDebugEvent call. Tests drive the attach/exception/exit
// sequence this way.
func (p *Process) PushEvent(ev kernel.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// SpawnThread simulates a kernel-level thread creation and queues the
// matching EventCreateThread.
func (p *Process) SpawnThread(creator kernel.Tid) kernel.Tid {
	p.mu.Lock()
	tid := p.addThread(creator)
	p.mu.Unlock()
	p.PushEvent(kernel.Event{Type: kernel.EventCreateThread, Pid: p.pid, Tid: tid, CreatorTid: creator})
	return tid
}

// Backend implements kernel.Debugger over a fixed table of simulated
// Processes, keyed by the handle returned from DebugActiveProcess.
type Backend struct {
	mu       sync.Mutex
	handles  map[kernel.Handle]*Process
	nextHandle kernel.Handle
}

func NewBackend() *Backend {
	return &Backend{handles: map[kernel.Handle]*Process{}, nextHandle: 1}
}

// Attach registers an already-constructed Process under a fresh handle,
// for use by tests that want to drive events before the server observes
// them (the ATTACHED_AT_START prelude path).
func (b *Backend) Attach(p *Process) kernel.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.nextHandle
	b.nextHandle++
	b.handles[h] = p
	return h
}

func (b *Backend) process(h kernel.Handle) (*Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.handles[h]
	if !ok {
		return nil, ErrNotAttached
	}
	return p, nil
}

func (b *Backend) DebugActiveProcess(ctx context.Context, pid kernel.Pid) (kernel.Handle, error) {
	p := NewProcess(pid, 32*1024)
	p.PushEvent(kernel.Event{Type: kernel.EventAttachProcess, Pid: pid})
	p.PushEvent(kernel.Event{Type: kernel.EventException, Pid: pid, Exception: kernel.ExceptionAttachBreak})
	h := b.Attach(p)
	return h, nil
}

func (b *Backend) GetProcessDebugEvent(h kernel.Handle) (kernel.Event, error) {
	p, err := b.process(h)
	if err != nil {
		return kernel.Event{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return kernel.Event{}, kernel.WouldBlock
	}
	ev := p.events[0]
	p.events = p.events[1:]
	return ev, nil
}

func (b *Backend) ContinueDebugEvent(h kernel.Handle, flags kernel.ContinueFlags) error {
	_, err := b.process(h)
	return err
}

func (b *Backend) BreakDebugProcess(h kernel.Handle) error {
	p, err := b.process(h)
	if err != nil {
		return err
	}
	p.PushEvent(kernel.Event{Type: kernel.EventException, Pid: p.pid, Exception: kernel.ExceptionUserBreak})
	return nil
}

func (b *Backend) TerminateDebugProcess(h kernel.Handle) error {
	p, err := b.process(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	return nil
}

func (b *Backend) ReadProcessMemory(h kernel.Handle, addr uint64, length int) ([]byte, error) {
	p, err := b.process(h)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	base := addr - 0x20000000
	if base+uint64(length) > uint64(len(p.mem)) {
		return nil, errors.New("sim: out of range")
	}
	out := make([]byte, length)
	copy(out, p.mem[base:base+uint64(length)])
	return out, nil
}

func (b *Backend) WriteProcessMemory(h kernel.Handle, addr uint64, data []byte) error {
	p, err := b.process(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	base := addr - 0x20000000
	if base+uint64(len(data)) > uint64(len(p.mem)) {
		return errors.New("sim: out of range")
	}
	copy(p.mem[base:], data)
	return nil
}

func (b *Backend) GetThreadContext(h kernel.Handle, tid kernel.Tid) (kernel.Registers, error) {
	p, err := b.process(h)
	if err != nil {
		return kernel.Registers{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[tid]
	if !ok {
		return kernel.Registers{}, ErrNoSuchThread
	}
	return t.regs, nil
}

func (b *Backend) SetThreadContext(h kernel.Handle, tid kernel.Tid, regs kernel.Registers) error {
	p, err := b.process(h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[tid]
	if !ok {
		return ErrNoSuchThread
	}
	t.regs = regs
	return nil
}

func (b *Backend) QueryMemoryMap(h kernel.Handle) ([]kernel.MemoryRegion, error) {
	p, err := b.process(h)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kernel.MemoryRegion, len(p.regions))
	copy(out, p.regions)
	return out, nil
}

func (b *Backend) ListThreads(h kernel.Handle) ([]kernel.ThreadInfo, error) {
	p, err := b.process(h)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]kernel.ThreadInfo, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, kernel.ThreadInfo{Tid: t.tid, Creator: t.creator})
	}
	return out, nil
}

func (b *Backend) Close(h kernel.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handles, h)
	return nil
}
