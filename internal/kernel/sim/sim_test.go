package sim

import (
	"context"
	"testing"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

func TestDebugActiveProcessQueuesAttachSequence(t *testing.T) {
	b := NewBackend()
	h, err := b.DebugActiveProcess(context.Background(), 42)
	if err != nil {
		t.Fatalf("DebugActiveProcess error: %v", err)
	}

	ev, err := b.GetProcessDebugEvent(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != kernel.EventAttachProcess || ev.Pid != 42 {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	ev, err = b.GetProcessDebugEvent(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != kernel.EventException || ev.Exception != kernel.ExceptionAttachBreak {
		t.Fatalf("unexpected second event: %+v", ev)
	}

	if _, err := b.GetProcessDebugEvent(h); err != kernel.WouldBlock {
		t.Fatalf("expected WouldBlock once drained, got %v", err)
	}
}

func TestGetProcessDebugEventUnknownHandle(t *testing.T) {
	b := NewBackend()
	if _, err := b.GetProcessDebugEvent(999); err != ErrNotAttached {
		t.Fatalf("expected ErrNotAttached, got %v", err)
	}
}

func TestReadWriteProcessMemoryRoundTrip(t *testing.T) {
	b := NewBackend()
	h, _ := b.DebugActiveProcess(context.Background(), 1)

	if err := b.WriteProcessMemory(h, 0x20000000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteProcessMemory error: %v", err)
	}
	got, err := b.ReadProcessMemory(h, 0x20000000, 4)
	if err != nil {
		t.Fatalf("ReadProcessMemory error: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestReadProcessMemoryOutOfRange(t *testing.T) {
	b := NewBackend()
	h, _ := b.DebugActiveProcess(context.Background(), 1)
	if _, err := b.ReadProcessMemory(h, 0x20000000, 64*1024); err == nil {
		t.Fatalf("expected out-of-range error")
	}
}

func TestSpawnThreadQueuesCreateThreadEvent(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)

	tid := p.SpawnThread(0)
	ev, err := b.GetProcessDebugEvent(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != kernel.EventCreateThread || ev.Tid != tid {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestGetSetThreadContext(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)

	regs := kernel.Registers{CPSR: 0x10}
	regs.Core[0] = 0xdeadbeef
	if err := b.SetThreadContext(h, 1, regs); err != nil {
		t.Fatalf("SetThreadContext error: %v", err)
	}
	got, err := b.GetThreadContext(h, 1)
	if err != nil {
		t.Fatalf("GetThreadContext error: %v", err)
	}
	if got.Core[0] != 0xdeadbeef || got.CPSR != 0x10 {
		t.Fatalf("unexpected registers: %+v", got)
	}
}

func TestGetThreadContextUnknownThread(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)
	if _, err := b.GetThreadContext(h, 99); err != ErrNoSuchThread {
		t.Fatalf("expected ErrNoSuchThread, got %v", err)
	}
}

func TestBreakDebugProcessQueuesUserBreak(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)

	if err := b.BreakDebugProcess(h); err != nil {
		t.Fatalf("BreakDebugProcess error: %v", err)
	}
	ev, err := b.GetProcessDebugEvent(h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Type != kernel.EventException || ev.Exception != kernel.ExceptionUserBreak {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestCloseRemovesHandle(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)

	if err := b.Close(h); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := b.GetProcessDebugEvent(h); err != ErrNotAttached {
		t.Fatalf("expected ErrNotAttached after Close, got %v", err)
	}
}

func TestListThreadsIncludesInitialThread(t *testing.T) {
	b := NewBackend()
	p := NewProcess(1, 4096)
	h := b.Attach(p)

	threads, err := b.ListThreads(h)
	if err != nil {
		t.Fatalf("ListThreads error: %v", err)
	}
	if len(threads) != 1 || threads[0].Tid != 1 {
		t.Fatalf("unexpected threads: %+v", threads)
	}
}
