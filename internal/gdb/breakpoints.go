package gdb

import (
	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// trapInstruction returns the undefined-instruction trap bytes for the
// given breakpoint kind (ARM kind 4 / Thumb kind 2). These are the
// standard ARMv6-M/ARMv7 UDF encodings used to trap into the debug
// exception handler.
func trapInstruction(kind BreakpointKind) []byte {
	switch kind {
	case BreakpointKindThumb:
		return []byte{0x00, 0xde} // udf #0, 16-bit Thumb encoding
	default:
		return []byte{0xf0, 0x00, 0xf0, 0xe7} // udf #0xf000, ARM encoding
	}
}

// findBreakpoint returns the index of a breakpoint at addr, or -1.
func (c *Context) findBreakpoint(addr uint64) int {
	for i, bp := range c.Breakpoints {
		if bp.Address == addr {
			return i
		}
	}
	return -1
}

// SetBreakpoint enables a software breakpoint at addr (Z0): reads the
// original instruction, writes the trap, stores the entry. Idempotent
// on a duplicate address. Caller holds ctx.Lock.
func (c *Context) SetBreakpoint(mem memAccess, addr uint64, kind BreakpointKind, persistent bool) error {
	if c.findBreakpoint(addr) >= 0 {
		return nil // duplicate Z0 is idempotent
	}
	if len(c.Breakpoints) >= MaxBreakpoints {
		return errOutOfResource
	}
	trap := trapInstruction(kind)
	orig, err := mem.ReadProcessMemory(c.Debug, addr, len(trap))
	if err != nil {
		return err
	}
	if err := mem.WriteProcessMemory(c.Debug, addr, trap); err != nil {
		return err
	}
	c.Breakpoints = append(c.Breakpoints, Breakpoint{
		Address:             addr,
		OriginalInstruction: orig,
		Kind:                kind,
		Persistent:          persistent,
	})
	return nil
}

// ClearBreakpoint disables a software breakpoint (z0): restores the
// original bytes and removes the entry. Returns errUnknownBreakpoint
// (E01) if addr is not a known breakpoint.
func (c *Context) ClearBreakpoint(mem memAccess, addr uint64) error {
	idx := c.findBreakpoint(addr)
	if idx < 0 {
		return errUnknownBreakpoint
	}
	bp := c.Breakpoints[idx]
	if err := mem.WriteProcessMemory(c.Debug, bp.Address, bp.OriginalInstruction); err != nil {
		return err
	}
	c.Breakpoints = append(c.Breakpoints[:idx], c.Breakpoints[idx+1:]...)
	return nil
}

// disableBreakpointByIndex restores the original instruction for the
// breakpoint at idx without removing the table entry, used only in the
// GDB_DisableBreakpointById sense (original-instruction restore ahead of
// a table-wide reset). Caller holds ctx.Lock.
func (c *Context) disableBreakpointByIndex(mem memAccess, idx int) error {
	bp := c.Breakpoints[idx]
	return mem.WriteProcessMemory(c.Debug, bp.Address, bp.OriginalInstruction)
}

// CloseBreakpoints disables every non-persistent breakpoint (restoring
// original bytes) and clears the table: non-persistent breakpoints are
// disabled on disconnect, persistent ones are left armed in memory.
func (c *Context) CloseBreakpoints(mem memAccess) {
	for i, bp := range c.Breakpoints {
		if !bp.Persistent {
			_ = c.disableBreakpointByIndex(mem, i)
		}
	}
	c.Breakpoints = nil
}

var (
	errOutOfResource     = kernelError{code: errnoGeneric, msg: "out of breakpoint/watchpoint slots"}
	errUnknownBreakpoint = kernelError{code: errnoGeneric, msg: "no breakpoint at address"}
)

type kernelError struct {
	code string
	msg  string
}

func (e kernelError) Error() string { return e.msg }

// memAccess is the subset of kernel.Debugger breakpoint management needs;
// kept narrow so tests can fake just memory I/O without a full Debugger.
type memAccess interface {
	ReadProcessMemory(h kernel.Handle, addr uint64, length int) ([]byte, error)
	WriteProcessMemory(h kernel.Handle, addr uint64, data []byte) error
}
