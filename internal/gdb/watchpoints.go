package gdb

import "github.com/Sahlo97/Luma3DS/internal/kernel"

// Watchpoint is one watchpoint table entry. Kept as its own small table
// (disjoint from Breakpoints) dense-packed 0..len-1 and bounded by
// MaxWatchpoints. The table is bookkeeping only: adding or removing an
// entry installs or removes nothing through kernel.Debugger.
type Watchpoint struct {
	Address uint64
	Kind    kernel.WatchpointKind
	Length  int
}

// AddWatchpoint inserts a watchpoint if the table has a free slot and
// it isn't already present, per the Z2/Z3/Z4 contract. Caller holds
// ctx.Lock.
func (c *Context) AddWatchpoint(addr uint64, kind kernel.WatchpointKind, length int) bool {
	for _, w := range c.Watchpoints {
		if w.Address == addr && w.Kind == kind {
			return true // idempotent duplicate
		}
	}
	if len(c.Watchpoints) >= MaxWatchpoints {
		return false // E01: out of resource
	}
	c.Watchpoints = append(c.Watchpoints, Watchpoint{Address: addr, Kind: kind, Length: length})
	return true
}

// RemoveWatchpoint removes a watchpoint by address+kind and keeps the
// table densely packed. Returns false if no such watchpoint exists
// (E01).
func (c *Context) RemoveWatchpoint(addr uint64, kind kernel.WatchpointKind) bool {
	for i, w := range c.Watchpoints {
		if w.Address == addr && w.Kind == kind {
			c.Watchpoints = append(c.Watchpoints[:i], c.Watchpoints[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAllWatchpoints clears the table on disconnect.
func (c *Context) RemoveAllWatchpoints() {
	c.Watchpoints = nil
}
