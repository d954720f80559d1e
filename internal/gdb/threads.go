package gdb

import "github.com/Sahlo97/Luma3DS/internal/kernel"

// InsertThread adds tid to the bounded, de-duplicated thread table. A
// no-op if already present; if the table is full it drops the insert and
// logs a warning, mirroring the kernel's own MAX_THREADS bound rather
// than erroring the session.
func (c *Context) InsertThread(tid, creator kernel.Tid) {
	if c.findThread(tid) >= 0 {
		return
	}
	if len(c.Threads) >= MaxThreads {
		c.log.Warn("thread table full, dropping insert", "tid", tid)
		return
	}
	c.Threads = append(c.Threads, kernel.ThreadInfo{Tid: tid, Creator: creator})
	c.TotalCreated++
}

// RemoveThread deletes tid from the table; if it was the last thread,
// marks the process ended.
func (c *Context) RemoveThread(tid kernel.Tid) {
	idx := c.findThread(tid)
	if idx < 0 {
		return
	}
	c.Threads = append(c.Threads[:idx], c.Threads[idx+1:]...)
	if len(c.Threads) == 0 {
		c.ProcessEnded = true
	}
}

// IsThreadAlive reports whether tid is in the known-thread table, backing
// the 'T' handler.
func (c *Context) IsThreadAlive(tid kernel.Tid) bool {
	return c.findThread(tid) >= 0
}

// resolveGeneralThread turns the Hg-selected tid into a concrete tid to act
// on: 0 ("any") resolves to the current thread if known, else the first
// known thread.
func (c *Context) resolveGeneralThread() kernel.Tid {
	tid := c.Selection.General
	if tid != TidAny {
		return tid
	}
	if c.CurrentTid != 0 {
		return c.CurrentTid
	}
	if len(c.Threads) > 0 {
		return c.Threads[0].Tid
	}
	return 0
}
