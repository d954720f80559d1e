package gdb

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// result is what a command handler hands back to the dispatch loop. It
// models the three outcomes a handler can produce: a normal reply
// (OK/E<nn>/data), "no immediate reply" (c/s/vCont-continue — the
// monitor worker sends the eventual stop reply), and a session-ending
// error.
type result struct {
	payload []byte
	noReply bool
	closed  bool
}

func ok() result                   { return result{payload: []byte("OK")} }
func raw(p []byte) result          { return result{payload: p} }
func rawStr(s string) result       { return result{payload: []byte(s)} }
func unsupported() result          { return result{payload: nil} }
func noImmediateReply() result     { return result{noReply: true} }
func sessionClosed() result        { return result{closed: true} }

func errnoReply(code string) result {
	return result{payload: []byte(code)}
}

// replyForErr maps an error from a kernel/context operation to an
// errno-style reply: kernelError carries its own code, anything else
// is the generic E01.
func replyForErr(err error) result {
	if ke, ok := err.(kernelError); ok {
		if ke.code == "" {
			return unsupported()
		}
		return errnoReply(ke.code)
	}
	return errnoReply(errnoGeneric)
}

// handlerFunc is one command-letter handler. cmd is the packet payload
// after the command letter. k is the kernel facility for the attached
// process.
type handlerFunc func(s *Server, c *Context, k kernel.Debugger, cmd []byte) result

// commandHandlers is the flat command-letter table.
var commandHandlers = map[byte]handlerFunc{
	'?': handleGetStopReason,
	'c': handleContinue,
	'C': handleContinue,
	's': handleStep,
	'S': handleStep,
	'D': handleDetach,
	'g': handleReadRegisters,
	'G': handleWriteRegisters,
	'H': handleSetThreadID,
	'k': handleKill,
	'm': handleReadMemory,
	'M': handleWriteMemory,
	'p': handleReadRegister,
	'P': handleWriteRegister,
	'q': handleReadQuery,
	'Q': handleWriteQuery,
	'T': handleIsThreadAlive,
	'v': handleVerbose,
	'X': handleWriteMemoryRaw,
	'z': handleClearStopPoint,
	'Z': handleSetStopPoint,
}

// Dispatch routes one packet payload to its handler, defaulting to the
// unsupported (empty-packet) reply for unknown command letters. Caller
// holds c.Lock.
func Dispatch(s *Server, c *Context, k kernel.Debugger, payload []byte) result {
	if len(payload) == 0 {
		return unsupported()
	}
	h, found := commandHandlers[payload[0]]
	if !found {
		return unsupported()
	}
	return h(s, c, k, payload[1:])
}

func handleGetStopReason(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	return raw(c.LastStopReply())
}

func handleContinue(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	// C<sig> is accepted but the signal byte is intentionally ignored:
	// injecting target signals into the debuggee is permanently out of scope.
	c.Selection.Continuing = resolveContinueTarget(c)
	c.Flags |= FlagProcessContinuing
	return noImmediateReply()
}

func handleStep(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	c.ContinueFlags |= kernel.ContinueSingleStep
	c.Selection.Continuing = resolveContinueTarget(c)
	c.Flags |= FlagProcessContinuing
	return noImmediateReply()
}

func resolveContinueTarget(c *Context) kernel.Tid {
	if c.Selection.Continuing != 0 {
		return c.Selection.Continuing
	}
	return c.CurrentTid
}

func handleDetach(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	c.Flags &^= FlagUsed
	c.State = StateDisconnected
	return ok()
}

func handleReadRegisters(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	data, err := c.ReadRegisters(k)
	if err != nil {
		return replyForErr(err)
	}
	return rawStr(hexEncode(data))
}

func handleWriteRegisters(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	data, err := hexDecode(cmd)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	if err := c.WriteRegisters(k, data); err != nil {
		return replyForErr(err)
	}
	return ok()
}

// handleSetThreadID services H<op><tid>: op='g' selects for g/m/p,
// op='c' selects for c/s. tid=0 means "any"; tid=-1 ("all") is only
// legal for the continue selection.
func handleSetThreadID(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	if len(cmd) < 1 {
		return errnoReply(errnoInvalidArgument)
	}
	op := cmd[0]
	tid, err := parseTid(cmd[1:])
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	switch op {
	case 'g':
		if tid == TidAll {
			return errnoReply(errnoInvalidArgument)
		}
		c.Selection.General = tid
	case 'c':
		c.Selection.Continuing = tid
	default:
		return unsupported()
	}
	return ok()
}

func parseTid(s []byte) (kernel.Tid, error) {
	v, err := strconv.ParseInt(string(s), 16, 64)
	if err != nil {
		return 0, err
	}
	if v == -1 {
		return TidAll, nil
	}
	return kernel.Tid(v), nil
}

func handleKill(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	c.Flags |= FlagTerminateProcess
	return sessionClosed()
}

func handleReadMemory(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	addr, length, err := parseAddrLength(cmd)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	data, err := c.ReadMemory(k, addr, length)
	if err != nil {
		return replyForErr(err)
	}
	return rawStr(hexEncode(data))
}

func handleWriteMemory(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	addr, length, rest, err := parseAddrLengthData(cmd)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	data, err := hexDecode(rest)
	if err != nil || len(data) != length {
		return errnoReply(errnoInvalidArgument)
	}
	if err := c.WriteMemory(k, addr, data); err != nil {
		return replyForErr(err)
	}
	return ok()
}

func handleWriteMemoryRaw(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	addr, length, rest, err := parseAddrLengthData(cmd)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	data, err := unescapeBinary(rest)
	if err != nil || len(data) != length {
		return errnoReply(errnoInvalidArgument)
	}
	if err := c.WriteMemory(k, addr, data); err != nil {
		return replyForErr(err)
	}
	return ok()
}

func handleReadRegister(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	idx, err := strconv.ParseInt(string(cmd), 16, 32)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	data, err := c.ReadRegister(k, int(idx))
	if err != nil {
		return replyForErr(err)
	}
	return rawStr(hexEncode(data))
}

func handleWriteRegister(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	parts := bytes.SplitN(cmd, []byte("="), 2)
	if len(parts) != 2 {
		return errnoReply(errnoInvalidArgument)
	}
	idx, err := strconv.ParseInt(string(parts[0]), 16, 32)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	data, err := hexDecode(parts[1])
	if err != nil || len(data) != 4 {
		return errnoReply(errnoInvalidArgument)
	}
	value := leUint32(data)
	if err := c.WriteRegister(k, int(idx), value); err != nil {
		return replyForErr(err)
	}
	return ok()
}

func handleIsThreadAlive(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	tid, err := parseTid(cmd)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	if c.IsThreadAlive(tid) {
		return ok()
	}
	return errnoReply(errnoGeneric)
}

// handleSetStopPoint services 'Z' (enable a breakpoint/watchpoint) and
// handleClearStopPoint services 'z' (disable one): type 0 is a software
// breakpoint, types 2/3/4 are write/read/access watchpoints.
func handleSetStopPoint(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	return toggleStopPoint(s, c, k, cmd, true)
}

func handleClearStopPoint(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	return toggleStopPoint(s, c, k, cmd, false)
}

func toggleStopPoint(s *Server, c *Context, k kernel.Debugger, cmd []byte, enable bool) result {
	if len(cmd) < 1 {
		return errnoReply(errnoInvalidArgument)
	}
	typ := cmd[0]
	rest := cmd[1:]
	if len(rest) == 0 || rest[0] != ',' {
		return errnoReply(errnoInvalidArgument)
	}
	fields := bytes.SplitN(rest[1:], []byte(","), 2)
	if len(fields) < 2 {
		return errnoReply(errnoInvalidArgument)
	}
	addr, err := strconv.ParseUint(string(fields[0]), 16, 64)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	kindVal, err := strconv.ParseUint(string(fields[1]), 16, 8)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}

	switch typ {
	case '0':
		if enable {
			bpKind := BreakpointKindARM
			if kindVal == 2 {
				bpKind = BreakpointKindThumb
			}
			if err := c.SetBreakpoint(k, addr, bpKind, false); err != nil {
				return replyForErr(err)
			}
		} else {
			if err := c.ClearBreakpoint(k, addr); err != nil {
				return replyForErr(err)
			}
		}
		return ok()
	case '2', '3', '4':
		wpKind := watchpointKindFor(typ)
		if enable {
			if !c.AddWatchpoint(addr, wpKind, int(kindVal)) {
				return errnoReply(errnoGeneric)
			}
		} else {
			if !c.RemoveWatchpoint(addr, wpKind) {
				return errnoReply(errnoGeneric)
			}
		}
		return ok()
	default:
		return unsupported()
	}
}

func watchpointKindFor(typ byte) kernel.WatchpointKind {
	switch typ {
	case '2':
		return kernel.WatchpointWrite
	case '3':
		return kernel.WatchpointRead
	default:
		return kernel.WatchpointAccess
	}
}

func parseAddrLength(cmd []byte) (addr uint64, length int, err error) {
	parts := bytes.SplitN(cmd, []byte(","), 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("gdb: malformed addr,length")
	}
	a, err := strconv.ParseUint(string(parts[0]), 16, 64)
	if err != nil {
		return 0, 0, err
	}
	l, err := strconv.ParseUint(string(parts[1]), 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return a, int(l), nil
}

func parseAddrLengthData(cmd []byte) (addr uint64, length int, data []byte, err error) {
	parts := bytes.SplitN(cmd, []byte(":"), 2)
	if len(parts) != 2 {
		return 0, 0, nil, fmt.Errorf("gdb: malformed addr,length:data")
	}
	addr, length, err = parseAddrLength(parts[0])
	if err != nil {
		return 0, 0, nil, err
	}
	return addr, length, parts[1], nil
}
