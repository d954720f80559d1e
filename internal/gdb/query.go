package gdb

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// qSupportedReply is what this server negotiates in response to
// qSupported. PacketSize is filled in with the context's currently
// advertised bound.
func qSupportedReply(packetSize int) []byte {
	return []byte(fmt.Sprintf(
		"PacketSize=%x;qXfer:features:read+;qXfer:memory-map:read+;qXfer:threads:read+;qXfer:osdata:read+;QStartNoAckMode+;QCatchSyscalls+;swbreak+;hwbreak+",
		packetSize))
}

// queryToken extracts the dotted-token key up to the first ':' or ',':
// q/Q delegate to a query sub-dispatcher keyed by that token.
func queryToken(payload []byte) (key string, rest []byte) {
	idx := bytes.IndexAny(payload, ":,")
	if idx < 0 {
		return string(payload), nil
	}
	return string(payload[:idx]), payload[idx:]
}

func handleReadQuery(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	key, rest := queryToken(cmd)
	switch key {
	case "Supported":
		return raw(qSupportedReply(c.PacketSize))
	case "Attached":
		return rawStr("1")
	case "C":
		return rawStr(fmt.Sprintf("QC%x", c.CurrentTid))
	case "fThreadInfo":
		return raw(firstThreadInfoReply(c))
	case "sThreadInfo":
		return rawStr("l")
	case "Xfer":
		return handleQXfer(s, c, k, rest)
	case "Rcmd":
		return handleQRcmd(s, c, k, rest)
	case "Symbol":
		return ok()
	default:
		return unsupported()
	}
}

func handleWriteQuery(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	key, rest := queryToken(cmd)
	switch key {
	case "StartNoAckMode":
		c.NoAck = true
		return ok()
	case "CatchSyscalls":
		return handleCatchSyscalls(c, rest)
	default:
		return unsupported()
	}
}

// handleCatchSyscalls services QCatchSyscalls:0 (stop on none) and
// QCatchSyscalls:1[;sysno]* (stop on the listed syscalls, or all of them
// if no numbers follow), populating Context.SvcMask so
// shouldAutoContinue knows which ExceptionSyscall events to surface.
func handleCatchSyscalls(c *Context, rest []byte) result {
	rest = bytes.TrimPrefix(rest, []byte(":"))
	parts := bytes.Split(rest, []byte(";"))
	if len(parts) == 0 {
		return errnoReply(errnoInvalidArgument)
	}
	switch string(parts[0]) {
	case "0":
		c.SvcMask = [32]byte{}
		return ok()
	case "1":
		if len(parts) == 1 {
			for i := range c.SvcMask {
				c.SvcMask[i] = 0xff
			}
			return ok()
		}
		c.SvcMask = [32]byte{}
		for _, p := range parts[1:] {
			n, err := strconv.ParseUint(string(p), 16, 32)
			if err != nil {
				return errnoReply(errnoInvalidArgument)
			}
			c.setSvcMaskBit(uint32(n), true)
		}
		return ok()
	default:
		return errnoReply(errnoInvalidArgument)
	}
}

// firstThreadInfoReply renders qfThreadInfo's paginated thread list as a
// single page (the thread table is small and bounded, MaxThreads).
func firstThreadInfoReply(c *Context) []byte {
	if len(c.Threads) == 0 {
		return []byte("l")
	}
	ids := make([]string, len(c.Threads))
	for i, t := range c.Threads {
		ids[i] = strconv.FormatUint(uint64(t.Tid), 16)
	}
	return []byte("m" + strings.Join(ids, ","))
}

// handleQXfer parses "Xfer:<kind>:read:<annex>:<offset>,<length>" (rest
// begins with the leading ':' that queryToken left unconsumed) and
// services it via Context.ReadXfer.
func handleQXfer(s *Server, c *Context, k kernel.Debugger, rest []byte) result {
	rest = bytes.TrimPrefix(rest, []byte(":"))
	parts := bytes.SplitN(rest, []byte(":"), 4)
	if len(parts) != 4 || string(parts[1]) != "read" {
		return unsupported()
	}
	kind := string(parts[0])
	annex := string(parts[2])
	offLen := bytes.SplitN(parts[3], []byte(","), 2)
	if len(offLen) != 2 {
		return unsupported()
	}
	offset, err := strconv.ParseInt(string(offLen[0]), 16, 64)
	if err != nil {
		return unsupported()
	}
	length, err := strconv.ParseInt(string(offLen[1]), 16, 64)
	if err != nil {
		return unsupported()
	}
	payload, err := c.ReadXfer(k, kind, annex, int(offset), int(length))
	if err != nil {
		return replyForErr(err)
	}
	return raw(payload)
}

// handleQRcmd implements the monitor command console: qRcmd,<hex>
// decodes to an ASCII command, replies with O<hex> lines and a final
// OK/E<nn>.
func handleQRcmd(s *Server, c *Context, k kernel.Debugger, rest []byte) result {
	rest = bytes.TrimPrefix(rest, []byte(","))
	cmdBytes, err := hexDecode(rest)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	return runMonitorCommand(s, c, string(cmdBytes))
}

func runMonitorCommand(s *Server, c *Context, cmd string) result {
	switch strings.TrimSpace(cmd) {
	case "help":
		return outputThenOK(c, "available commands: help, status, exit\n")
	case "status":
		msg := fmt.Sprintf("state=%s flags=%#x pid=%d threads=%d\n", c.State, c.Flags, c.Pid, len(c.Threads))
		return outputThenOK(c, msg)
	case "exit":
		c.Flags |= FlagTerminateProcess
		return sessionClosed()
	default:
		return errnoReply(errnoGeneric)
	}
}

// outputThenOK sends msg as an O-packet on the context's connection
// right away (via sendAsync, which takes sendMu rather than Lock) and
// returns OK as the command's terminal reply.
func outputThenOK(c *Context, msg string) result {
	if err := c.sendAsync(outputReply([]byte(msg))); err != nil {
		return errnoReply(errnoGeneric)
	}
	return ok()
}
