package gdb

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// verboseToken extracts the token up to the first ';' or ':': v
// delegates to a verbose sub-dispatcher keyed by that token.
func verboseToken(payload []byte) (key string, rest []byte) {
	idx := bytes.IndexAny(payload, ";:")
	if idx < 0 {
		return string(payload), nil
	}
	return string(payload[:idx]), payload[idx:]
}

func handleVerbose(s *Server, c *Context, k kernel.Debugger, cmd []byte) result {
	key, rest := verboseToken(cmd)
	switch key {
	case "Cont":
		return handleVCont(s, c, k, rest)
	case "Attach":
		return handleVAttach(s, c, k, rest)
	case "Run":
		return unsupported() // program-launch-via-gdb is not supported
	case "Kill":
		return handleVKill(s, c, k, rest)
	default:
		return unsupported()
	}
}

// handleVCont services both "vCont?" (capability query) and
// "vCont;<action>[:<tid>][;...]" (apply per-thread actions).
func handleVCont(s *Server, c *Context, k kernel.Debugger, rest []byte) result {
	if len(rest) == 0 || rest[0] == '?' {
		return rawStr("vCont;c;C;s;S;t")
	}
	rest = bytes.TrimPrefix(rest, []byte(";"))
	actions := bytes.Split(rest, []byte(";"))

	// This server supports a single attached process per context, so
	// per-thread vCont actions collapse onto the one continuing-thread
	// selection; the first action with no tid, or matching the current
	// thread, wins.
	applied := false
	for _, a := range actions {
		parts := bytes.SplitN(a, []byte(":"), 2)
		action := parts[0]
		var tid kernel.Tid
		if len(parts) == 2 {
			if t, err := parseTid(parts[1]); err == nil {
				tid = t
			}
		}
		if tid != 0 && tid != TidAll && tid != c.CurrentTid {
			continue
		}
		switch action[0] {
		case 'c', 'C':
			c.Selection.Continuing = resolveContinueTarget(c)
			c.Flags |= FlagProcessContinuing
			applied = true
		case 's', 'S':
			c.ContinueFlags |= kernel.ContinueSingleStep
			c.Selection.Continuing = resolveContinueTarget(c)
			c.Flags |= FlagProcessContinuing
			applied = true
		case 't':
			c.Flags &^= FlagProcessContinuing
			applied = true
		}
		if applied {
			break
		}
	}
	if !applied {
		return errnoReply(errnoInvalidArgument)
	}
	return noImmediateReply()
}

func handleVAttach(s *Server, c *Context, k kernel.Debugger, rest []byte) result {
	rest = bytes.TrimPrefix(rest, []byte(";"))
	pid, err := strconv.ParseUint(string(rest), 16, 32)
	if err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	c.Pid = kernel.Pid(pid)
	h, err := k.DebugActiveProcess(context.Background(), c.Pid)
	if err != nil {
		return errnoReply(errnoGeneric)
	}
	c.Debug = h
	return raw(c.LastStopReply())
}

func handleVKill(s *Server, c *Context, k kernel.Debugger, rest []byte) result {
	rest = bytes.TrimPrefix(rest, []byte(";"))
	if _, err := strconv.ParseUint(strings.TrimSpace(string(rest)), 16, 32); err != nil {
		return errnoReply(errnoInvalidArgument)
	}
	c.Flags |= FlagTerminateProcess
	return sessionClosed()
}
