package gdb

import "errors"

// errSessionClosed is logged by packetLoop when a handler's result ends
// the session (result.closed, from sessionClosed()); packetLoop then
// returns without sending a reply and the context is torn down.
var errSessionClosed = errors.New("gdb: session closed")

// Errno-style reply codes.
const (
	errnoGeneric        = "E01"
	errnoBadAddress     = "E02"
	errnoInvalidArgument = "E22"
)
