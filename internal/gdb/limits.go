package gdb

// Fixed bounds for this server. The target core is architecture-specific
// and so are these: they are not meant to be runtime-configurable beyond
// what internal/config validates at startup.
const (
	// MaxDebug is the fixed context pool size: three on-demand ports plus
	// one reserved for "debug next application".
	MaxDebug = 4

	MaxThreads     = 32
	MaxBreakpoints = 32
	MaxWatchpoints = 4

	// DefaultPortBase is GDB_PORT_BASE; ports PortBase..PortBase+3 are bound.
	DefaultPortBase = 4000

	// DefaultPacketSize is the PacketSize advertised in qSupported unless
	// Server.SetPacketSize overrides it; it stays below the 16 KiB inbound
	// bound in internal/rsp.
	DefaultPacketSize = 4000
)
