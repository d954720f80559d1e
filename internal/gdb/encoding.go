package gdb

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/Sahlo97/Luma3DS/internal/rsp"
)

func hexEncode(data []byte) string { return hex.EncodeToString(data) }

func hexDecode(data []byte) ([]byte, error) { return hex.DecodeString(string(data)) }

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// unescapeBinary reverses the X/vFlashWrite binary escape convention
// on a raw wire payload.
func unescapeBinary(data []byte) ([]byte, error) { return rsp.Unescape(data) }
