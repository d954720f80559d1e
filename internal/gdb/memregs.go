package gdb

import (
	"encoding/binary"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// regFileWords is the fixed register file layout: 16 core registers +
// CPSR, each a 32-bit little-endian word, matching the target.xml order
// in xml.go's targetXML.
const regFileWords = 17

// ReadMemory services 'm': reads length bytes at addr from the attached
// process, refusing unmapped ranges (E02 via errUnmappedRegion).
func (c *Context) ReadMemory(k kernel.Debugger, addr uint64, length int) ([]byte, error) {
	regions, err := k.QueryMemoryMap(c.Debug)
	if err != nil {
		return nil, err
	}
	if !inMappedRegion(regions, addr, length) {
		return nil, errUnmappedRegion
	}
	return k.ReadProcessMemory(c.Debug, addr, length)
}

// WriteMemory services 'M'/'X': writes data at addr, refusing read-only
// regions unless EnableExternalMemoryAccess is set.
func (c *Context) WriteMemory(k kernel.Debugger, addr uint64, data []byte) error {
	regions, err := k.QueryMemoryMap(c.Debug)
	if err != nil {
		return err
	}
	if !inMappedRegion(regions, addr, len(data)) {
		return errUnmappedRegion
	}
	if !c.EnableExternalMemoryAccess && regionReadOnly(regions, addr, len(data)) {
		return errReadOnlyRegion
	}
	return k.WriteProcessMemory(c.Debug, addr, data)
}

func inMappedRegion(regions []kernel.MemoryRegion, addr uint64, length int) bool {
	end := addr + uint64(length)
	for _, r := range regions {
		if addr >= r.Start && end <= r.Start+r.Length {
			return true
		}
	}
	return false
}

func regionReadOnly(regions []kernel.MemoryRegion, addr uint64, length int) bool {
	end := addr + uint64(length)
	for _, r := range regions {
		if addr >= r.Start && end <= r.Start+r.Length {
			return r.ReadOnly
		}
	}
	return false
}

// ReadRegisters services 'g': the full register file for the selected
// thread. Encoding is 17 little-endian 32-bit words (16 core + CPSR);
// FPU words, if the target reports any, follow.
func (c *Context) ReadRegisters(k kernel.Debugger) ([]byte, error) {
	tid := c.resolveGeneralThread()
	regs, err := k.GetThreadContext(c.Debug, tid)
	if err != nil {
		return nil, err
	}
	return encodeRegisters(regs), nil
}

func encodeRegisters(regs kernel.Registers) []byte {
	buf := make([]byte, 0, regFileWords*4+len(regs.FPU)*4)
	var word [4]byte
	for _, r := range regs.Core {
		binary.LittleEndian.PutUint32(word[:], r)
		buf = append(buf, word[:]...)
	}
	binary.LittleEndian.PutUint32(word[:], regs.CPSR)
	buf = append(buf, word[:]...)
	for _, r := range regs.FPU {
		binary.LittleEndian.PutUint32(word[:], r)
		buf = append(buf, word[:]...)
	}
	return buf
}

// WriteRegisters services 'G': writes the full register file for the
// selected thread from hex-decoded wire bytes.
func (c *Context) WriteRegisters(k kernel.Debugger, data []byte) error {
	tid := c.resolveGeneralThread()
	regs, err := decodeRegisters(data)
	if err != nil {
		return err
	}
	return k.SetThreadContext(c.Debug, tid, regs)
}

func decodeRegisters(data []byte) (kernel.Registers, error) {
	if len(data) < regFileWords*4 {
		return kernel.Registers{}, errInvalidArgument
	}
	var regs kernel.Registers
	for i := range regs.Core {
		regs.Core[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	regs.CPSR = binary.LittleEndian.Uint32(data[16*4:])
	rest := data[regFileWords*4:]
	for i := 0; i+4 <= len(rest); i += 4 {
		regs.FPU = append(regs.FPU, binary.LittleEndian.Uint32(rest[i:]))
	}
	return regs, nil
}

// ReadRegister/WriteRegister service 'p'/'P': a single register by index.
func (c *Context) ReadRegister(k kernel.Debugger, index int) ([]byte, error) {
	tid := c.resolveGeneralThread()
	regs, err := k.GetThreadContext(c.Debug, tid)
	if err != nil {
		return nil, err
	}
	v, err := registerByIndex(regs, index)
	if err != nil {
		return nil, err
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], v)
	return word[:], nil
}

func (c *Context) WriteRegister(k kernel.Debugger, index int, value uint32) error {
	tid := c.resolveGeneralThread()
	regs, err := k.GetThreadContext(c.Debug, tid)
	if err != nil {
		return err
	}
	if err := setRegisterByIndex(&regs, index, value); err != nil {
		return err
	}
	return k.SetThreadContext(c.Debug, tid, regs)
}

func registerByIndex(regs kernel.Registers, index int) (uint32, error) {
	switch {
	case index >= 0 && index < 16:
		return regs.Core[index], nil
	case index == 16:
		return regs.CPSR, nil
	case index > 16 && index-17 < len(regs.FPU):
		return regs.FPU[index-17], nil
	default:
		return 0, errInvalidArgument
	}
}

func setRegisterByIndex(regs *kernel.Registers, index int, value uint32) error {
	switch {
	case index >= 0 && index < 16:
		regs.Core[index] = value
	case index == 16:
		regs.CPSR = value
	case index > 16 && index-17 < len(regs.FPU):
		regs.FPU[index-17] = value
	default:
		return errInvalidArgument
	}
	return nil
}

var (
	errUnmappedRegion  = kernelError{code: errnoBadAddress, msg: "address not in a mapped region"}
	errReadOnlyRegion  = kernelError{code: errnoGeneric, msg: "region is read-only"}
	errInvalidArgument = kernelError{code: errnoInvalidArgument, msg: "invalid argument"}
)
