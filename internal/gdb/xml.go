package gdb

import (
	"fmt"
	"strings"

	"github.com/Sahlo97/Luma3DS/internal/kernel"
)

// targetXML is the ARM register-layout target description served via
// qXfer:features:read:target.xml: the 16 core registers + CPSR fixed
// layout this server's register encoding assumes.
const targetXML = `<?xml version="1.0"?>
<!DOCTYPE target SYSTEM "gdb-target.dtd">
<target version="1.0">
<feature name="org.gnu.gdb.arm.core">
<reg name="r0" bitsize="32" regnum="0" type="int" group="general"/>
<reg name="r1" bitsize="32" regnum="1" type="int" group="general"/>
<reg name="r2" bitsize="32" regnum="2" type="int" group="general"/>
<reg name="r3" bitsize="32" regnum="3" type="int" group="general"/>
<reg name="r4" bitsize="32" regnum="4" type="int" group="general"/>
<reg name="r5" bitsize="32" regnum="5" type="int" group="general"/>
<reg name="r6" bitsize="32" regnum="6" type="int" group="general"/>
<reg name="r7" bitsize="32" regnum="7" type="int" group="general"/>
<reg name="r8" bitsize="32" regnum="8" type="int" group="general"/>
<reg name="r9" bitsize="32" regnum="9" type="int" group="general"/>
<reg name="r10" bitsize="32" regnum="10" type="int" group="general"/>
<reg name="r11" bitsize="32" regnum="11" type="int" group="general"/>
<reg name="r12" bitsize="32" regnum="12" type="int" group="general"/>
<reg name="sp" bitsize="32" regnum="13" type="data_ptr" group="general"/>
<reg name="lr" bitsize="32" regnum="14" type="int" group="general"/>
<reg name="pc" bitsize="32" regnum="15" type="code_ptr" group="general"/>
<reg name="cpsr" bitsize="32" regnum="16" type="int" group="general"/>
</feature>
</target>
`

// memoryMapXML renders qXfer:memory-map:read from the kernel's reported
// regions.
func memoryMapXML(regions []kernel.MemoryRegion) string {
	var b strings.Builder
	b.WriteString("<memory-map>\n")
	for _, r := range regions {
		b.WriteString(fmt.Sprintf("<memory type=\"%s\" start=\"0x%x\" length=\"0x%x\"/>\n", r.Kind, r.Start, r.Length))
	}
	b.WriteString("</memory-map>\n")
	return b.String()
}

// threadsXML renders qXfer:threads:read.
func threadsXML(threads []kernel.ThreadInfo) string {
	var b strings.Builder
	b.WriteString("<threads>\n")
	for _, t := range threads {
		b.WriteString(fmt.Sprintf("<thread id=\"%x\" core=\"0\"/>\n", t.Tid))
	}
	b.WriteString("</threads>\n")
	return b.String()
}

// osDataProcessesXML renders qXfer:osdata:read's "processes" annex: a
// single row for the attached process, without over-specifying the OS
// table format beyond what a client actually parses.
func osDataProcessesXML(pid kernel.Pid) string {
	return fmt.Sprintf("<osdata type=\"processes\">\n<item><column name=\"pid\">%d</column></item>\n</osdata>\n", pid)
}

// xferBlob resolves the named qXfer object kind to its current XML text.
// kind is one of "features", "memory-map", "threads", "osdata".
func (c *Context) xferBlob(k kernel.Debugger, kind, annex string) (string, error) {
	switch kind {
	case "features":
		return targetXML, nil
	case "memory-map":
		regions, err := k.QueryMemoryMap(c.Debug)
		if err != nil {
			return "", err
		}
		return memoryMapXML(regions), nil
	case "threads":
		threads, err := k.ListThreads(c.Debug)
		if err != nil {
			return "", err
		}
		return threadsXML(threads), nil
	case "osdata":
		return osDataProcessesXML(c.Pid), nil
	default:
		return "", errUnsupported
	}
}

var errUnsupported = kernelError{code: "", msg: "unsupported qXfer object"}

// ReadXfer services qXfer:<kind>:read:<annex>:<offset>,<length>:
// chunked reads of a named blob, replying "m<data>" for a middle chunk
// or "l<data>" for the last one. One cursor is kept per (kind,annex)
// pair: as long as offset matches where the previous read left off, the
// cached blob is resliced directly instead of calling xferBlob again;
// any other offset (a fresh sequence, or a client seeking back) forces
// a re-render.
func (c *Context) ReadXfer(k kernel.Debugger, kind, annex string, offset, length int) (reply []byte, err error) {
	key := kind + ":" + annex
	cur, hit := c.XferCursors[key]
	if !hit || offset != cur.NextOffset {
		blob, err := c.xferBlob(k, kind, annex)
		if err != nil {
			return nil, err
		}
		cur = &XferCursor{Kind: key, Blob: []byte(blob)}
		c.XferCursors[key] = cur
	}
	reply = sliceXfer(cur.Blob, offset, length)
	cur.NextOffset = offset + (len(reply) - 1) // -1 excludes the leading m/l marker
	return reply, nil
}

func sliceXfer(blob []byte, offset, length int) []byte {
	if offset >= len(blob) {
		return []byte("l")
	}
	end := offset + length
	last := false
	if end >= len(blob) {
		end = len(blob)
		last = true
	}
	prefix := byte('m')
	if last {
		prefix = 'l'
	}
	out := make([]byte, 0, end-offset+1)
	out = append(out, prefix)
	out = append(out, blob[offset:end]...)
	return out
}
