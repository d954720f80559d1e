package gdb

import (
	"context"
	"testing"

	"github.com/onsi/gomega"

	"github.com/Sahlo97/Luma3DS/internal/kernel/sim"
)

func TestReadXferChunksAcrossCalls(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	first, err := c.ReadXfer(backend, "features", "", 0, 32)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(first[0]).To(gomega.BeEquivalentTo('m'))

	rest, err := c.ReadXfer(backend, "features", "", 32, len(targetXML))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(rest[0]).To(gomega.BeEquivalentTo('l'))

	g.Expect(string(first[1:]) + string(rest[1:])).To(gomega.Equal(targetXML))
}

func TestReadXferCacheHitOnSequentialRead(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	first, err := c.ReadXfer(backend, "features", "", 0, 32)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	cur := c.XferCursors["features:"]
	g.Expect(cur.NextOffset).To(gomega.Equal(len(first) - 1))
	cachedBlob := cur.Blob

	_, err = c.ReadXfer(backend, "features", "", cur.NextOffset, len(targetXML))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	// A sequential read at the expected offset is a cache hit: the
	// cursor keeps the same rendered blob rather than calling xferBlob
	// again.
	g.Expect(&c.XferCursors["features:"].Blob[0]).To(gomega.BeIdenticalTo(&cachedBlob[0]))
}

func TestReadXferSeekBackForcesReRender(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	_, err = c.ReadXfer(backend, "features", "", 0, 32)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	cachedBlob := c.XferCursors["features:"].Blob

	// Re-reading offset 0 again does not match the cursor's expected
	// next offset, so it must re-render rather than reuse the cache.
	_, err = c.ReadXfer(backend, "features", "", 0, 32)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(&c.XferCursors["features:"].Blob[0]).NotTo(gomega.BeIdenticalTo(&cachedBlob[0]))
}

func TestReadXferPastEndReturnsLastMarkerOnly(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	reply, err := c.ReadXfer(backend, "features", "", len(targetXML)+10, 16)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(string(reply)).To(gomega.Equal("l"))
}

func TestReadXferUnsupportedKind(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	_, err = c.ReadXfer(backend, "bogus", "", 0, 16)
	g.Expect(err).To(gomega.Equal(errUnsupported))
}

func TestReadXferMemoryMapReflectsSimRegions(t *testing.T) {
	g := gomega.NewWithT(t)
	backend := sim.NewBackend()
	h, err := backend.DebugActiveProcess(context.Background(), 1)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	c := NewContext(0, testLogger())
	c.Debug = h

	reply, err := c.ReadXfer(backend, "memory-map", "", 0, 4096)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(string(reply)).To(gomega.ContainSubstring("type=\"ram\""))
	g.Expect(string(reply)).To(gomega.ContainSubstring("start=\"0x20000000\""))
}
