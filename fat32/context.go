package fat32

import (
	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/errs"
)

// commandContext is a single-sector staging buffer plus the absolute sector
// number currently cached in it, the engine's "command context" (spec §4.1,
// grounded on original_source's CommandContext / readSector / writeSector).
// Contexts are pooled on the Handle; every table, directory, and FSInfo
// access goes through one.
type commandContext struct {
	buffer         [SectorSize]byte
	bufferedSector uint32
	bufferValid    bool
}

func newCommandContext() *commandContext {
	return &commandContext{bufferedSector: ^uint32(0)}
}

// read loads sector into the context's buffer, skipping the transport round
// trip if the requested sector is already cached.
func (c *commandContext) read(t blockio.Transport, sector uint32) error {
	if c.bufferValid && c.bufferedSector == sector {
		return nil
	}
	t.Acquire()
	defer t.Release()

	if err := t.SetPosition(int64(sector) * SectorSize); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if _, err := t.Read(c.buffer[:]); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if err := t.Status(); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	c.bufferedSector = sector
	c.bufferValid = true
	return nil
}

// write flushes the context's buffer to sector, keeping the cache valid for
// that sector afterward (spec §4.1: write-through, not write-back).
func (c *commandContext) write(t blockio.Transport, sector uint32) error {
	t.Acquire()
	defer t.Release()

	if err := t.SetPosition(int64(sector) * SectorSize); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if _, err := t.Write(c.buffer[:]); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if err := t.Status(); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	c.bufferedSector = sector
	c.bufferValid = true
	return nil
}

// invalidate forces the next read to go to the transport regardless of
// which sector is cached. Used after a raw bulk transfer bypasses the
// context's own buffer.
func (c *commandContext) invalidate() {
	c.bufferValid = false
}

// rawRead performs an aligned, multi-sector bulk transfer straight from the
// transport into dst, bypassing the context's single-sector cache. dst's
// length must be a multiple of SectorSize. Grounded on the teacher's
// BlockStream.Read / readClusterChain's bulk path in original_source.
func rawRead(t blockio.Transport, firstSector uint32, dst []byte) error {
	if len(dst)%SectorSize != 0 {
		return errs.Newf(errs.BadValue, "rawRead length %d is not a sector multiple", len(dst))
	}
	t.Acquire()
	defer t.Release()

	if err := t.SetPosition(int64(firstSector) * SectorSize); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if _, err := t.Read(dst); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	return errs.WrapIfError(t.Status())
}

// rawWrite is the write-side counterpart of rawRead.
func rawWrite(t blockio.Transport, firstSector uint32, src []byte) error {
	if len(src)%SectorSize != 0 {
		return errs.Newf(errs.BadValue, "rawWrite length %d is not a sector multiple", len(src))
	}
	t.Acquire()
	defer t.Release()

	if err := t.SetPosition(int64(firstSector) * SectorSize); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	if _, err := t.Write(src); err != nil {
		return errs.Wrap(errs.TransportError, err)
	}
	return errs.WrapIfError(t.Status())
}
