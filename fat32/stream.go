package fat32

import (
	"encoding/binary"
	"time"

	"github.com/dargueta/fat32engine/errs"
)

// LengthOfStream reports the byte length of one of a node's attribute
// streams (spec §4.5). DATA is only valid on file nodes; CAPACITY on a
// directory walks its payload chain.
func (h *Handle) LengthOfStream(n *Node, kind StreamKind) (uint64, error) {
	switch kind {
	case StreamName:
		return uint64(len(n.name)) + 1, nil
	case StreamData:
		if n.IsDirectory() {
			return 0, errs.ErrInvalid
		}
		return uint64(n.payloadSize), nil
	case StreamAccess:
		return 1, nil
	case StreamTime:
		return 8, nil
	case StreamID:
		return 8, nil
	case StreamCapacity:
		return h.capacity(n)
	default:
		return 0, errs.ErrBadValue
	}
}

func (h *Handle) capacity(n *Node) (uint64, error) {
	if !n.IsDirectory() {
		bytesPerCluster := uint64(h.geo.bytesPerCluster())
		if bytesPerCluster == 0 {
			return 0, nil
		}
		clusters := (uint64(n.payloadSize) + bytesPerCluster - 1) / bytesPerCluster
		return clusters * bytesPerCluster, nil
	}

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return 0, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	count, err := h.chainLength(ctx, n.payloadCluster)
	if err != nil {
		return 0, err
	}
	return uint64(count) * uint64(h.geo.bytesPerCluster()), nil
}

// ReadStream reads one attribute stream at the given byte offset into dst,
// returning the number of bytes written. Fixed-size streams (everything but
// NAME and DATA) require offset 0 and len(dst) exactly matching the
// reported length (spec §4.5's invariant).
func (h *Handle) ReadStream(n *Node, kind StreamKind, offset uint64, dst []byte) (int, error) {
	switch kind {
	case StreamName:
		if offset != 0 {
			return 0, errs.ErrBadValue
		}
		want := len(n.name) + 1
		if len(dst) != want {
			return 0, errs.ErrBadValue
		}
		copy(dst, n.name)
		dst[len(n.name)] = 0
		return want, nil

	case StreamData:
		if n.IsDirectory() {
			return 0, errs.ErrInvalid
		}
		return h.readData(n, offset, dst)

	case StreamAccess:
		if offset != 0 || len(dst) != 1 {
			return 0, errs.ErrBadValue
		}
		dst[0] = n.access
		return 1, nil

	case StreamTime:
		if offset != 0 || len(dst) != 8 {
			return 0, errs.ErrBadValue
		}
		t := unpackDateTime(n.writeDate, n.writeTime)
		binary.LittleEndian.PutUint64(dst, uint64(t.UnixMicro()))
		return 8, nil

	case StreamID:
		if offset != 0 || len(dst) != 8 {
			return 0, errs.ErrBadValue
		}
		binary.LittleEndian.PutUint64(dst, n.ID())
		return 8, nil

	case StreamCapacity:
		if offset != 0 || len(dst) != 8 {
			return 0, errs.ErrBadValue
		}
		cap, err := h.capacity(n)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint64(dst, cap)
		return 8, nil

	default:
		return 0, errs.ErrBadValue
	}
}

// WriteStream writes one attribute stream. Only DATA, ACCESS, and TIME
// accept writes; NAME is read-only (rename is out of core scope) and ID /
// CAPACITY are derived.
func (h *Handle) WriteStream(n *Node, kind StreamKind, offset uint64, src []byte) (int, error) {
	switch kind {
	case StreamData:
		if n.IsDirectory() {
			return 0, errs.ErrInvalid
		}
		if n.access&AccessWrite == 0 {
			return 0, errs.ErrAccessDenied
		}
		return h.writeData(n, offset, src)

	case StreamAccess:
		if offset != 0 || len(src) != 1 {
			return 0, errs.ErrBadValue
		}
		value := src[0]
		if value == AccessWrite {
			// WRITE-only access is rejected (spec §4.5).
			return 0, errs.ErrBadValue
		}
		n.access = value
		n.dirty = true
		h.enlist(n)
		return 1, nil

	case StreamTime:
		if offset != 0 || len(src) != 8 {
			return 0, errs.ErrBadValue
		}
		micros := int64(binary.LittleEndian.Uint64(src))
		t := time.UnixMicro(micros).UTC()
		n.writeDate, n.writeTime = packDate(t), packTime(t)
		n.dirty = true
		h.enlist(n)
		return 8, nil

	case StreamName:
		return 0, errs.ErrAccessDenied

	default:
		return 0, errs.ErrBadValue
	}
}

// seek repositions a node's (currentCluster, payloadPosition) pair to
// offset, walking the chain from whichever anchor — the start of the
// payload or the node's current position — is closer (spec §4.4).
func (h *Handle) seek(ctx *commandContext, n *Node, offset uint32) error {
	if offset == n.payloadPosition {
		return nil
	}

	bytesPerCluster := h.geo.bytesPerCluster()
	currentClusterStart := n.payloadPosition - (n.payloadPosition % bytesPerCluster)

	var cluster, base uint32
	if n.currentCluster != 0 && offset >= currentClusterStart {
		cluster, base = n.currentCluster, currentClusterStart
	} else {
		cluster, base = n.payloadCluster, 0
	}

	if cluster == 0 {
		if offset != 0 {
			return errs.ErrBadValue
		}
		n.payloadPosition = 0
		return nil
	}

	clustersToSkip := (offset - base) / bytesPerCluster
	for i := uint32(0); i < clustersToSkip; i++ {
		next, err := h.getNextCluster(ctx, cluster)
		if err != nil {
			return errs.ErrTransportError
		}
		cluster = next
	}

	n.currentCluster = cluster
	n.payloadPosition = offset
	return nil
}

// readData implements spec §4.4's Read(offset, length) over the DATA
// stream.
func (h *Handle) readData(n *Node, offset uint64, dst []byte) (int, error) {
	if offset > uint64(n.payloadSize) {
		return 0, errs.ErrBadValue
	}
	length := len(dst)
	if uint64(length) > uint64(n.payloadSize)-offset {
		length = int(uint64(n.payloadSize) - offset)
	}
	if length == 0 {
		return 0, nil
	}

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return 0, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	if err := h.seek(ctx, n, uint32(offset)); err != nil {
		return 0, err
	}

	sectorsPerCluster := h.geo.sectorsPerCluster()
	bytesPerCluster := h.geo.bytesPerCluster()
	var done int
	remaining := length
	first := true

	for remaining > 0 {
		if !first && n.payloadPosition%bytesPerCluster == 0 {
			next, err := h.getNextCluster(ctx, n.currentCluster)
			if err != nil {
				return done, errs.ErrTransportError
			}
			n.currentCluster = next
		}
		first = false

		sectorInCluster := (n.payloadPosition / SectorSize) % sectorsPerCluster
		sector := h.geo.dataSectorForCluster(n.currentCluster) + sectorInCluster
		offsetInSector := int(n.payloadPosition % SectorSize)

		if offsetInSector != 0 || remaining < SectorSize {
			if err := ctx.read(h.transport, sector); err != nil {
				return done, err
			}
			n2 := SectorSize - offsetInSector
			if n2 > remaining {
				n2 = remaining
			}
			copy(dst[done:done+n2], ctx.buffer[offsetInSector:offsetInSector+n2])
			done += n2
			remaining -= n2
			n.payloadPosition += uint32(n2)
			continue
		}

		sectorsLeftInCluster := sectorsPerCluster - sectorInCluster
		runSectors := remaining / SectorSize
		if runSectors > int(sectorsLeftInCluster) {
			runSectors = int(sectorsLeftInCluster)
		}
		if runSectors == 0 {
			runSectors = 1
		}
		runBytes := runSectors * SectorSize
		if err := rawRead(h.transport, sector, dst[done:done+runBytes]); err != nil {
			return done, err
		}
		ctx.invalidate()
		done += runBytes
		remaining -= runBytes
		n.payloadPosition += uint32(runBytes)
	}

	n.accessDate = packDate(time.Now().UTC())
	return done, nil
}

// writeData implements spec §4.4's Write(offset, length) over the DATA
// stream, allocating clusters as needed.
func (h *Handle) writeData(n *Node, offset uint64, src []byte) (int, error) {
	if offset+uint64(len(src)) > 0xFFFFFFFF {
		return 0, errs.ErrBadValue
	}
	if len(src) == 0 {
		return 0, nil
	}

	h.consistencyMu.Lock()
	defer h.consistencyMu.Unlock()

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return 0, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	if n.payloadCluster == 0 {
		cluster, err := h.allocateCluster(ctx, 0)
		if err != nil {
			return 0, errs.ErrVolumeFull
		}
		if err := h.clearCluster(ctx, cluster); err != nil {
			return 0, err
		}
		n.payloadCluster = cluster
		n.currentCluster = cluster
	}

	if err := h.seek(ctx, n, uint32(offset)); err != nil {
		return 0, err
	}

	sectorsPerCluster := h.geo.sectorsPerCluster()
	bytesPerCluster := h.geo.bytesPerCluster()
	var done int
	remaining := len(src)
	first := true

	for remaining > 0 {
		if !first && n.payloadPosition%bytesPerCluster == 0 {
			next, err := h.getNextCluster(ctx, n.currentCluster)
			if err == errEndOfChain {
				next, err = h.allocateCluster(ctx, n.currentCluster)
				if err != nil {
					return done, errs.ErrVolumeFull
				}
				if err := h.clearCluster(ctx, next); err != nil {
					return done, err
				}
			} else if err != nil {
				return done, errs.ErrTransportError
			}
			n.currentCluster = next
		}
		first = false

		sectorInCluster := (n.payloadPosition / SectorSize) % sectorsPerCluster
		sector := h.geo.dataSectorForCluster(n.currentCluster) + sectorInCluster
		offsetInSector := int(n.payloadPosition % SectorSize)

		if offsetInSector != 0 || remaining < SectorSize {
			if err := ctx.read(h.transport, sector); err != nil {
				return done, err
			}
			n2 := SectorSize - offsetInSector
			if n2 > remaining {
				n2 = remaining
			}
			copy(ctx.buffer[offsetInSector:offsetInSector+n2], src[done:done+n2])
			if err := ctx.write(h.transport, sector); err != nil {
				return done, err
			}
			done += n2
			remaining -= n2
			n.payloadPosition += uint32(n2)
			continue
		}

		sectorsLeftInCluster := sectorsPerCluster - sectorInCluster
		runSectors := remaining / SectorSize
		if runSectors > int(sectorsLeftInCluster) {
			runSectors = int(sectorsLeftInCluster)
		}
		if runSectors == 0 {
			runSectors = 1
		}
		runBytes := runSectors * SectorSize
		if err := rawWrite(h.transport, sector, src[done:done+runBytes]); err != nil {
			return done, err
		}
		ctx.invalidate()
		done += runBytes
		remaining -= runBytes
		n.payloadPosition += uint32(runBytes)
	}

	if n.payloadPosition > n.payloadSize {
		n.payloadSize = n.payloadPosition
	}
	now := time.Now().UTC()
	n.writeDate, n.writeTime = packDate(now), packTime(now)
	n.dirty = true
	h.enlist(n)
	return done, nil
}

// Truncate frees a file node's entire payload chain and zeroes its size,
// marking it DIRTY so the directory entry is refreshed on the next sync
// (spec §4.4).
func (h *Handle) Truncate(n *Node) error {
	if n.IsDirectory() {
		return errs.ErrInvalid
	}
	if n.access&AccessWrite == 0 {
		return errs.ErrAccessDenied
	}

	h.consistencyMu.Lock()
	defer h.consistencyMu.Unlock()

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	if err := h.freeChain(ctx, n.payloadCluster); err != nil {
		return err
	}
	n.payloadCluster = 0
	n.currentCluster = 0
	n.payloadPosition = 0
	n.payloadSize = 0
	n.dirty = true
	h.enlist(n)
	return nil
}
