package fat32

import (
	"strings"

	"github.com/dargueta/fat32engine/errs"
	"github.com/dargueta/fat32engine/internal/utf16fat"
)

// errEndOfDirectory is the internal-only signal that a directory's cluster
// chain was exhausted while scanning for the next entry (spec §7: never
// surfaced to a Node/Handle caller, who instead sees a clean end of
// iteration or ENTRY_MISSING).
var errEndOfDirectory = errs.Newf(errs.Invalid, "internal: end of directory")

// dirLocation addresses a single 32-byte directory entry slot by the
// cluster chain it lives in and its zero-based index within that chain.
type dirLocation struct {
	cluster uint32
	index   uint32
}

// entryInfo is the fully decoded result of walking a directory: a name
// (long, if an LFN chain was present, else the short name), the short-name
// entry's fields, and the locations of every raw directory entry it
// occupies on disk (LFN chunks first in storage order, short entry last).
type entryInfo struct {
	name       string
	shortName  [11]byte
	attr       uint8
	cluster    uint32
	size       uint32
	accessDate uint16
	writeDate  uint16
	writeTime  uint16
	createDate uint16
	createTime uint16

	shortLoc dirLocation // location of the 8.3 entry itself
	firstLoc dirLocation // location of the first entry (LFN chunk, or == shortLoc)
	span     uint32      // number of 32-byte entries this name occupies
}

func (e *entryInfo) isDirectory() bool { return e.attr&AttrDirectory != 0 }

// sectorForEntry resolves (dirCluster, index) to the absolute sector
// holding it and that entry's slot offset within the sector, walking the
// cluster chain as needed. Shared by entryAt, writeEntryAt, and markFree's
// batched flush.
func (h *Handle) sectorForEntry(ctx *commandContext, dirCluster uint32, index uint32) (sector uint32, entryInSector uint32, err error) {
	entriesPerCluster := h.geo.direntsPerCluster()
	clusterSteps := index / entriesPerCluster
	offsetInCluster := index % entriesPerCluster

	cluster := dirCluster
	for i := uint32(0); i < clusterSteps; i++ {
		next, nerr := h.getNextCluster(ctx, cluster)
		if nerr == errEndOfChain {
			return 0, 0, errEndOfDirectory
		}
		if nerr != nil {
			return 0, 0, nerr
		}
		cluster = next
	}

	entriesPerSector := uint32(SectorSize / DirentSize)
	sector = h.geo.dataSectorForCluster(cluster) + offsetInCluster/entriesPerSector
	entryInSector = offsetInCluster % entriesPerSector
	return sector, entryInSector, nil
}

// entryAt decodes the raw directory entry at the given location within a
// cluster chain rooted at dirCluster.
func (h *Handle) entryAt(ctx *commandContext, dirCluster uint32, index uint32) (rawDirent, error) {
	sector, entryInSector, err := h.sectorForEntry(ctx, dirCluster, index)
	if err != nil {
		return rawDirent{}, err
	}
	if err := ctx.read(h.transport, sector); err != nil {
		return rawDirent{}, err
	}
	return decodeDirent(ctx.buffer[entryInSector*DirentSize : (entryInSector+1)*DirentSize]), nil
}

func (h *Handle) writeEntryAt(ctx *commandContext, dirCluster uint32, index uint32, raw rawDirent) error {
	sector, entryInSector, err := h.sectorForEntry(ctx, dirCluster, index)
	if err != nil {
		return err
	}
	if err := ctx.read(h.transport, sector); err != nil {
		return err
	}
	copy(ctx.buffer[entryInSector*DirentSize:(entryInSector+1)*DirentSize], encodeDirent(raw))
	return ctx.write(h.transport, sector)
}

// fetchNext walks forward from index (inclusive) looking for the next
// occupied name, accumulating any LFN chunks that precede its short entry.
// It returns errEndOfDirectory once the chain is exhausted with no further
// names.
func (h *Handle) fetchNext(ctx *commandContext, dirCluster uint32, index uint32) (entryInfo, uint32, error) {
	var lfnChunks [][]byte // indexed by ordinal-1 (name order); on disk the last chunk comes first
	var lfnChecksum uint8
	firstLoc := dirLocation{}
	haveFirst := false

	for {
		raw, err := h.entryAt(ctx, dirCluster, index)
		if err != nil {
			return entryInfo{}, 0, err
		}

		if raw.Name[0] == direntFreeMarker {
			return entryInfo{}, 0, errEndOfDirectory
		}
		if raw.Name[0] == direntDeletedMarker {
			lfnChunks = nil
			haveFirst = false
			index++
			continue
		}

		if raw.isLongNameEntry() {
			lfn := decodeLFNEntry(encodeDirent(raw))
			ordinal := lfn.Ordinal & LFNOrdinalMask
			if lfn.Ordinal&LFNLastLongEntry != 0 {
				lfnChunks = make([][]byte, ordinal)
				lfnChecksum = lfn.Checksum
			}
			if int(ordinal) >= 1 && int(ordinal) <= len(lfnChunks) {
				lfnChunks[ordinal-1] = lfn.nameUnits()
			}
			if !haveFirst {
				firstLoc = dirLocation{dirCluster, index}
				haveFirst = true
			}
			index++
			continue
		}

		if raw.Attr&AttrVolumeID != 0 {
			// Volume-label entries are filtered from logical iteration
			// (spec §4.3) and never participate in LFN accumulation.
			lfnChunks = nil
			haveFirst = false
			index++
			continue
		}

		// Short-name entry: either the end of an LFN chain or standalone.
		shortLoc := dirLocation{dirCluster, index}
		if !haveFirst {
			firstLoc = shortLoc
		}

		info := entryInfo{
			shortName:  raw.Name,
			attr:       raw.Attr,
			cluster:    raw.cluster(),
			size:       raw.FileSize,
			accessDate: raw.AccessDate,
			writeDate:  raw.WriteDate,
			writeTime:  raw.WriteTime,
			createDate: raw.CreateDate,
			createTime: raw.CreateTime,
			shortLoc:   shortLoc,
			firstLoc:   firstLoc,
			span:       shortLoc.index - firstLoc.index + 1,
		}

		if len(lfnChunks) > 0 && fold8(raw.Name) == lfnChecksum {
			var units []byte
			complete := true
			for _, chunk := range lfnChunks {
				if chunk == nil {
					complete = false
					break
				}
				units = append(units, chunk...)
			}
			if complete {
				name, err := utf16fat.FromUTF16(trimUTF16Terminator(units))
				if err == nil {
					info.name = name
					return info, index + 1, nil
				}
			}
		}

		info.name = extractShortName(raw)
		return info, index + 1, nil
	}
}

// trimUTF16Terminator drops the 0x0000 terminator and any trailing 0xFFFF
// padding units an LFN chunk run may carry (spec §4.3.2/§6).
func trimUTF16Terminator(units []byte) []byte {
	for i := 0; i+1 < len(units); i += 2 {
		if units[i] == 0x00 && units[i+1] == 0x00 {
			return units[:i]
		}
	}
	return units
}

// extractShortName renders an 8.3 short name back into "BASE.EXT" form,
// spec §4.4, grounded on original_source's extractShortName.
func extractShortName(raw rawDirent) string {
	base := strings.TrimRight(string(raw.Name[:basenameLength]), " ")
	ext := strings.TrimRight(string(raw.Name[basenameLength:]), " ")
	if raw.Name[0] == direntEscapedE5 {
		base = "\xE5" + base[1:]
	}
	if ext == "" || raw.Attr&AttrDirectory != 0 {
		return base
	}
	return base + "." + ext
}

// listDirectory returns every live name in the directory rooted at
// dirCluster, in on-disk order.
func (h *Handle) listDirectory(ctx *commandContext, dirCluster uint32) ([]entryInfo, error) {
	var out []entryInfo
	var index uint32
	for {
		info, next, err := h.fetchNext(ctx, dirCluster, index)
		if err == errEndOfDirectory {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, info)
		index = next
	}
}

// lookup finds a single name within dirCluster. The comparison is
// case-insensitive (strings.EqualFold) for long and short names alike.
func (h *Handle) lookup(ctx *commandContext, dirCluster uint32, name string) (entryInfo, error) {
	entries, err := h.listDirectory(ctx, dirCluster)
	if err != nil {
		return entryInfo{}, err
	}
	for _, e := range entries {
		if e.name == name || strings.EqualFold(e.name, name) {
			return e, nil
		}
	}
	return entryInfo{}, errs.ErrEntryMissing
}

// findGap scans dirCluster for `span` consecutive free/deleted entries,
// extending the directory by as many clusters as the missing entries need
// if none is found, per original_source's findGap.
func (h *Handle) findGap(ctx *commandContext, dirCluster uint32, span uint32) (dirLocation, error) {
	var firstFree dirLocation
	run := uint32(0)
	haveFirst := false
	var index uint32

	for {
		raw, err := h.entryAt(ctx, dirCluster, index)
		if err == errEndOfDirectory {
			break
		}
		if err != nil {
			return dirLocation{}, err
		}

		if raw.isFree() {
			if !haveFirst {
				firstFree = dirLocation{dirCluster, index}
				haveFirst = true
			}
			run++
			if run == span {
				return firstFree, nil
			}
		} else {
			haveFirst = false
			run = 0
		}
		index++
	}

	// Extend the directory with a fresh, zeroed cluster and retry within it.
	lastCluster, err := h.lastClusterInChain(ctx, dirCluster)
	if err != nil {
		return dirLocation{}, err
	}
	entriesPerCluster := h.geo.direntsPerCluster()
	needed := (span - run + entriesPerCluster - 1) / entriesPerCluster
	if needed == 0 {
		needed = 1
	}

	prev := lastCluster
	for i := uint32(0); i < needed; i++ {
		newCluster, err := h.allocateCluster(ctx, prev)
		if err != nil {
			return dirLocation{}, err
		}
		if err := h.clearCluster(ctx, newCluster); err != nil {
			return dirLocation{}, err
		}
		prev = newCluster
	}

	if !haveFirst {
		return dirLocation{dirCluster, index}, nil
	}
	return firstFree, nil
}

func (h *Handle) lastClusterInChain(ctx *commandContext, cluster uint32) (uint32, error) {
	current := cluster
	for {
		next, err := h.getNextCluster(ctx, current)
		if err == errEndOfChain {
			return current, nil
		}
		if err != nil {
			return 0, err
		}
		current = next
	}
}

// writeName materializes one directory name (short entry plus any LFN
// chunks it needs) starting at loc, per original_source's createNode.
func (h *Handle) writeName(ctx *commandContext, loc dirLocation, name string, attr uint8, cluster uint32, size uint32, when uint16, whenDate uint16) error {
	short, clean := fillShortName(name)
	needsLFN := !clean

	if needsLFN {
		units := make([]byte, utf16fat.Length(name)*2+2)
		n, err := utf16fat.ToUTF16(units, name)
		if err != nil {
			return errs.Wrap(errs.BadValue, err)
		}
		units = units[:n+2] // +2 for the 0x0000 terminator already zero-valued in a fresh slice

		const unitsPerChunk = 13 * 2
		chunkCount := (len(units) + unitsPerChunk - 1) / unitsPerChunk
		checksum := fold8(short)

		// Chunks are stored in reverse order: the highest ordinal (carrying
		// LFN_LAST) holds the tail of the name and is written to the lowest
		// index, descending to ordinal 1 (the name's first 13 units)
		// immediately before the short entry (spec §4.3.2/§4.3.4).
		for p := 0; p < chunkCount; p++ {
			ordinal := chunkCount - p
			contentBlock := ordinal - 1
			start := contentBlock * unitsPerChunk
			end := start + unitsPerChunk
			if end > len(units) {
				end = len(units)
			}
			lfn := rawLFNEntry{
				Attr:     AttrLongName,
				Checksum: checksum,
			}
			lfnOrdinal := uint8(ordinal)
			if p == 0 {
				lfnOrdinal |= LFNLastLongEntry
			}
			lfn.Ordinal = lfnOrdinal
			lfn.setNameUnits(units[start:end])

			if err := h.writeEntryAt(ctx, loc.cluster, loc.index+uint32(p), decodeDirent(encodeLFNEntry(lfn))); err != nil {
				return err
			}
		}
	}

	shortLoc := dirLocation{loc.cluster, loc.index + entrySpanForName(name) - 1}

	raw := rawDirent{
		Name:       short,
		Attr:       attr,
		CreateDate: whenDate,
		CreateTime: when,
		AccessDate: whenDate,
		WriteDate:  whenDate,
		WriteTime:  when,
		FileSize:   size,
	}
	raw.setCluster(cluster)
	return h.writeEntryAt(ctx, shortLoc.cluster, shortLoc.index, raw)
}

// markFree erases every directory entry belonging to one name (its LFN
// chunks and its short entry) by setting the first name byte to the
// deleted marker 0xE5, per original_source's markFree. The buffer is
// flushed only when the next entry lies in a different sector or this is
// the last entry, so each affected sector is written exactly once (spec
// §4.3.5).
func (h *Handle) markFree(ctx *commandContext, e entryInfo) error {
	var pendingSector, entryInSector uint32
	havePending := false

	for idx := e.firstLoc.index; idx <= e.shortLoc.index; idx++ {
		if havePending && idx%(SectorSize/DirentSize) == 0 {
			if err := ctx.write(h.transport, pendingSector); err != nil {
				return err
			}
			havePending = false
		}

		// sectorForEntry may read the table through ctx, so it only runs
		// while no marked sector is waiting in ctx.buffer.
		sector := pendingSector
		if havePending {
			entryInSector++
		} else {
			var err error
			sector, entryInSector, err = h.sectorForEntry(ctx, e.firstLoc.cluster, idx)
			if err != nil {
				return err
			}
		}

		if err := ctx.read(h.transport, sector); err != nil {
			return err
		}
		ctx.buffer[entryInSector*DirentSize] = direntDeletedMarker
		pendingSector = sector
		havePending = true

		if idx == e.shortLoc.index {
			if err := ctx.write(h.transport, pendingSector); err != nil {
				return err
			}
		}
	}
	return nil
}
