package fat32

import (
	"encoding/binary"

	"github.com/dargueta/fat32engine/errs"
)

// cellsPerSector is how many 4-byte FAT cells fit in one sector.
const cellsPerSector = SectorSize / 4

func cellSector(tableSector, cluster uint32) uint32 {
	return tableSector + cluster/cellsPerSector
}

func cellOffset(cluster uint32) int {
	return int(cluster%cellsPerSector) * 4
}

// errEndOfChain is the internal-only signal that a cluster chain walk
// reached its terminator. It must never escape a Handle/Node method (spec
// §7): callers translate it into a definite chain length or a clean EOF.
var errEndOfChain = errs.Newf(errs.Invalid, "internal: end of cluster chain")

// getNextCluster reads the table cell for cluster and returns its successor.
// Returns errEndOfChain if cluster is the last in its chain.
func (h *Handle) getNextCluster(ctx *commandContext, cluster uint32) (uint32, error) {
	sector := cellSector(h.geo.tableSector, cluster)
	if err := ctx.read(h.transport, sector); err != nil {
		return 0, err
	}
	next := binary.LittleEndian.Uint32(ctx.buffer[cellOffset(cluster):]) & ClusterMask
	if isEndOfChain(next) {
		return 0, errEndOfChain
	}
	if !isValidSuccessor(next) {
		return 0, errs.Newf(errs.DeviceError, "corrupt table cell: cluster %d -> %d", cluster, next)
	}
	return next, nil
}

// updateTable mirrors the table sector at the given zero-based offset from
// tableSector across every FAT copy (spec §4.2). offset is relative to the
// start of a single table's sector range, not the absolute sector number.
func (h *Handle) updateTable(ctx *commandContext, offset uint32) error {
	for fat := uint32(0); fat < uint32(h.geo.tableCount); fat++ {
		sector := h.geo.tableSector + offset + h.geo.tableSize*fat
		if err := ctx.write(h.transport, sector); err != nil {
			return err
		}
	}
	return nil
}

// setCell stores value into the table cell for cluster in ctx's buffer.
// Caller must have already read the sector containing that cell and must
// call updateTable afterward to persist and mirror it.
func setCell(ctx *commandContext, cluster, value uint32) {
	binary.LittleEndian.PutUint32(ctx.buffer[cellOffset(cluster):], value&ClusterMask)
}

// allocateCluster scans forward from the FSInfo allocation hint for a free
// cluster, links it after prev (0 if this is the first cluster of a new
// chain), marks it as the new chain tail, and updates FSInfo's free count
// and hint. Grounded on original_source's allocateCluster.
func (h *Handle) allocateCluster(ctx *commandContext, prev uint32) (uint32, error) {
	start := h.fsInfo.lastAllocated + 1
	if start < FirstDataCluster || start >= h.geo.clusterCount {
		start = FirstDataCluster
	}
	current := start

	for {
		if current >= h.geo.clusterCount {
			current = FirstDataCluster
		}

		sector := cellSector(h.geo.tableSector, current)
		sectorOffset := current / cellsPerSector
		if err := ctx.read(h.transport, sector); err != nil {
			return 0, err
		}

		cell := binary.LittleEndian.Uint32(ctx.buffer[cellOffset(current):]) & ClusterMask
		if cell == ClusterFree {
			setCell(ctx, current, ClusterEOCMarker)

			parentOffset := prev / cellsPerSector
			if prev == 0 || parentOffset != sectorOffset {
				if err := h.updateTable(ctx, sectorOffset); err != nil {
					return 0, err
				}
			}

			if prev != 0 {
				if err := ctx.read(h.transport, cellSector(h.geo.tableSector, prev)); err != nil {
					return 0, err
				}
				setCell(ctx, prev, current)
				if err := h.updateTable(ctx, parentOffset); err != nil {
					return 0, err
				}
			}

			h.fsInfo.lastAllocated = current
			if h.fsInfo.freeClusters != unknownFreeClusters {
				h.fsInfo.freeClusters--
			}
			if err := h.syncFSInfo(ctx); err != nil {
				return 0, err
			}
			return current, nil
		}

		current++
		if current >= h.geo.clusterCount {
			current = FirstDataCluster
		}
		if current == start {
			return 0, errs.ErrVolumeFull
		}
	}
}

// clearCluster zero-fills every sector of cluster, for directory clusters
// that must start out free of stale directory entries.
func (h *Handle) clearCluster(ctx *commandContext, cluster uint32) error {
	var zero [SectorSize]byte
	first := h.geo.dataSectorForCluster(cluster)
	for s := uint32(0); s < h.geo.sectorsPerCluster(); s++ {
		ctx.buffer = zero
		ctx.bufferValid = true
		ctx.bufferedSector = first + s
		if err := ctx.write(h.transport, first+s); err != nil {
			return err
		}
	}
	return nil
}

// freeChain walks the chain starting at cluster, zeroing every cell and
// mirroring each table sector it touches, then credits the freed count back
// to FSInfo (spec §4.2, original_source's freeChain). A zero/reserved
// cluster is treated as already-empty.
func (h *Handle) freeChain(ctx *commandContext, cluster uint32) error {
	if cluster < FirstDataCluster {
		return nil
	}

	current := cluster
	var released uint32

	for {
		sector := cellSector(h.geo.tableSector, current)
		if err := ctx.read(h.transport, sector); err != nil {
			return err
		}
		cell := binary.LittleEndian.Uint32(ctx.buffer[cellOffset(current):]) & ClusterMask
		setCell(ctx, current, ClusterFree)

		last := isEndOfChain(cell)
		nextSector := sector
		if !last {
			nextSector = cellSector(h.geo.tableSector, cell)
		}
		if last || nextSector != sector {
			if err := h.updateTable(ctx, sector-h.geo.tableSector); err != nil {
				return err
			}
		}

		released++
		if last {
			break
		}
		current = cell
	}

	if h.fsInfo.freeClusters != unknownFreeClusters {
		h.fsInfo.freeClusters += released
	}
	return h.syncFSInfo(ctx)
}

// syncFSInfo writes the Handle's cached free-cluster count and allocation
// hint back to the FSInfo sector.
func (h *Handle) syncFSInfo(ctx *commandContext) error {
	if err := ctx.read(h.transport, h.geo.infoSector); err != nil {
		return err
	}
	raw, err := decodeFSInfo(ctx.buffer[:])
	if err != nil {
		return err
	}
	raw.FreeClusters = h.fsInfo.freeClusters
	raw.LastAllocated = h.fsInfo.lastAllocated
	encoded, err := encodeFSInfo(raw)
	if err != nil {
		return err
	}
	copy(ctx.buffer[:], encoded)
	return ctx.write(h.transport, h.geo.infoSector)
}

// countFreeClusters recomputes the free cluster count by scanning the
// entire table, ignoring the FSInfo hint. This is the diagnostic operation
// spec.md's FSInfo section calls out as useful when FreeClusters reads
// 0xFFFFFFFF or is suspected stale (original_source never trusts the hint
// blindly either).
func (h *Handle) countFreeClusters(ctx *commandContext) (uint32, error) {
	var free uint32
	for cluster := uint32(FirstDataCluster); cluster < h.geo.clusterCount; cluster++ {
		sector := cellSector(h.geo.tableSector, cluster)
		if err := ctx.read(h.transport, sector); err != nil {
			return 0, err
		}
		cell := binary.LittleEndian.Uint32(ctx.buffer[cellOffset(cluster):]) & ClusterMask
		if cell == ClusterFree {
			free++
		}
	}
	return free, nil
}

// chainLength walks the full chain starting at cluster and returns how many
// clusters it contains.
func (h *Handle) chainLength(ctx *commandContext, cluster uint32) (uint32, error) {
	if cluster < FirstDataCluster {
		return 0, nil
	}
	count := uint32(1)
	current := cluster
	for {
		next, err := h.getNextCluster(ctx, current)
		if err == errEndOfChain {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		current = next
		count++
	}
}
