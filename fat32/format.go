package fat32

import (
	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/errs"
)

// FormatOptions describes the geometry of a fresh volume (spec §4.6's
// optional Format operation).
type FormatOptions struct {
	TotalSectors      uint32
	SectorsPerCluster uint8 // must be a power of 2
	ReservedSectors   uint16
	NumFATs           uint8
	VolumeLabel       string
}

// DefaultFormatOptions gives a reasonable default for small-to-medium test
// images: 4 sectors/cluster, 32 reserved sectors, 2 FAT copies.
var DefaultFormatOptions = FormatOptions{
	SectorsPerCluster: 4,
	ReservedSectors:   32,
	NumFATs:           2,
}

// Format writes a boot sector, FSInfo sector, zeroed allocation tables, and
// a cleared root directory cluster to transport, per spec §4.6.
func Format(transport blockio.Transport, opts FormatOptions) error {
	if opts.TotalSectors == 0 {
		return errs.ErrBadValue
	}
	clusterLog2, ok := log2Uint(uint16(opts.SectorsPerCluster))
	if !ok {
		return errs.Newf(errs.BadValue, "SectorsPerCluster %d is not a power of 2", opts.SectorsPerCluster)
	}
	if opts.NumFATs == 0 {
		opts.NumFATs = 1
	}

	dataSectorGuess := uint32(opts.ReservedSectors)
	remainingSectors := opts.TotalSectors - dataSectorGuess
	// Reserve ~1 table cell per sectorsPerCluster sectors past the reserved area.
	approxClusters := remainingSectors >> clusterLog2
	sectorsPerFAT := (approxClusters*4 + SectorSize - 1) / SectorSize
	if sectorsPerFAT == 0 {
		sectorsPerFAT = 1
	}

	tableSector := uint32(opts.ReservedSectors)
	dataSector := tableSector + uint32(opts.NumFATs)*sectorsPerFAT
	if dataSector >= opts.TotalSectors {
		return errs.Newf(errs.BadValue, "volume too small for requested geometry")
	}
	clusterCount := ((opts.TotalSectors - dataSector) >> clusterLog2) + 2

	raw := &rawBootSector{
		BytesPerSector:    SectorSize,
		SectorsPerCluster: opts.SectorsPerCluster,
		ReservedSectors:   opts.ReservedSectors,
		NumFATs:           opts.NumFATs,
		Media:             0xF8,
		TotalSectors32:    opts.TotalSectors,
		SectorsPerFAT32:   sectorsPerFAT,
		RootCluster:       FirstDataCluster,
		FSInfoSector:      1,
		BackupBootSector:  6,
		DriveNumber:       0x80,
		BootSignature:     0x29,
		Signature:         bootSectorSignature,
	}
	copy(raw.VolumeLabel[:], padRight(opts.VolumeLabel, 11))
	copy(raw.FileSystemType[:], padRight("FAT32", 8))

	bootBytes, err := encodeBootSector(raw)
	if err != nil {
		return err
	}
	if err := rawWrite(transport, 0, bootBytes); err != nil {
		return err
	}
	if err := rawWrite(transport, 6, bootBytes); err != nil { // backup boot sector
		return err
	}

	info := &rawFSInfo{
		FreeClusters:  clusterCount - 3, // root cluster + 2 reserved entries consumed
		LastAllocated: FirstDataCluster,
	}
	infoBytes, err := encodeFSInfo(info)
	if err != nil {
		return err
	}
	if err := rawWrite(transport, 1, infoBytes); err != nil {
		return err
	}

	var zeroSector [SectorSize]byte
	for fat := uint32(0); fat < uint32(opts.NumFATs); fat++ {
		base := tableSector + sectorsPerFAT*fat
		for s := uint32(0); s < sectorsPerFAT; s++ {
			if err := rawWrite(transport, base+s, zeroSector[:]); err != nil {
				return err
			}
		}
	}

	geo := geometry{
		bytesPerSector:  SectorSize,
		clusterSizeLog2: clusterLog2,
		tableSector:     tableSector,
		tableSize:       sectorsPerFAT,
		tableCount:      opts.NumFATs,
		dataSector:      dataSector,
		rootCluster:     FirstDataCluster,
		infoSector:      1,
		clusterCount:    clusterCount,
	}
	h := &Handle{transport: transport, geo: geo, fsInfo: fsInfoState{freeClusters: info.FreeClusters, lastAllocated: info.LastAllocated}}
	h.ctxPool = NewPool(1, newCommandContext)

	ctx, idx, err := h.ctxPool.Acquire()
	if err != nil {
		return err
	}
	defer h.ctxPool.Release(idx)

	if err := ctx.read(transport, cellSector(tableSector, FirstDataCluster)); err != nil {
		return err
	}
	// Cells 0 and 1 are reserved and never allocated, but a conformant
	// FAT32 table still carries their conventional sentinel values: cell 0
	// mirrors the media descriptor, cell 1 carries the clean-shutdown/
	// no-IO-error flag bits (all set here, i.e. "clean").
	setCell(ctx, 0, ClusterEOCMarker|uint32(raw.Media))
	setCell(ctx, 1, ClusterReserved)
	setCell(ctx, FirstDataCluster, ClusterEOCMarker)
	if err := h.updateTable(ctx, 0); err != nil {
		return err
	}

	return h.clearCluster(ctx, FirstDataCluster)
}

func padRight(s string, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}
