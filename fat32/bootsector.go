package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/fat32engine/errs"
)

// rawBootSector is the on-disk layout of sector 0, little-endian throughout
// (spec §3, §6). Field names follow the teacher's RawFATBootSectorWithBPB /
// RawFAT32BootSector split in drivers/fat/common.go and drivers/fat/fat32.go,
// extended with the FAT32-specific fields spec §6 requires.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	// FAT32-only extension
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
	BootCode         [420]byte
	Signature        uint16
}

// geometry is the derived, validated geometry cached on the Handle at mount
// time (spec §3's Handle "cached geometry" fields). It never changes for the
// lifetime of a mount.
type geometry struct {
	bytesPerSector  uint16
	clusterSizeLog2 uint8 // log2(sectorsPerCluster)
	tableSector     uint32
	tableSize       uint32 // sectors per FAT table
	tableCount      uint8
	dataSector      uint32
	rootCluster     uint32
	infoSector      uint32
	clusterCount    uint32
	volumeLabel     [11]byte
}

func log2Uint(v uint16) (uint8, bool) {
	if v == 0 {
		return 0, false
	}
	for i := uint8(0); i < 8; i++ {
		if uint16(1)<<i == v {
			return i, true
		}
	}
	return 0, false
}

// parseBootSector validates and derives a geometry from the raw boot sector,
// per spec §4.6.
func parseBootSector(raw *rawBootSector, totalTransportSectors int64) (geometry, error) {
	if raw.Signature != bootSectorSignature {
		return geometry{}, errs.Newf(errs.DeviceError,
			"boot sector signature is 0x%04X, want 0x%04X", raw.Signature, bootSectorSignature)
	}
	if raw.BytesPerSector != SectorSize {
		return geometry{}, errs.Newf(errs.DeviceError,
			"unsupported BytesPerSector %d, engine requires %d", raw.BytesPerSector, SectorSize)
	}
	clusterLog2, ok := log2Uint(uint16(raw.SectorsPerCluster))
	if !ok {
		return geometry{}, errs.Newf(errs.DeviceError,
			"SectorsPerCluster %d is not a power of 2", raw.SectorsPerCluster)
	}
	if raw.NumFATs == 0 {
		return geometry{}, errs.Newf(errs.DeviceError, "NumFATs is zero")
	}
	if raw.SectorsPerFAT32 == 0 {
		return geometry{}, errs.Newf(errs.DeviceError, "SectorsPerFAT32 is zero, not a FAT32 volume")
	}

	totalSectors := uint64(raw.TotalSectors32)
	if totalSectors == 0 {
		totalSectors = uint64(raw.TotalSectors16)
	}

	tableSector := uint32(raw.ReservedSectors)
	dataSector := tableSector + uint32(raw.NumFATs)*raw.SectorsPerFAT32
	if uint64(dataSector) >= totalSectors {
		return geometry{}, errs.Newf(errs.DeviceError,
			"data sector %d lies outside the %d-sector volume", dataSector, totalSectors)
	}

	clusterCount := uint32(((totalSectors-uint64(dataSector))>>clusterLog2)+2)

	return geometry{
		bytesPerSector:  raw.BytesPerSector,
		clusterSizeLog2: clusterLog2,
		tableSector:     tableSector,
		tableSize:       raw.SectorsPerFAT32,
		tableCount:      raw.NumFATs,
		dataSector:      dataSector,
		rootCluster:     raw.RootCluster,
		infoSector:      uint32(raw.FSInfoSector),
		clusterCount:    clusterCount,
		volumeLabel:     raw.VolumeLabel,
	}, nil
}

func decodeBootSector(buf []byte) (*rawBootSector, error) {
	if len(buf) < SectorSize {
		return nil, errs.Newf(errs.DeviceError, "boot sector buffer too short: %d bytes", len(buf))
	}
	raw := &rawBootSector{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, raw); err != nil {
		return nil, errs.Wrap(errs.DeviceError, err)
	}
	return raw, nil
}

func encodeBootSector(raw *rawBootSector) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("encode boot sector: %w", err)
	}
	out := buf.Bytes()
	if len(out) != SectorSize {
		return nil, fmt.Errorf("encoded boot sector is %d bytes, want %d", len(out), SectorSize)
	}
	return out, nil
}

// sectorsPerCluster returns the geometry's cluster size in sectors.
func (g *geometry) sectorsPerCluster() uint32 {
	return uint32(1) << g.clusterSizeLog2
}

// bytesPerCluster returns the geometry's cluster size in bytes.
func (g *geometry) bytesPerCluster() uint32 {
	return g.sectorsPerCluster() * uint32(g.bytesPerSector)
}

// direntsPerCluster returns how many 32-byte directory entries fit in one
// cluster.
func (g *geometry) direntsPerCluster() uint32 {
	return g.bytesPerCluster() / DirentSize
}

// dataSectorForCluster converts a cluster ID into the first absolute sector
// of its data.
func (g *geometry) dataSectorForCluster(cluster uint32) uint32 {
	return g.dataSector + (cluster-FirstDataCluster)*g.sectorsPerCluster()
}
