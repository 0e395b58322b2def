package fat32test

import (
	"testing"

	"github.com/dargueta/fat32engine/fat32"
	"github.com/stretchr/testify/require"
)

// SmallVolumeSectors/SectorsPerCluster describe a deliberately tiny volume:
// large enough to exercise multi-cluster chains and directory growth, small
// enough that tests mount it in microseconds.
const (
	SmallVolumeSectors           = 8192
	SmallVolumeSectorsPerCluster = 4
)

// NewFormattedVolume formats a blank in-memory transport with a small
// FAT32 geometry and mounts it, returning the ready Handle. Tests that need
// a clean volume to create/remove/read/write against start here.
func NewFormattedVolume(t *testing.T) *fat32.Handle {
	t.Helper()

	transport := NewBlankTransport(fat32.SectorSize, SmallVolumeSectors)

	opts := fat32.DefaultFormatOptions
	opts.TotalSectors = SmallVolumeSectors
	opts.SectorsPerCluster = SmallVolumeSectorsPerCluster
	opts.VolumeLabel = "TESTVOL"
	require.NoError(t, fat32.Format(transport, opts))

	handle, err := fat32.Mount(transport, fat32.DefaultMountOptions)
	require.NoError(t, err)
	return handle
}
