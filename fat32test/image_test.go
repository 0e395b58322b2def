package fat32test_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/errs"
	"github.com/dargueta/fat32engine/fat32"
	"github.com/dargueta/fat32engine/fat32test"
	"github.com/dargueta/fat32engine/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// TestLoadImageRoundTrip formats a blank volume, compresses it the same way
// a canned fixture would be produced, and confirms LoadImage's
// decompress-then-mount path reconstructs a usable Handle.
func TestLoadImageRoundTrip(t *testing.T) {
	const totalSectors = fat32test.SmallVolumeSectors
	size := totalSectors * fat32.SectorSize

	buf := make([]byte, size)
	stream := bytesextra.NewReadWriteSeeker(buf)
	transport := blockio.NewMemTransport(stream, int64(size))

	opts := fat32.DefaultFormatOptions
	opts.TotalSectors = totalSectors
	opts.SectorsPerCluster = fat32test.SmallVolumeSectorsPerCluster
	opts.VolumeLabel = "ROUNDTRIP"
	require.NoError(t, fat32.Format(transport, opts))

	raw := make([]byte, size)
	_, err := stream.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = io.ReadFull(stream, raw)
	require.NoError(t, err)

	var compressed bytes.Buffer
	_, err = compression.CompressImage(bytes.NewReader(raw), &compressed)
	require.NoError(t, err)

	loaded := fat32test.LoadImage(t, compressed.Bytes(), fat32.SectorSize, uint(totalSectors))
	handle, err := fat32.Mount(loaded, fat32.DefaultMountOptions)
	require.NoError(t, err)

	root, err := handle.Root()
	require.NoError(t, err)
	require.True(t, root.IsDirectory())

	_, err = handle.Head(root)
	require.ErrorIs(t, err, errs.ErrEntryMissing, "a formatted-then-reloaded root must still be empty")

	require.Equal(t, "ROUNDTRIP  ", handle.VolumeLabel())
}
