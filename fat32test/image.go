// Package fat32test provides test-only fixtures for mounting FAT32 images
// in memory: compressed canned images decompressed into a blockio.Transport,
// grounded on the teacher's testing.LoadDiskImage.
package fat32test

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/utilities/compression"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// LoadImage decompresses a canned FAT32 image (produced by the compression
// package's RLE8-then-gzip scheme) and returns it as a Transport of the given
// fixed size.
func LoadImage(t *testing.T, compressedImageBytes []byte, sectorSize, totalSectors uint) blockio.Transport {
	t.Helper()
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	compressedBuf := bytes.NewBuffer(compressedImageBytes)
	imageBytes, err := compression.DecompressImageToBytes(compressedBuf)
	require.NoError(t, err)
	require.Equal(t, totalSectors*sectorSize, uint(len(imageBytes)), "uncompressed image is wrong size")

	stream := bytesextra.NewReadWriteSeeker(imageBytes)
	return blockio.NewMemTransport(stream, int64(len(imageBytes)))
}

// NewBlankTransport builds an in-memory Transport of totalSectors *
// sectorSize zeroed bytes, for tests that format their own volume rather
// than loading a canned fixture.
func NewBlankTransport(sectorSize, totalSectors uint) blockio.Transport {
	size := int(sectorSize * totalSectors)
	buf := make([]byte, size)
	var stream io.ReadWriteSeeker = bytesextra.NewReadWriteSeeker(buf)
	return blockio.NewMemTransport(stream, int64(size))
}
