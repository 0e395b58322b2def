package fat32_test

import (
	"strings"
	"testing"

	"github.com/dargueta/fat32engine/errs"
	"github.com/dargueta/fat32engine/fat32"
	"github.com/dargueta/fat32engine/fat32test"
	"github.com/stretchr/testify/require"
)

func TestMountFormattedVolume(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)

	root, err := handle.Root()
	require.NoError(t, err)
	require.True(t, root.IsDirectory())

	_, err = handle.Head(root)
	require.ErrorIs(t, err, errs.ErrEntryMissing, "freshly formatted root must be empty")
}

func TestCreateFileThenLookUp(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "hello.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)
	require.False(t, node.IsDirectory())
	require.Equal(t, "hello.txt", node.Name())

	found, err := handle.Head(root)
	require.NoError(t, err)
	require.Equal(t, "hello.txt", found.Name())

	_, err = handle.Next(found)
	require.ErrorIs(t, err, errs.ErrEntryMissing)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	_, err = handle.Create(root, false, "dup.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	_, err = handle.Create(root, false, "dup.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.ErrorIs(t, err, errs.ErrEntryExists)
}

func TestCreateLongNameRoundTrips(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	const longName = "a rather long file name with spaces.txt"
	_, err = handle.Create(root, false, longName, fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	found, err := handle.Head(root)
	require.NoError(t, err)
	require.Equal(t, longName, found.Name())
}

func TestWriteReadRoundTrip(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "data.bin", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, fat32test.SmallVolumeSectorsPerCluster*fat32.SectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := handle.WriteStream(node, fat32.StreamData, 0, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	length, err := handle.LengthOfStream(node, fat32.StreamData)
	require.NoError(t, err)
	require.Equal(t, uint64(len(payload)), length)

	readBack := make([]byte, len(payload))
	n, err = handle.ReadStream(node, fat32.StreamData, 0, readBack)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, readBack)
}

func TestRemoveFreesCluster(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	before, err := handle.CountFreeClusters()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "temp.bin", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, fat32test.SmallVolumeSectorsPerCluster*fat32.SectorSize*2)
	_, err = handle.WriteStream(node, fat32.StreamData, 0, payload)
	require.NoError(t, err)

	require.NoError(t, handle.Remove(node))

	after, err := handle.CountFreeClusters()
	require.NoError(t, err)
	require.Equal(t, before, after, "removing a node must release every cluster it held")
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	dir, err := handle.Create(root, true, "subdir", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	_, err = handle.Create(dir, false, "inner.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	err = handle.Remove(dir)
	require.ErrorIs(t, err, errs.ErrDirectoryNotEmpty)
}

func TestFreeFlushesDirtyNode(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "a.bin", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	payload := make([]byte, fat32.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = handle.WriteStream(node, fat32.StreamData, 0, payload)
	require.NoError(t, err)

	require.NoError(t, node.Free(), "Free must flush a DIRTY node's directory entry")

	reopened, err := handle.Head(root)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	n, err := handle.ReadStream(reopened, fat32.StreamData, 0, readBack)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, readBack)
}

func TestReadOnlyAccessRejectsWrite(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "ro.txt", fat32.AccessRead, 0, 0)
	require.NoError(t, err)

	_, err = handle.WriteStream(node, fat32.StreamData, 0, []byte("hi"))
	require.ErrorIs(t, err, errs.ErrAccessDenied)

	_, err = handle.WriteStream(node, fat32.StreamAccess, 0, []byte{fat32.AccessRead | fat32.AccessWrite})
	require.NoError(t, err)

	_, err = handle.WriteStream(node, fat32.StreamData, 0, []byte("hi"))
	require.NoError(t, err)
}

func TestAccessChangeSurvivesSyncAndReopen(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	node, err := handle.Create(root, false, "flip.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	_, err = handle.WriteStream(node, fat32.StreamAccess, 0, []byte{fat32.AccessRead})
	require.NoError(t, err)
	require.NoError(t, handle.Sync())

	reopened, err := handle.Head(root)
	require.NoError(t, err)

	access := make([]byte, 1)
	_, err = handle.ReadStream(reopened, fat32.StreamAccess, 0, access)
	require.NoError(t, err)
	require.Equal(t, fat32.AccessRead, access[0], "RO bit must persist to the on-disk entry across sync and reopen")

	_, err = handle.WriteStream(reopened, fat32.StreamData, 0, []byte("hi"))
	require.ErrorIs(t, err, errs.ErrAccessDenied)
}

func TestVolumeLabelEntryExcludedFromIteration(t *testing.T) {
	handle := fat32test.NewFormattedVolume(t)
	root, err := handle.Root()
	require.NoError(t, err)

	require.NoError(t, handle.SetVolumeLabel("MYVOL"))

	_, err = handle.Head(root)
	require.ErrorIs(t, err, errs.ErrEntryMissing, "a volume-label entry must not surface as a child")

	_, err = handle.Create(root, false, "real.txt", fat32.AccessRead|fat32.AccessWrite, 0, 0)
	require.NoError(t, err)

	found, err := handle.Head(root)
	require.NoError(t, err)
	require.Equal(t, "real.txt", found.Name())

	_, err = handle.Next(found)
	require.ErrorIs(t, err, errs.ErrEntryMissing, "the volume label must not count as a second child")

	require.Equal(t, "MYVOL"+strings.Repeat(" ", 6), handle.VolumeLabel())
}
