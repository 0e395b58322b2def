package fat32

import (
	"sync"

	"github.com/dargueta/fat32engine/blockio"
	"github.com/dargueta/fat32engine/errs"
	"github.com/hashicorp/go-multierror"
)

// Handle is a mounted FAT32 volume: cached geometry, the FSInfo hint, the
// bounded context/node pools, and the two locks spec §5 names (consistency
// and memory). One Handle corresponds to one mounted volume; it is safe for
// concurrent use by multiple goroutines.
type Handle struct {
	transport blockio.Transport
	geo       geometry
	fsInfo    fsInfoState

	consistencyMu sync.Mutex
	memoryMu      sync.Mutex

	ctxPool  *Pool[*commandContext]
	nodePool *Pool[*Node]

	openFiles   []*Node
	openFilesMu sync.Mutex
}

// MountOptions sizes the bounded pools a Handle allocates at mount time
// (spec §4.7: capacity is fixed once and never grows).
type MountOptions struct {
	// ContextPoolSize is how many concurrent sector-cache contexts the
	// handle can hand out. Every directory walk, table update, and I/O
	// operation needs one for its duration.
	ContextPoolSize int
	// NodePoolSize is how many Node values can be open at once (children
	// returned by Head/Next/Create, plus the root).
	NodePoolSize int
}

// DefaultMountOptions mirrors a conservative embedded sizing: a handful of
// contexts (callers rarely nest more than two or three deep) and enough
// nodes for a typical open-file-table plus directory traversal depth.
var DefaultMountOptions = MountOptions{ContextPoolSize: 4, NodePoolSize: 16}

// Mount reads the boot sector and FSInfo sector from transport and
// constructs a Handle, per spec §4.6. It fails DEVICE_ERROR on any
// signature or geometry mismatch.
func Mount(transport blockio.Transport, opts MountOptions) (*Handle, error) {
	if opts.ContextPoolSize <= 0 || opts.NodePoolSize <= 0 {
		return nil, errs.ErrBadValue
	}

	ctx := newCommandContext()
	if err := ctx.read(transport, 0); err != nil {
		return nil, err
	}
	rawBoot, err := decodeBootSector(ctx.buffer[:])
	if err != nil {
		return nil, err
	}
	geo, err := parseBootSector(rawBoot, 0)
	if err != nil {
		return nil, err
	}

	if err := ctx.read(transport, geo.infoSector); err != nil {
		return nil, err
	}
	rawInfo, err := decodeFSInfo(ctx.buffer[:])
	if err != nil {
		return nil, err
	}

	h := &Handle{
		transport: transport,
		geo:       geo,
		fsInfo: fsInfoState{
			freeClusters:  rawInfo.FreeClusters,
			lastAllocated: rawInfo.LastAllocated,
		},
	}
	h.ctxPool = NewPool(opts.ContextPoolSize, newCommandContext)
	h.nodePool = NewPool(opts.NodePoolSize, func() *Node { return &Node{} })

	return h, nil
}

// Root returns a fresh Node for the volume's root directory. parent_cluster
// is 0 for the root, matching FAT convention for the root's own ".."
// (spec §4.7).
func (h *Handle) Root() (*Node, error) {
	h.memoryMu.Lock()
	node, _, err := h.acquireNode()
	h.memoryMu.Unlock()
	if err != nil {
		return nil, err
	}
	node.kind = KindDirectory
	node.parentCluster = 0
	node.payloadCluster = h.geo.rootCluster
	node.currentCluster = h.geo.rootCluster
	node.access = AccessRead | AccessWrite
	node.name = "/"
	node.shortLoc = dirLocation{0, 0}
	node.firstLoc = dirLocation{0, 0}
	return node, nil
}

// Sync flushes every DIRTY node in the open-file list to its directory
// entry and removes each node it flushed from the list; a node whose flush
// fails stays listed (spec §4.4/§6's Handle sync operation).
func (h *Handle) Sync() error {
	h.consistencyMu.Lock()
	defer h.consistencyMu.Unlock()

	h.openFilesMu.Lock()
	dirty := append([]*Node(nil), h.openFiles...)
	h.openFilesMu.Unlock()

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

	var result *multierror.Error
	for _, n := range dirty {
		if err := h.syncNode(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Unmount releases the Handle's resources. Callers should Sync first if
// they want pending writes preserved; Unmount itself performs no implicit
// flush (spec names sync and unmount as distinct operations).
func (h *Handle) Unmount() error {
	return nil
}

// enlist idempotently adds n to the handle's open-file list (spec §4.4:
// "enlist the node in the handle's open-file list (idempotent)").
func (h *Handle) enlist(n *Node) {
	h.openFilesMu.Lock()
	defer h.openFilesMu.Unlock()
	for _, existing := range h.openFiles {
		if existing == n {
			return
		}
	}
	h.openFiles = append(h.openFiles, n)
}

func (h *Handle) delist(n *Node) {
	h.openFilesMu.Lock()
	defer h.openFilesMu.Unlock()
	for i, existing := range h.openFiles {
		if existing == n {
			h.openFiles = append(h.openFiles[:i], h.openFiles[i+1:]...)
			return
		}
	}
}

// syncNode writes n's directory entry fields back to disk and clears its
// DIRTY flag (spec §4.4's Sync/flush operation).
func (h *Handle) syncNode(ctx *commandContext, n *Node) error {
	if !n.dirty {
		return nil
	}
	raw, err := h.entryAt(ctx, n.parentCluster, n.shortLoc.index)
	if err != nil {
		return err
	}
	raw.setCluster(n.payloadCluster)
	raw.FileSize = n.payloadSize
	raw.WriteDate, raw.WriteTime = n.writeDate, n.writeTime
	raw.AccessDate = n.accessDate
	if n.access&AccessWrite == 0 {
		raw.Attr |= AttrReadOnly
	} else {
		raw.Attr &^= AttrReadOnly
	}
	if err := h.writeEntryAt(ctx, n.parentCluster, n.shortLoc.index, raw); err != nil {
		return err
	}
	n.dirty = false
	h.delist(n)
	return nil
}

// SyncNode flushes a single node's directory entry and removes it from the
// open-file list, without touching any other open node.
func (h *Handle) SyncNode(n *Node) error {
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
	return h.syncNode(ctx, n)
}

// CountFreeClusters recomputes the free-cluster count by scanning the
// entire allocation table, bypassing the FSInfo hint. Useful diagnostically
// when FreeClusters reads as unknown (0xFFFFFFFF) or is suspected stale.
func (h *Handle) CountFreeClusters() (uint32, error) {
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
	return h.countFreeClusters(ctx)
}

// findVolumeLabelEntry scans the root directory for its root-only
// volume-label pseudo-entry (attribute AttrVolumeID, spec §4.3's VOLUME
// entries), skipping deleted and LFN entries. Returns found == false if the
// root directory carries none.
func (h *Handle) findVolumeLabelEntry(ctx *commandContext) (dirLocation, rawDirent, bool, error) {
	var index uint32
	for {
		raw, err := h.entryAt(ctx, h.geo.rootCluster, index)
		if err == errEndOfDirectory {
			return dirLocation{}, rawDirent{}, false, nil
		}
		if err != nil {
			return dirLocation{}, rawDirent{}, false, err
		}
		if raw.Name[0] == direntFreeMarker {
			return dirLocation{}, rawDirent{}, false, nil
		}
		if raw.Name[0] == direntDeletedMarker || raw.isLongNameEntry() {
			index++
			continue
		}
		if raw.Attr&AttrVolumeID != 0 {
			return dirLocation{h.geo.rootCluster, index}, raw, true, nil
		}
		index++
	}
}

// VolumeLabel returns the volume label stored in the root directory's
// volume-label pseudo-entry, falling back to the boot sector's BPB label if
// the root directory doesn't carry one (e.g. a volume formatted without
// SetVolumeLabel ever being called).
func (h *Handle) VolumeLabel() string {
	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return string(h.geo.volumeLabel[:])
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	_, raw, found, err := h.findVolumeLabelEntry(ctx)
	if err != nil || !found {
		return string(h.geo.volumeLabel[:])
	}
	return string(raw.Name[:])
}

// SetVolumeLabel writes or rewrites the root directory's volume-label
// pseudo-entry, space-padding label to the 11-byte short-name field; a
// label longer than 11 bytes is rejected with ErrBadValue (spec §4.4's short-name encoding, applied here without the
// basename/extension split since a volume label has no extension).
func (h *Handle) SetVolumeLabel(label string) error {
	if len(label) > 11 {
		return errs.ErrBadValue
	}

	var name [11]byte
	for i := range name {
		name[i] = ' '
	}
	for i := 0; i < len(label); i++ {
		name[i] = convertNameCharacter(rune(label[i]))
		if name[i] == 0 {
			name[i] = ' '
		}
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

	loc, existing, found, err := h.findVolumeLabelEntry(ctx)
	if err != nil {
		return err
	}
	if found {
		existing.Name = name
		return h.writeEntryAt(ctx, loc.cluster, loc.index, existing)
	}

	gap, err := h.findGap(ctx, h.geo.rootCluster, 1)
	if err != nil {
		return err
	}
	raw := rawDirent{Name: name, Attr: AttrVolumeID}
	return h.writeEntryAt(ctx, gap.cluster, gap.index, raw)
}
