package fat32

import (
	"github.com/dargueta/fat32engine/errs"
)

// Node is a handle's view of one directory entry: a file or a directory,
// addressed by the location of its own short-name entry and (if an LFN
// chain precedes it) the location of its first chunk. It is the engine's
// generic hierarchical node (spec §4.7, REDESIGN FLAGS: a tagged variant
// replacing the original's per-class function tables).
type Node struct {
	handle *Handle
	poolIdx int

	kind NodeKind

	parentCluster uint32 // directory this entry lives in
	firstLoc      dirLocation
	shortLoc      dirLocation

	name      string
	shortName [11]byte
	access    uint8

	payloadCluster  uint32
	payloadSize     uint32
	payloadPosition uint32
	currentCluster  uint32 // cluster containing payloadPosition

	createDate, createTime uint16
	writeDate, writeTime   uint16
	accessDate             uint16

	dirty bool

	// iteration cursor, used by Next: the directory index just past this
	// node's own entries within its parent.
	nextIndex uint32
}

// ID is the node's stable opaque identifier: (parent_cluster<<16)|parent_index
// (spec §4.5's ID stream).
func (n *Node) ID() uint64 {
	return uint64(n.parentCluster)<<16 | uint64(n.shortLoc.index)
}

func (n *Node) IsDirectory() bool { return n.kind == KindDirectory }

// Name returns the node's long name if it has one, else its 8.3 short name
// rendered as "BASE.EXT".
func (n *Node) Name() string {
	return n.name
}

func (h *Handle) nodeFromEntry(parentCluster uint32, e entryInfo) *Node {
	node, idx, err := h.nodePool.Acquire()
	if err != nil {
		return nil
	}
	*node = Node{
		handle:        h,
		poolIdx:       idx,
		parentCluster: parentCluster,
		firstLoc:      e.firstLoc,
		shortLoc:      e.shortLoc,
		name:          e.name,
		shortName:     e.shortName,
		payloadCluster: e.cluster,
		payloadSize:    e.size,
		createDate:     e.createDate,
		createTime:     e.createTime,
		writeDate:      e.writeDate,
		writeTime:      e.writeTime,
		accessDate:     e.accessDate,
		currentCluster: e.cluster,
		access:         AccessRead | AccessWrite,
		nextIndex:      e.shortLoc.index + 1,
	}
	if e.isDirectory() {
		node.kind = KindDirectory
	} else {
		node.kind = KindFile
	}
	if e.attr&AttrReadOnly != 0 {
		node.access = AccessRead
	}
	return node
}

// acquireNode gets a pooled *Node, returning ErrAllocFailed if the pool is
// exhausted (spec §4.7).
func (h *Handle) acquireNode() (*Node, int, error) {
	node, idx, err := h.nodePool.Acquire()
	if err != nil {
		return nil, 0, err
	}
	*node = Node{handle: h, poolIdx: idx}
	return node, idx, nil
}

// Free returns a node to its handle's pool. If the node is DIRTY, its
// directory entry is flushed first (spec §3: "if DIRTY at free time, the
// engine must attempt to flush the directory entry first"); the flush is
// best-effort, and the node is released back to the pool regardless of
// whether it succeeds.
func (n *Node) Free() error {
	var err error
	if n.dirty {
		err = n.handle.SyncNode(n)
	}
	n.handle.nodePool.Release(n.poolIdx)
	return err
}

// Head returns the first child of a directory node, or ErrEntryMissing if
// the directory is empty. Fails INVALID on a file node.
func (h *Handle) Head(dir *Node) (*Node, error) {
	if !dir.IsDirectory() {
		return nil, errs.ErrInvalid
	}

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	info, next, err := h.fetchNext(ctx, dir.payloadCluster, 0)
	if err == errEndOfDirectory {
		return nil, errs.ErrEntryMissing
	}
	if err != nil {
		return nil, err
	}

	h.memoryMu.Lock()
	child := h.nodeFromEntry(dir.payloadCluster, info)
	h.memoryMu.Unlock()
	if child == nil {
		return nil, errs.ErrAllocFailed
	}
	child.nextIndex = next
	return child, nil
}

// Next returns the sibling following n within its parent directory, or
// ErrEntryMissing once the directory is exhausted.
func (h *Handle) Next(n *Node) (*Node, error) {
	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	info, next, err := h.fetchNext(ctx, n.parentCluster, n.nextIndex)
	if err == errEndOfDirectory {
		return nil, errs.ErrEntryMissing
	}
	if err != nil {
		return nil, err
	}

	h.memoryMu.Lock()
	sibling := h.nodeFromEntry(n.parentCluster, info)
	h.memoryMu.Unlock()
	if sibling == nil {
		return nil, errs.ErrAllocFailed
	}
	sibling.nextIndex = next
	return sibling, nil
}

// Create adds a new name to a directory node and returns the node for it
// (spec §4.3.4). now supplies the creation/access/write timestamp.
func (h *Handle) Create(parent *Node, isDir bool, name string, access uint8, now uint16, nowDate uint16) (*Node, error) {
	if !parent.IsDirectory() {
		return nil, errs.ErrInvalid
	}
	if name == "" || len(name) > 255 {
		return nil, errs.ErrBadValue
	}

	h.consistencyMu.Lock()
	defer h.consistencyMu.Unlock()

	h.memoryMu.Lock()
	ctx, ctxIdx, err := h.ctxPool.Acquire()
	h.memoryMu.Unlock()
	if err != nil {
		return nil, err
	}
	defer func() {
		h.memoryMu.Lock()
		h.ctxPool.Release(ctxIdx)
		h.memoryMu.Unlock()
	}()

	if _, err := h.lookup(ctx, parent.payloadCluster, name); err == nil {
		return nil, errs.ErrEntryExists
	}

	short, clean := fillShortName(name)
	if !clean {
		unique, err := proposeUniqueShortName(short, func(candidate [11]byte) (bool, error) {
			entries, err := h.listDirectory(ctx, parent.payloadCluster)
			if err != nil {
				return false, err
			}
			for _, e := range entries {
				if e.shortName == candidate {
					return true, nil
				}
			}
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		short = unique
	}

	span := entrySpanForName(name)
	loc, err := h.findGap(ctx, parent.payloadCluster, span)
	if err != nil {
		return nil, err
	}

	var attr uint8
	if isDir {
		attr |= AttrDirectory
	}
	if access&AccessWrite == 0 {
		attr |= AttrReadOnly
	}

	var payloadCluster uint32
	if isDir {
		payloadCluster, err = h.allocateCluster(ctx, 0)
		if err != nil {
			return nil, err
		}
		if err := h.clearCluster(ctx, payloadCluster); err != nil {
			_ = h.freeChain(ctx, payloadCluster)
			return nil, err
		}
		if err := h.bootstrapDirectory(ctx, payloadCluster, parent.payloadCluster); err != nil {
			_ = h.freeChain(ctx, payloadCluster)
			return nil, err
		}
	}

	if err := h.writeName(ctx, loc, name, attr, payloadCluster, 0, now, nowDate); err != nil {
		if isDir {
			_ = h.freeChain(ctx, payloadCluster)
		}
		return nil, err
	}

	shortLoc := dirLocation{loc.cluster, loc.index + span - 1}
	h.memoryMu.Lock()
	node, _, aerr := h.acquireNode()
	h.memoryMu.Unlock()
	if aerr != nil {
		return nil, aerr
	}
	node.kind = KindFile
	if isDir {
		node.kind = KindDirectory
	}
	node.parentCluster = parent.payloadCluster
	node.firstLoc = loc
	node.shortLoc = shortLoc
	node.name = name
	node.shortName = short
	node.access = access
	node.payloadCluster = payloadCluster
	node.currentCluster = payloadCluster
	node.createDate, node.createTime = nowDate, now
	node.writeDate, node.writeTime = nowDate, now
	node.accessDate = nowDate
	node.nextIndex = shortLoc.index + 1
	return node, nil
}

// bootstrapDirectory writes the synthetic "." and ".." entries into a
// freshly cleared directory cluster (spec §4.3.6).
func (h *Handle) bootstrapDirectory(ctx *commandContext, cluster, parentCluster uint32) error {
	dotTarget := cluster
	dotdotTarget := parentCluster
	if parentCluster == h.geo.rootCluster {
		dotdotTarget = 0
	}

	dot := rawDirent{Attr: AttrDirectory}
	copy(dot.Name[:], ".          "[:11])
	dot.setCluster(dotTarget)
	if err := h.writeEntryAt(ctx, cluster, 0, dot); err != nil {
		return err
	}

	dotdot := rawDirent{Attr: AttrDirectory}
	copy(dotdot.Name[:], "..         "[:11])
	dotdot.setCluster(dotdotTarget)
	return h.writeEntryAt(ctx, cluster, 1, dotdot)
}

// Remove deletes a name from its parent directory, freeing its payload
// chain (spec §4.3.5). Fails DIRECTORY_NOT_EMPTY if n is a directory with
// entries beyond "." and "..".
func (h *Handle) Remove(n *Node) error {
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

	if n.IsDirectory() {
		entries, err := h.listDirectory(ctx, n.payloadCluster)
		if err != nil {
			return err
		}
		if len(entries) > 2 {
			return errs.ErrDirectoryNotEmpty
		}
	}

	e := entryInfo{firstLoc: n.firstLoc, shortLoc: n.shortLoc}
	if err := h.markFree(ctx, e); err != nil {
		return err
	}

	return h.freeChain(ctx, n.payloadCluster)
}
