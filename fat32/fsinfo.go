package fat32

import (
	"bytes"
	"encoding/binary"

	"github.com/dargueta/fat32engine/errs"
)

// rawFSInfo is the on-disk layout of the FSInfo sector (spec §6), matching
// original_source's InfoSectorImage field-for-field.
type rawFSInfo struct {
	LeadSignature  uint32
	Reserved1      [480]byte
	StrucSignature uint32
	FreeClusters   uint32
	LastAllocated  uint32
	Reserved2      [14]byte
	TrailSignature uint16
}

func decodeFSInfo(buf []byte) (*rawFSInfo, error) {
	if len(buf) < SectorSize {
		return nil, errs.Newf(errs.DeviceError, "FSInfo buffer too short: %d bytes", len(buf))
	}
	raw := &rawFSInfo{}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, raw); err != nil {
		return nil, errs.Wrap(errs.DeviceError, err)
	}
	if raw.LeadSignature != fsInfoLeadSignature || raw.StrucSignature != fsInfoStrucSignature {
		return nil, errs.Newf(errs.DeviceError,
			"FSInfo signature mismatch: lead=0x%08X struc=0x%08X", raw.LeadSignature, raw.StrucSignature)
	}
	return raw, nil
}

func encodeFSInfo(raw *rawFSInfo) ([]byte, error) {
	raw.LeadSignature = fsInfoLeadSignature
	raw.StrucSignature = fsInfoStrucSignature
	raw.TrailSignature = bootSectorSignature

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, errs.Wrap(errs.DeviceError, err)
	}
	out := buf.Bytes()
	if len(out) != SectorSize {
		return nil, errs.Newf(errs.DeviceError, "encoded FSInfo is %d bytes, want %d", len(out), SectorSize)
	}
	return out, nil
}

// fsInfoState is the Handle's cached view of the FSInfo sector: a free
// cluster count and a hint for where to resume the next linear allocation
// scan (spec §4.2's "non-authoritative hint" semantics).
type fsInfoState struct {
	freeClusters  uint32
	lastAllocated uint32
}

// unknownFreeClusters marks an FSInfo.FreeClusters field that's either
// absent or known stale, per spec §6 (the value 0xFFFFFFFF).
const unknownFreeClusters uint32 = 0xFFFFFFFF
