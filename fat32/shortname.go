package fat32

import (
	"fmt"
	"strings"

	"github.com/dargueta/fat32engine/errs"
	"github.com/dargueta/fat32engine/internal/utf16fat"
)

// entrySpanForName reports how many consecutive 32-byte directory entries
// a name needs: one short entry alone if it round-trips cleanly through
// fillShortName, or that plus one LFN chunk per 13 UTF-16 code units of the
// name and its 0x0000 terminator otherwise (spec §4.3.2). The terminator is
// always counted, so a name whose length is an exact multiple of 13 code
// units gets an extra chunk holding only the terminator and padding.
func entrySpanForName(name string) uint32 {
	_, clean := fillShortName(name)
	if clean {
		return 1
	}
	totalBytes := utf16fat.Length(name)*2 + 2 // + 0x0000 terminator
	chunks := (totalBytes + 25) / 26
	return uint32(chunks) + 1
}

const (
	basenameLength  = 8
	extensionLength = 3
)

// forbiddenShortNameBytes are the bytes spec §4.4/§6 replaces with '_'
// outright (0x3A..0x3F is covered separately as a range).
const forbiddenShortNameBytes = "\"*+,./[\\]|"

// convertNameCharacter maps one rune from a long name into its 8.3
// equivalent, returning 0 to mean "drop this character" (spec §4.4:
// uppercase ASCII, space is removed rather than substituted, forbidden
// punctuation and bytes above 0x7E become '_'). A short name built this way
// is marked "not clean" whenever a substitution or truncation occurred,
// which forces an accompanying LFN.
func convertNameCharacter(r rune) byte {
	switch {
	case r == ' ':
		return 0
	case r >= 'a' && r <= 'z':
		return byte(r - 'a' + 'A')
	case r > 0x7E:
		return '_'
	case strings.ContainsRune(forbiddenShortNameBytes, r):
		return '_'
	case r >= 0x3A && r <= 0x3F:
		return '_'
	default:
		return byte(r)
	}
}

// fillShortName builds an 11-byte, space-padded 8.3 short name from a long
// name, splitting on the last '.' for the extension exactly as
// original_source's fillShortName does. It reports whether the resulting
// short name round-trips the input exactly ("clean"): a clean short name
// needs no accompanying LFN chunk.
func fillShortName(name string) (short [11]byte, clean bool) {
	for i := range short {
		short[i] = ' '
	}
	clean = true

	base, ext := name, ""
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		base, ext = name[:dot], name[dot+1:]
	}

	if len(base) > basenameLength || len(ext) > extensionLength {
		clean = false
	}

	pos := 0
	for _, r := range base {
		if pos == basenameLength {
			clean = false
			break
		}
		c := convertNameCharacter(r)
		if c == 0 {
			clean = false
			continue
		}
		if byte(r) != c {
			clean = false
		}
		short[pos] = c
		pos++
	}

	pos = basenameLength
	for _, r := range ext {
		if pos == basenameLength+extensionLength {
			clean = false
			break
		}
		c := convertNameCharacter(r)
		if c == 0 {
			clean = false
			continue
		}
		if byte(r) != c {
			clean = false
		}
		short[pos] = c
		pos++
	}

	return short, clean
}

// maxUniqueSuffix is the "~1".."~99" exhaustion bound spec §4.4 names: the
// 100th collision for the same truncated basename fails with EntryExists
// rather than searching forever.
const maxUniqueSuffix = 99

// proposeUniqueShortName takes a non-clean short name and a collision check
// function, and returns the first "~N"-suffixed variant that doesn't
// collide, per original_source's uniqueNamePropose/uniqueNameConvert.
func proposeUniqueShortName(short [11]byte, exists func([11]byte) (bool, error)) ([11]byte, error) {
	base := short

	for n := 1; n <= maxUniqueSuffix; n++ {
		suffix := fmt.Sprintf("~%d", n)
		candidate := base

		truncateAt := basenameLength - len(suffix)
		for i := truncateAt; i < basenameLength; i++ {
			candidate[i] = ' '
		}
		copy(candidate[truncateAt:basenameLength], suffix)

		collides, err := exists(candidate)
		if err != nil {
			return [11]byte{}, err
		}
		if !collides {
			return candidate, nil
		}
	}

	return [11]byte{}, errs.ErrEntryExists
}
