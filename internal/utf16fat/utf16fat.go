// Package utf16fat is the long-filename code-unit conversion collaborator
// spec §1 names: the core calls ToUTF16/FromUTF16/Length and otherwise never
// touches UTF-16 directly. Adapted from soypat-fat's internal/utf16x, which
// implements the same surrogate-aware UTF-8 <-> UTF-16LE conversion this
// engine needs for LFN chunks.
package utf16fat

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
	"unicode/utf8"
)

const (
	surr1    = 0xd800
	surr2    = 0xdc00
	surr3    = 0xe000
	surrSelf = 0x10000

	replacementChar = '�'
	maxRune         = '\U0010FFFF'
)

var (
	ErrOddLength    = errors.New("utf16fat: byte slice length must be a multiple of 2")
	ErrShortDest    = errors.New("utf16fat: destination buffer too short")
	ErrInvalidUTF8  = errors.New("utf16fat: invalid utf8 sequence")
	ErrInvalidUTF16 = errors.New("utf16fat: invalid utf16 sequence")
)

// order is the on-disk byte order for LFN code units (spec §6: little-endian
// throughout).
var order = binary.LittleEndian

// ToUTF16 (the core's `to_utf16`) encodes a UTF-8 string into UTF-16LE code
// units, writing into dst and returning the number of bytes written.
func ToUTF16(dst []byte, src string) (int, error) {
	n := 0
	for _, r := range src {
		size := encodeRune(dst[n:], r)
		if size == 0 {
			return n, ErrShortDest
		}
		n += size
	}
	return n, nil
}

// FromUTF16 (the core's `from_utf16`) decodes UTF-16LE code units into a
// UTF-8 string.
func FromUTF16(src []byte) (string, error) {
	if len(src)%2 != 0 {
		return "", ErrOddLength
	}

	buf := make([]byte, 0, len(src))
	for len(src) >= 2 {
		r, size := decodeRune(src)
		if r == utf8.RuneError && size == 1 {
			return string(buf), ErrInvalidUTF16
		}
		var tmp [utf8.UTFMax]byte
		n := utf8.EncodeRune(tmp[:], r)
		buf = append(buf, tmp[:n]...)
		src = src[size:]
	}
	return string(buf), nil
}

// Length (the core's `utf16_length`) reports how many UTF-16 code units the
// given UTF-8 string encodes to, counting surrogate pairs as 2.
func Length(s string) int {
	n := 0
	for _, r := range s {
		if r >= surrSelf && r <= maxRune {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func encodeRune(dst []byte, v rune) int {
	switch {
	case 0 <= v && v < surr1, surr3 <= v && v < surrSelf:
		if len(dst) < 2 {
			return 0
		}
		order.PutUint16(dst, uint16(v))
		return 2

	case surrSelf <= v && v <= maxRune:
		if len(dst) < 4 {
			return 0
		}
		r1, r2 := utf16.EncodeRune(v)
		order.PutUint16(dst, uint16(r1))
		order.PutUint16(dst[2:], uint16(r2))
		return 4

	default:
		if len(dst) < 2 {
			return 0
		}
		order.PutUint16(dst, uint16(replacementChar))
		return 2
	}
}

func decodeRune(src []byte) (r rune, size int) {
	r = rune(order.Uint16(src))
	switch {
	case r < surr1, surr3 <= r:
		return r, 2
	case surr1 <= r && r < surr2:
		if len(src) < 4 {
			return utf8.RuneError, 1
		}
		r2 := rune(order.Uint16(src[2:]))
		if !(surr2 <= r2 && r2 < surr3) {
			return replacementChar, 2
		}
		return utf16.DecodeRune(r, r2), 4
	default:
		return replacementChar, 2
	}
}
