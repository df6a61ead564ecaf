package protocol

import (
	"bytes"
	"fmt"
)

// Esc is the only framing sentinel on the wire.
const Esc byte = 0x1b

// Structural bytes that follow an Esc.
const (
	markOpen      byte = '<'
	markClose     byte = '>'
	markID        byte = ':'
	markBody      byte = '|'
	markDelim     byte = ';'
	markChunk     byte = '['
	markChunkEnd  byte = ']'
	markListSep   byte = ','
	versionMarker byte = 'V'
)

// EscGlyph stands in for Esc when protocol bytes are rendered for humans.
const EscGlyph = '¤'

// Limits constrains decode memory use.
type Limits struct {
	MaxChunkBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxChunkBytes: 64 * 1024 * 1024}
}

func (l Limits) withDefaults() Limits {
	if l.MaxChunkBytes <= 0 {
		l.MaxChunkBytes = DefaultLimits().MaxChunkBytes
	}
	return l
}

// Render returns p as text with every Esc replaced by EscGlyph.
func Render(p []byte) string {
	if bytes.IndexByte(p, Esc) < 0 {
		return string(p)
	}
	return string(bytes.ReplaceAll(p, []byte{Esc}, []byte(string(EscGlyph))))
}

func describeByte(b byte) string {
	switch {
	case b == Esc:
		return "ESC"
	case b < 0x20 || b == 0x7f:
		return fmt.Sprintf("\\u%04x", b)
	default:
		return string(rune(b))
	}
}
