package shipvm

import (
	"encoding/binary"
	"math"
	"unicode/utf8"
)

// Wire layout of the guest-produced debug structs. Both are read field by
// field rather than reinterpreted from raw bytes, so alignment and
// padding are spelled out here instead of inherited from whatever the
// guest toolchain's struct layout happens to be.
const (
	// lineWireSize is 4 f64 coordinates (32 bytes) plus a u32 color,
	// padded to the f64 alignment of the array stride (40 bytes).
	lineWireSize = 40
	// textWireSize is x, y (16 bytes), color and length (8 bytes), and a
	// 32-byte fixed text buffer: 56 bytes, already 8-aligned.
	textWireSize  = 56
	textBufferCap = 32
)

// decodeLines interprets raw as a little-endian array of count Line wire
// structs (x0, y0, x1, y1 f64; color u32; 4 bytes padding).
func decodeLines(raw []byte, count uint32) ([]Line, error) {
	want := int(count) * lineWireSize
	if len(raw) < want {
		return nil, newError(ErrMemoryMarshal, "debug lines: need %d bytes, have %d", want, len(raw))
	}
	lines := make([]Line, count)
	for i := range lines {
		b := raw[i*lineWireSize : i*lineWireSize+lineWireSize]
		x0 := readFloat64LE(b[0:8])
		y0 := readFloat64LE(b[8:16])
		x1 := readFloat64LE(b[16:24])
		y1 := readFloat64LE(b[24:32])
		color := binary.LittleEndian.Uint32(b[32:36])
		lines[i] = Line{
			A:     Vec2{X: x0, Y: y0},
			B:     Vec2{X: x1, Y: y1},
			Color: convertColor(color),
		}
	}
	return lines, nil
}

// decodeTexts interprets raw as a little-endian array of count Text wire
// structs (x, y f64; color, length u32; fixed 32-byte text buffer).
func decodeTexts(raw []byte, count uint32) ([]rawText, error) {
	want := int(count) * textWireSize
	if len(raw) < want {
		return nil, newError(ErrMemoryMarshal, "debug texts: need %d bytes, have %d", want, len(raw))
	}
	texts := make([]rawText, count)
	for i := range texts {
		b := raw[i*textWireSize : i*textWireSize+textWireSize]
		texts[i] = rawText{
			x:      readFloat64LE(b[0:8]),
			y:      readFloat64LE(b[8:16]),
			color:  binary.LittleEndian.Uint32(b[16:20]),
			length: binary.LittleEndian.Uint32(b[20:24]),
			buf:    append([]byte(nil), b[24:24+textBufferCap]...),
		}
	}
	return texts, nil
}

// rawText is the decoded-but-not-yet-validated wire form of a guest Text.
type rawText struct {
	x, y   float64
	color  uint32
	length uint32
	buf    []byte
}

// convertColor unpacks a guest-side 0xRRGGBBAA color into RGBA bytes.
func convertColor(c uint32) [4]uint8 {
	return [4]uint8{
		uint8(c >> 24),
		uint8(c >> 16),
		uint8(c >> 8),
		uint8(c),
	}
}

// validateFloats reports whether every value is finite (not NaN, not
// infinite). A non-finite coordinate in a debug batch invalidates the
// whole batch, never just the one entry.
func validateFloats(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// validateLines reports whether every line's coordinates are finite.
func validateLines(lines []Line) bool {
	for _, l := range lines {
		if !validateFloats(l.A.X, l.A.Y, l.B.X, l.B.Y) {
			return false
		}
	}
	return true
}

// validateAndDecodeTexts reports whether every text's coordinates are
// finite and its declared length fits the wire buffer's capacity, and on
// success decodes the buffers into the simulation-facing Text values.
func validateAndDecodeTexts(raw []rawText) ([]Text, bool) {
	out := make([]Text, 0, len(raw))
	for _, t := range raw {
		if !validateFloats(t.x, t.y) {
			return nil, false
		}
		if t.length > textBufferCap {
			return nil, false
		}
		buf := t.buf[:t.length]
		if !utf8.Valid(buf) {
			return nil, false
		}
		out = append(out, Text{
			Position: Vec2{X: t.x, Y: t.y},
			Color:    convertColor(t.color),
			Value:    string(buf),
		})
	}
	return out, true
}
