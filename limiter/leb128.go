// Package limiter rewrites WebAssembly module bytes to weave in
// gas-accounting instrumentation, so that a guest module which never
// terminates on its own still yields control back to the host.
package limiter

import "fmt"

// readULEB128 decodes an unsigned LEB128 integer starting at buf[pos],
// returning the value and the position just past it.
func readULEB128(buf []byte, pos int) (uint64, int, error) {
	var result uint64
	var shift uint
	start := pos
	for {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("limiter: truncated uleb128 at offset %d", start)
		}
		b := buf[pos]
		pos++
		result |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, 0, fmt.Errorf("limiter: uleb128 too long at offset %d", start)
		}
	}
	return result, pos, nil
}

// readSLEB128 decodes a signed LEB128 integer starting at buf[pos].
func readSLEB128(buf []byte, pos int) (int64, int, error) {
	var result int64
	var shift uint
	start := pos
	var b byte
	for {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("limiter: truncated sleb128 at offset %d", start)
		}
		b = buf[pos]
		pos++
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift > 63 {
			return 0, 0, fmt.Errorf("limiter: sleb128 too long at offset %d", start)
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, pos, nil
}

// putULEB128 appends the unsigned LEB128 encoding of v to buf.
func putULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			break
		}
	}
	return buf
}

// putSLEB128 appends the signed LEB128 encoding of v to buf.
func putSLEB128(buf []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7F)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

// putVecLenPrefixed wraps payload with its own uleb128-encoded byte
// length, the shape every WASM section and sized vector uses.
func putVecLenPrefixed(payload []byte) []byte {
	out := putULEB128(nil, uint64(len(payload)))
	return append(out, payload...)
}
