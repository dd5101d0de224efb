package tdb

import "encoding/binary"

// bitfield.go implements the general bit-packed field reader/writer
// from spec §4.3.1: read/write arbitrary (<=64-bit) fields at arbitrary
// bit alignment within a byte slice, handling fields that straddle a
// 64-bit word boundary. Grounded on the teacher's bitmap-position
// arithmetic in Utils.go (getPosition/isBitSet/setBit operate on fixed
// 32-bit sub-bitmaps with shift/mask); generalized here to an arbitrary
// step/width pair because the primitive array needs every width in
// {1,2,4,8,16,32,64}, not just single-bit tests.

// getBitfield reads a width-bit (width <= 64) unsigned field from data
// starting at bitOffset. It combines the high bits of one 64-bit word
// with the low bits of the next when the field straddles a word
// boundary.
func getBitfield(data []byte, bitOffset int, width uint8) uint64 {
	if width == 0 {
		return 0
	}

	byteOffset := bitOffset / 8
	bitInByte := uint(bitOffset % 8)

	// Load up to 16 bytes starting at byteOffset so a <=64-bit field at
	// any sub-byte alignment is fully covered by two 64-bit words.
	var buf [16]byte
	n := copy(buf[:], data[byteOffset:])
	_ = n // short reads beyond len(data) leave trailing zero bytes, valid for "reads as 0" semantics

	lo := binary.LittleEndian.Uint64(buf[0:8])
	hi := binary.LittleEndian.Uint64(buf[8:16])

	lo >>= bitInByte
	if bitInByte > 0 {
		// bring in low (bitInByte) bits from hi to fill the top of lo
		lo |= hi << (64 - bitInByte)
	}

	if width == 64 {
		return lo
	}
	mask := (uint64(1) << width) - 1
	return lo & mask
}

// setBitfield writes the low `width` bits of value into data starting
// at bitOffset, leaving surrounding bits untouched.
func setBitfield(data []byte, bitOffset int, width uint8, value uint64) {
	if width == 0 {
		return
	}

	byteOffset := bitOffset / 8
	bitInByte := uint(bitOffset % 8)

	var mask uint64
	if width == 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1) << width) - 1
	}
	value &= mask

	var buf [16]byte
	copy(buf[:], data[byteOffset:min(byteOffset+16, len(data))])

	lo := binary.LittleEndian.Uint64(buf[0:8])
	hi := binary.LittleEndian.Uint64(buf[8:16])

	shiftedMask := mask << bitInByte
	shiftedValue := value << bitInByte
	lo = (lo &^ shiftedMask) | (shiftedValue & shiftedMask)

	if bitInByte > 0 && bitInByte+uint(width) > 64 {
		overflowBits := bitInByte + uint(width) - 64
		hiMask := (uint64(1) << overflowBits) - 1
		hiValue := value >> (64 - bitInByte)
		hi = (hi &^ hiMask) | (hiValue & hiMask)
	}

	binary.LittleEndian.PutUint64(buf[0:8], lo)
	binary.LittleEndian.PutUint64(buf[8:16], hi)

	copy(data[byteOffset:min(byteOffset+16, len(data))], buf[:min(16, len(data)-byteOffset)])
}

// signExtend sign-extends the low `width` bits of v, treating bit
// (width-1) as the sign bit. Spec §4.3.1: "Sign-extension is a separate
// explicit operation." Only applies to widths >= 8: per
// original_source/src/realm/array.cpp's bit_width table, the sub-byte
// widths (1, 2, 4) carry an unsigned magnitude and are never
// two's-complement, so they pass through unchanged.
func signExtend(v uint64, width uint8) int64 {
	if width == 0 || width < 8 || width == 64 {
		return int64(v)
	}
	shift := 64 - width
	return int64(v<<shift) >> shift
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
