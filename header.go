package tdb

// header.go implements the stateless 8-byte node header codec from
// spec §3.2 and §4.2. Grounded on the teacher's fixed-layout node
// header (sirgallo/mari Types.go's offset constants NodeVersionIdx..
// NodeChildrenIdx and Serialize.go's serializeINode/DeserializeINode),
// generalized from the teacher's version/offset/bitmap/leaf-offset
// layout to the width-scheme/width-index/flags/capacity layout spec.md
// requires. Pure functions over a byte slice, no receiver state, same
// as the teacher's serialize/deserialize helpers.

// WidthScheme selects how a node's payload bytes are interpreted.
type WidthScheme uint8

const (
	// SchemeBits: width is measured in bits, <= 8.
	SchemeBits WidthScheme = iota
	// SchemeMultiply: width is measured in bytes.
	SchemeMultiply
	// SchemeIgnore: variable/blob payload, "width" is meaningless.
	SchemeIgnore
)

// Flag bits packed into the header's 3 flag bits.
const (
	FlagInnerBPTreeNode uint8 = 1 << 0
	FlagHasRefs         uint8 = 1 << 1
	FlagContext         uint8 = 1 << 2
)

// HeaderSize is the fixed size, in bytes, of every node header.
const HeaderSize = 8

// allowedWidths is the width lookup table indexed by the header's
// 3-bit width index (spec §3.2: "encodes per-element width from
// {0,1,2,4,8,16,32,64}").
var allowedWidths = [8]uint8{0, 1, 2, 4, 8, 16, 32, 64}

// widthToIndex inverts allowedWidths; returns false for a width not in
// the allowed set.
func widthToIndex(width uint8) (uint8, bool) {
	switch width {
	case 0:
		return 0, true
	case 1:
		return 1, true
	case 2:
		return 2, true
	case 4:
		return 3, true
	case 8:
		return 4, true
	case 16:
		return 5, true
	case 32:
		return 6, true
	case 64:
		return 7, true
	default:
		return 0, false
	}
}

// NodeHeader is the decoded form of the 8-byte on-disk header.
type NodeHeader struct {
	Size     uint32 // 24-bit logical element count
	Scheme   WidthScheme
	Width    uint8 // one of allowedWidths
	Flags    uint8 // 3 bits: FlagInnerBPTreeNode | FlagHasRefs | FlagContext
	Capacity uint32 // mutable region: total allocated bytes incl. header; immutable region: checksum
}

func (h NodeHeader) HasFlag(f uint8) bool { return h.Flags&f != 0 }

// encodeHeader produces the 8-byte on-disk header. Caller is
// responsible for ensuring Size fits 24 bits and Width is in the
// allowed set; both are invariants enforced by every producer (array.go,
// column.go) before calling this.
func encodeHeader(h NodeHeader, out []byte) error {
	if len(out) < HeaderSize {
		return invariantErr("header buffer too small")
	}
	if h.Size > 0xFFFFFF {
		return capacityErr("node size exceeds 2^24-1 elements")
	}
	widthIdx, ok := widthToIndex(h.Width)
	if !ok {
		return invariantErr("width not in allowed set {0,1,2,4,8,16,32,64}")
	}
	if h.Scheme > SchemeIgnore {
		return invariantErr("invalid width scheme")
	}
	if h.Flags > 0x7 {
		return invariantErr("flags exceed 3 bits")
	}

	out[0] = byte(h.Size)
	out[1] = byte(h.Size >> 8)
	out[2] = byte(h.Size >> 16)
	out[3] = (uint8(h.Scheme) << 6) | (widthIdx << 3) | h.Flags

	out[4] = byte(h.Capacity)
	out[5] = byte(h.Capacity >> 8)
	out[6] = byte(h.Capacity >> 16)
	out[7] = byte(h.Capacity >> 24)

	return nil
}

// decodeHeader parses the 8-byte on-disk header, validating every
// invariant spec §8 names as universal: width in the allowed set,
// scheme in range.
func decodeHeader(in []byte) (NodeHeader, error) {
	if len(in) < HeaderSize {
		return NodeHeader{}, corruptionErr("header buffer too small", nil)
	}

	size := uint32(in[0]) | uint32(in[1])<<8 | uint32(in[2])<<16
	packed := in[3]
	scheme := WidthScheme(packed >> 6)
	widthIdx := (packed >> 3) & 0x7
	flags := packed & 0x7

	if scheme > SchemeIgnore {
		return NodeHeader{}, corruptionErr("invalid width scheme in header", nil)
	}
	width := allowedWidths[widthIdx]

	capacity := uint32(in[4]) | uint32(in[5])<<8 | uint32(in[6])<<16 | uint32(in[7])<<24

	return NodeHeader{
		Size:     size,
		Scheme:   scheme,
		Width:    width,
		Flags:    flags,
		Capacity: capacity,
	}, nil
}

// payloadByteSize computes the number of payload bytes (excluding the
// 8-byte header) a node of the given scheme/width/size occupies, per
// spec §4.2: "ceil(size * width / 8) + 8, then rounded up to a
// multiple of 8" for the Bits scheme, and the analogous Multiply/Ignore
// forms from spec §6.1.
func payloadByteSize(scheme WidthScheme, width uint8, size uint32) uint64 {
	switch scheme {
	case SchemeBits:
		bits := uint64(size) * uint64(width)
		return (bits + 7) / 8
	case SchemeMultiply:
		// Width is carried uniformly as a bit-width from allowedWidths;
		// Multiply interprets it as width/8 bytes per element. For the
		// widths that use this scheme (16,32,64) this is exact since
		// they are all multiples of 8.
		return uint64(size) * uint64(width/8)
	case SchemeIgnore:
		return uint64(size)
	default:
		return 0
	}
}

// schemeForWidth picks the width scheme a primitive array node should
// declare for a given element bit-width: sub-byte and byte widths pack
// bit-for-bit (Bits), wider fields are plain byte multiples (Multiply).
// Spec §3.2: "Bits (width measured in bits, <=8), Multiply (width in
// bytes)".
func schemeForWidth(width uint8) WidthScheme {
	if width <= 8 {
		return SchemeBits
	}
	return SchemeMultiply
}

// nodeByteSize computes the total allocation size (header + payload),
// rounded up to a multiple of 8, per spec §3.2 ("A node's total byte
// size is always rounded up to a multiple of 8") and §4.2.
func nodeByteSize(scheme WidthScheme, width uint8, size uint32) uint64 {
	total := uint64(HeaderSize) + payloadByteSize(scheme, width, size)
	return roundUp8(total)
}

func roundUp8(n uint64) uint64 {
	return (n + 7) &^ 7
}

// selectWidth implements the width-selection rule of spec §4.2: the
// smallest power of two w in {0,1,2,4,8,16,32,64} such that v fits.
// Per original_source/src/realm/array.cpp's bit_width table, the
// sub-byte widths (1,2,4) hold an unsigned magnitude only -- they can
// never represent a negative value, no matter how small -- and only
// widths >= 8 switch to two's-complement signed. width=0 is only valid
// when v==0.
func selectWidth(v int64) uint8 {
	if v == 0 {
		return 0
	}
	if v > 0 {
		for _, w := range []uint8{1, 2, 4} {
			if fitsUnsignedWidth(v, w) {
				return w
			}
		}
	}
	for _, w := range []uint8{8, 16, 32, 64} {
		if fitsSignedWidth(v, w) {
			return w
		}
	}
	// Unreachable: every int64 fits in 64 bits.
	return 64
}

// fitsUnsignedWidth reports whether v fits the unsigned magnitude range
// [0, 2^width-1] of a sub-byte width (1, 2, or 4 bits).
func fitsUnsignedWidth(v int64, width uint8) bool {
	max := (int64(1) << width) - 1
	return v <= max
}

// fitsSignedWidth reports whether v fits a two's-complement signed
// integer of the given bit width (8, 16, 32, or 64).
func fitsSignedWidth(v int64, width uint8) bool {
	if width >= 64 {
		return true
	}
	min := int64(-1) << (width - 1)
	max := (int64(1) << (width - 1)) - 1
	return v >= min && v <= max
}

// fitsWidth reports whether v can be stored in-place at the given
// existing element width without widening, honoring the same
// unsigned-magnitude-below-8-bits / signed-at-and-above-8-bits split as
// selectWidth.
func fitsWidth(v int64, width uint8) bool {
	if width == 0 {
		return v == 0
	}
	if width < 8 {
		return v >= 0 && fitsUnsignedWidth(v, width)
	}
	return fitsSignedWidth(v, width)
}

// widthFor returns the minimal width that accommodates both the
// existing minimum/maximum of a value set and a candidate new value,
// per spec §3.3 ("smallest power of two ... that holds the current
// minimum and maximum values").
func widthFor(min, max, candidate int64) uint8 {
	if candidate < min {
		min = candidate
	}
	if candidate > max {
		max = candidate
	}
	wMin := selectWidth(min)
	wMax := selectWidth(max)
	if wMin > wMax {
		return wMin
	}
	return wMax
}
