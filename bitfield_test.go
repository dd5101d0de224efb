package tdb

import "testing"

func TestBitfieldRoundTripAtEveryAlignment(t *testing.T) {
	widths := []uint8{1, 2, 4, 8, 16, 32, 64}
	for _, width := range widths {
		for bitOffset := 0; bitOffset < 64; bitOffset += 3 {
			data := make([]byte, 32)
			var value uint64
			if width == 64 {
				value = 0xDEADBEEFCAFEBABE
			} else {
				value = (uint64(1) << width) - 1
				value ^= value >> 1 // an alternating-ish pattern, not all-ones
			}
			setBitfield(data, bitOffset, width, value)
			got := getBitfield(data, bitOffset, width)
			if got != value {
				t.Errorf("width=%d bitOffset=%d: got %x, want %x", width, bitOffset, got, value)
			}
		}
	}
}

func TestBitfieldDoesNotDisturbNeighbors(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = 0xFF
	}
	setBitfield(data, 20, 8, 0)
	if getBitfield(data, 20, 8) != 0 {
		t.Fatalf("field not zeroed")
	}
	if getBitfield(data, 12, 8) != 0xFF {
		t.Errorf("neighbor before field was disturbed")
	}
	if getBitfield(data, 28, 8) != 0xFF {
		t.Errorf("neighbor after field was disturbed")
	}
}

func TestSignExtend(t *testing.T) {
	cases := []struct {
		v     uint64
		width uint8
		want  int64
	}{
		{0x0F, 4, 15}, // sub-byte widths are unsigned-magnitude: no sign bit
		{0x07, 4, 7},
		{0x80, 8, -128},
		{0x7F, 8, 127},
		{0, 1, 0},
		{1, 1, 1},
	}
	for _, c := range cases {
		got := signExtend(c.v, c.width)
		if got != c.want {
			t.Errorf("signExtend(%#x, %d) = %d, want %d", c.v, c.width, got, c.want)
		}
	}
}
