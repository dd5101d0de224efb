package tdb

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	cases := []NodeHeader{
		{Size: 0, Scheme: SchemeBits, Width: 0, Flags: 0, Capacity: 8},
		{Size: 1000, Scheme: SchemeBits, Width: 4, Flags: FlagHasRefs, Capacity: 4096},
		{Size: 0xFFFFFF, Scheme: SchemeMultiply, Width: 64, Flags: FlagInnerBPTreeNode | FlagHasRefs | FlagContext, Capacity: 0xAABBCCDD},
	}
	for _, h := range cases {
		buf := make([]byte, HeaderSize)
		if err := encodeHeader(h, buf); err != nil {
			t.Fatalf("encodeHeader(%+v): %v", h, err)
		}
		got, err := decodeHeader(buf)
		if err != nil {
			t.Fatalf("decodeHeader: %v", err)
		}
		if got != h {
			t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestHeaderRejectsOversizeAndBadWidth(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if err := encodeHeader(NodeHeader{Size: 1 << 24}, buf); err == nil {
		t.Errorf("expected error for size exceeding 2^24-1")
	}
	if err := encodeHeader(NodeHeader{Width: 3}, buf); err == nil {
		t.Errorf("expected error for width not in allowed set")
	}
}

func TestSelectWidthPicksSmallestFit(t *testing.T) {
	cases := []struct {
		v    int64
		want uint8
	}{
		{0, 0},
		{1, 1},
		{-1, 8}, // sub-byte widths are unsigned-magnitude; any negative value needs a signed (>=8) width
		{127, 8},
		{128, 16},
		{-128, 8},
		{-129, 16},
		{1 << 40, 64},
	}
	for _, c := range cases {
		got := selectWidth(c.v)
		if got != c.want {
			t.Errorf("selectWidth(%d) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestNodeByteSizeRoundsUpToMultipleOf8(t *testing.T) {
	size := nodeByteSize(SchemeBits, 1, 3) // 8-byte header + ceil(3*1/8)=1 byte -> 9, rounds to 16
	if size%8 != 0 {
		t.Fatalf("nodeByteSize result %d not a multiple of 8", size)
	}
	if size != 16 {
		t.Errorf("nodeByteSize(Bits, 1, 3) = %d, want 16", size)
	}
}

func TestWidthForTracksExpandingRange(t *testing.T) {
	w := widthFor(0, 0, 0)
	if w != 0 {
		t.Fatalf("widthFor(0,0,0) = %d, want 0", w)
	}
	w = widthFor(0, 0, 200)
	if w != 16 {
		t.Errorf("widthFor(0,0,200) = %d, want 16", w)
	}
	w = widthFor(-100, 100, -200)
	if w != 16 {
		t.Errorf("widthFor(-100,100,-200) = %d, want 16", w)
	}
}
