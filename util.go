package tdb

import "github.com/sirgallo/utils"

// util.go collects the handful of small generic helpers the rest of
// the engine leans on, rather than hand-rolling them inline at each
// call site. Grounded on the teacher's own go.mod, which already pulls
// in sirgallo/utils as its general-purpose generics package.

// clampUint32 bounds v to [lo, hi], used by the B+-tree split paths in
// column.go/index.go to keep a computed split point inside a node's
// current element range.
func clampUint32(v, lo, hi uint32) uint32 {
	return utils.Max(lo, utils.Min(v, hi))
}

// zeroOf returns T's zero value; used by the node-decoding helpers in
// column.go/index.go that need an explicit "absent" result alongside
// an error, without spelling out a type-specific zero literal.
func zeroOf[T any]() T {
	return utils.GetZero[T]()
}
