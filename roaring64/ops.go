// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring64

import (
	"container/heap"

	"github.com/featurebasedb/roaring"
)

// Binary set algebra walks both outer maps in key order, delegating
// matched keys to the 32-bit engine and dropping empty results.

// Union returns the union of b and other.
func (b *Bitmap) Union(other *Bitmap) *Bitmap {
	if b == other {
		return b.Clone()
	}
	output := New()
	ki, bi := b.keys, b.bitmaps
	kj, bj := other.keys, other.bitmaps
	for len(ki) > 0 || len(kj) > 0 {
		if len(kj) == 0 || (len(ki) > 0 && ki[0] < kj[0]) {
			output.appendInner(ki[0], bi[0].Clone())
			ki, bi = ki[1:], bi[1:]
		} else if len(ki) == 0 || (len(kj) > 0 && kj[0] < ki[0]) {
			output.appendInner(kj[0], bj[0].Clone())
			kj, bj = kj[1:], bj[1:]
		} else {
			output.appendInner(ki[0], bi[0].Union(bj[0]))
			ki, bi = ki[1:], bi[1:]
			kj, bj = kj[1:], bj[1:]
		}
	}
	output.removeEmpty()
	return output
}

// UnionInPlace unions other into b.
func (b *Bitmap) UnionInPlace(other *Bitmap) {
	if b == other {
		return
	}
	for j, key := range other.keys {
		i := search32(b.keys, key)
		if i < 0 {
			b.insertAt(key, other.bitmaps[j].Clone(), -i-1)
			continue
		}
		b.bitmaps[i].UnionInPlace(other.bitmaps[j])
	}
}

// Intersect returns the intersection of b and other.
func (b *Bitmap) Intersect(other *Bitmap) *Bitmap {
	if b == other {
		return b.Clone()
	}
	output := New()
	ki, bi := b.keys, b.bitmaps
	kj, bj := other.keys, other.bitmaps
	for len(ki) > 0 && len(kj) > 0 {
		if ki[0] < kj[0] {
			ki, bi = ki[1:], bi[1:]
		} else if ki[0] > kj[0] {
			kj, bj = kj[1:], bj[1:]
		} else {
			output.appendInner(ki[0], bi[0].Intersect(bj[0]))
			ki, bi = ki[1:], bi[1:]
			kj, bj = kj[1:], bj[1:]
		}
	}
	output.removeEmpty()
	return output
}

// IntersectInPlace intersects other into b.
func (b *Bitmap) IntersectInPlace(other *Bitmap) {
	if b == other {
		return
	}
	result := b.Intersect(other)
	b.keys, b.bitmaps = result.keys, result.bitmaps
}

// IntersectionCount returns the cardinality of the intersection
// without materializing it.
func (b *Bitmap) IntersectionCount(other *Bitmap) (n uint64) {
	if b == other {
		n, _ = b.CountWithFull()
		return n
	}
	for i, j := 0, 0; i < len(b.keys) && j < len(other.keys); {
		ki, kj := b.keys[i], other.keys[j]
		if ki < kj {
			i++
		} else if ki > kj {
			j++
		} else {
			n += b.bitmaps[i].IntersectionCount(other.bitmaps[j])
			i, j = i+1, j+1
		}
	}
	return n
}

// Difference returns the values in b that are not in other.
func (b *Bitmap) Difference(other *Bitmap) *Bitmap {
	if b == other {
		return New()
	}
	output := New()
	ki, bi := b.keys, b.bitmaps
	kj, bj := other.keys, other.bitmaps
	for len(ki) > 0 {
		if len(kj) == 0 || ki[0] < kj[0] {
			output.appendInner(ki[0], bi[0].Clone())
			ki, bi = ki[1:], bi[1:]
		} else if ki[0] > kj[0] {
			kj, bj = kj[1:], bj[1:]
		} else {
			output.appendInner(ki[0], bi[0].Difference(bj[0]))
			ki, bi = ki[1:], bi[1:]
			kj, bj = kj[1:], bj[1:]
		}
	}
	output.removeEmpty()
	return output
}

// DifferenceInPlace removes the values of other from b.
func (b *Bitmap) DifferenceInPlace(other *Bitmap) {
	if b == other {
		b.Clear()
		return
	}
	result := b.Difference(other)
	b.keys, b.bitmaps = result.keys, result.bitmaps
}

// Xor returns the symmetric difference of b and other.
func (b *Bitmap) Xor(other *Bitmap) *Bitmap {
	if b == other {
		return New()
	}
	output := New()
	ki, bi := b.keys, b.bitmaps
	kj, bj := other.keys, other.bitmaps
	for len(ki) > 0 || len(kj) > 0 {
		if len(kj) == 0 || (len(ki) > 0 && ki[0] < kj[0]) {
			output.appendInner(ki[0], bi[0].Clone())
			ki, bi = ki[1:], bi[1:]
		} else if len(ki) == 0 || (len(kj) > 0 && kj[0] < ki[0]) {
			output.appendInner(kj[0], bj[0].Clone())
			kj, bj = kj[1:], bj[1:]
		} else {
			output.appendInner(ki[0], bi[0].Xor(bj[0]))
			ki, bi = ki[1:], bi[1:]
			kj, bj = kj[1:], bj[1:]
		}
	}
	output.removeEmpty()
	return output
}

// XorInPlace replaces b with the symmetric difference of b and other.
func (b *Bitmap) XorInPlace(other *Bitmap) {
	if b == other {
		b.Clear()
		return
	}
	result := b.Xor(other)
	b.keys, b.bitmaps = result.keys, result.bitmaps
}

func (b *Bitmap) appendInner(key uint32, ib *roaring.Bitmap) {
	b.keys = append(b.keys, key)
	b.bitmaps = append(b.bitmaps, ib)
}

// outerCursor walks one input's outer entries during FastUnion.
type outerCursor struct {
	keys    []uint32
	bitmaps []*roaring.Bitmap
}

func (c *outerCursor) key() uint32 { return c.keys[0] }

func (c *outerCursor) advance() bool {
	c.keys = c.keys[1:]
	c.bitmaps = c.bitmaps[1:]
	return len(c.keys) > 0
}

// cursorHeap is a priority queue of cursors ordered by their current
// outer key.
type cursorHeap []*outerCursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].key() < h[j].key() }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*outerCursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// FastUnion returns the union of any number of bitmaps. It advances a
// cursor per input through a priority queue keyed by outer key; all
// cursors sitting on the frontier key are gathered and their inner
// bitmaps unioned in one many-way pass, so each output entry is built
// exactly once. The inputs are not modified.
func FastUnion(bitmaps ...*Bitmap) *Bitmap {
	h := make(cursorHeap, 0, len(bitmaps))
	for _, b := range bitmaps {
		if b != nil && len(b.keys) > 0 {
			h = append(h, &outerCursor{keys: b.keys, bitmaps: b.bitmaps})
		}
	}
	heap.Init(&h)

	output := New()
	gathered := make([]*outerCursor, 0, len(h))
	inners := make([]*roaring.Bitmap, 0, len(h))
	for h.Len() > 0 {
		frontier := h[0].key()
		gathered = gathered[:0]
		inners = inners[:0]
		for h.Len() > 0 && h[0].key() == frontier {
			cur := heap.Pop(&h).(*outerCursor)
			gathered = append(gathered, cur)
			if ib := cur.bitmaps[0]; !ib.IsEmpty() {
				inners = append(inners, ib)
			}
		}

		switch len(inners) {
		case 0:
			// Every input held an empty inner here; emit nothing.
		case 1:
			output.appendInner(frontier, inners[0].Clone())
		default:
			target := roaring.NewBitmap()
			target.UnionInPlace(inners...)
			output.appendInner(frontier, target)
		}

		for _, cur := range gathered {
			if cur.advance() {
				heap.Push(&h, cur)
			}
		}
	}
	return output
}
