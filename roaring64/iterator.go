// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring64

import "github.com/featurebasedb/roaring"

// Iterator yields the values of a 64-bit bitmap in ascending order.
// It holds an outer position and an inner 32-bit iterator; advancing
// past an exhausted inner moves the outer forward until a non-empty
// inner is found.
type Iterator struct {
	bitmap *Bitmap
	i      int
	inner  *roaring.Iterator
}

// Iterator returns a new iterator over the bitmap.
func (b *Bitmap) Iterator() *Iterator {
	return &Iterator{bitmap: b, i: -1}
}

// Reset restarts the iterator from the beginning.
func (itr *Iterator) Reset() {
	itr.i = -1
	itr.inner = nil
}

// Next returns the next value in the bitmap. Returns eof as true when
// the iterator is exhausted.
func (itr *Iterator) Next() (v uint64, eof bool) {
	for {
		if itr.inner == nil {
			itr.i++
			if itr.i >= len(itr.bitmap.bitmaps) {
				return 0, true
			}
			itr.inner = itr.bitmap.bitmaps[itr.i].Iterator()
		}
		lv, leof := itr.inner.Next()
		if leof {
			itr.inner = nil
			continue
		}
		return uint64(itr.bitmap.keys[itr.i])<<32 | uint64(lv), false
	}
}

// ReverseIterator yields the values of a 64-bit bitmap in descending
// order. Rather than adapting the forward iterator, it steps direct
// descending cursors, which avoids re-walking the outer map on every
// decrement.
type ReverseIterator struct {
	bitmap *Bitmap
	i      int
	inner  *roaring.ReverseIterator
}

// ReverseIterator returns an iterator positioned after the highest
// value in the bitmap.
func (b *Bitmap) ReverseIterator() *ReverseIterator {
	return &ReverseIterator{bitmap: b, i: len(b.bitmaps)}
}

// Next returns the next value in descending order. Returns eof as
// true when the iterator is exhausted.
func (itr *ReverseIterator) Next() (v uint64, eof bool) {
	for {
		if itr.inner == nil {
			itr.i--
			if itr.i < 0 {
				return 0, true
			}
			itr.inner = itr.bitmap.bitmaps[itr.i].ReverseIterator()
		}
		lv, leof := itr.inner.Next()
		if leof {
			itr.inner = nil
			continue
		}
		return uint64(itr.bitmap.keys[itr.i])<<32 | uint64(lv), false
	}
}
