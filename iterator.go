// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring

import "math/bits"

// Iterator represents an iterator over a Bitmap. It yields values in
// ascending order and is restartable via Seek.
type Iterator struct {
	bitmap *Bitmap
	i, j   int // i: container index; j: array index, bit index, or run index
	k      int // offset within the current run
}

// eof returns true if the iterator is at the end of the bitmap.
func (itr *Iterator) eof() bool { return itr.i >= len(itr.bitmap.containers) }

// Seek moves to the first value equal to or greater than seek.
func (itr *Iterator) Seek(seek uint32) {
	// Move to the correct container.
	itr.i = searchKeys(itr.bitmap.keys, highbits(seek))
	if itr.i < 0 {
		itr.i = -itr.i - 1
	}
	itr.j, itr.k = -1, -1
	if itr.eof() {
		return
	}

	c := itr.bitmap.containers[itr.i]
	if itr.bitmap.keys[itr.i] != highbits(seek) {
		// Landed on a later container; start from its beginning.
		if c.isRun() {
			itr.j = 0
		}
		return
	}

	lb := lowbits(seek)
	switch c.typ {
	case containerArray:
		// Find the index just before the first value >= lb.
		j := search16(c.array, lb)
		if j < 0 {
			j = -j - 1
		}
		if j < len(c.array) {
			itr.j = j - 1
			return
		}
		// Past the end of the container; move to the next one.
		itr.advance()
	case containerRun:
		j, contains := c.searchRuns(lb)
		itr.j = j
		if contains {
			itr.k = int(lb) - int(c.runs[j].start) - 1
		}
	default:
		// Bitmap container: position just before lb and let Next scan.
		itr.j = int(lb) - 1
	}
}

// Next returns the next value in the bitmap. Returns eof as true when
// the iterator is exhausted.
func (itr *Iterator) Next() (v uint32, eof bool) {
	for {
		if itr.eof() {
			return 0, true
		}

		c := itr.bitmap.containers[itr.i]
		switch c.typ {
		case containerArray:
			if itr.j >= len(c.array)-1 {
				itr.advance()
				continue
			}
			itr.j++
			return itr.peek(), false

		case containerRun:
			if itr.j >= len(c.runs) {
				itr.advance()
				continue
			}
			if itr.k >= int(c.runs[itr.j].last-c.runs[itr.j].start) {
				// Reached the end of the run, move to the next run.
				itr.j, itr.k = itr.j+1, -1
				if itr.j >= len(c.runs) {
					itr.advance()
					continue
				}
			}
			itr.k++
			return itr.peek(), false

		default:
			// Move to the next possible index in the bitmap container.
			itr.j++
			hb := itr.j / 64
			if hb >= len(c.bitmap) {
				itr.advance()
				continue
			}
			if w := c.bitmap[hb] >> (uint(itr.j) % 64); w != 0 {
				itr.j += bits.TrailingZeros64(w)
				return itr.peek(), false
			}
			for hb++; hb < len(c.bitmap); hb++ {
				if c.bitmap[hb] != 0 {
					itr.j = hb*64 + bits.TrailingZeros64(c.bitmap[hb])
					return itr.peek(), false
				}
			}
			itr.advance()
		}
	}
}

// advance moves to the beginning of the next container.
func (itr *Iterator) advance() {
	itr.i, itr.j, itr.k = itr.i+1, -1, -1
	if !itr.eof() && itr.bitmap.containers[itr.i].isRun() {
		itr.j = 0
	}
}

// peek returns the current value.
func (itr *Iterator) peek() uint32 {
	key := itr.bitmap.keys[itr.i]
	c := itr.bitmap.containers[itr.i]
	switch c.typ {
	case containerArray:
		return uint32(key)<<16 | uint32(c.array[itr.j])
	case containerRun:
		return uint32(key)<<16 | uint32(c.runs[itr.j].start+uint16(itr.k))
	default:
		return uint32(key)<<16 | uint32(itr.j)
	}
}

// ReverseIterator yields the values of a bitmap in descending order.
// Decrementing a two-level cursor directly is cheaper than adapting
// the forward iterator, so the container positions are walked
// backwards natively.
type ReverseIterator struct {
	bitmap *Bitmap
	i, j   int // i: container index; j: array index, bit index, or run index
	k      int // offset within the current run
}

// ReverseIterator returns an iterator positioned after the highest
// value in the bitmap.
func (b *Bitmap) ReverseIterator() *ReverseIterator {
	itr := &ReverseIterator{bitmap: b, i: len(b.containers) - 1}
	itr.enter()
	return itr
}

// enter positions j (and k) just past the top of container i.
func (itr *ReverseIterator) enter() {
	if itr.i < 0 {
		return
	}
	c := itr.bitmap.containers[itr.i]
	switch c.typ {
	case containerArray:
		itr.j = len(c.array)
	case containerRun:
		itr.j = len(c.runs) - 1
		itr.k = 0
		if itr.j >= 0 {
			itr.k = int(c.runs[itr.j].last-c.runs[itr.j].start) + 1
		}
	default:
		itr.j = bitmapN * 64
	}
}

// Next returns the next value in descending order. Returns eof as true
// when the iterator is exhausted.
func (itr *ReverseIterator) Next() (v uint32, eof bool) {
	for {
		if itr.i < 0 {
			return 0, true
		}

		c := itr.bitmap.containers[itr.i]
		key := uint32(itr.bitmap.keys[itr.i]) << 16
		switch c.typ {
		case containerArray:
			if itr.j == 0 {
				itr.retreat()
				continue
			}
			itr.j--
			return key | uint32(c.array[itr.j]), false

		case containerRun:
			if itr.j < 0 {
				itr.retreat()
				continue
			}
			if itr.k == 0 {
				itr.j--
				if itr.j < 0 {
					itr.retreat()
					continue
				}
				itr.k = int(c.runs[itr.j].last-c.runs[itr.j].start) + 1
			}
			itr.k--
			return key | uint32(c.runs[itr.j].start+uint16(itr.k)), false

		default:
			itr.j--
			if itr.j < 0 {
				itr.retreat()
				continue
			}
			hb := itr.j / 64
			if w := c.bitmap[hb] << (63 - uint(itr.j)%64); w != 0 {
				itr.j -= bits.LeadingZeros64(w)
				return key | uint32(itr.j), false
			}
			for hb--; hb >= 0; hb-- {
				if c.bitmap[hb] != 0 {
					itr.j = hb*64 + 63 - bits.LeadingZeros64(c.bitmap[hb])
					return key | uint32(itr.j), false
				}
			}
			itr.retreat()
		}
	}
}

// retreat moves to the top of the previous container.
func (itr *ReverseIterator) retreat() {
	itr.i--
	itr.enter()
}
