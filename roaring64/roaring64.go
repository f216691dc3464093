// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package roaring64 extends the roaring package to the full 64-bit
// domain. A 64-bit value is sharded by its high 32 bits into an
// ordered map of 32-bit roaring bitmaps holding the low halves.
package roaring64

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/featurebasedb/roaring"
)

// ErrFullBitmap is returned by Count when the bitmap holds every
// 64-bit value; 1<<64 does not fit in a uint64.
var ErrFullBitmap = errors.New("roaring64: bitmap is full, cardinality does not fit in uint64")

// maxLowBits is the largest low half of a 64-bit value.
const maxLowBits = uint64(1)<<32 - 1

// Bitmap represents a roaring bitmap over the full uint64 domain.
type Bitmap struct {
	keys    []uint32          // sorted outer keys (high 32 bits)
	bitmaps []*roaring.Bitmap // parallel to keys

	cow bool
}

// New returns an empty 64-bit bitmap.
func New() *Bitmap {
	return &Bitmap{}
}

// From returns a bitmap holding the given values.
func From(a ...uint64) *Bitmap {
	b := New()
	b.AddMany(a)
	return b
}

// Clone returns a copy of the bitmap. With copy-on-write enabled the
// inner bitmaps share containers until one side mutates them.
func (b *Bitmap) Clone() *Bitmap {
	if b == nil {
		return nil
	}
	other := &Bitmap{
		keys:    make([]uint32, len(b.keys)),
		bitmaps: make([]*roaring.Bitmap, len(b.bitmaps)),
		cow:     b.cow,
	}
	copy(other.keys, b.keys)
	for i, ib := range b.bitmaps {
		other.bitmaps[i] = ib.Clone()
	}
	return other
}

// SetCopyOnWrite controls whether Clone shares container storage with
// the original, deferring copies to the first mutation.
func (b *Bitmap) SetCopyOnWrite(cow bool) {
	b.cow = cow
	for _, ib := range b.bitmaps {
		ib.SetCopyOnWrite(cow)
	}
}

// CopyOnWrite reports whether copy-on-write cloning is enabled.
func (b *Bitmap) CopyOnWrite() bool { return b.cow }

// Clear removes all values from the bitmap.
func (b *Bitmap) Clear() {
	b.keys = nil
	b.bitmaps = nil
}

// Swap exchanges the contents of b and other.
func (b *Bitmap) Swap(other *Bitmap) {
	b.keys, other.keys = other.keys, b.keys
	b.bitmaps, other.bitmaps = other.bitmaps, b.bitmaps
	b.cow, other.cow = other.cow, b.cow
}

// Add adds v to the bitmap.
func (b *Bitmap) Add(v uint64) {
	b.CheckedAdd(v)
}

// CheckedAdd adds v and reports whether it was absent.
func (b *Bitmap) CheckedAdd(v uint64) bool {
	hb := highbits(v)
	i := search32(b.keys, hb)
	if i < 0 {
		i = -i - 1
		b.insertAt(hb, b.newInner(), i)
	}
	return b.bitmaps[i].Add(lowbits(v))
}

// AddMany adds a batch of values, sorted first so inner lookups stay
// sequential. The input slice is not modified.
func (b *Bitmap) AddMany(a []uint64) {
	if len(a) == 0 {
		return
	}
	sorted := make([]uint64, len(a))
	copy(sorted, a)
	slices.Sort(sorted)
	for _, v := range sorted {
		b.CheckedAdd(v)
	}
}

// Remove removes v from the bitmap.
func (b *Bitmap) Remove(v uint64) {
	b.CheckedRemove(v)
}

// CheckedRemove removes v and reports whether it was present. An
// inner bitmap emptied by the removal is dropped.
func (b *Bitmap) CheckedRemove(v uint64) bool {
	i := search32(b.keys, highbits(v))
	if i < 0 {
		return false
	}
	changed := b.bitmaps[i].Remove(lowbits(v))
	if changed && b.bitmaps[i].IsEmpty() {
		b.removeAt(i)
	}
	return changed
}

// Contains returns true if v is in the bitmap.
func (b *Bitmap) Contains(v uint64) bool {
	i := search32(b.keys, highbits(v))
	if i < 0 {
		return false
	}
	return b.bitmaps[i].Contains(lowbits(v))
}

// Count returns the number of values in the bitmap. It fails with
// ErrFullBitmap when the bitmap holds every 64-bit value, since that
// cardinality does not fit in a uint64.
func (b *Bitmap) Count() (uint64, error) {
	n, full := b.CountWithFull()
	if full {
		return 0, ErrFullBitmap
	}
	return n, nil
}

// CountWithFull returns the number of values and whether the bitmap is
// completely full. When full is true the count is reported as 0.
func (b *Bitmap) CountWithFull() (n uint64, full bool) {
	for _, ib := range b.bitmaps {
		c := ib.Count()
		if n+c < n {
			// The only possible overflow is the fully saturated
			// bitmap: 1<<64 wraps to exactly zero.
			return 0, true
		}
		n += c
	}
	return n, false
}

// IsEmpty returns true if the bitmap holds no values.
func (b *Bitmap) IsEmpty() bool {
	for _, ib := range b.bitmaps {
		if !ib.IsEmpty() {
			return false
		}
	}
	return true
}

// IsFull returns true if the bitmap holds every value in the 64-bit
// domain.
func (b *Bitmap) IsFull() bool {
	_, full := b.CountWithFull()
	return full
}

// Min returns the lowest value in the bitmap, or 0 if it is empty.
// Empty inner bitmaps are skipped.
func (b *Bitmap) Min() uint64 {
	for i, ib := range b.bitmaps {
		if !ib.IsEmpty() {
			return uint64(b.keys[i])<<32 | uint64(ib.Min())
		}
	}
	return 0
}

// Max returns the highest value in the bitmap, or 0 if it is empty.
// Empty inner bitmaps are skipped.
func (b *Bitmap) Max() uint64 {
	for i := len(b.bitmaps) - 1; i >= 0; i-- {
		if ib := b.bitmaps[i]; !ib.IsEmpty() {
			return uint64(b.keys[i])<<32 | uint64(ib.Max())
		}
	}
	return 0
}

// Rank returns the number of values less than or equal to v.
func (b *Bitmap) Rank(v uint64) (n uint64) {
	hb := highbits(v)
	for i, key := range b.keys {
		if key > hb {
			break
		}
		if key < hb {
			n += b.bitmaps[i].Count()
			continue
		}
		n += b.bitmaps[i].Rank(lowbits(v))
	}
	return n
}

// Select returns the i'th smallest value (0-based) and true, or 0 and
// false when i is at least the cardinality.
func (b *Bitmap) Select(i uint64) (uint64, bool) {
	for k, ib := range b.bitmaps {
		cnt := ib.Count()
		if i < cnt {
			v, _ := ib.Select(i)
			return uint64(b.keys[k])<<32 | uint64(v), true
		}
		i -= cnt
	}
	return 0, false
}

// ContainsRange reports whether every value in [start, end] is
// present. start > end is vacuously true.
func (b *Bitmap) ContainsRange(start, end uint64) bool {
	if start > end {
		return true
	}
	hkLo, hkHi := highbits(start), highbits(end)
	for hk := uint64(hkLo); hk <= uint64(hkHi); hk++ {
		lo, hi := uint64(0), maxLowBits
		if hk == uint64(hkLo) {
			lo = uint64(lowbits(start))
		}
		if hk == uint64(hkHi) {
			hi = uint64(lowbits(end))
		}
		i := search32(b.keys, uint32(hk))
		if i < 0 {
			return false
		}
		if b.bitmaps[i].CountRange(lo, hi+1) != hi-lo+1 {
			return false
		}
	}
	return true
}

// Info returns stats for each outer entry.
func (b *Bitmap) Info() []EntryInfo {
	info := make([]EntryInfo, len(b.keys))
	for i, ib := range b.bitmaps {
		info[i] = EntryInfo{Key: b.keys[i], Inner: ib.Info()}
	}
	return info
}

// EntryInfo is a point-in-time snapshot of one outer entry.
type EntryInfo struct {
	Key   uint32
	Inner roaring.BitmapInfo
}

// AddRange adds all values in [start, end).
func (b *Bitmap) AddRange(start, end uint64) {
	if start >= end {
		return
	}
	b.AddRangeClosed(start, end-1)
}

// AddRangeClosed adds all values in [start, end]. start > end is a
// no-op.
func (b *Bitmap) AddRangeClosed(start, end uint64) {
	if start > end {
		return
	}
	hkLo, hkHi := highbits(start), highbits(end)
	for hk := uint64(hkLo); hk <= uint64(hkHi); hk++ {
		lo, hi := uint64(0), maxLowBits
		if hk == uint64(hkLo) {
			lo = uint64(lowbits(start))
		}
		if hk == uint64(hkHi) {
			hi = uint64(lowbits(end))
		}
		i := search32(b.keys, uint32(hk))
		if i < 0 {
			i = -i - 1
			b.insertAt(uint32(hk), b.newInner(), i)
		}
		b.bitmaps[i].AddRange(lo, hi+1)
	}
}

// RemoveRange removes all values in [start, end).
func (b *Bitmap) RemoveRange(start, end uint64) {
	if start >= end {
		return
	}
	b.RemoveRangeClosed(start, end-1)
}

// RemoveRangeClosed removes all values in [start, end]. start > end is
// a no-op.
func (b *Bitmap) RemoveRangeClosed(start, end uint64) {
	if start > end {
		return
	}
	hkLo, hkHi := highbits(start), highbits(end)
	for i := 0; i < len(b.keys); {
		key := b.keys[i]
		if key < hkLo {
			i++
			continue
		}
		if key > hkHi {
			break
		}
		lo, hi := uint64(0), maxLowBits
		if key == hkLo {
			lo = uint64(lowbits(start))
		}
		if key == hkHi {
			hi = uint64(lowbits(end))
		}
		ib := b.bitmaps[i]
		ib.RemoveRange(lo, hi+1)
		if ib.IsEmpty() {
			b.removeAt(i)
			continue
		}
		i++
	}
}

// Flip negates all values in [start, end) in place.
func (b *Bitmap) Flip(start, end uint64) {
	if start >= end {
		return
	}
	b.FlipClosed(start, end-1)
}

// FlipClosed negates all values in [start, end] in place. start > end
// is a no-op.
func (b *Bitmap) FlipClosed(start, end uint64) {
	if start > end {
		return
	}
	hkLo, hkHi := highbits(start), highbits(end)
	for hk := uint64(hkLo); hk <= uint64(hkHi); hk++ {
		lo, hi := uint64(0), maxLowBits
		if hk == uint64(hkLo) {
			lo = uint64(lowbits(start))
		}
		if hk == uint64(hkHi) {
			hi = uint64(lowbits(end))
		}
		i := search32(b.keys, uint32(hk))
		if i < 0 {
			i = -i - 1
			inner := b.newInner()
			inner.AddRange(lo, hi+1)
			b.insertAt(uint32(hk), inner, i)
			continue
		}
		ib := b.bitmaps[i]
		ib.FlipInPlace(lo, hi+1)
		if ib.IsEmpty() {
			b.removeAt(i)
		}
	}
}

// Equal reports whether b and other hold exactly the same values.
// Empty inner bitmaps on either side are skipped.
func (b *Bitmap) Equal(other *Bitmap) bool {
	if b == other {
		return true
	}
	i, j := 0, 0
	for {
		for i < len(b.bitmaps) && b.bitmaps[i].IsEmpty() {
			i++
		}
		for j < len(other.bitmaps) && other.bitmaps[j].IsEmpty() {
			j++
		}
		ieof := i >= len(b.bitmaps)
		jeof := j >= len(other.bitmaps)
		if ieof || jeof {
			return ieof && jeof
		}
		if b.keys[i] != other.keys[j] {
			return false
		}
		if !b.bitmaps[i].Equal(other.bitmaps[j]) {
			return false
		}
		i, j = i+1, j+1
	}
}

// Subset reports whether every value in b is also in other.
func (b *Bitmap) Subset(other *Bitmap) bool {
	if b == other {
		return true
	}
	for i, key := range b.keys {
		if b.bitmaps[i].IsEmpty() {
			continue
		}
		j := search32(other.keys, key)
		if j < 0 || !b.bitmaps[i].Subset(other.bitmaps[j]) {
			return false
		}
	}
	return true
}

// StrictSubset reports whether b is a subset of other and other holds
// at least one value that b does not.
func (b *Bitmap) StrictSubset(other *Bitmap) bool {
	if !b.Subset(other) {
		return false
	}
	nb, fb := b.CountWithFull()
	no, fo := other.CountWithFull()
	if fo {
		return !fb
	}
	return nb < no
}

// Optimize converts containers to run representation wherever that is
// strictly smaller. It reports whether any inner bitmap holds run
// containers afterwards.
func (b *Bitmap) Optimize() bool {
	hasRuns := false
	for _, ib := range b.bitmaps {
		if ib.Optimize() {
			hasRuns = true
		}
	}
	return hasRuns
}

// RemoveRunCompression converts run containers back to array or
// bitmap representation. It reports whether anything changed.
func (b *Bitmap) RemoveRunCompression() bool {
	changed := false
	for _, ib := range b.bitmaps {
		if ib.RemoveRunCompression() {
			changed = true
		}
	}
	return changed
}

// ShrinkToFit drops empty inner bitmaps, compacts the outer map and
// every inner bitmap, and returns an estimate of the heap bytes
// reclaimed.
func (b *Bitmap) ShrinkToFit() (saved uint64) {
	for i := 0; i < len(b.bitmaps); {
		if b.bitmaps[i].IsEmpty() {
			b.removeAt(i)
			continue
		}
		i++
	}
	if cap(b.keys) > len(b.keys) {
		saved += uint64(cap(b.keys)-len(b.keys)) * 4
		keys := make([]uint32, len(b.keys))
		copy(keys, b.keys)
		b.keys = keys
	}
	if cap(b.bitmaps) > len(b.bitmaps) {
		saved += uint64(cap(b.bitmaps)-len(b.bitmaps)) * 8
		bitmaps := make([]*roaring.Bitmap, len(b.bitmaps))
		copy(bitmaps, b.bitmaps)
		b.bitmaps = bitmaps
	}
	for _, ib := range b.bitmaps {
		saved += ib.ShrinkToFit()
	}
	return saved
}

// Slice returns a slice of all values in the bitmap, ascending.
func (b *Bitmap) Slice() []uint64 {
	n, full := b.CountWithFull()
	if full {
		// A materialized full bitmap cannot be allocated.
		panic("roaring64: cannot slice a full bitmap")
	}
	a := make([]uint64, 0, n)
	itr := b.Iterator()
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		a = append(a, v)
	}
	return a
}

// ForEach executes fn for each value in the bitmap in ascending
// order.
func (b *Bitmap) ForEach(fn func(uint64)) {
	itr := b.Iterator()
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		fn(v)
	}
}

// String returns a human-readable rendering of the bitmap, capped at
// the first several values.
func (b *Bitmap) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	itr := b.Iterator()
	for i := 0; ; i++ {
		v, eof := itr.Next()
		if eof {
			break
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		if i == 16 {
			sb.WriteString("...")
			break
		}
		fmt.Fprintf(&sb, "%d", v)
	}
	sb.WriteByte('}')
	return sb.String()
}

// newInner returns an empty inner bitmap inheriting the copy-on-write
// policy.
func (b *Bitmap) newInner() *roaring.Bitmap {
	inner := roaring.NewBitmap()
	inner.SetCopyOnWrite(b.cow)
	return inner
}

func (b *Bitmap) insertAt(key uint32, ib *roaring.Bitmap, i int) {
	b.keys = append(b.keys, 0)
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = key

	b.bitmaps = append(b.bitmaps, nil)
	copy(b.bitmaps[i+1:], b.bitmaps[i:])
	b.bitmaps[i] = ib
}

func (b *Bitmap) removeAt(i int) {
	b.keys = append(b.keys[:i], b.keys[i+1:]...)
	copy(b.bitmaps[i:], b.bitmaps[i+1:])
	b.bitmaps[len(b.bitmaps)-1] = nil
	b.bitmaps = b.bitmaps[:len(b.bitmaps)-1]
}

// removeEmpty drops inner bitmaps emptied by a set operation.
func (b *Bitmap) removeEmpty() {
	for i := 0; i < len(b.bitmaps); {
		if b.bitmaps[i].IsEmpty() {
			b.removeAt(i)
			continue
		}
		i++
	}
}

func highbits(v uint64) uint32 { return uint32(v >> 32) }
func lowbits(v uint64) uint32  { return uint32(v) }

// search32 returns the index of key in a, or the negative insertion
// point minus one when absent.
func search32(a []uint32, key uint32) int {
	n := len(a)
	if n == 0 {
		return -1
	} else if a[n-1] == key {
		return n - 1
	} else if a[n-1] < key {
		return -(n + 1)
	}

	lo, hi := 0, n-1
	for lo+16 < hi {
		i := (lo + hi) / 2
		v := a[i]
		if v < key {
			lo = i + 1
		} else if v > key {
			hi = i - 1
		} else {
			return i
		}
	}
	for ; lo <= hi; lo++ {
		v := a[lo]
		if v == key {
			return lo
		} else if v > key {
			break
		}
	}
	return -(lo + 1)
}
