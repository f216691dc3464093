// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package roaring implements compressed bitmaps for 32-bit integer
// sets. Values are sharded by their high 16 bits into containers
// holding the low 16 bits; each container picks the smallest of three
// representations (sorted array, 1024-word bitmap, run-length pairs)
// as it is mutated.
package roaring

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// maxRange is one past the highest storable value.
const maxRange = uint64(1) << 32

// arrayLazyPromoteThreshold is the aggregate cardinality above which a
// many-way union stops merging arrays pairwise and promotes the target
// container to a bitmap up front.
const arrayLazyPromoteThreshold = 1024

// Bitmap represents a roaring bitmap over [0, 1<<32).
type Bitmap struct {
	keys       []uint16     // sorted high keys
	containers []*container // parallel to keys

	cow bool // copy-on-write cloning
}

// NewBitmap returns a Bitmap with an initial set of values.
func NewBitmap(a ...uint32) *Bitmap {
	b := &Bitmap{}
	for _, v := range a {
		b.DirectAdd(v)
	}
	return b
}

// Clone returns a copy of the bitmap. With copy-on-write enabled the
// containers are shared and cloned lazily by the first mutation on
// either side.
func (b *Bitmap) Clone() *Bitmap {
	if b == nil {
		return nil
	}
	other := &Bitmap{
		keys:       make([]uint16, len(b.keys)),
		containers: make([]*container, len(b.containers)),
		cow:        b.cow,
	}
	copy(other.keys, b.keys)
	if b.cow {
		for i, c := range b.containers {
			c.shared = true
			other.containers[i] = c
		}
		return other
	}
	for i, c := range b.containers {
		other.containers[i] = c.clone()
	}
	return other
}

// SetCopyOnWrite controls whether Clone shares containers with the
// original, deferring the copy to the first mutation.
func (b *Bitmap) SetCopyOnWrite(cow bool) { b.cow = cow }

// CopyOnWrite reports whether copy-on-write cloning is enabled.
func (b *Bitmap) CopyOnWrite() bool { return b.cow }

// Reset removes all values from the bitmap.
func (b *Bitmap) Reset() {
	b.keys = b.keys[:0]
	b.containers = b.containers[:0]
}

// Add adds values to the bitmap and reports whether any of them was
// absent.
func (b *Bitmap) Add(a ...uint32) (changed bool) {
	for _, v := range a {
		if b.DirectAdd(v) {
			changed = true
		}
	}
	return changed
}

// AddMany adds a batch of values, sorting them first so container
// lookups and appends stay sequential. It reports whether the bitmap
// changed. The input slice is not modified.
func (b *Bitmap) AddMany(a []uint32) (changed bool) {
	if len(a) == 0 {
		return false
	}
	sorted := make([]uint32, len(a))
	copy(sorted, a)
	slices.Sort(sorted)
	for _, v := range sorted {
		if b.DirectAdd(v) {
			changed = true
		}
	}
	return changed
}

// DirectAdd adds a single value and reports whether it was absent.
func (b *Bitmap) DirectAdd(v uint32) bool {
	hb := highbits(v)
	i := searchKeys(b.keys, hb)
	if i < 0 {
		i = -i - 1
		b.insertAt(hb, newContainer(), i)
	}
	return b.getWritable(i).add(lowbits(v))
}

// Contains returns true if v is in the bitmap.
func (b *Bitmap) Contains(v uint32) bool {
	c := b.container(highbits(v))
	if c == nil {
		return false
	}
	return c.contains(lowbits(v))
}

// Remove removes values from the bitmap and reports whether any of
// them was present.
func (b *Bitmap) Remove(a ...uint32) (changed bool) {
	for _, v := range a {
		hb := highbits(v)
		i := searchKeys(b.keys, hb)
		if i < 0 {
			continue
		}
		c := b.getWritable(i)
		if c.remove(lowbits(v)) {
			changed = true
			if c.n == 0 {
				b.removeAt(i)
			}
		}
	}
	return changed
}

// Count returns the number of values in the bitmap.
func (b *Bitmap) Count() (n uint64) {
	for _, c := range b.containers {
		n += uint64(c.n)
	}
	return n
}

// CountRange returns the number of values set between [start, end).
func (b *Bitmap) CountRange(start, end uint64) (n uint64) {
	if end > maxRange {
		end = maxRange
	}
	if start >= end {
		return 0
	}
	hkLo, hkHi := highbits(uint32(start)), highbits(uint32(end-1))
	for i, key := range b.keys {
		if key < hkLo {
			continue
		}
		if key > hkHi {
			break
		}
		lo, hi := int32(0), int32(maxContainerN)
		if key == hkLo {
			lo = int32(lowbits(uint32(start)))
		}
		if key == hkHi {
			hi = int32(lowbits(uint32(end-1))) + 1
		}
		if lo == 0 && hi == maxContainerN {
			n += uint64(b.containers[i].n)
		} else {
			n += uint64(b.containers[i].countRange(lo, hi))
		}
	}
	return n
}

// IsEmpty returns true if the bitmap holds no values.
func (b *Bitmap) IsEmpty() bool {
	for _, c := range b.containers {
		if c.n > 0 {
			return false
		}
	}
	return true
}

// IsFull returns true if the bitmap holds every value in [0, 1<<32).
func (b *Bitmap) IsFull() bool {
	return b.Count() == maxRange
}

// Min returns the lowest value in the bitmap, or 0 if it is empty.
func (b *Bitmap) Min() uint32 {
	for i, c := range b.containers {
		if c.n > 0 {
			return uint32(b.keys[i])<<16 | uint32(c.min())
		}
	}
	return 0
}

// Max returns the highest value in the bitmap, or 0 if it is empty.
func (b *Bitmap) Max() uint32 {
	for i := len(b.containers) - 1; i >= 0; i-- {
		if c := b.containers[i]; c.n > 0 {
			return uint32(b.keys[i])<<16 | uint32(c.max())
		}
	}
	return 0
}

// Rank returns the number of values less than or equal to v.
func (b *Bitmap) Rank(v uint32) (n uint64) {
	hb := highbits(v)
	for i, key := range b.keys {
		if key > hb {
			break
		}
		if key < hb {
			n += uint64(b.containers[i].n)
			continue
		}
		n += uint64(b.containers[i].rank(lowbits(v)))
	}
	return n
}

// Select returns the i'th smallest value (0-based) and true, or 0 and
// false when i is at least the cardinality.
func (b *Bitmap) Select(i uint64) (uint32, bool) {
	for k, c := range b.containers {
		if i < uint64(c.n) {
			return uint32(b.keys[k])<<16 | uint32(c.selectValue(int32(i))), true
		}
		i -= uint64(c.n)
	}
	return 0, false
}

// AddRange adds all values in [start, end).
func (b *Bitmap) AddRange(start, end uint64) {
	if end > maxRange {
		end = maxRange
	}
	if start >= end {
		return
	}
	hkLo, hkHi := highbits(uint32(start)), highbits(uint32(end-1))
	for hk := int(hkLo); hk <= int(hkHi); hk++ {
		lo, hi := int32(0), int32(maxContainerN)
		if hk == int(hkLo) {
			lo = int32(lowbits(uint32(start)))
		}
		if hk == int(hkHi) {
			hi = int32(lowbits(uint32(end-1))) + 1
		}
		i := searchKeys(b.keys, uint16(hk))
		if i < 0 {
			i = -i - 1
			b.insertAt(uint16(hk), newContainer(), i)
		}
		b.getWritable(i).addRange(lo, hi)
	}
}

// RemoveRange removes all values in [start, end).
func (b *Bitmap) RemoveRange(start, end uint64) {
	if end > maxRange {
		end = maxRange
	}
	if start >= end {
		return
	}
	hkLo, hkHi := highbits(uint32(start)), highbits(uint32(end-1))
	for i := 0; i < len(b.keys); {
		key := b.keys[i]
		if key < hkLo {
			i++
			continue
		}
		if key > hkHi {
			break
		}
		lo, hi := int32(0), int32(maxContainerN)
		if key == hkLo {
			lo = int32(lowbits(uint32(start)))
		}
		if key == hkHi {
			hi = int32(lowbits(uint32(end-1))) + 1
		}
		if lo == 0 && hi == maxContainerN {
			b.removeAt(i)
			continue
		}
		c := b.getWritable(i)
		c.removeRange(lo, hi)
		if c.n == 0 {
			b.removeAt(i)
			continue
		}
		i++
	}
}

// FlipInPlace negates all values in [start, end), modifying b.
func (b *Bitmap) FlipInPlace(start, end uint64) {
	if end > maxRange {
		end = maxRange
	}
	if start >= end {
		return
	}
	hkLo, hkHi := highbits(uint32(start)), highbits(uint32(end-1))
	for hk := int(hkLo); hk <= int(hkHi); hk++ {
		lo, hi := int32(0), int32(maxContainerN)
		if hk == int(hkLo) {
			lo = int32(lowbits(uint32(start)))
		}
		if hk == int(hkHi) {
			hi = int32(lowbits(uint32(end-1))) + 1
		}
		i := searchKeys(b.keys, uint16(hk))
		if i < 0 {
			// Flip of an absent key materializes the whole interval.
			i = -i - 1
			c := newContainer()
			c.addRange(lo, hi)
			b.insertAt(uint16(hk), c, i)
			continue
		}
		c := b.getWritable(i)
		if lo == 0 && hi == maxContainerN && c.isFull() {
			// Complement of a full container is empty; drop the key.
			b.removeAt(i)
			continue
		}
		c.flipRange(lo, hi)
		if c.n == 0 {
			b.removeAt(i)
		} else if c.n <= ArrayMaxSize {
			c.bitmapToArray()
		}
	}
}

// Flip returns a new bitmap with all values in [start, end) negated.
func (b *Bitmap) Flip(start, end uint64) *Bitmap {
	other := b.Clone()
	other.FlipInPlace(start, end)
	return other
}

// Union returns the union of b and the others.
func (b *Bitmap) Union(others ...*Bitmap) *Bitmap {
	if len(others) == 1 {
		output := &Bitmap{}
		unionIntoTargetSingle(output, b, others[0])
		return output
	}
	output := b.Clone()
	output.cow = false
	output.UnionInPlace(others...)
	return output
}

func unionIntoTargetSingle(target, a, b *Bitmap) {
	ki, ci := a.keys, a.containers
	kj, cj := b.keys, b.containers
	for len(ki) > 0 || len(kj) > 0 {
		if len(kj) == 0 || (len(ki) > 0 && ki[0] < kj[0]) {
			target.appendContainer(ki[0], ci[0].clone())
			ki, ci = ki[1:], ci[1:]
		} else if len(ki) == 0 || (len(kj) > 0 && kj[0] < ki[0]) {
			target.appendContainer(kj[0], cj[0].clone())
			kj, cj = kj[1:], cj[1:]
		} else {
			target.appendContainer(ki[0], union(ci[0], cj[0]))
			ki, ci = ki[1:], ci[1:]
			kj, cj = kj[1:], cj[1:]
		}
	}
	target.removeEmptyContainers()
}

// UnionInPlace unions the others into b. The merge walks every input's
// containers in parallel one step per round; containers that share a
// key within a round are merged into b's container for that key in one
// step, and a key that different inputs reach in different rounds is
// merged again in each of those rounds. Cardinality bookkeeping is
// deferred to a single repair pass at the end.
func (b *Bitmap) UnionInPlace(others ...*Bitmap) {
	type cursor struct {
		b       *Bitmap
		i       int
		handled bool
	}
	cursors := make([]cursor, 0, len(others))
	for _, o := range others {
		if o != nil && len(o.keys) > 0 {
			cursors = append(cursors, cursor{b: o})
		}
	}

	for len(cursors) > 0 {
		for x := range cursors {
			if cursors[x].handled {
				continue
			}
			key := cursors[x].b.keys[cursors[x].i]

			// Aggregate statistics over every unhandled cursor sitting
			// on the same key this round.
			var agg int32
			single := true
			hasMaxRange := false
			for y := x; y < len(cursors); y++ {
				cy := &cursors[y]
				if cy.handled || cy.b.keys[cy.i] != key {
					continue
				}
				if y > x {
					single = false
				}
				cn := cy.b.containers[cy.i].n
				agg += cn
				if cn == maxContainerN {
					hasMaxRange = true
				}
			}

			i := searchKeys(b.keys, key)
			existing := i >= 0
			if existing {
				single = false
				if b.containers[i].n == maxContainerN {
					hasMaxRange = true
				}
			}

			switch {
			case single:
				c := cursors[x].b.containers[cursors[x].i]
				b.put(key, c.clone())
				cursors[x].handled = true

			case hasMaxRange:
				// Some container already covers the whole range; the
				// union is the full container.
				b.put(key, fullContainer())
				for y := x; y < len(cursors); y++ {
					cy := &cursors[y]
					if !cy.handled && cy.b.keys[cy.i] == key {
						cy.handled = true
					}
				}

			case agg <= arrayLazyPromoteThreshold && (!existing || b.containers[i].isArray()):
				// Everything is small; pairwise merges stay in array
				// representations.
				var acc *container
				if existing {
					acc = b.getWritable(i)
				} else {
					acc = newContainer()
				}
				for y := x; y < len(cursors); y++ {
					cy := &cursors[y]
					if cy.handled || cy.b.keys[cy.i] != key {
						continue
					}
					acc = union(acc, cy.b.containers[cy.i])
					cy.handled = true
				}
				b.put(key, acc)

			default:
				// Promote the target container to a bitmap and union
				// everything into it lazily.
				var acc *container
				if existing {
					acc = b.getWritable(i)
					switch acc.typ {
					case containerArray:
						acc.arrayToBitmap()
					case containerRun:
						acc.runToBitmap()
					}
				} else {
					acc = newBitmapContainer()
				}
				for y := x; y < len(cursors); y++ {
					cy := &cursors[y]
					if cy.handled || cy.b.keys[cy.i] != key {
						continue
					}
					oc := cy.b.containers[cy.i]
					switch oc.typ {
					case containerArray:
						unionBitmapArrayInPlace(acc, oc)
					case containerRun:
						unionBitmapRunInPlace(acc, oc)
					default:
						unionBitmapBitmapInPlace(acc, oc)
					}
					cy.handled = true
				}
				b.put(key, acc)
			}
		}

		// Advance every cursor past its handled container.
		out := cursors[:0]
		for _, cur := range cursors {
			cur.i++
			cur.handled = false
			if cur.i < len(cur.b.keys) {
				out = append(out, cur)
			}
		}
		cursors = out
	}

	// Lazy unions left stale counts behind; fix them all at once and
	// return small results to the array representation.
	for _, c := range b.containers {
		if c.n != invalidCardinality {
			continue
		}
		c.repair()
		if c.n <= ArrayMaxSize {
			c.bitmapToArray()
		}
	}
}

// Intersect returns the intersection of b and other.
func (b *Bitmap) Intersect(other *Bitmap) *Bitmap {
	output := &Bitmap{}
	ki, ci := b.keys, b.containers
	kj, cj := other.keys, other.containers
	for len(ki) > 0 && len(kj) > 0 {
		if ki[0] < kj[0] {
			ki, ci = ki[1:], ci[1:]
		} else if ki[0] > kj[0] {
			kj, cj = kj[1:], cj[1:]
		} else {
			output.appendContainer(ki[0], intersect(ci[0], cj[0]))
			ki, ci = ki[1:], ci[1:]
			kj, cj = kj[1:], cj[1:]
		}
	}
	output.removeEmptyContainers()
	return output
}

// IntersectInPlace intersects other into b.
func (b *Bitmap) IntersectInPlace(other *Bitmap) {
	if b == other {
		return
	}
	result := b.Intersect(other)
	b.keys, b.containers = result.keys, result.containers
}

// IntersectionCount returns the cardinality of the intersection of b
// and other without materializing it.
func (b *Bitmap) IntersectionCount(other *Bitmap) (n uint64) {
	for i, j := 0, 0; i < len(b.containers) && j < len(other.containers); {
		ki, kj := b.keys[i], other.keys[j]
		if ki < kj {
			i++
		} else if ki > kj {
			j++
		} else {
			n += uint64(intersectionCount(b.containers[i], other.containers[j]))
			i, j = i+1, j+1
		}
	}
	return n
}

// Difference returns the values in b that are not in other.
func (b *Bitmap) Difference(other *Bitmap) *Bitmap {
	output := &Bitmap{}
	ki, ci := b.keys, b.containers
	kj, cj := other.keys, other.containers
	for len(ki) > 0 {
		if len(kj) == 0 || ki[0] < kj[0] {
			output.appendContainer(ki[0], ci[0].clone())
			ki, ci = ki[1:], ci[1:]
		} else if ki[0] > kj[0] {
			kj, cj = kj[1:], cj[1:]
		} else {
			output.appendContainer(ki[0], difference(ci[0], cj[0]))
			ki, ci = ki[1:], ci[1:]
			kj, cj = kj[1:], cj[1:]
		}
	}
	output.removeEmptyContainers()
	return output
}

// DifferenceInPlace removes the values of other from b.
func (b *Bitmap) DifferenceInPlace(other *Bitmap) {
	if b == other {
		b.Reset()
		return
	}
	result := b.Difference(other)
	b.keys, b.containers = result.keys, result.containers
}

// Xor returns the symmetric difference of b and other.
func (b *Bitmap) Xor(other *Bitmap) *Bitmap {
	output := &Bitmap{}
	ki, ci := b.keys, b.containers
	kj, cj := other.keys, other.containers
	for len(ki) > 0 || len(kj) > 0 {
		if len(kj) == 0 || (len(ki) > 0 && ki[0] < kj[0]) {
			output.appendContainer(ki[0], ci[0].clone())
			ki, ci = ki[1:], ci[1:]
		} else if len(ki) == 0 || (len(kj) > 0 && kj[0] < ki[0]) {
			output.appendContainer(kj[0], cj[0].clone())
			kj, cj = kj[1:], cj[1:]
		} else {
			output.appendContainer(ki[0], xor(ci[0], cj[0]))
			ki, ci = ki[1:], ci[1:]
			kj, cj = kj[1:], cj[1:]
		}
	}
	output.removeEmptyContainers()
	return output
}

// XorInPlace replaces b with the symmetric difference of b and other.
func (b *Bitmap) XorInPlace(other *Bitmap) {
	if b == other {
		b.Reset()
		return
	}
	result := b.Xor(other)
	b.keys, b.containers = result.keys, result.containers
}

// Equal reports whether b and other hold exactly the same values.
func (b *Bitmap) Equal(other *Bitmap) bool {
	i, j := 0, 0
	for {
		// Skip empty containers on either side.
		for i < len(b.containers) && b.containers[i].n == 0 {
			i++
		}
		for j < len(other.containers) && other.containers[j].n == 0 {
			j++
		}
		ieof := i >= len(b.containers)
		jeof := j >= len(other.containers)
		if ieof || jeof {
			return ieof && jeof
		}
		if b.keys[i] != other.keys[j] {
			return false
		}
		if !b.containers[i].equal(other.containers[j]) {
			return false
		}
		i, j = i+1, j+1
	}
}

// Subset reports whether every value in b is also in other.
func (b *Bitmap) Subset(other *Bitmap) bool {
	for i, key := range b.keys {
		c := b.containers[i]
		if c.n == 0 {
			continue
		}
		j := searchKeys(other.keys, key)
		if j < 0 || !c.subsetOf(other.containers[j]) {
			return false
		}
	}
	return true
}

// StrictSubset reports whether b is a subset of other and other holds
// at least one value that b does not.
func (b *Bitmap) StrictSubset(other *Bitmap) bool {
	return b.Subset(other) && b.Count() < other.Count()
}

// Optimize converts containers to run representation wherever the run
// encoding is strictly smaller. It reports whether the bitmap holds
// any run containers afterwards.
func (b *Bitmap) Optimize() bool {
	hasRuns := false
	for i := range b.containers {
		if b.getWritable(i).optimize() {
			hasRuns = true
		}
	}
	return hasRuns
}

// RemoveRunCompression converts run containers back to array or bitmap
// representation. It reports whether any container changed.
func (b *Bitmap) RemoveRunCompression() bool {
	changed := false
	for i := range b.containers {
		if b.containers[i].isRun() && b.getWritable(i).unoptimize() {
			changed = true
		}
	}
	return changed
}

// ShrinkToFit reallocates the bitmap's storage to its exact size and
// returns an estimate of the heap bytes reclaimed.
func (b *Bitmap) ShrinkToFit() (saved uint64) {
	if cap(b.keys) > len(b.keys) {
		saved += uint64(cap(b.keys)-len(b.keys)) * 2
		keys := make([]uint16, len(b.keys))
		copy(keys, b.keys)
		b.keys = keys
	}
	if cap(b.containers) > len(b.containers) {
		saved += uint64(cap(b.containers)-len(b.containers)) * 8
		containers := make([]*container, len(b.containers))
		copy(containers, b.containers)
		b.containers = containers
	}
	for i := range b.containers {
		c := b.containers[i]
		switch {
		case c.isArray() && cap(c.array) > len(c.array):
			c = b.getWritable(i)
			saved += uint64(cap(c.array)-len(c.array)) * 2
			array := make([]uint16, len(c.array))
			copy(array, c.array)
			c.array = array
		case c.isRun() && cap(c.runs) > len(c.runs):
			c = b.getWritable(i)
			saved += uint64(cap(c.runs)-len(c.runs)) * 4
			runs := make([]interval16, len(c.runs))
			copy(runs, c.runs)
			c.runs = runs
		}
	}
	return saved
}

// Iterator returns a new iterator over the bitmap.
func (b *Bitmap) Iterator() *Iterator {
	itr := &Iterator{bitmap: b}
	itr.Seek(0)
	return itr
}

// Slice returns a slice of all values in the bitmap.
func (b *Bitmap) Slice() []uint32 {
	a := make([]uint32, 0, b.Count())
	itr := b.Iterator()
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		a = append(a, v)
	}
	return a
}

// SliceRange returns a slice of values between [start, end).
func (b *Bitmap) SliceRange(start, end uint64) []uint32 {
	var a []uint32
	itr := b.Iterator()
	itr.Seek(uint32(start))
	for v, eof := itr.Next(); !eof && uint64(v) < end; v, eof = itr.Next() {
		a = append(a, v)
	}
	return a
}

// ForEach executes fn for each value in the bitmap.
func (b *Bitmap) ForEach(fn func(uint32)) {
	itr := b.Iterator()
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		fn(v)
	}
}

// ForEachRange executes fn for each value between [start, end).
func (b *Bitmap) ForEachRange(start, end uint64, fn func(uint32)) {
	itr := b.Iterator()
	itr.Seek(uint32(start))
	for v, eof := itr.Next(); !eof && uint64(v) < end; v, eof = itr.Next() {
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

// Info returns stats for the bitmap.
func (b *Bitmap) Info() BitmapInfo {
	info := BitmapInfo{Containers: make([]ContainerInfo, len(b.containers))}
	for i, c := range b.containers {
		ci := ContainerInfo{Key: b.keys[i], N: c.n}
		switch c.typ {
		case containerArray:
			ci.Type = "array"
			ci.Alloc = len(c.array) * 2
		case containerRun:
			ci.Type = "run"
			ci.Alloc = len(c.runs)*interval16Size + runCountHeaderSize
		default:
			ci.Type = "bitmap"
			ci.Alloc = len(c.bitmap) * 8
		}
		info.Containers[i] = ci
	}
	return info
}

// BitmapInfo represents a point-in-time snapshot of bitmap stats.
type BitmapInfo struct {
	Containers []ContainerInfo
}

// ContainerInfo represents a point-in-time snapshot of container
// stats.
type ContainerInfo struct {
	Key   uint16
	Type  string
	N     int32
	Alloc int
}

// Check performs a consistency check on the bitmap. Returns nil if
// consistent.
func (b *Bitmap) Check() error {
	var a ErrorList
	if len(b.keys) != len(b.containers) {
		a.Append(fmt.Errorf("key/container count mismatch: %d != %d", len(b.keys), len(b.containers)))
		return a
	}
	for i, c := range b.containers {
		if i > 0 && b.keys[i-1] >= b.keys[i] {
			a.Append(fmt.Errorf("keys out of order at %d: %d >= %d", i, b.keys[i-1], b.keys[i]))
		}
		if err := c.check(); err != nil {
			a.AppendWithPrefix(err, fmt.Sprintf("%d/", b.keys[i]))
		}
	}
	if len(a) == 0 {
		return nil
	}
	return a
}

// container returns the container with the given key, or nil.
func (b *Bitmap) container(key uint16) *container {
	i := searchKeys(b.keys, key)
	if i < 0 {
		return nil
	}
	return b.containers[i]
}

// getWritable returns the container at index i, cloning it first when
// it is shared with a copy-on-write clone.
func (b *Bitmap) getWritable(i int) *container {
	c := b.containers[i]
	if c.shared {
		c = c.clone()
		b.containers[i] = c
	}
	return c
}

// put inserts or replaces the container at key.
func (b *Bitmap) put(key uint16, c *container) {
	i := searchKeys(b.keys, key)
	if i < 0 {
		b.insertAt(key, c, -i-1)
		return
	}
	b.containers[i] = c
}

// appendContainer adds a container whose key is greater than every
// existing key.
func (b *Bitmap) appendContainer(key uint16, c *container) {
	b.keys = append(b.keys, key)
	b.containers = append(b.containers, c)
}

func (b *Bitmap) insertAt(key uint16, c *container, i int) {
	b.keys = append(b.keys, 0)
	copy(b.keys[i+1:], b.keys[i:])
	b.keys[i] = key

	b.containers = append(b.containers, nil)
	copy(b.containers[i+1:], b.containers[i:])
	b.containers[i] = c
}

func (b *Bitmap) removeAt(i int) {
	b.keys = append(b.keys[:i], b.keys[i+1:]...)
	copy(b.containers[i:], b.containers[i+1:])
	b.containers[len(b.containers)-1] = nil
	b.containers = b.containers[:len(b.containers)-1]
}

// removeEmptyContainers deletes all containers that have a count of
// zero.
func (b *Bitmap) removeEmptyContainers() {
	for i := 0; i < len(b.containers); {
		if b.containers[i].n == 0 {
			b.removeAt(i)
			continue
		}
		i++
	}
}

func highbits(v uint32) uint16 { return uint16(v >> 16) }
func lowbits(v uint32) uint16  { return uint16(v & 0xFFFF) }

// searchKeys returns the index of key in a, or the negative insertion
// point minus one when absent.
func searchKeys(a []uint16, key uint16) int {
	return search16(a, key)
}

// ErrorList represents a list of errors.
type ErrorList []error

func (a ErrorList) Error() string {
	switch len(a) {
	case 0:
		return "no errors"
	case 1:
		return a[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", a[0], len(a)-1)
}

// Append appends an error to the list.
func (a *ErrorList) Append(err error) {
	switch err := err.(type) {
	case ErrorList:
		*a = append(*a, err...)
	default:
		*a = append(*a, err)
	}
}

// AppendWithPrefix appends an error to the list and includes a prefix.
func (a *ErrorList) AppendWithPrefix(err error, prefix string) {
	switch err := err.(type) {
	case ErrorList:
		for i := range err {
			*a = append(*a, fmt.Errorf("%s%s", prefix, err[i]))
		}
	default:
		*a = append(*a, fmt.Errorf("%s%s", prefix, err))
	}
}
