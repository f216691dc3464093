// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring

import (
	"fmt"
	"reflect"
	"testing"
)

// String produces a human viewable string of the contents.
func (iv interval16) String() string {
	return fmt.Sprintf("[%d, %d]", iv.start, iv.last)
}

func (c *container) String() string {
	return fmt.Sprintf("<container type=%d n=%d array[%d] runs[%d] bitmap[%d]>",
		c.typ, c.n, len(c.array), len(c.runs), len(c.bitmap))
}

// arrayContainer builds an array container from the given values.
func arrayContainer(a ...uint16) *container {
	c := newContainer()
	for _, v := range a {
		c.add(v)
	}
	if !c.isArray() {
		panic("arrayContainer: too many values")
	}
	return c
}

// runContainer builds a run container from intervals.
func runContainer(ivs ...interval16) *container {
	c := &container{typ: containerRun}
	for _, iv := range ivs {
		c.runs = append(c.runs, iv)
		c.n += iv.runlen()
	}
	return c
}

// bitmapContainer builds a bitmap container from the given values.
func bitmapContainer(a ...uint16) *container {
	c := newBitmapContainer()
	for _, v := range a {
		c.add(v)
	}
	return c
}

func TestRunAppendInterval(t *testing.T) {
	tests := []struct {
		base []interval16
		app  interval16
		exp  int32
	}{
		{
			base: []interval16{},
			app:  interval16{start: 22, last: 25},
			exp:  4,
		},
		{
			base: []interval16{{start: 20, last: 23}},
			app:  interval16{start: 22, last: 25},
			exp:  2,
		},
		{
			base: []interval16{{start: 20, last: 23}},
			app:  interval16{start: 21, last: 22},
			exp:  0,
		},
		{
			base: []interval16{{start: 20, last: 23}},
			app:  interval16{start: 28, last: 30},
			exp:  3,
		},
	}
	for i, test := range tests {
		a := container{typ: containerRun}
		a.runs = append(a.runs, test.base...)
		if n := a.runAppendInterval(test.app); n != test.exp {
			t.Fatalf("test #%d expected %d, got %d", i, test.exp, n)
		}
	}
}

func TestInterval16RunLen(t *testing.T) {
	iv := interval16{start: 7, last: 9}
	if iv.runlen() != 3 {
		t.Fatalf("should be 3: %v", iv.runlen())
	}
	iv = interval16{start: 7, last: 7}
	if iv.runlen() != 1 {
		t.Fatalf("should be 1: %v", iv.runlen())
	}
}

func TestContainerRunAdd(t *testing.T) {
	c := &container{typ: containerRun}
	tests := []struct {
		v   uint16
		exp []interval16
	}{
		{1, []interval16{{start: 1, last: 1}}},
		{2, []interval16{{start: 1, last: 2}}},
		{4, []interval16{{start: 1, last: 2}, {start: 4, last: 4}}},
		{3, []interval16{{start: 1, last: 4}}},
		{10, []interval16{{start: 1, last: 4}, {start: 10, last: 10}}},
		{7, []interval16{{start: 1, last: 4}, {start: 7, last: 7}, {start: 10, last: 10}}},
	}
	for _, test := range tests {
		if !c.add(test.v) {
			t.Fatalf("adding %d: should have changed", test.v)
		}
		if !reflect.DeepEqual(c.runs, test.exp) {
			t.Fatalf("adding %d: expected %v, got %v", test.v, test.exp, c.runs)
		}
	}
	if c.add(4) {
		t.Fatalf("adding existing value should not change")
	}
	if c.n != 7 {
		t.Fatalf("expected n=7, got %d", c.n)
	}
}

func TestRunRemove(t *testing.T) {
	c := runContainer(interval16{start: 2, last: 10}, interval16{start: 12, last: 13}, interval16{start: 15, last: 16})
	tests := []struct {
		v       uint16
		exp     bool
		expRuns []interval16
	}{
		{8, true, []interval16{{start: 2, last: 7}, {start: 9, last: 10}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{8, false, []interval16{{start: 2, last: 7}, {start: 9, last: 10}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{1, false, []interval16{{start: 2, last: 7}, {start: 9, last: 10}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{9, true, []interval16{{start: 2, last: 7}, {start: 10, last: 10}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{10, true, []interval16{{start: 2, last: 7}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{2, true, []interval16{{start: 3, last: 7}, {start: 12, last: 13}, {start: 15, last: 16}}},
		{7, true, []interval16{{start: 3, last: 6}, {start: 12, last: 13}, {start: 15, last: 16}}},
	}
	for i, test := range tests {
		if got := c.remove(test.v); got != test.exp {
			t.Fatalf("test #%d removing %d: expected %v, got %v", i, test.v, test.exp, got)
		}
		if !reflect.DeepEqual(c.runs, test.expRuns) {
			t.Fatalf("test #%d removing %d: expected %v, got %v", i, test.v, test.expRuns, c.runs)
		}
	}
}

func TestRunContains(t *testing.T) {
	c := runContainer(interval16{start: 2, last: 10}, interval16{start: 12, last: 13})
	for _, v := range []uint16{2, 5, 10, 12, 13} {
		if !c.contains(v) {
			t.Fatalf("should contain %d", v)
		}
	}
	for _, v := range []uint16{0, 1, 11, 14, 100} {
		if c.contains(v) {
			t.Fatalf("should not contain %d", v)
		}
	}
}

func TestBitmapCountRange(t *testing.T) {
	c := newBitmapContainer()
	for _, v := range []uint16{1, 2, 3, 62, 63, 64, 65, 100, 240, 65535} {
		c.add(v)
	}
	tests := []struct {
		start, end int32
		exp        int32
	}{
		{0, 65536, 10},
		{0, 64, 5},
		{64, 128, 3},
		{63, 65, 2},
		{65535, 65536, 1},
		{101, 240, 0},
		{101, 241, 1},
	}
	for i, test := range tests {
		if n := c.countRange(test.start, test.end); n != test.exp {
			t.Fatalf("test #%d [%d,%d): expected %d, got %d", i, test.start, test.end, test.exp, n)
		}
	}
}

func TestBitmapSetRange(t *testing.T) {
	c := newBitmapContainer()
	c.bitmapSetRange(0, 64)
	if c.n != 64 {
		t.Fatalf("expected 64, got %d", c.n)
	}
	c.bitmapSetRange(60, 130)
	if c.n != 130 {
		t.Fatalf("expected 130, got %d", c.n)
	}
	c.bitmapSetRange(65530, 65536)
	if c.n != 136 {
		t.Fatalf("expected 136, got %d", c.n)
	}
	if got := c.count(); got != c.n {
		t.Fatalf("count mismatch: %d != %d", got, c.n)
	}
}

func TestBitmapZeroAndXorRange(t *testing.T) {
	c := newBitmapContainer()
	c.bitmapSetRange(0, 65536)
	c.bitmapZeroRange(10, 65536)
	if c.n != 10 {
		t.Fatalf("expected 10, got %d", c.n)
	}
	c.bitmapXorRange(0, 20)
	if c.n != 10 {
		t.Fatalf("expected 10 after xor, got %d", c.n)
	}
	for v := uint16(0); v < 10; v++ {
		if c.bitmapContains(v) {
			t.Fatalf("should not contain %d", v)
		}
	}
	for v := uint16(10); v < 20; v++ {
		if !c.bitmapContains(v) {
			t.Fatalf("should contain %d", v)
		}
	}
}

func TestConversions(t *testing.T) {
	// array -> bitmap -> run -> array round trip preserves contents.
	c := arrayContainer(1, 2, 3, 100, 101, 102, 1000)
	orig := make([]uint16, len(c.array))
	copy(orig, c.array)

	c.arrayToBitmap()
	if !c.isBitmap() || c.count() != 7 {
		t.Fatalf("arrayToBitmap failed: %s", c)
	}
	c.bitmapToRun()
	if !c.isRun() || len(c.runs) != 3 {
		t.Fatalf("bitmapToRun failed: %s", c)
	}
	c.runToArray()
	if !c.isArray() || !reflect.DeepEqual(c.array, orig) {
		t.Fatalf("runToArray failed: %s", c)
	}
}

func TestArrayAddConvertsToBitmap(t *testing.T) {
	c := newContainer()
	for v := 0; v <= ArrayMaxSize; v++ {
		c.add(uint16(v * 2))
	}
	if !c.isBitmap() {
		t.Fatalf("expected bitmap container, got %s", c)
	}
	if c.n != ArrayMaxSize+1 {
		t.Fatalf("expected n=%d, got %d", ArrayMaxSize+1, c.n)
	}
	if err := c.check(); err != nil {
		t.Fatal(err)
	}
}

func TestBitmapRemoveConvertsToArray(t *testing.T) {
	c := newContainer()
	for v := 0; v < ArrayMaxSize+2; v++ {
		c.add(uint16(v))
	}
	if !c.isBitmap() {
		t.Fatalf("expected bitmap container, got %s", c)
	}
	c.remove(0)
	if !c.isBitmap() {
		t.Fatalf("expected bitmap container at threshold+1, got %s", c)
	}
	c.remove(1)
	if !c.isArray() {
		t.Fatalf("expected array container after dropping to the threshold, got %s", c)
	}
	if c.n != ArrayMaxSize {
		t.Fatalf("expected n=%d, got %d", ArrayMaxSize, c.n)
	}
}

func TestOptimizeSelector(t *testing.T) {
	// A dense run of values is strictly smaller run encoded.
	c := newContainer()
	c.addRange(0, 1000)
	if !c.optimize() {
		t.Fatalf("expected run conversion for [0,1000)")
	}
	if !c.isRun() || len(c.runs) != 1 {
		t.Fatalf("expected single run, got %s", c)
	}

	// Alternating values stay an array.
	c = newContainer()
	for v := 0; v < 100; v += 2 {
		c.add(uint16(v))
	}
	if c.optimize() {
		t.Fatalf("alternating values should not be run encoded")
	}
	if !c.isArray() {
		t.Fatalf("expected array, got %s", c)
	}

	// unoptimize picks the representation by cardinality.
	c = fullContainer()
	if !c.unoptimize() {
		t.Fatalf("expected conversion away from runs")
	}
	if !c.isBitmap() {
		t.Fatalf("expected bitmap for full container, got %s", c)
	}
}

func TestContainerAddRemoveRange(t *testing.T) {
	tests := []struct {
		name string
		c    *container
	}{
		{"array", arrayContainer(5, 10, 200)},
		{"run", runContainer(interval16{start: 5, last: 10}, interval16{start: 200, last: 200})},
		{"bitmap", bitmapContainer(5, 6, 7, 8, 9, 10, 200)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := test.c
			c.addRange(8, 20)
			for v := int32(8); v < 20; v++ {
				if !c.contains(uint16(v)) {
					t.Fatalf("should contain %d after addRange", v)
				}
			}
			if err := c.check(); err != nil {
				t.Fatal(err)
			}
			c.removeRange(0, 15)
			for v := int32(0); v < 15; v++ {
				if c.contains(uint16(v)) {
					t.Fatalf("should not contain %d after removeRange", v)
				}
			}
			for _, v := range []uint16{15, 16, 17, 18, 19, 200} {
				if !c.contains(v) {
					t.Fatalf("should still contain %d", v)
				}
			}
			if err := c.check(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestContainerFullRangeAdd(t *testing.T) {
	c := arrayContainer(1, 5, 9)
	c.addRange(0, maxContainerN)
	if !c.isRun() || !c.isFull() {
		t.Fatalf("expected full run container, got %s", c)
	}
}

// naiveSet mirrors container contents for cross-checking the op
// matrix.
type naiveSet map[uint16]struct{}

func (s naiveSet) slice() []uint16 {
	out := []uint16{}
	for v := 0; v < maxContainerN; v++ {
		if _, ok := s[uint16(v)]; ok {
			out = append(out, uint16(v))
		}
	}
	return out
}

func containerSet(c *container) naiveSet {
	s := naiveSet{}
	for v := 0; v < maxContainerN; v++ {
		if c.contains(uint16(v)) {
			s[uint16(v)] = struct{}{}
		}
	}
	return s
}

func TestBinaryOpMatrix(t *testing.T) {
	// Three shapes per side exercise all nine dispatch cells per op.
	mk := map[string]func() *container{
		"array": func() *container { return arrayContainer(0, 1, 5, 100, 300, 301, 65535) },
		"run":   func() *container { return runContainer(interval16{start: 3, last: 120}, interval16{start: 300, last: 310}) },
		"bitmap": func() *container {
			c := newBitmapContainer()
			c.bitmapSetRange(50, 5000)
			return c
		},
	}
	ops := map[string]func(a, b *container) *container{
		"union":      union,
		"intersect":  intersect,
		"difference": difference,
		"xor":        xor,
	}
	for aname, amk := range mk {
		for bname, bmk := range mk {
			for opname, op := range ops {
				t.Run(fmt.Sprintf("%s/%s/%s", opname, aname, bname), func(t *testing.T) {
					a, b := amk(), bmk()
					sa, sb := containerSet(a), containerSet(b)
					out := op(a, b)
					if err := out.check(); err != nil {
						t.Fatal(err)
					}
					exp := naiveSet{}
					switch opname {
					case "union":
						for v := range sa {
							exp[v] = struct{}{}
						}
						for v := range sb {
							exp[v] = struct{}{}
						}
					case "intersect":
						for v := range sa {
							if _, ok := sb[v]; ok {
								exp[v] = struct{}{}
							}
						}
					case "difference":
						for v := range sa {
							if _, ok := sb[v]; !ok {
								exp[v] = struct{}{}
							}
						}
					case "xor":
						for v := range sa {
							if _, ok := sb[v]; !ok {
								exp[v] = struct{}{}
							}
						}
						for v := range sb {
							if _, ok := sa[v]; !ok {
								exp[v] = struct{}{}
							}
						}
					}
					got := containerSet(out)
					if !reflect.DeepEqual(exp.slice(), got.slice()) {
						t.Fatalf("result mismatch: expected %d values, got %d", len(exp), len(got))
					}
					if out.n != int32(len(exp)) {
						t.Fatalf("cardinality mismatch: expected %d, got %d", len(exp), out.n)
					}
					if n := intersectionCount(amk(), bmk()); opname == "intersect" && n != out.n {
						t.Fatalf("intersectionCount mismatch: expected %d, got %d", out.n, n)
					}
				})
			}
		}
	}
}

func TestLazyUnionRepair(t *testing.T) {
	target := bitmapContainer(1, 2, 3)
	unionBitmapArrayInPlace(target, arrayContainer(3, 4, 5))
	if target.n != invalidCardinality {
		t.Fatalf("expected invalid cardinality, got %d", target.n)
	}
	unionBitmapRunInPlace(target, runContainer(interval16{start: 10, last: 12}))
	unionBitmapBitmapInPlace(target, bitmapContainer(64, 65))
	target.repair()
	if target.n != 10 {
		t.Fatalf("expected 10 after repair, got %d", target.n)
	}
}

func TestContainerRankSelect(t *testing.T) {
	for name, c := range map[string]*container{
		"array":  arrayContainer(1, 5, 9, 100),
		"run":    runContainer(interval16{start: 1, last: 1}, interval16{start: 5, last: 5}, interval16{start: 9, last: 9}, interval16{start: 100, last: 100}),
		"bitmap": bitmapContainer(1, 5, 9, 100),
	} {
		if got := c.rank(0); got != 0 {
			t.Fatalf("%s: rank(0)=%d", name, got)
		}
		if got := c.rank(5); got != 2 {
			t.Fatalf("%s: rank(5)=%d", name, got)
		}
		if got := c.rank(65535); got != 4 {
			t.Fatalf("%s: rank(65535)=%d", name, got)
		}
		exp := []uint16{1, 5, 9, 100}
		for i, want := range exp {
			if got := c.selectValue(int32(i)); got != want {
				t.Fatalf("%s: select(%d)=%d, want %d", name, i, got, want)
			}
		}
	}
}

func TestIteratorAcrossContainers(t *testing.T) {
	b := NewBitmap()
	b.Add(1, 2, 3)
	b.AddRange(70000, 70010)
	b.Add(1 << 20)
	b.Optimize()

	exp := []uint32{1, 2, 3}
	for v := uint32(70000); v < 70010; v++ {
		exp = append(exp, v)
	}
	exp = append(exp, 1<<20)

	if got := b.Slice(); !reflect.DeepEqual(got, exp) {
		t.Fatalf("forward iteration mismatch: %v vs %v", got, exp)
	}

	itr := b.ReverseIterator()
	var rev []uint32
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		rev = append(rev, v)
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	if !reflect.DeepEqual(rev, exp) {
		t.Fatalf("reverse iteration mismatch: %v vs %v", rev, exp)
	}
}

func TestIteratorSeek(t *testing.T) {
	b := NewBitmap(10, 100, 70000)
	itr := b.Iterator()
	itr.Seek(11)
	if v, eof := itr.Next(); eof || v != 100 {
		t.Fatalf("expected 100, got %d eof=%v", v, eof)
	}
	itr.Seek(70001)
	if _, eof := itr.Next(); !eof {
		t.Fatalf("expected eof past the last value")
	}
	itr.Seek(0)
	if v, _ := itr.Next(); v != 10 {
		t.Fatalf("expected restart at 10, got %d", v)
	}
}

func FuzzUnmarshalBinary(f *testing.F) {
	b := NewBitmap(1, 2, 3, 100000)
	b.AddRange(500000, 600000)
	b.Optimize()
	portable, _ := b.MarshalBinary()
	f.Add(portable)
	f.Fuzz(func(t *testing.T, data []byte) {
		got := NewBitmap()
		if err := got.UnmarshalBinary(data); err != nil {
			return
		}
		if err := got.Check(); err != nil {
			t.Fatalf("accepted input produced inconsistent bitmap: %v", err)
		}
	})
}
