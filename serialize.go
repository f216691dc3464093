// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// Cookies of the interchange format, shared bit-exactly with the
	// other roaring implementations.
	serialCookieNoRunContainer = 12346 // only arrays and bitmaps
	serialCookie               = 12347 // runs, arrays, and bitmaps

	// noOffsetThreshold is the container count below which the run
	// format omits the offset header.
	noOffsetThreshold = 4

	// runCountHeaderSize is the size in bytes of the run count stored
	// at the beginning of every serialized run container.
	runCountHeaderSize = 2

	// interval16Size is the serialized size of a single run.
	interval16Size = 4

	// Markers of the native format. A native stream leads with one of
	// these; the interchange cookies start with neither, which lets
	// UnmarshalBinary sniff the format.
	serializationArrayMarker     = 1
	serializationContainerMarker = 2
)

// serializedSize returns the encoded size of the container body, in
// bytes.
func (c *container) serializedSize() int {
	switch c.typ {
	case containerArray:
		return len(c.array) * 2
	case containerRun:
		return runCountHeaderSize + len(c.runs)*interval16Size
	default:
		return len(c.bitmap) * 8
	}
}

func (b *Bitmap) hasRunContainers() bool {
	for _, c := range b.containers {
		if c.isRun() {
			return true
		}
	}
	return false
}

// portableSize returns the byte size of the interchange encoding.
func (b *Bitmap) portableSize() int {
	n := len(b.containers)
	hasRuns := b.hasRunContainers()

	var sz int
	if hasRuns {
		sz = 4 + (n+7)/8
	} else {
		sz = 8
	}
	sz += 4 * n // descriptive header
	if !hasRuns || n >= noOffsetThreshold {
		sz += 4 * n // offset header
	}
	for _, c := range b.containers {
		sz += c.serializedSize()
	}
	return sz
}

// nativeSize returns the byte size of the native encoding, which
// packs sparse bitmaps as a raw value list when that is smaller.
func (b *Bitmap) nativeSize() int {
	asArray := 1 + 4 + 4*int(b.Count())
	asPortable := 1 + b.portableSize()
	if asArray < asPortable {
		return asArray
	}
	return asPortable
}

// SizeInBytes returns the serialized size of the bitmap in the
// requested format.
func (b *Bitmap) SizeInBytes(portable bool) uint64 {
	if portable {
		return uint64(b.portableSize())
	}
	return uint64(b.nativeSize())
}

// MarshalBinary encodes b in the portable interchange format.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	return b.marshalPortable(), nil
}

func (b *Bitmap) marshalPortable() []byte {
	n := len(b.containers)
	hasRuns := b.hasRunContainers()
	buf := make([]byte, 0, b.portableSize())

	// Cookie header.
	if hasRuns {
		buf = appendUint32(buf, serialCookie|uint32(n-1)<<16)
		runFlags := make([]byte, (n+7)/8)
		for i, c := range b.containers {
			if c.isRun() {
				runFlags[i/8] |= 1 << uint(i%8)
			}
		}
		buf = append(buf, runFlags...)
	} else {
		buf = appendUint32(buf, serialCookieNoRunContainer)
		buf = appendUint32(buf, uint32(n))
	}

	// Descriptive header: key and cardinality-1 per container.
	for i, c := range b.containers {
		buf = appendUint16(buf, b.keys[i])
		buf = appendUint16(buf, uint16(c.n-1))
	}

	// Offset header: byte position of each container body, relative to
	// the start of the stream.
	if !hasRuns || n >= noOffsetThreshold {
		offset := len(buf) + 4*n
		for _, c := range b.containers {
			buf = appendUint32(buf, uint32(offset))
			offset += c.serializedSize()
		}
	}

	// Container storage.
	for _, c := range b.containers {
		switch c.typ {
		case containerArray:
			for _, v := range c.array {
				buf = appendUint16(buf, v)
			}
		case containerRun:
			buf = appendUint16(buf, uint16(len(c.runs)))
			for _, iv := range c.runs {
				buf = appendUint16(buf, iv.start)
				buf = appendUint16(buf, iv.last-iv.start)
			}
		default:
			for _, w := range c.bitmap {
				buf = appendUint64(buf, w)
			}
		}
	}
	return buf
}

// WriteTo writes b to w in the portable interchange format.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	nn, err := w.Write(b.marshalPortable())
	return int64(nn), err
}

// WriteToNative writes b to w in the native format, which encodes very
// sparse bitmaps as a raw value list.
func (b *Bitmap) WriteToNative(w io.Writer) (int64, error) {
	nn, err := w.Write(b.marshalNative())
	return int64(nn), err
}

func (b *Bitmap) marshalNative() []byte {
	count := b.Count()
	asArray := 1 + 4 + 4*int(count)
	portable := b.marshalPortable()
	if asArray >= 1+len(portable) {
		buf := make([]byte, 0, 1+len(portable))
		buf = append(buf, serializationContainerMarker)
		return append(buf, portable...)
	}
	buf := make([]byte, 0, asArray)
	buf = append(buf, serializationArrayMarker)
	buf = appendUint32(buf, uint32(count))
	itr := b.Iterator()
	for v, eof := itr.Next(); !eof; v, eof = itr.Next() {
		buf = appendUint32(buf, v)
	}
	return buf
}

// UnmarshalBinary decodes b from data, replacing its contents. Both
// the portable interchange format and the native format are accepted;
// the leading byte distinguishes them. Truncated or malformed input
// fails without leaving partial state in b.
func (b *Bitmap) UnmarshalBinary(data []byte) error {
	_, err := b.UnmarshalBuffer(data)
	return err
}

// UnmarshalBuffer decodes b from the front of data and returns the
// number of bytes consumed; trailing bytes are not an error. Callers
// holding a concatenated stream (such as the 64-bit layer) use the
// count to walk it.
func (b *Bitmap) UnmarshalBuffer(data []byte) (int, error) {
	statsHit("Bitmap/UnmarshalBinary")
	if len(data) == 0 {
		return 0, errors.New("unmarshaling bitmap: empty input")
	}
	other := &Bitmap{}
	var consumed int
	var err error
	switch data[0] {
	case serializationArrayMarker, serializationContainerMarker:
		consumed, err = other.unmarshalNative(data)
	default:
		consumed, err = other.unmarshalPortable(data)
	}
	if err != nil {
		return 0, err
	}
	b.keys, b.containers = other.keys, other.containers
	return consumed, nil
}

func (b *Bitmap) unmarshalNative(data []byte) (int, error) {
	switch data[0] {
	case serializationContainerMarker:
		consumed, err := b.unmarshalPortable(data[1:])
		return 1 + consumed, err
	default: // serializationArrayMarker
		if len(data) < 5 {
			return 0, errors.New("unmarshaling native bitmap: truncated header")
		}
		count := int(binary.LittleEndian.Uint32(data[1:5]))
		if len(data) < 5+4*count {
			return 0, errors.Errorf("unmarshaling native bitmap: need %d bytes, have %d", 5+4*count, len(data))
		}
		prev := int64(-1)
		for i := 0; i < count; i++ {
			v := binary.LittleEndian.Uint32(data[5+4*i:])
			if int64(v) <= prev {
				return 0, errors.Errorf("unmarshaling native bitmap: values out of order at %d", i)
			}
			prev = int64(v)
			b.DirectAdd(v)
		}
		return 5 + 4*count, nil
	}
}

func (b *Bitmap) unmarshalPortable(data []byte) (int, error) {
	if len(data) < 8 {
		return 0, errors.New("unmarshaling bitmap: buffer too small for header")
	}
	cookie := binary.LittleEndian.Uint32(data)
	pos := 4

	var keyN int
	var runFlags []byte
	switch {
	case cookie == serialCookieNoRunContainer:
		keyN = int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
	case cookie&0xFFFF == serialCookie:
		keyN = int(cookie>>16) + 1
		flagN := (keyN + 7) / 8
		if pos+flagN > len(data) {
			return 0, errors.Errorf("unmarshaling bitmap: run flag bitset overruns buffer at %d", pos+flagN)
		}
		runFlags = data[pos : pos+flagN]
		pos += flagN
	default:
		return 0, errors.Errorf("unmarshaling bitmap: invalid cookie %d", cookie&0xFFFF)
	}
	if keyN > 1<<16 {
		return 0, errors.Errorf("unmarshaling bitmap: impossible container count %d", keyN)
	}

	// Descriptive header.
	if pos+4*keyN > len(data) {
		return 0, errors.Errorf("unmarshaling bitmap: descriptor table overruns buffer at %d", pos+4*keyN)
	}
	keys := make([]uint16, keyN)
	cards := make([]int32, keyN)
	for i := 0; i < keyN; i++ {
		keys[i] = binary.LittleEndian.Uint16(data[pos:])
		cards[i] = int32(binary.LittleEndian.Uint16(data[pos+2:])) + 1
		if i > 0 && keys[i-1] >= keys[i] {
			return 0, errors.Errorf("unmarshaling bitmap: keys out of order at %d", i)
		}
		pos += 4
	}

	// Offset header; bodies are laid out sequentially so the offsets
	// themselves are only skipped over.
	if runFlags == nil || keyN >= noOffsetThreshold {
		if pos+4*keyN > len(data) {
			return 0, errors.Errorf("unmarshaling bitmap: offset table overruns buffer at %d", pos+4*keyN)
		}
		pos += 4 * keyN
	}

	// Container bodies.
	containers := make([]*container, keyN)
	for i := 0; i < keyN; i++ {
		card := cards[i]
		isRun := runFlags != nil && runFlags[i/8]&(1<<uint(i%8)) != 0
		switch {
		case isRun:
			if pos+runCountHeaderSize > len(data) {
				return 0, errors.Errorf("unmarshaling bitmap: run header overruns buffer at %d", pos)
			}
			runN := int(binary.LittleEndian.Uint16(data[pos:]))
			pos += runCountHeaderSize
			if pos+runN*interval16Size > len(data) {
				return 0, errors.Errorf("unmarshaling bitmap: run container overruns buffer at %d", pos)
			}
			runs := make([]interval16, runN)
			var sum int32
			for r := 0; r < runN; r++ {
				start := binary.LittleEndian.Uint16(data[pos:])
				length := binary.LittleEndian.Uint16(data[pos+2:])
				if int(start)+int(length) > maxContainerVal {
					return 0, errors.Errorf("unmarshaling bitmap: run %d overflows container", r)
				}
				if r > 0 && int32(start) <= int32(runs[r-1].last)+1 {
					return 0, errors.Errorf("unmarshaling bitmap: runs out of order at %d", r)
				}
				runs[r] = interval16{start: start, last: start + length}
				sum += runs[r].runlen()
				pos += interval16Size
			}
			if sum != card {
				return 0, errors.Errorf("unmarshaling bitmap: run cardinality mismatch: %d != %d", sum, card)
			}
			containers[i] = &container{typ: containerRun, n: card, runs: runs}
		case card > ArrayMaxSize:
			if pos+bitmapN*8 > len(data) {
				return 0, errors.Errorf("unmarshaling bitmap: bitmap container overruns buffer at %d", pos)
			}
			bitmap := make([]uint64, bitmapN)
			var sum int32
			for w := range bitmap {
				bitmap[w] = binary.LittleEndian.Uint64(data[pos:])
				sum += int32(popcount(bitmap[w]))
				pos += 8
			}
			if sum != card {
				return 0, errors.Errorf("unmarshaling bitmap: bitmap cardinality mismatch: %d != %d", sum, card)
			}
			containers[i] = &container{typ: containerBitmap, n: card, bitmap: bitmap}
		default:
			if pos+int(card)*2 > len(data) {
				return 0, errors.Errorf("unmarshaling bitmap: array container overruns buffer at %d", pos)
			}
			array := make([]uint16, card)
			for a := range array {
				array[a] = binary.LittleEndian.Uint16(data[pos:])
				if a > 0 && array[a-1] >= array[a] {
					return 0, errors.Errorf("unmarshaling bitmap: array values out of order at %d", a)
				}
				pos += 2
			}
			containers[i] = &container{typ: containerArray, n: card, array: array}
		}
	}

	b.keys = keys
	b.containers = containers
	return pos, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(buf []byte, v uint64) []byte {
	buf = appendUint32(buf, uint32(v))
	return appendUint32(buf, uint32(v>>32))
}
