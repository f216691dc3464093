// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring

import (
	"encoding/binary"
	"unsafe"

	"github.com/pkg/errors"
)

// The frozen format is a non-interchange layout designed for zero-copy
// reads: container bodies are 8-byte aligned relative to the start of
// the buffer so a view can map its slices straight into it. A frozen
// view borrows the buffer; the buffer must outlive the view, and the
// first mutation of a viewed container copies it out (see
// container.mapped).
const (
	frozenMagic   = uint32(12348)
	frozenVersion = uint32(0)
	frozenCookie  = frozenMagic | frozenVersion<<16

	// frozenHeaderSize is the cookie plus the container count.
	frozenHeaderSize = 8

	// frozenDescriptorSize is key + type + cardinality + element count.
	frozenDescriptorSize = 12
)

func alignUp8(v int) int { return (v + 7) &^ 7 }

// frozenElems returns the element count recorded in a container's
// frozen descriptor.
func (c *container) frozenElems() int {
	switch c.typ {
	case containerArray:
		return len(c.array)
	case containerRun:
		return len(c.runs)
	default:
		return bitmapN
	}
}

func frozenBodySize(typ byte, elems int) int {
	switch typ {
	case containerArray:
		return elems * 2
	case containerRun:
		return elems * interval16Size
	default:
		return elems * 8
	}
}

// FrozenSizeInBytes returns the byte size of the frozen encoding.
func (b *Bitmap) FrozenSizeInBytes() uint64 {
	sz := frozenHeaderSize + frozenDescriptorSize*len(b.containers)
	for _, c := range b.containers {
		sz = alignUp8(sz)
		sz += frozenBodySize(c.typ, c.frozenElems())
	}
	return uint64(sz)
}

// WriteFrozen writes the frozen encoding of b into buf and returns the
// number of bytes written. buf must hold at least FrozenSizeInBytes
// bytes; for aligned zero-copy reads it should itself be 8-byte
// aligned.
func (b *Bitmap) WriteFrozen(buf []byte) (int, error) {
	size := int(b.FrozenSizeInBytes())
	if len(buf) < size {
		return 0, errors.Errorf("writing frozen bitmap: need %d bytes, have %d", size, len(buf))
	}

	binary.LittleEndian.PutUint32(buf[0:], frozenCookie)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(b.containers)))
	pos := frozenHeaderSize
	for i, c := range b.containers {
		binary.LittleEndian.PutUint16(buf[pos:], b.keys[i])
		binary.LittleEndian.PutUint16(buf[pos+2:], uint16(c.typ))
		binary.LittleEndian.PutUint32(buf[pos+4:], uint32(c.n))
		binary.LittleEndian.PutUint32(buf[pos+8:], uint32(c.frozenElems()))
		pos += frozenDescriptorSize
	}
	for _, c := range b.containers {
		for pos%8 != 0 {
			buf[pos] = 0
			pos++
		}
		switch c.typ {
		case containerArray:
			for _, v := range c.array {
				binary.LittleEndian.PutUint16(buf[pos:], v)
				pos += 2
			}
		case containerRun:
			for _, iv := range c.runs {
				binary.LittleEndian.PutUint16(buf[pos:], iv.start)
				binary.LittleEndian.PutUint16(buf[pos+2:], iv.last)
				pos += interval16Size
			}
		default:
			for _, w := range c.bitmap {
				binary.LittleEndian.PutUint64(buf[pos:], w)
				pos += 8
			}
		}
	}
	return pos, nil
}

// FrozenView returns a read-only bitmap whose containers map data
// directly. data must outlive the returned bitmap; mutating the view
// copies the touched containers out of the buffer first.
func FrozenView(data []byte) (*Bitmap, error) {
	if len(data) < frozenHeaderSize {
		return nil, errors.New("frozen view: buffer too small for header")
	}
	if cookie := binary.LittleEndian.Uint32(data); cookie != frozenCookie {
		return nil, errors.Errorf("frozen view: invalid cookie %d", cookie)
	}
	keyN := int(binary.LittleEndian.Uint32(data[4:]))
	if keyN > 1<<16 {
		return nil, errors.Errorf("frozen view: impossible container count %d", keyN)
	}
	if frozenHeaderSize+frozenDescriptorSize*keyN > len(data) {
		return nil, errors.New("frozen view: descriptor table overruns buffer")
	}

	b := &Bitmap{
		keys:       make([]uint16, keyN),
		containers: make([]*container, keyN),
	}
	elems := make([]int, keyN)
	pos := frozenHeaderSize
	for i := 0; i < keyN; i++ {
		b.keys[i] = binary.LittleEndian.Uint16(data[pos:])
		typ := byte(binary.LittleEndian.Uint16(data[pos+2:]))
		if typ != containerArray && typ != containerBitmap && typ != containerRun {
			return nil, errors.Errorf("frozen view: unknown container type %d", typ)
		}
		if i > 0 && b.keys[i-1] >= b.keys[i] {
			return nil, errors.Errorf("frozen view: keys out of order at %d", i)
		}
		b.containers[i] = &container{
			typ:    typ,
			n:      int32(binary.LittleEndian.Uint32(data[pos+4:])),
			mapped: true,
		}
		elems[i] = int(binary.LittleEndian.Uint32(data[pos+8:]))
		pos += frozenDescriptorSize
	}

	for i, c := range b.containers {
		pos = alignUp8(pos)
		sz := frozenBodySize(c.typ, elems[i])
		if pos+sz > len(data) {
			return nil, errors.Errorf("frozen view: container %d overruns buffer at %d", i, pos)
		}
		switch c.typ {
		case containerArray:
			if elems[i] > 0 {
				c.array = (*[1 << 15]uint16)(unsafe.Pointer(&data[pos]))[:elems[i]:elems[i]]
			}
		case containerRun:
			if elems[i] > 0 {
				c.runs = (*[1 << 15]interval16)(unsafe.Pointer(&data[pos]))[:elems[i]:elems[i]]
			}
		default:
			c.bitmap = (*[bitmapN]uint64)(unsafe.Pointer(&data[pos]))[:bitmapN:bitmapN]
		}
		pos += sz
	}
	return b, nil
}
