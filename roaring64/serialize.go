// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

package roaring64

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/featurebasedb/roaring"
)

// The 64-bit serialized form is an outer entry count followed by, per
// entry, the uint32 outer key and the serialized 32-bit body. The
// frozen form additionally pads each entry so that its body lands on a
// 32-byte boundary and prefixes it with the body size, letting a
// reader borrow the buffer without parsing container internals.

// frozenEntryMetaSize is the per-entry body size plus outer key.
const frozenEntryMetaSize = 8 + 4

// SizeInBytes returns the serialized size of the bitmap in the
// requested format.
func (b *Bitmap) SizeInBytes(portable bool) uint64 {
	sz := uint64(8)
	for _, ib := range b.bitmaps {
		sz += 4 + ib.SizeInBytes(portable)
	}
	return sz
}

// MarshalBinary encodes b in the portable interchange format.
func (b *Bitmap) MarshalBinary() ([]byte, error) {
	return b.marshal(true)
}

func (b *Bitmap) marshal(portable bool) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(b.SizeInBytes(portable)))
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(b.keys)))
	buf.Write(scratch[:8])
	for i, ib := range b.bitmaps {
		binary.LittleEndian.PutUint32(scratch[:4], b.keys[i])
		buf.Write(scratch[:4])
		var err error
		if portable {
			_, err = ib.WriteTo(&buf)
		} else {
			_, err = ib.WriteToNative(&buf)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling inner bitmap %d", b.keys[i])
		}
	}
	return buf.Bytes(), nil
}

// WriteTo writes b to w in the portable interchange format.
func (b *Bitmap) WriteTo(w io.Writer) (int64, error) {
	buf, err := b.marshal(true)
	if err != nil {
		return 0, err
	}
	nn, err := w.Write(buf)
	return int64(nn), err
}

// WriteToNative writes b to w with the inner bitmaps in the native
// format, which packs sparse bitmaps more tightly.
func (b *Bitmap) WriteToNative(w io.Writer) (int64, error) {
	buf, err := b.marshal(false)
	if err != nil {
		return 0, err
	}
	nn, err := w.Write(buf)
	return int64(nn), err
}

// UnmarshalBinary decodes b from data, replacing its contents. The
// length of data is the byte budget: running out of bytes mid-parse
// is a hard error and b is left unchanged.
func (b *Bitmap) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return errors.New("unmarshaling bitmap: buffer too small for entry count")
	}
	entryN := binary.LittleEndian.Uint64(data)
	pos := 8

	other := New()
	for e := uint64(0); e < entryN; e++ {
		if pos+4 > len(data) {
			return errors.Errorf("unmarshaling bitmap: ran out of bytes reading key of entry %d", e)
		}
		key := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		if e > 0 && other.keys[len(other.keys)-1] >= key {
			return errors.Errorf("unmarshaling bitmap: keys out of order at entry %d", e)
		}
		inner := roaring.NewBitmap()
		consumed, err := inner.UnmarshalBuffer(data[pos:])
		if err != nil {
			return errors.Wrapf(err, "unmarshaling inner bitmap of entry %d", e)
		}
		pos += consumed
		other.appendInner(key, inner)
	}

	b.keys, b.bitmaps = other.keys, other.bitmaps
	return nil
}

// FrozenSizeInBytes returns the byte size of the frozen encoding.
func (b *Bitmap) FrozenSizeInBytes() uint64 {
	sz := uint64(8)
	for _, ib := range b.bitmaps {
		for (sz+frozenEntryMetaSize)%32 != 0 {
			sz++
		}
		sz += frozenEntryMetaSize
		sz += ib.FrozenSizeInBytes()
	}
	return sz
}

// WriteFrozen writes the frozen encoding of b into buf and returns the
// number of bytes written. buf must hold at least FrozenSizeInBytes
// bytes and should be 32-byte aligned so that the container bodies of
// a later view are aligned too.
func (b *Bitmap) WriteFrozen(buf []byte) (int, error) {
	size := b.FrozenSizeInBytes()
	if uint64(len(buf)) < size {
		return 0, errors.Errorf("writing frozen bitmap: need %d bytes, have %d", size, len(buf))
	}

	binary.LittleEndian.PutUint64(buf[0:], uint64(len(b.keys)))
	pos := 8
	for i, ib := range b.bitmaps {
		for (pos+frozenEntryMetaSize)%32 != 0 {
			buf[pos] = 0
			pos++
		}
		bodySize := ib.FrozenSizeInBytes()
		binary.LittleEndian.PutUint64(buf[pos:], bodySize)
		binary.LittleEndian.PutUint32(buf[pos+8:], b.keys[i])
		pos += frozenEntryMetaSize
		n, err := ib.WriteFrozen(buf[pos : pos+int(bodySize)])
		if err != nil {
			return 0, errors.Wrapf(err, "writing frozen inner bitmap %d", b.keys[i])
		}
		pos += n
	}
	return pos, nil
}

// FrozenView returns a read-only bitmap borrowing data. The buffer
// must outlive the returned bitmap; mutations copy the touched
// containers out of the buffer first.
func FrozenView(data []byte) (*Bitmap, error) {
	if len(data) < 8 {
		return nil, errors.New("frozen view: buffer too small for entry count")
	}
	entryN := binary.LittleEndian.Uint64(data)
	pos := 8

	b := New()
	for e := uint64(0); e < entryN; e++ {
		for (pos+frozenEntryMetaSize)%32 != 0 {
			pos++
		}
		if pos+frozenEntryMetaSize > len(data) {
			return nil, errors.Errorf("frozen view: ran out of bytes reading entry %d", e)
		}
		bodySize := binary.LittleEndian.Uint64(data[pos:])
		key := binary.LittleEndian.Uint32(data[pos+8:])
		pos += frozenEntryMetaSize
		if uint64(pos)+bodySize > uint64(len(data)) {
			return nil, errors.Errorf("frozen view: body of entry %d overruns buffer", e)
		}
		if e > 0 && b.keys[len(b.keys)-1] >= key {
			return nil, errors.Errorf("frozen view: keys out of order at entry %d", e)
		}
		inner, err := roaring.FrozenView(data[pos : pos+int(bodySize)])
		if err != nil {
			return nil, errors.Wrapf(err, "frozen view of entry %d", e)
		}
		pos += int(bodySize)
		b.appendInner(key, inner)
	}
	return b, nil
}
