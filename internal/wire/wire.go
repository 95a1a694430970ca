package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version  byte = 1
	KindItem byte = 1
	KindLock byte = 2

	flagHasPrevious byte = 1 << 0
	flagDirty       byte = 1 << 1

	// magic(4) | ver(1) | kind(1) | codec(1) | epoch(u64) | gen(u64)
	headerLen = 4 + 1 + 1 + 1 + 8 + 8
	// ts(i64) | version(u64) | vlen(u32)
	itemFixedLen = 8 + 8 + 4
	// id(i64) | count(u32) | source(16) | acquired(i64) | timeout(i64) | version(u64) | flags(1)
	lockFixedLen = 8 + 4 + 16 + 8 + 8 + 8 + 1
)

var (
	ErrCorrupt = errors.New("regioncache: corrupt slot")
	magic4     = [...]byte{'R', 'G', 'N', 'C'}
)

// Header is stamped on every slot. Epoch and Gen are the region epoch and the
// key generation observed when the slot was written.
type Header struct {
	Kind  byte
	Codec byte
	Epoch uint64
	Gen   uint64
}

// Item is a committed value.
type Item struct {
	Timestamp int64
	Version   uint64
	Payload   []byte
}

// Lock is the soft-lock bookkeeping occupying a slot during a pessimistic write.
type Lock struct {
	ID         int64
	Count      uint32
	Source     [16]byte
	AcquiredAt int64
	Timeout    int64
	Version    uint64
	Dirty      bool
	Previous   *Item
}

// Slot is exactly one of Item or Lock, selected by Header.Kind.
type Slot struct {
	Header
	Item *Item
	Lock *Lock
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames a slot. Kind must agree with the populated variant.
func Encode(s Slot) ([]byte, error) {
	size := headerLen
	switch s.Kind {
	case KindItem:
		if s.Item == nil || s.Lock != nil {
			return nil, errors.New("regioncache: item slot must carry only an item")
		}
		size += itemFixedLen + len(s.Item.Payload)
	case KindLock:
		if s.Lock == nil || s.Item != nil {
			return nil, errors.New("regioncache: lock slot must carry only a lock")
		}
		size += lockFixedLen
		if s.Lock.Previous != nil {
			size += itemFixedLen + len(s.Lock.Previous.Payload)
		}
	default:
		return nil, errors.New("regioncache: unknown slot kind")
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(s.Kind)
	buf.WriteByte(s.Codec)
	writeU64(&buf, s.Epoch)
	writeU64(&buf, s.Gen)

	if s.Kind == KindItem {
		writeItem(&buf, s.Item)
		return buf.Bytes(), nil
	}

	l := s.Lock
	writeU64(&buf, uint64(l.ID))
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], l.Count)
	buf.Write(u4[:])
	buf.Write(l.Source[:])
	writeU64(&buf, uint64(l.AcquiredAt))
	writeU64(&buf, uint64(l.Timeout))
	writeU64(&buf, l.Version)
	var flags byte
	if l.Previous != nil {
		flags |= flagHasPrevious
	}
	if l.Dirty {
		flags |= flagDirty
	}
	buf.WriteByte(flags)
	if l.Previous != nil {
		writeItem(&buf, l.Previous)
	}
	return buf.Bytes(), nil
}

// Decode parses a framed slot. Trailing bytes are rejected.
// Payload slices alias b.
func Decode(b []byte) (Slot, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version {
		return Slot{}, ErrCorrupt
	}
	s := Slot{Header: Header{
		Kind:  b[5],
		Codec: b[6],
		Epoch: binary.BigEndian.Uint64(b[7:15]),
		Gen:   binary.BigEndian.Uint64(b[15:23]),
	}}
	off := headerLen

	switch s.Kind {
	case KindItem:
		it, n, err := readItem(b[off:])
		if err != nil {
			return Slot{}, err
		}
		off += n
		s.Item = it
	case KindLock:
		if len(b)-off < lockFixedLen {
			return Slot{}, ErrCorrupt
		}
		l := &Lock{}
		l.ID = int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
		l.Count = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		copy(l.Source[:], b[off:off+16])
		off += 16
		l.AcquiredAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
		l.Timeout = int64(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
		l.Version = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		flags := b[off]
		off++
		if flags&^(flagHasPrevious|flagDirty) != 0 {
			return Slot{}, ErrCorrupt
		}
		l.Dirty = flags&flagDirty != 0
		if flags&flagHasPrevious != 0 {
			it, n, err := readItem(b[off:])
			if err != nil {
				return Slot{}, err
			}
			off += n
			l.Previous = it
		}
		s.Lock = l
	default:
		return Slot{}, ErrCorrupt
	}

	if off != len(b) {
		return Slot{}, ErrCorrupt
	}
	return s, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var u8 [8]byte
	binary.BigEndian.PutUint64(u8[:], v)
	buf.Write(u8[:])
}

func writeItem(buf *bytes.Buffer, it *Item) {
	writeU64(buf, uint64(it.Timestamp))
	writeU64(buf, it.Version)
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(it.Payload)))
	buf.Write(u4[:])
	buf.Write(it.Payload)
}

func readItem(b []byte) (*Item, int, error) {
	if len(b) < itemFixedLen {
		return nil, 0, ErrCorrupt
	}
	it := &Item{
		Timestamp: int64(binary.BigEndian.Uint64(b[0:8])),
		Version:   binary.BigEndian.Uint64(b[8:16]),
	}
	vlen := int(binary.BigEndian.Uint32(b[16:20]))
	if vlen < 0 || vlen > len(b)-itemFixedLen { // overflow-safe bound check
		return nil, 0, ErrCorrupt
	}
	it.Payload = b[itemFixedLen : itemFixedLen+vlen]
	return it, itemFixedLen + vlen, nil
}
