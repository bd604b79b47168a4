package objdb

import (
	"encoding/binary"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

// Ordered unsigned integers.
//
// Values below orderedUintMulti take a single byte. Larger values are written
// as a length byte (orderedUintMulti+n-1) followed by n big-endian bytes of
// v-orderedUintMulti, using the minimal n. Byte order of encodings matches
// numeric order of values.
const orderedUintMulti = 0xF8

func appendOrderedUint(buf []byte, v uint64) []byte {
	if v < orderedUintMulti {
		return append(buf, byte(v))
	}
	w := v - orderedUintMulti
	n := 1
	for n < 8 && w>>(8*n) != 0 {
		n++
	}
	buf = append(buf, byte(orderedUintMulti+n-1))
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, byte(w>>(8*i)))
	}
	return buf
}

func orderedUintLen(v uint64) int {
	if v < orderedUintMulti {
		return 1
	}
	w := v - orderedUintMulti
	n := 1
	for n < 8 && w>>(8*n) != 0 {
		n++
	}
	return 1 + n
}

func readOrderedUint(buf []byte) (uint64, []byte, error) {
	if len(buf) == 0 {
		return 0, nil, dataErrf(buf, 0, nil, "missing ordered uint")
	}
	b := buf[0]
	if b < orderedUintMulti {
		return uint64(b), buf[1:], nil
	}
	n := int(b-orderedUintMulti) + 1
	if len(buf) < 1+n {
		return 0, nil, dataErrf(buf, 0, nil, "truncated ordered uint: %d bytes wanted", n)
	}
	var w uint64
	for _, c := range buf[1 : 1+n] {
		w = w<<8 | uint64(c)
	}
	if n > 1 && w>>(8*(n-1)) == 0 {
		return 0, nil, dataErrf(buf, 0, nil, "non-minimal ordered uint")
	}
	if w > math.MaxUint64-orderedUintMulti {
		return 0, nil, dataErrf(buf, 0, nil, "ordered uint overflow")
	}
	return w + orderedUintMulti, buf[1+n:], nil
}

type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{buf, buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if len(d.Buf) < n {
		return nil, dataErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) OrderedUint() (uint64, error) {
	v, rest, err := readOrderedUint(d.Buf)
	if err != nil {
		return 0, dataErrf(d.Orig, d.Off(), err, "invalid ordered uint")
	}
	d.Buf = rest
	return v, nil
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
