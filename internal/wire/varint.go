// Package wire implements the little-endian, variable-length integer
// bincode encoding used for every message that crosses the endpoint
// transport, and the EndPointMessage sum type built on it.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Writer accumulates an encoded message into a growable byte buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded buffer built so far.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// PutUvarint appends v as an LEB128 little-endian varint.
func (w *Writer) PutUvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// PutVarint appends a signed v as a zig-zag LEB128 varint.
func (w *Writer) PutVarint(v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

// PutU8 appends a single byte.
func (w *Writer) PutU8(v uint8) {
	w.buf = append(w.buf, v)
}

// PutBool appends a 1-byte boolean.
func (w *Writer) PutBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

// PutF32 appends a 4-byte little-endian IEEE-754 float.
func (w *Writer) PutF32(v float32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
	w.buf = append(w.buf, tmp[:]...)
}

// PutBytes appends a varint length prefix followed by raw bytes.
func (w *Writer) PutBytes(b []byte) {
	w.PutUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// PutString appends a varint length prefix followed by UTF-8 bytes.
func (w *Writer) PutString(s string) {
	w.PutBytes([]byte(s))
}

// Reader consumes an encoded message from a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("wire: malformed uvarint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) Varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("wire: malformed varint at offset %d", r.pos)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) U8() (uint8, error) {
	if r.Remaining() < 1 {
		return 0, fmt.Errorf("wire: truncated u8 at offset %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.U8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) F32() (float32, error) {
	if r.Remaining() < 4 {
		return 0, fmt.Errorf("wire: truncated f32 at offset %d", r.pos)
	}
	bits := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return math.Float32frombits(bits), nil
}

// maxBytesLen bounds a single length-prefixed field to the transport's
// maximum frame size, so a corrupt length prefix cannot trigger
// an unbounded allocation.
const maxBytesLen = 32 << 20

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	if n > maxBytesLen {
		return nil, fmt.Errorf("wire: length %d exceeds max frame size", n)
	}
	if uint64(r.Remaining()) < n {
		return nil, fmt.Errorf("wire: truncated bytes field, want %d have %d", n, r.Remaining())
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
