// Package wire implements the RFB-TV on-the-wire primitive encoding: a
// sequentially-read/written byte buffer of fixed-size integers, length
// prefixed blobs/strings, and key-value string maps, all big-endian.
//
// It is the Go equivalent of the C++ client's RfbtvMessage: writes always
// append, reads always advance a cursor, and a read past the end of the
// buffer latches an underflow flag rather than panicking so callers can
// finish a best-effort parse and then check has_data_underflow-equivalent
// state once.
package wire

import (
	"encoding/binary"

	rerrors "github.com/activevideo/rfbtv-client/internal/errors"
)

// Buffer is an ordered byte buffer with independent write-append and
// sequential-read-cursor semantics. The zero value is ready to use.
type Buffer struct {
	data      []byte
	readPos   int
	underflow bool
}

// New returns an empty, ready-to-use Buffer.
func New() *Buffer { return &Buffer{} }

// FromBytes wraps existing bytes for reading (e.g. a message just received
// off the socket). The returned Buffer owns data.
func FromBytes(data []byte) *Buffer { return &Buffer{data: data} }

// Clear resets the buffer to empty, discarding both written data and read state.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.readPos = 0
	b.underflow = false
}

// --- Writers ---

func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

func (b *Buffer) WriteUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

// WriteRaw appends data verbatim, with no length prefix.
func (b *Buffer) WriteRaw(data []byte) { b.data = append(b.data, data...) }

// WriteBlob appends a 32-bit length prefix followed by data.
func (b *Buffer) WriteBlob(data []byte) {
	b.WriteUint32(uint32(len(data)))
	b.WriteRaw(data)
}

// WriteString appends a 16-bit length prefix followed by the raw UTF-8 bytes
// of s (no NUL terminator).
func (b *Buffer) WriteString(s string) {
	b.WriteUint16(uint16(len(s)))
	b.data = append(b.data, s...)
}

// WriteKeyValuePair writes key and value as two consecutive length-prefixed strings.
func (b *Buffer) WriteKeyValuePair(key, value string) {
	b.WriteString(key)
	b.WriteString(value)
}

// WriteKeyValuePairs writes an 8-bit count followed by that many key-value
// pairs. Iteration order follows Go map iteration, so the order of the
// pairs on the wire is not defined.
func (b *Buffer) WriteKeyValuePairs(m map[string]string) {
	b.WriteUint8(uint8(len(m)))
	for k, v := range m {
		b.WriteKeyValuePair(k, v)
	}
}

// --- Readers ---

// need reports whether n more bytes are available; when they are not it
// latches the underflow flag instead of returning an error, matching the
// original client's "keep going, check at the end" parsing style used
// throughout RfbtvProtocol::parse_message.
func (b *Buffer) need(n int) bool {
	if b.readPos+n > len(b.data) {
		b.underflow = true
		return false
	}
	return true
}

func (b *Buffer) ReadUint8() uint8 {
	if !b.need(1) {
		return 0
	}
	v := b.data[b.readPos]
	b.readPos++
	return v
}

func (b *Buffer) ReadUint16() uint16 {
	if !b.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(b.data[b.readPos:])
	b.readPos += 2
	return v
}

func (b *Buffer) ReadUint32() uint32 {
	if !b.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(b.data[b.readPos:])
	b.readPos += 4
	return v
}

func (b *Buffer) ReadUint64() uint64 {
	if !b.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(b.data[b.readPos:])
	b.readPos += 8
	return v
}

// ReadRaw returns the next n bytes as a freshly allocated slice. On
// underflow it returns nil and latches the underflow flag; the read cursor
// is left unchanged so a later Rewind/DiscardBytesRead can recover cleanly.
func (b *Buffer) ReadRaw(n int) []byte {
	if n <= 0 {
		return nil
	}
	if !b.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.readPos:b.readPos+n])
	b.readPos += n
	return out
}

// ReadRawAsString is ReadRaw reinterpreted as a string, for fixed-size ASCII
// fields such as the version handshake string.
func (b *Buffer) ReadRawAsString(n int) string {
	raw := b.ReadRaw(n)
	if raw == nil {
		return ""
	}
	return string(raw)
}

// ReadBlob reads a 32-bit length prefix followed by that many bytes.
func (b *Buffer) ReadBlob() []byte {
	n := b.ReadUint32()
	if b.underflow {
		return nil
	}
	return b.ReadRaw(int(n))
}

// ReadString reads a 16-bit length prefix followed by that many bytes,
// returned as a string.
func (b *Buffer) ReadString() string {
	n := b.ReadUint16()
	if b.underflow {
		return ""
	}
	return b.ReadRawAsString(int(n))
}

// ReadKeyValuePairs reads an 8-bit count followed by that many key/value
// string pairs, returned as a map. A duplicate key overwrites the earlier
// value, matching std::map::operator[] assignment semantics in the original.
func (b *Buffer) ReadKeyValuePairs() map[string]string {
	count := b.ReadUint8()
	out := make(map[string]string, count)
	for i := 0; i < int(count); i++ {
		if b.underflow {
			break
		}
		k := b.ReadString()
		v := b.ReadString()
		out[k] = v
	}
	return out
}

// --- Positional access ---

// At returns the byte at index without bounds checking, mirroring
// RfbtvMessage::operator[]. Callers must ensure 0 <= index < Size().
func (b *Buffer) At(index int) byte { return b.data[index] }

// SetAt overwrites the byte at index without bounds checking.
func (b *Buffer) SetAt(index int, v byte) { b.data[index] = v }

// Size returns the total number of bytes written to the buffer.
func (b *Buffer) Size() int { return len(b.data) }

// Bytes returns the full underlying data. Callers must not retain it past
// the next mutating call.
func (b *Buffer) Bytes() []byte { return b.data }

// BytesRead returns how many bytes have been consumed by the read cursor.
func (b *Buffer) BytesRead() int { return b.readPos }

// Rewind resets the read cursor to the start and clears the underflow
// latch, without discarding data.
func (b *Buffer) Rewind() { b.readPos = 0; b.underflow = false }

// DiscardBytesRead drops everything consumed so far from the front of the
// buffer and rewinds the cursor, so a partially-parsed message can retain
// only its unconsumed tail (used when a frame boundary doesn't align with a
// socket read).
func (b *Buffer) DiscardBytesRead() {
	if b.readPos > 0 {
		b.data = append([]byte(nil), b.data[b.readPos:]...)
	}
	b.readPos = 0
	b.underflow = false
}

// HasDataUnderflow reports whether any read since the last Clear/Rewind/
// DiscardBytesRead has run past the end of the buffer.
func (b *Buffer) HasDataUnderflow() bool { return b.underflow }

// RequireNoUnderflow is a convenience for codec decoders: after parsing a
// full message, call this once and bail out with a WireError instead of
// silently returning zero-valued fields.
func (b *Buffer) RequireNoUnderflow(op string) error {
	if b.underflow {
		return rerrors.NewWireError(op, errUnderflowSentinel)
	}
	return nil
}

var errUnderflowSentinel = underflowErr{}

type underflowErr struct{}

func (underflowErr) Error() string { return "read past end of wire buffer" }
