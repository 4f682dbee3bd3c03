// Package wire implements the canonical, length-prefixed, little-endian
// encoding used for both hashing (block headers, payload entries) and
// wire transport (P2P messages). It is deliberately hand-rolled rather
// than delegated to a generic serializer: the byte layout is a
// compatibility-critical surface fixed by protocol version, and no
// language's default serializer can be pinned to it without options that
// would themselves need specifying.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer accumulates a canonical encoding into a growable byte buffer.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) PutInt64(v int64) {
	w.PutUint64(uint64(v))
}

func (w *Writer) PutByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *Writer) PutRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// PutBytes writes a u64 length prefix followed by the raw bytes.
func (w *Writer) PutBytes(b []byte) {
	w.PutUint64(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// PutString writes a u64 length prefix followed by the UTF-8 bytes.
func (w *Writer) PutString(s string) {
	w.PutBytes([]byte(s))
}

// Reader decodes a canonical encoding produced by Writer, tracking how
// much of the underlying buffer has been consumed.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("wire: truncated (need %d bytes, have %d)", n, len(r.buf)-r.pos)
	}
	return nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

func (r *Reader) Byte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) Raw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// MaxFrame bounds how large a single length-prefixed field may declare
// itself to avoid allocating attacker-controlled amounts of memory while
// decoding a frame that has already passed the outer max_message_size
// check.
const MaxFrame = 64 << 20 // 64 MiB

func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uint64()
	if err != nil {
		return nil, err
	}
	if n > MaxFrame {
		return nil, fmt.Errorf("wire: declared length %d exceeds max frame", n)
	}
	b, err := r.Raw(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *Reader) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Done reports whether the reader has consumed the entire buffer; callers
// use this to reject trailing garbage after decoding a top-level value.
func (r *Reader) Done() bool {
	return r.pos == len(r.buf)
}

// ReadFrame reads one length-prefixed frame from r: a u32 big-endian
// length followed by exactly that many bytes. It is the transport-level
// framing used for every socket read; max bounds the length against
// max_message_size.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > max {
		return nil, fmt.Errorf("wire: frame length %d exceeds max %d", n, max)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes payload prefixed with its u32 big-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}
