/*******************************************************************************
*
* Copyright 2015 Stefan Majewsky <majewsky@gmx.net>
*
* This file is part of Holo.
*
* Holo is free software: you can redistribute it and/or modify it under the
* terms of the GNU General Public License as published by the Free Software
* Foundation, either version 3 of the License, or (at your option) any later
* version.
*
* Holo is distributed in the hope that it will be useful, but WITHOUT ANY
* WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR
* A PARTICULAR PURPOSE. See the GNU General Public License for more details.
*
* You should have received a copy of the GNU General Public License along with
* Holo. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Package byteio implements a seekable cursor over a random-access byte
// source, with word assembly under four endiannesses (little, big, PDP-11,
// anti-PDP-11) and the null-terminated / length-prefixed string helpers the
// format readers build on.
package byteio

import (
	"fmt"
	"io"
)

// Endian selects how a multi-byte word is assembled from its bytes.
type Endian int

const (
	// Little: byte i contributes bits 8i..8(i+1)-1.
	Little Endian = iota
	// Big: byte i contributes bits 8(n-i-1)..8(n-i)-1.
	Big
	// PDP11: within each 16-bit half, bytes are big-endian; halves are in
	// little-endian order. Byte i lands at position (i xor 1) for width 4.
	PDP11
	// AntiPDP11 is the dual of PDP11: little-endian halves, big-endian
	// half order.
	AntiPDP11
)

// Reader is a seekable cursor over an io.ReaderAt-backed byte source. It
// keeps its own position (unlike io.ReaderAt) so callers can Tell/Seek/Skip
// the way the original Python Reader class does.
type Reader struct {
	src    io.ReaderAt
	pos    int64
	length int64
	Endian Endian

	// Warnf, if set, receives a formatted warning whenever a read comes up
	// short. Readers wire this to their errcollect.Collector.
	Warnf func(format string, args ...interface{})
}

// New wraps src (whose total length must be known ahead of time, e.g. via
// os.File.Stat) in a Reader positioned at offset 0, little-endian by
// default.
func New(src io.ReaderAt, length int64) *Reader {
	return &Reader{src: src, length: length, Endian: Little}
}

// Len returns the total length of the underlying byte source.
func (r *Reader) Len() int64 { return r.length }

// Tell returns the current cursor position.
func (r *Reader) Tell() int64 { return r.pos }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(offset int64) { r.pos = offset }

// Skip moves the cursor by a relative delta.
func (r *Reader) Skip(delta int64) { r.pos += delta }

// SeekEnd moves the cursor to length+delta (delta is usually <= 0).
func (r *Reader) SeekEnd(delta int64) { r.pos = r.length + delta }

// Save returns a closure that restores the cursor to its value at the time
// Save was called. Every helper that repositions the cursor to follow a
// cross-reference must `defer rd.Save()()` on entry so the cursor position
// is restored regardless of the exit path.
func (r *Reader) Save() func() {
	saved := r.pos
	return func() { r.pos = saved }
}

// Read reads n bytes at the current position and advances the cursor. A
// short read (cursor beyond or near the end of the source) is reported via
// Warnf and zero-padded, never returned as an error: a truncated read is a
// recoverable condition, not a fatal one.
func (r *Reader) Read(n int) []byte {
	buf := make([]byte, n)
	var got int
	var err error
	if r.pos < r.length {
		got, err = r.src.ReadAt(buf, r.pos)
	}
	r.pos += int64(n)
	if got < n || (err != nil && err != io.EOF) {
		if r.Warnf != nil {
			r.Warnf("expected 0x%X bytes, stream ended at 0x%X", n, r.pos-int64(n)+int64(got))
		}
		for i := got; i < n; i++ {
			buf[i] = 0
		}
	}
	return buf
}

// ReadToZero reads bytes up to (excluding) the next 0x00 byte.
func (r *Reader) ReadToZero() []byte {
	var out []byte
	for {
		b := r.Read(1)
		if b[0] == 0 {
			return out
		}
		out = append(out, b[0])
	}
}

// ReadLengthPrefixed reads a length byte followed by that many bytes, the
// (length, chars) record shape used by NE/LE name tables.
func (r *Reader) ReadLengthPrefixed() []byte {
	n := r.Read(1)[0]
	return r.Read(int(n))
}

// ParseWord assembles an integer from data under the given endianness,
// sign-extending to the host width when signed is true. Width 3 has no
// native decoder and is assembled byte-by-byte, same as every other width
// through this same code path (only widths 1, 2, 4, 8 have a fast path in
// the original; here every width uses the explicit loop for clarity).
func ParseWord(data []byte, signed bool, endian Endian) int64 {
	n := len(data)
	var value uint64
	for i := 0; i < n; i++ {
		// slot is the byte position (0 = LSB) that byte i contributes to.
		// PDP11 only swaps within adjacent byte pairs (i^1), regardless of
		// total width, since halves stay in their natural order and only
		// the two bytes inside each half trade places. AntiPDP11 is the
		// dual: bytes keep their natural place within a half, but the
		// halves themselves run in reverse order, i.e. byte i's half
		// (i &^ 1) is mirrored to (n-2)-(i &^ 1), which works out to
		// i^(n-2) at the byte level.
		var slot int
		switch {
		case endian == Little, endian == PDP11 && n <= 2, endian == AntiPDP11 && n <= 2:
			slot = i
		case endian == Big:
			slot = n - i - 1
		case endian == PDP11:
			slot = i ^ 1
		case endian == AntiPDP11:
			slot = i ^ (n - 2)
		}
		value |= uint64(data[i]) << uint(slot*8)
	}
	if signed && n > 0 && n < 8 {
		signBit := uint64(1) << uint(n*8-1)
		if value&signBit != 0 {
			value |= ^uint64(0) << uint(n*8)
		}
	}
	return int64(value)
}

// ReadWord reads n bytes and parses them as an integer under the reader's
// current endianness.
func (r *Reader) ReadWord(n int, signed bool) int64 {
	return ParseWord(r.Read(n), signed, r.Endian)
}

// ReadWordEndian is ReadWord with an explicit endianness override, used by
// LE/LX readers whose object-page table format differs from the segment's
// declared byte order (e.g. big-endian 24-bit fixup indices).
func (r *Reader) ReadWordEndian(n int, signed bool, endian Endian) int64 {
	return ParseWord(r.Read(n), signed, endian)
}

// EndianFromPair resolves a byte-order/word-order pair (as read from an
// LE/LX header) to one of the four Endian values. wordOrder/byteOrder follow the LE/LX header's own encoding: 0 =
// little, 1 = big; the combination yields PDP11 or AntiPDP11 when they
// disagree.
func EndianFromPair(byteOrder, wordOrder byte) (Endian, error) {
	switch {
	case byteOrder == 0 && wordOrder == 0:
		return Little, nil
	case byteOrder == 1 && wordOrder == 1:
		return Big, nil
	case byteOrder == 1 && wordOrder == 0:
		return PDP11, nil
	case byteOrder == 0 && wordOrder == 1:
		return AntiPDP11, nil
	default:
		return Little, fmt.Errorf("unrecognized byte/word order pair (%d, %d)", byteOrder, wordOrder)
	}
}
