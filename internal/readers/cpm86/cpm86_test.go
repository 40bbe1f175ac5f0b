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

package cpm86

import (
	"bytes"
	"strings"
	"testing"

	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
)

type bufSource struct{ data []byte }

func (b bufSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, nil
	}
	n := copy(p, b.data[off:])
	return n, nil
}

func putWord16(buf []byte, offset int, value uint16) {
	buf[offset] = byte(value)
	buf[offset+1] = byte(value >> 8)
}

// TestS3CodeGroupRelocationAnnotation covers spec scenario S3: a minimal
// .cmd with one code group of length 0x10 and one relocation fixup at
// position 0x0008 of that group. Running with -Odata -Orelshow must
// underline the two bytes at column 8 of the single hex-dump row.
func TestS3CodeGroupRelocationAnnotation(t *testing.T) {
	const fixupTableOffset = 0x100
	buf := make([]byte, fixupTableOffset+8)

	// group #1: type=code, size=0x10 bytes (1 click, stored <<4)
	buf[0x00] = 0x01
	putWord16(buf, 0x01, 0x0001) // size <<4 == 0x10
	putWord16(buf, 0x03, 0x0000) // base
	putWord16(buf, 0x05, 0x0001) // min == size
	putWord16(buf, 0x07, 0x0000) // max
	buf[0x09] = 0x00             // terminator: no second group

	// offset 0x48: no libraries group
	buf[0x48] = 0x00

	// offset 0x60..0x7A: not a library, zero version/flags

	// offset 0x7B: rsx table offset = 0, fixup offset = 0x100 (raw<<7)
	putWord16(buf, 0x7B, 0x0000)
	putWord16(buf, 0x7D, uint16(fixupTableOffset>>7))
	buf[0x7F] = 0x80 // flags: do fixups

	// segment data at 0x80: the literal S3 code bytes
	code := []byte{0xB8, 0x34, 0x12, 0x8E, 0xD8, 0xB4, 0x09, 0xBA, 0x00, 0x00, 0xCD, 0x21, 0xC3, 0x00, 0x00, 0x00}
	copy(buf[0x80:], code)

	// fixup table at 0x100: one record targeting group #1 at position 0x0008
	buf[fixupTableOffset] = 0x11   // owner=1 (high nibble), target=1 (low nibble)
	putWord16(buf, fixupTableOffset+1, 0x0000) // seg
	buf[fixupTableOffset+3] = 0x08             // off
	buf[fixupTableOffset+4] = 0x00             // terminator

	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{buf}, int64(len(buf)), format.Options{Data: true, RelShow: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()

	lines := strings.Split(got, "\n")
	var dumpLine string
	for _, l := range lines {
		if strings.HasPrefix(l, "[") && strings.Contains(l, "B8") {
			dumpLine = l
			break
		}
	}
	if dumpLine == "" {
		t.Fatalf("no hex-dump row found; got:\n%s", got)
	}
	if !strings.Contains(dumpLine, "\x1b[4mBA 00\x1b[m") {
		t.Errorf("expected columns 8-9 (BA, 00) underlined; got line:\n%s", dumpLine)
	}
}

// TestRSXChainFollowed covers RSX table recursion: the top-level image
// names a nested CP/M-86 image through its RSX table rather than by a
// sniffed jump opcode.
func TestRSXChainFollowed(t *testing.T) {
	const rsxImageOffset = 0x200
	buf := make([]byte, rsxImageOffset+0x10)

	// top-level image: no groups, no libraries
	buf[0x00] = 0x00
	buf[0x48] = 0x00
	// rsx table offset = 0x80 (raw<<7 == 1), fixup offset = 0
	putWord16(buf, 0x7B, 0x0001)
	putWord16(buf, 0x7D, 0x0000)
	buf[0x7F] = 0x00

	// RSX table at 0x80: one 16-byte entry (offset, name[8], pad[6]) naming
	// the nested image at 0x200 (raw offset <<7 == rsxImageOffset, so
	// raw == rsxImageOffset>>7 == 4), then the 0xFFFF terminator.
	putWord16(buf, 0x80, uint16(rsxImageOffset>>7))
	copy(buf[0x82:0x8A], []byte("RSXNAME "))
	putWord16(buf, 0x90, 0xFFFF)

	// nested image at 0x200: a single code group, no libraries, no RSX
	buf[rsxImageOffset+0x00] = 0x01
	putWord16(buf, rsxImageOffset+0x01, 0x0000) // size = 0
	putWord16(buf, rsxImageOffset+0x03, 0x0000)
	putWord16(buf, rsxImageOffset+0x05, 0x0000)
	putWord16(buf, rsxImageOffset+0x07, 0x0000)
	buf[rsxImageOffset+0x09] = 0x00

	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{buf}, int64(len(buf)), format.Options{}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "RSX #1") {
		t.Errorf("missing RSX table entry; got:\n%s", got)
	}
	if !strings.Contains(got, "== RSX #1") {
		t.Errorf("chain did not recurse into the nested image; got:\n%s", got)
	}
}
