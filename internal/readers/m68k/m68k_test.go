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

package m68k

import (
	"bytes"
	"encoding/binary"
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

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// TestS4GEMDOSRelocationChain covers a GEMDOS image with a two-entry
// chained relocation list.
func TestS4GEMDOSRelocationChain(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x60, 0x1A}) // magic
	buf.Write(be32(8))            // text size
	buf.Write(be32(0))            // data size
	buf.Write(be32(0))            // bss size
	buf.Write(be32(0))            // symbol table size
	buf.Write(be32(0))            // reserved
	buf.Write(be32(0))            // flags
	buf.Write([]byte{0x00, 0x00}) // noreloc: 0 means relocations are present
	buf.Write(make([]byte, 8))    // text segment
	buf.Write(be32(2))            // first relocation at offset 2
	buf.Write([]byte{4})          // second at offset 2+4=6
	buf.Write([]byte{0})          // terminator

	data := buf.Bytes()
	var out bytes.Buffer
	var ec errcollect.Collector
	r := Reader{Sys: "gemdos"}
	err := r.ReadFile(bufSource{data}, int64(len(data)), format.Options{Rel: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"Fixup longword at 0x00000002", "Fixup longword at 0x00000006"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q; got:\n%s", want, got)
		}
	}
}

// TestS4SpecExample pins the S4 scenario: magic 0x601A, textsize 0x20,
// datasize 0, fixup stream 00 00 00 04 01 02 00 (without the FE byte; see
// DESIGN.md's "GEMDOS S4 worked example's stray byte" decision).
func TestS4SpecExample(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x60, 0x1A})
	buf.Write(be32(0x20)) // text size
	buf.Write(be32(0))    // data size
	buf.Write(be32(0))    // bss size
	buf.Write(be32(0))    // symbol table size
	buf.Write(be32(0))    // stack size
	buf.Write(be32(0))    // textbase
	buf.Write([]byte{0x00, 0x00})
	buf.Write(make([]byte, 0x20))             // text segment
	buf.Write([]byte{0x00, 0x00, 0x00, 0x04}) // first_offset = 0x04
	buf.Write([]byte{0x01})                   // skip marker: +254, no fixup
	buf.Write([]byte{0x02})                   // delta +2: fixup at 0x102+2=0x104
	buf.Write([]byte{0x00})                   // terminator

	data := buf.Bytes()
	var out bytes.Buffer
	var ec errcollect.Collector
	r := Reader{Sys: "gemdos"}
	err := r.ReadFile(bufSource{data}, int64(len(data)), format.Options{Rel: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"Fixup longword at 0x00000004", "Fixup longword at 0x00000104"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q; got:\n%s", want, got)
		}
	}
	if strings.Contains(got, "0x00000102") {
		t.Error("offset 0x102 should be skipped by the delta=1 (+254) marker, not reported as a fixup")
	}
}

func TestWrongMagicWarns(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00})
	buf.Write(make([]byte, 26))
	data := buf.Bytes()
	var out bytes.Buffer
	var ec errcollect.Collector
	r := Reader{Sys: "gemdos"}
	r.ReadFile(bufSource{data}, int64(len(data)), format.Options{}, &out, &ec)
	if !ec.HasErrors() {
		t.Error("expected a warning about invalid magic")
	}
}
