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

package aout

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
	n := copy(p, b.data[off:])
	return n, nil
}

func le32(v uint32) []byte { b := make([]byte, 4); binary.LittleEndian.PutUint32(b, v); return b }

// TestOMAGICWithTextRelocation covers a minimal OMAGIC header with one
// text relocation and a single defined symbol.
func TestOMAGICWithTextRelocation(t *testing.T) {
	const textSize = 4
	var buf bytes.Buffer
	buf.Write(le32(0407))        // magic, flags=0
	buf.Write(le32(textSize))    // text size
	buf.Write(le32(0))           // data size
	buf.Write(le32(0))           // bss size
	buf.Write(le32(12))          // symbol table size (one entry)
	buf.Write(le32(0))           // entry
	buf.Write(le32(8))           // text reloc size (one entry)
	buf.Write(le32(0))           // data reloc size
	buf.Write([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	buf.Write(le32(0))    // reloc addr
	buf.Write(le32(0x02)) // reloc info: length=1<<((2>>25)&3)=1byte... symNum=2
	// symbol table: one entry (strOff, type, other, desc, value)
	buf.Write(le32(1)) // offset into string table
	buf.WriteByte(0x05) // text symbol, external
	buf.WriteByte(0)
	buf.Write([]byte{0, 0}) // desc
	buf.Write(le32(0))      // value
	buf.WriteByte(0)        // string table: leading length-ish byte (ignored), then name
	buf.WriteString("foo\x00")

	data := buf.Bytes()

	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{data}, int64(len(data)), format.Options{Rel: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"OMAGIC", "Text relocations", "text (external)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q; got:\n%s", want, got)
		}
	}
}
