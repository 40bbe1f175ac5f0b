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

package hu

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

func be32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

// TestRelocationChain covers a Human68k .x header with text data and a
// two-entry chained relocation list.
func TestRelocationChain(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("HU")
	buf.Write([]byte{0, 0}) // reserved
	buf.Write(be32(0x1000)) // base
	buf.Write(be32(0x1000)) // entry
	buf.Write(be32(8))      // text size
	buf.Write(be32(0))      // data size
	buf.Write(be32(0))      // bss size
	buf.Write(be32(6)) // reloc size: 4-byte first site + 1-byte delta + 1-byte terminator
	buf.Write(be32(0))      // sym size
	buf.Write(make([]byte, 32)) // reserved, up to the 64-byte header boundary

	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0}) // text

	buf.Write(be32(2)) // first site
	buf.WriteByte(4)   // +4 -> site 6
	buf.WriteByte(0)   // terminator

	data := buf.Bytes()
	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{data}, int64(len(data)), format.Options{Rel: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{"site=0x00000002", "site=0x00000006"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q; got:\n%s", want, got)
		}
	}
}
