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

package appledouble

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

func be32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func be16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }

// TestS6AppleDoubleResourceRecursion covers an AppleDouble container whose
// resource-fork entry is recognized and recursively dumped as a Macintosh
// resource fork.
func TestS6AppleDoubleResourceRecursion(t *testing.T) {
	// A one-resource fork: 'TEST' id=128 whose contents are 42 42 42 42.
	fork := append(append(append(be32(16), be32(24)...), be32(8)...), be32(46)...) // data/map offsets and lengths
	fork = append(fork, 0x00, 0x00, 0x00, 0x04, 0x42, 0x42, 0x42, 0x42)             // resource data: length + contents
	fork = append(fork, make([]byte, 24)...)                                        // map header
	fork = append(fork, 0x00, 0x1C, 0x00, 0x26)                                     // type list / name list offsets
	fork = append(fork, 0x00, 0x00, 'T', 'E', 'S', 'T', 0x00, 0x00, 0x00, 0x0A)     // type list
	fork = append(fork, 0x00, 0x80, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00)             // reference: id=128, no name

	var buf bytes.Buffer
	buf.Write(be32(0x00051607)) // AppleDouble magic
	buf.Write(be32(0x00020000)) // version
	buf.Write(make([]byte, 16)) // home filesystem filler
	buf.Write(be16(1))          // one entry

	entryTableLen := 12
	forkOffset := int64(buf.Len() + entryTableLen)
	buf.Write(be32(2)) // entry id: resource fork
	buf.Write(be32(uint32(forkOffset)))
	buf.Write(be32(uint32(len(fork))))
	buf.Write(fork)

	data := buf.Bytes()
	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{data}, int64(len(data)), format.Options{Data: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "AppleDouble") {
		t.Errorf("missing container kind; got:\n%s", got)
	}
	if !strings.Contains(got, "'TEST'") {
		t.Errorf("recursion into resource fork did not dump its type list; got:\n%s", got)
	}
}
