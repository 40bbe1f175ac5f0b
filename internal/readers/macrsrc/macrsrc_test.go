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

package macrsrc

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

func be16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func be32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }

// BuildMinimalFork constructs a resource fork with a single 'TEST' id=128
// resource whose contents are the four bytes given.
func BuildMinimalFork(contents []byte) []byte {
	dataOff := int64(16)
	var data bytes.Buffer
	data.Write(be32(uint32(len(contents))))
	data.Write(contents)
	dataLen := int64(data.Len())

	mapOff := dataOff + dataLen

	var typeList bytes.Buffer
	typeList.Write(be16(0)) // type count - 1
	typeListEntryOff := int64(typeList.Len())
	typeList.Write([]byte("TEST"))
	typeList.Write(be16(0)) // resource count - 1
	refListOff := int64(8 + 2)
	typeList.Write(be16(uint16(refListOff)))
	_ = typeListEntryOff

	var refList bytes.Buffer
	refList.Write(be16(128)) // id
	refList.Write(be16(0xFFFF)) // no name
	packed := uint32(0) // attrs=0, data offset=0 (first resource)
	refList.Write(be32(packed))

	var mapBuf bytes.Buffer
	mapBuf.Write(make([]byte, 16)) // header copy
	mapBuf.Write(make([]byte, 4))  // next map handle
	mapBuf.Write(make([]byte, 2))  // file ref num
	mapBuf.Write(make([]byte, 2))  // attributes
	typeListOff := int64(mapBuf.Len()) + 4 // past the two offset fields themselves
	mapBuf.Write(be16(uint16(typeListOff)))
	mapBuf.Write(be16(uint16(typeListOff + int64(typeList.Len()))))
	mapBuf.Write(typeList.Bytes())
	mapBuf.Write(refList.Bytes())

	var buf bytes.Buffer
	buf.Write(be32(uint32(dataOff)))
	buf.Write(be32(uint32(mapOff)))
	buf.Write(be32(uint32(dataLen)))
	buf.Write(be32(uint32(mapBuf.Len())))
	buf.Write(data.Bytes())
	buf.Write(mapBuf.Bytes())
	return buf.Bytes()
}

func TestResourceForkSmoke(t *testing.T) {
	fork := BuildMinimalFork([]byte{0x41, 0x41, 0x41, 0x41})
	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{fork}, int64(len(fork)), format.Options{Data: true}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "'TEST'") {
		t.Errorf("missing TEST type; got:\n%s", got)
	}
	if !strings.Contains(got, "id=128") {
		t.Errorf("missing resource id; got:\n%s", got)
	}
}
