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

package ne

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

// buildMinimalNE constructs a stubless NE image: header at offset 0, one
// code segment with no relocations, empty tables.
func buildMinimalNE() []byte {
	buf := make([]byte, 0x40)
	copy(buf, []byte{'N', 'E'})
	buf[0x02] = 5  // linker version
	buf[0x03] = 0  // linker revision
	// segCount at 0x1C = 1
	buf[0x1C] = 1
	// segTabOff at 0x22 points right after the 0x40-byte header
	buf[0x22] = 0x40
	segData := []byte{0x01, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00} // offset-sectors=1, len=0x10, flags=0, minsize=0
	buf = append(buf, segData...)
	buf = append(buf, make([]byte, 0x200-len(buf))...)
	return buf
}

func TestNESmoke(t *testing.T) {
	data := buildMinimalNE()
	var out bytes.Buffer
	var ec errcollect.Collector
	err := Reader{}.ReadFile(bufSource{data}, int64(len(data)), format.Options{}, &out, &ec)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, "NE Header") {
		t.Errorf("missing header section; got:\n%s", got)
	}
	if !strings.Contains(got, "Segment count: 1") {
		t.Errorf("missing segment count; got:\n%s", got)
	}
}
