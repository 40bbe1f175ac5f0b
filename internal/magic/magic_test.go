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

package magic

import (
	"bytes"
	"testing"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/format"
)

type bufSource struct{ data []byte }

func (b bufSource) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b.data[off:])
	return n, nil
}

func newReader(data []byte) *byteio.Reader {
	return byteio.New(bufSource{data: data}, int64(len(data)))
}

// TestS1MZNoRelocations covers magic detection of a minimal MZ header.
func TestS1MZNoRelocations(t *testing.T) {
	data := []byte{
		0x4D, 0x5A, 0x00, 0x02, 0x02, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	data = append(data, make([]byte, 0x40-len(data))...)
	tag := Detect(newReader(data))
	if tag != format.MZ {
		t.Fatalf("got %v, want MZ", tag)
	}
}

func TestTwoByteMagicDetection(t *testing.T) {
	cases := []struct {
		magic []byte
		want  format.Tag
	}{
		{[]byte{0x60, 0x1A}, format.CPM68K},
		{[]byte{0x60, 0x1B}, format.CPM68K},
		{[]byte{0x60, 0x1C}, format.CDOS68K},
		{[]byte{'H', 'U'}, format.HU},
		{[]byte{0x01, 0x03}, format.MINIXAOut},
	}
	for _, c := range cases {
		data := append(append([]byte{}, c.magic...), make([]byte, 64)...)
		got := Detect(newReader(data))
		if got != c.want {
			t.Errorf("magic %X: got %v, want %v", c.magic, got, c.want)
		}
	}
}

func TestFourByteMagicDetection(t *testing.T) {
	data := append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 64)...)
	got := Detect(newReader(data))
	if got != format.ELF {
		t.Errorf("got %v, want ELF", got)
	}
}

// TestIdempotence covers spec property 5: running the detector twice on the
// same input yields the same tag.
func TestIdempotence(t *testing.T) {
	data := append([]byte{'H', 'U'}, make([]byte, 64)...)
	rd := newReader(data)
	first := Detect(rd)
	second := Detect(rd)
	if first != second {
		t.Errorf("detector not idempotent: %v then %v", first, second)
	}
}

// TestMZSizeFormula covers spec property 2.
func TestMZSizeFormula(t *testing.T) {
	for pages := int64(0); pages < 5; pages++ {
		for last := int64(0); last < 0x200; last += 0x33 {
			got := (pages << 9) - ((-last) & 0x1FF)
			want := pages*512 - ((512 - last) % 512)
			if got != want {
				t.Errorf("pages=%d last=%d: got %d want %d", pages, last, got, want)
			}
		}
	}
}

func TestMZStubFollowsLfanew(t *testing.T) {
	data := make([]byte, 0x90)
	copy(data, []byte{'M', 'Z'})
	// e_lfanew at 0x3C points to 0x80, where a PE signature sits.
	copy(data[0x3C:], []byte{0x80, 0, 0, 0})
	copy(data[0x80:], []byte{'P', 'E', 0, 0})
	got := Detect(newReader(data))
	if got != format.PE {
		t.Errorf("got %v, want PE", got)
	}
}

func TestUnrecognizedMagic(t *testing.T) {
	data := bytes.Repeat([]byte{0x99}, 64)
	got := Detect(newReader(data))
	if got != format.Unknown {
		t.Errorf("got %v, want Unknown", got)
	}
}
