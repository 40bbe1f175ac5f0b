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

// Package macrsrc implements the classic Macintosh resource fork format: a
// data/map pair of regions, a type list and per-type reference list inside
// the map, and a length-prefixed data blob per resource. 'CODE' resource 0
// gets special treatment, since it holds the jump table the segment loader
// walks rather than ordinary code bytes; every other 'CODE' n is a loaded
// segment (far or near model, selected by the jump table entry width).
package macrsrc

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
)

// Reader implements format.Reader for Macintosh resource forks.
type Reader struct{}

type resource struct {
	id         int64
	name       string
	attrs      int64
	dataOffset int64
}

type resType struct {
	kind string
	refs []resource
}

// decompressIfNeeded peeks the leading bytes for a gzip or bzip2 magic and,
// if found, decompresses the whole fork into memory. A resource fork handed
// to this reader directly (rather than via appledouble) may have been
// archived this way without being unpacked first.
func decompressIfNeeded(src io.ReaderAt, length int64) (io.ReaderAt, int64, error) {
	peek := make([]byte, 3)
	n, _ := src.ReadAt(peek, 0)
	peek = peek[:n]

	switch {
	case len(peek) >= 2 && peek[0] == 0x1F && peek[1] == 0x8B:
		gr, err := gzip.NewReader(io.NewSectionReader(src, 0, length))
		if err != nil {
			return src, length, err
		}
		defer gr.Close()
		data, err := ioutil.ReadAll(gr)
		if err != nil {
			return src, length, err
		}
		return bytes.NewReader(data), int64(len(data)), nil
	case len(peek) >= 3 && peek[0] == 'B' && peek[1] == 'Z' && peek[2] == 'h':
		data, err := ioutil.ReadAll(bzip2.NewReader(io.NewSectionReader(src, 0, length)))
		if err != nil {
			return src, length, err
		}
		return bytes.NewReader(data), int64(len(data)), nil
	default:
		return src, length, nil
	}
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	src, length, err := decompressIfNeeded(src, length)
	if err != nil {
		ec.Addf("decompressing resource fork: %v", err)
		return nil
	}
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Big

	rd.Seek(0)
	dataOff := rd.ReadWord(4, false)
	mapOff := rd.ReadWord(4, false)
	dataLen := rd.ReadWord(4, false)
	mapLen := rd.ReadWord(4, false)

	fmt.Fprintln(out, "=== Resource Fork Header ===")
	fmt.Fprintf(out, "Data: offset=0x%X length=0x%X\n", dataOff, dataLen)
	fmt.Fprintf(out, "Map: offset=0x%X length=0x%X\n", mapOff, mapLen)

	rd.Seek(mapOff + 24) // past the header copy, next-map handle, file ref num, and attributes
	typeListOff := rd.ReadWord(2, false)
	nameListOff := rd.ReadWord(2, false)

	typeListBase := mapOff + typeListOff
	rd.Seek(typeListBase)
	typeCount := rd.ReadWord(2, false) + 1

	types := make([]resType, typeCount)
	for i := int64(0); i < typeCount; i++ {
		kind := rd.Read(4)
		count := rd.ReadWord(2, false) + 1
		refListOff := rd.ReadWord(2, false)
		types[i] = resType{kind: string(kind)}
		func() {
			defer rd.Save()()
			rd.Seek(typeListBase + refListOff)
			for r := int64(0); r < count; r++ {
				id := rd.ReadWord(2, true)
				nameOff := rd.ReadWord(2, false)
				packed := rd.ReadWord(4, false)
				attrs := (packed >> 24) & 0xFF
				off := packed & 0xFFFFFF
				name := ""
				if nameOff != 0xFFFF {
					func() {
						defer rd.Save()()
						rd.Seek(mapOff + nameListOff + nameOff)
						n := rd.Read(1)[0]
						name = string(rd.Read(int(n)))
					}()
				}
				types[i].refs = append(types[i].refs, resource{id, name, attrs, off})
			}
		}()
	}

	fmt.Fprintln(out, "=== Resources ===")
	for _, t := range types {
		fmt.Fprintf(out, "  '%s' (%d resources)\n", t.kind, len(t.refs))
		for _, r := range t.refs {
			fmt.Fprintf(out, "    id=%d name=%q attrs=0x%02X data-offset=0x%X\n", r.id, r.name, r.attrs, r.dataOffset)
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Resource Data ===")
		for _, t := range types {
			for _, r := range t.refs {
				rd.Seek(dataOff + r.dataOffset)
				size := rd.ReadWord(4, false)
				data := rd.Read(int(size))
				fmt.Fprintf(out, "  --- '%s' id=%d ---\n", t.kind, r.id)
				if t.kind == "CODE" && r.id == 0 {
					dumpJumpTable(data, out)
					continue
				}
				hexdump.Format(data, hexdump.Options{
					Encoding: opts.Encoding,
				}, func(row hexdump.Row) { fmt.Fprintf(out, "    [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
			}
		}
	}

	return nil
}

// dumpJumpTable interprets 'CODE' 0 as the segment loader's jump table: a
// header of four longwords (above-A5 size, below-A5 size, table size, table
// offset) followed by 8-byte entries, each decoded in the near-entry layout
// (offset, push opcode, target segment number, LoadSeg trap). Far entries
// and the separator entry are not told apart from near entries.
func dumpJumpTable(data []byte, out io.Writer) {
	if len(data) < 16 {
		fmt.Fprintln(out, "    (too short to hold a jump table header)")
		return
	}
	aboveA5 := byteio.ParseWord(data[0:4], false, byteio.Big)
	belowA5 := byteio.ParseWord(data[4:8], false, byteio.Big)
	tableSize := byteio.ParseWord(data[8:12], false, byteio.Big)
	tableOffset := byteio.ParseWord(data[12:16], false, byteio.Big)
	fmt.Fprintf(out, "    above-A5=0x%X below-A5=0x%X table-size=0x%X table-offset=0x%X\n",
		aboveA5, belowA5, tableSize, tableOffset)

	entries := data[16:]
	for i := 0; i+8 <= len(entries); i += 8 {
		e := entries[i : i+8]
		offset := byteio.ParseWord(e[0:2], false, byteio.Big)
		loadSegOp := byteio.ParseWord(e[6:8], false, byteio.Big)
		segNum := byteio.ParseWord(e[4:6], false, byteio.Big)
		fmt.Fprintf(out, "    entry %d: offset=0x%04X segment=%d trap=0x%04X\n", i/8, offset, segNum, loadSegOp)
	}
}
