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

// Package hunk implements the Amiga Hunk executable format: a sequential
// stream of big-endian longword-tagged blocks rather than a fixed header
// plus table layout. Because a hunk's relocations reference hunks that
// appear later in the stream, the reader buffers every hunk's bytes and
// metadata first and only emits the dump once the whole chain has been
// read (the deferred-dump pattern).
package hunk

import (
	"fmt"
	"io"
	"strings"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

const (
	hunkUnit    = 999
	hunkName    = 1000
	hunkCode    = 1001
	hunkData    = 1002
	hunkBSS     = 1003
	hunkReloc32 = 1004
	hunkReloc16 = 1005
	hunkReloc8  = 1006
	hunkExt     = 1007
	hunkSymbol  = 1008
	hunkDebug   = 1009
	hunkEnd     = 1010
	hunkHeader  = 1011
	hunkOverlay = 1013
	hunkBreak   = 1014
)

func hunkTypeName(t int64) string {
	names := map[int64]string{
		hunkUnit: "UNIT", hunkName: "NAME", hunkCode: "CODE", hunkData: "DATA",
		hunkBSS: "BSS", hunkReloc32: "RELOC32", hunkReloc16: "RELOC16", hunkReloc8: "RELOC8",
		hunkExt: "EXT", hunkSymbol: "SYMBOL", hunkDebug: "DEBUG", hunkEnd: "END",
		hunkHeader: "HEADER", hunkOverlay: "OVERLAY", hunkBreak: "BREAK",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", t)
}

type loadedHunk struct {
	kind int64
	name string
	data []byte
	reloc *reloc.Map
}

// Reader implements format.Reader for Amiga executables.
type Reader struct{}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Big

	rd.Seek(0)
	magic := rd.ReadWord(4, false)
	if magic != hunkHeader {
		ec.Addf("invalid hunk header type: %d (expected HUNK_HEADER)", magic)
	}

	fmt.Fprintln(out, "=== Hunk Header ===")
	for {
		n := rd.ReadWord(4, false)
		if n == 0 {
			break
		}
		name := strings.TrimRight(string(rd.Read(int(n)*4)), "\x00")
		fmt.Fprintf(out, "  resident library: %s\n", name)
	}
	tableSize := rd.ReadWord(4, false)
	firstHunk := rd.ReadWord(4, false)
	lastHunk := rd.ReadWord(4, false)
	numHunks := lastHunk - firstHunk + 1
	fmt.Fprintf(out, "Table size: %d, hunks %d..%d (%d total)\n", tableSize, firstHunk, lastHunk, numHunks)

	sizes := make([]int64, numHunks)
	for i := int64(0); i < numHunks; i++ {
		raw := rd.ReadWord(4, false)
		sizes[i] = (raw & 0x3FFFFFFF) * 4
		memFlag := raw >> 30
		fmt.Fprintf(out, "  [%d] size=0x%X mem-flag=%d\n", firstHunk+i, sizes[i], memFlag)
	}

	var loaded []loadedHunk
	for i := int64(0); i < numHunks; i++ {
		kind := rd.ReadWord(4, false) & 0x3FFFFFFF
		h := loadedHunk{kind: kind, reloc: &reloc.Map{}}
		switch kind {
		case hunkCode, hunkData:
			n := rd.ReadWord(4, false)
			h.data = rd.Read(int(n) * 4)
		case hunkBSS:
			n := rd.ReadWord(4, false)
			h.data = make([]byte, n*4)
		default:
			ec.Addf("hunk %d: unexpected leading block type %s", firstHunk+i, hunkTypeName(kind))
		}

		for {
			blockType := rd.ReadWord(4, false)
			if blockType == hunkEnd {
				break
			}
			switch blockType {
			case hunkReloc32:
				for {
					count := rd.ReadWord(4, false)
					if count == 0 {
						break
					}
					target := rd.ReadWord(4, false)
					for c := int64(0); c < count; c++ {
						off := rd.ReadWord(4, false)
						h.reloc.Add(off, 4)
						if opts.WantRel() {
							fmt.Fprintf(out, "  hunk %d: reloc32 at 0x%X -> hunk %d\n", firstHunk+i, off, target)
						}
					}
				}
			case hunkSymbol:
				for {
					n := rd.ReadWord(4, false)
					if n == 0 {
						break
					}
					name := strings.TrimRight(string(rd.Read(int(n)*4)), "\x00")
					val := rd.ReadWord(4, false)
					if opts.WantRel() {
						fmt.Fprintf(out, "  hunk %d: symbol %s = 0x%X\n", firstHunk+i, name, val)
					}
				}
			case hunkExt:
				ec.Addf("hunk %d: HUNK_EXT parsing not implemented, skipping remainder of hunk", firstHunk+i)
				goto doneHunk
			case hunkDebug:
				n := rd.ReadWord(4, false)
				rd.Skip(int64(n) * 4)
			default:
				ec.Addf("hunk %d: unrecognized block type %s, stopping scan", firstHunk+i, hunkTypeName(blockType))
				goto doneHunk
			}
		}
	doneHunk:
		loaded = append(loaded, h)
	}

	fmt.Fprintln(out, "=== Hunks ===")
	for i, h := range loaded {
		fmt.Fprintf(out, "  [%d] %s size=0x%X relocations=%d\n", firstHunk+int64(i), hunkTypeName(h.kind), len(h.data), h.reloc.Len())
		if opts.WantData() && len(h.data) > 0 {
			hexdump.Format(h.data, hexdump.Options{
				Reloc: h.reloc.Lookup, MaxRelocSize: 4,
				Encoding: opts.Encoding, ShowReloc: opts.WantRelShow(),
			}, func(row hexdump.Row) { fmt.Fprintf(out, "  [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
		}
	}

	return nil
}
