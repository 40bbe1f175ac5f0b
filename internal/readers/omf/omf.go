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

// Package omf implements the Apple IIGS GS/OS Object Module Format: a
// little-endian segment header followed by a stream of opcode-tagged
// records. The SUPER record is itself a container — a sub-type byte
// selects one of several compressed relocation-list encodings — so it
// gets its own dispatch rather than being treated as a single opcode.
package omf

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for GS/OS OMF segments.
type Reader struct{}

// Opcodes below 0xE0 are not listed here: every byte 0x01..0xDF is itself
// a CONST record whose length equals the opcode value (spec.md §4.5.13).
const (
	opEND       = 0x00
	opALIGN     = 0xE0
	opORG       = 0xE1
	opRELOC     = 0xE2
	opINTERSEG  = 0xE3
	opUSING     = 0xE4
	opDS        = 0xF1
	opLCONST    = 0xF2
	opCRELOC    = 0xF5
	opCINTERSEG = 0xF6
	opSUPER     = 0xF7
)

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	rd.Seek(0)
	segLength := rd.ReadWord(4, false)
	resSpace := rd.ReadWord(4, false)
	segLength2 := rd.ReadWord(4, false)
	segType := rd.Read(1)[0]
	rd.Skip(1) // segKind high byte / label length flags, format dependent
	labLen := rd.Read(1)[0]
	numLen := rd.Read(1)[0]
	version := rd.ReadWord(2, false)
	rd.Skip(4) // banksize
	kind := rd.ReadWord(2, false)
	rd.Skip(2) // loadName/fixed bank high
	rd.Skip(4) // orgAddress
	rd.Skip(4) // alignment
	rd.Skip(1) // numSex
	rd.Skip(1) // reserved2
	rd.Skip(4) // segNum
	entryOffset := rd.ReadWord(4, false)
	dispNameOffset := rd.ReadWord(4, false)
	dispDataOffset := rd.ReadWord(4, false)

	segName := func() string {
		if labLen == 0 {
			return ""
		}
		defer rd.Save()()
		rd.Seek(dispNameOffset)
		return string(rd.Read(int(labLen)))
	}()

	fmt.Fprintln(out, "=== OMF Segment Header ===")
	fmt.Fprintf(out, "Segment length: 0x%X (redundant copy 0x%X)\n", segLength, segLength2)
	fmt.Fprintf(out, "Reserved space: 0x%X\n", resSpace)
	fmt.Fprintf(out, "Segment type: 0x%02X, kind: 0x%04X, version: %d\n", segType, kind, version)
	fmt.Fprintf(out, "Label length: %d, Number length: %d\n", labLen, numLen)
	fmt.Fprintf(out, "Segment name: %q\n", segName)
	fmt.Fprintf(out, "Entry offset: 0x%X\n", entryOffset)

	relocMap := &reloc.Map{}
	rd.Seek(dispDataOffset)
	end := dispDataOffset + segLength

	if opts.WantRel() {
		fmt.Fprintln(out, "=== Records ===")
	}
recordLoop:
	for rd.Tell() < end {
		op := rd.Read(1)[0]
		switch {
		case op == opEND:
			if opts.WantRel() {
				fmt.Fprintln(out, "  END")
			}
			break recordLoop
		case op == opALIGN:
			n := rd.ReadWord(int(numLen), false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  ALIGN 0x%X\n", n)
			}
		case op == opORG:
			n := rd.ReadWord(int(numLen), false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  ORG 0x%X\n", n)
			}
		case op == opRELOC || op == opCRELOC:
			compressed := op == opCRELOC
			fieldLen := 4
			name := "RELOC"
			if compressed {
				fieldLen = 2
				name = "cRELOC"
			}
			size := rd.Read(1)[0]
			shift := rd.ReadWord(1, true)
			offset := rd.ReadWord(fieldLen, false)
			target := rd.ReadWord(fieldLen, false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  %s size=%d shift=%d offset=0x%X target=0x%X\n", name, size, shift, offset, target)
			}
			if !relocMap.Add(offset, int(size)) {
				ec.Addf("duplicate OMF relocation at offset 0x%X", offset)
			}
		case op == opINTERSEG || op == opCINTERSEG:
			compressed := op == opCINTERSEG
			fieldLen := 4
			segFieldLen := 2
			name := "INTERSEG"
			fileNum := int64(1)
			if compressed {
				fieldLen = 2
				segFieldLen = 1
				name = "cINTERSEG"
			}
			size := rd.Read(1)[0]
			shift := rd.ReadWord(1, true)
			offset := rd.ReadWord(fieldLen, false)
			if !compressed {
				fileNum = rd.ReadWord(2, false)
			}
			segNum := rd.ReadWord(segFieldLen, false)
			target := rd.ReadWord(fieldLen, false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  %s size=%d shift=%d offset=0x%X -> file #%d seg 0x%X:0x%X\n",
					name, size, shift, offset, fileNum, segNum, target)
			}
			if !relocMap.Add(offset, int(size)) {
				ec.Addf("duplicate OMF relocation at offset 0x%X", offset)
			}
		case op == opUSING:
			n := rd.ReadWord(int(numLen), false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  USING segnum=%d\n", n)
			}
		case op == opDS:
			n := rd.ReadWord(int(numLen), false)
			rd.Skip(n)
			if opts.WantRel() {
				fmt.Fprintf(out, "  DS 0x%X\n", n)
			}
		case op == opLCONST:
			n := rd.ReadWord(4, false)
			rd.Skip(n)
			if opts.WantRel() {
				fmt.Fprintf(out, "  LCONST 0x%X bytes\n", n)
			}
		case op == opSUPER:
			dispatchSuper(rd, relocMap, opts, out, ec)
		case op < 0xE0:
			rd.Skip(int64(op))
			if opts.WantRel() {
				fmt.Fprintf(out, "  CONST 0x%X bytes\n", op)
			}
		default:
			ec.Addf("unrecognized OMF opcode 0x%02X at 0x%X, stopping record scan", op, rd.Tell()-1)
			break recordLoop
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Segment Data ===")
		rd.Seek(dispDataOffset)
		data := rd.Read(int(segLength))
		hexdump.Format(data, hexdump.Options{
			Offset: dispDataOffset, Reloc: relocMap.Lookup, MaxRelocSize: 4,
			Encoding: opts.Encoding, ShowReloc: opts.WantRelShow(),
		}, func(row hexdump.Row) { fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
	}

	return nil
}

// superSubtypeNames is the textual naming for SUPER sub-types 0-1; higher
// sub-types (INTERSEG variants distinguished only by fixed file/segment
// number) are named programmatically in dispatchSuper.
var superSubtypeNames = map[byte]string{0: "RELOC2", 1: "RELOC3"}

// dispatchSuper decodes one SUPER compressed-relocation record: a 4-byte
// length, a sub-type byte selecting the record's shape, then the entry
// list. For RELOC2/RELOC3 (sub-type 0/1) the entry list is itself
// length-prefixed by a 2-byte byte count, so a short record (as in
// spec.md's S5 example, a 7-byte record holding exactly one 4-byte entry)
// terminates on that count rather than on the outer record's `end` -
// reading entries until `end` alone can run past the last whole entry
// into the next record. The INTERSEG sub-types (2-37) have no such
// sub-length and are bounded by `end` directly, with a per-entry check
// against running past it. Sub-types 2-13 carry an explicit file index
// (sub-1); 14-25 are INTERSEG with a fixed segment number (sub-14); 26-37
// are the same, shifted by -16 (sub-26).
func dispatchSuper(rd *byteio.Reader, relocMap *reloc.Map, opts format.Options, out io.Writer, ec *errcollect.Collector) {
	recLen := rd.ReadWord(4, false)
	if recLen == 0 {
		if opts.WantRel() {
			fmt.Fprintln(out, "  SUPER size=0x0")
		}
		return
	}
	end := rd.Tell() + recLen
	subtype := rd.Read(1)[0]
	if subtype > 37 {
		ec.Addf("unknown SUPER sub-type 0x%02X at 0x%X", subtype, rd.Tell()-1)
		rd.Seek(end)
		return
	}

	var name string
	var size int
	var fileNum, segNum int64 = 1, -1
	switch {
	case subtype <= 1:
		name = superSubtypeNames[subtype]
		size = 2 + int(subtype)
	case subtype == 2:
		name = "INTERSEG1"
		size = 3
	case subtype < 14:
		name = fmt.Sprintf("INTERSEG%d", subtype-1)
		size = 3
		fileNum = int64(subtype) - 1
	case subtype < 26:
		name = fmt.Sprintf("INTERSEG%d", subtype-1)
		size = 2
		segNum = int64(subtype) - 14
	default:
		name = fmt.Sprintf("INTERSEG%d", subtype-1)
		size = 2
		segNum = int64(subtype) - 26
	}
	if opts.WantRel() {
		fmt.Fprintf(out, "  SUPER size=0x%X type=%s (0x%02X)\n", recLen, name, subtype)
	}

	if subtype <= 1 {
		if rd.Tell()+2 > end {
			ec.Addf("truncated SUPER entry-list length at 0x%X", rd.Tell())
			rd.Seek(end)
			return
		}
		listLen := rd.ReadWord(2, false)
		listEnd := rd.Tell() + listLen
		if listEnd > end {
			ec.Addf("SUPER entry-list length 0x%X overruns record at 0x%X", listLen, rd.Tell()-2)
			listEnd = end
		}
		for listEnd-rd.Tell() >= 4 {
			offset := rd.ReadWord(2, false)
			target := rd.ReadWord(2, false)
			if opts.WantRel() {
				fmt.Fprintf(out, "    size=%d offset=0x%X target=0x%X\n", size, offset, target)
			}
			if !relocMap.Add(offset, size) {
				ec.Addf("duplicate OMF relocation at offset 0x%X", offset)
			}
		}
		rd.Seek(end)
		return
	}

	var entrySize int64 = 4 // offset(2) + target(2)
	if subtype == 2 || (subtype >= 3 && subtype < 14) {
		entrySize = 5 // offset(2) + seg(1) + target(2)
	}
	for end-rd.Tell() >= entrySize {
		offset := rd.ReadWord(2, false)
		thisFile := fileNum
		thisSeg := segNum
		if subtype == 2 || (subtype >= 3 && subtype < 14) {
			thisSeg = rd.ReadWord(1, false)
		}
		target := rd.ReadWord(2, false)
		if opts.WantRel() {
			fmt.Fprintf(out, "    size=%d offset=0x%X -> file #%d seg 0x%X:0x%X\n", size, offset, thisFile, thisSeg, target)
		}
		if !relocMap.Add(offset, size) {
			ec.Addf("duplicate OMF relocation at offset 0x%X", offset)
		}
	}
	if rd.Tell() != end {
		rd.Seek(end)
	}
}
