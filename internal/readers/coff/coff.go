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

// Package coff implements the Unix System V Common Object File Format:
// a file header, an optional a.out-style header, a section table, and
// per-section relocation and line-number tables, closed out by a flat
// string-table-backed symbol table.
package coff

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for COFF object and executable files.
type Reader struct{}

type section struct {
	name                         string
	physAddr, virtAddr           int64
	size                         int64
	dataPtr, relocPtr, lineNoPtr int64
	numReloc, numLineNo          int64
	flags                        int64
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	rd.Seek(0)
	magic := rd.ReadWord(2, false)
	numSections := rd.ReadWord(2, false)
	timestamp := rd.ReadWord(4, false)
	symTabPtr := rd.ReadWord(4, false)
	numSyms := rd.ReadWord(4, false)
	optHdrSize := rd.ReadWord(2, false)
	flags := rd.ReadWord(2, false)

	fmt.Fprintln(out, "=== COFF File Header ===")
	fmt.Fprintf(out, "Magic: 0x%04X\n", magic)
	fmt.Fprintf(out, "Sections: %d, Timestamp: 0x%08X, Flags: 0x%04X\n", numSections, timestamp, flags)
	fmt.Fprintf(out, "Symbol table: offset 0x%X, count %d\n", symTabPtr, numSyms)

	if optHdrSize > 0 {
		optStart := rd.Tell()
		aoutMagic := rd.ReadWord(2, false)
		rd.Skip(2) // version stamp
		textSize := rd.ReadWord(4, false)
		dataSize := rd.ReadWord(4, false)
		bssSize := rd.ReadWord(4, false)
		entry := rd.ReadWord(4, false)
		fmt.Fprintln(out, "=== Optional Header ===")
		fmt.Fprintf(out, "a.out magic: 0x%04X\n", aoutMagic)
		fmt.Fprintf(out, "Text: 0x%X, Data: 0x%X, BSS: 0x%X, Entry: 0x%08X\n", textSize, dataSize, bssSize, entry)
		rd.Seek(optStart + optHdrSize)
	}

	sections := make([]section, numSections)
	for i := int64(0); i < numSections; i++ {
		nameBytes := rd.Read(8)
		name := ""
		for _, b := range nameBytes {
			if b == 0 {
				break
			}
			name += string(rune(b))
		}
		s := section{name: name}
		s.physAddr = rd.ReadWord(4, false)
		s.virtAddr = rd.ReadWord(4, false)
		s.size = rd.ReadWord(4, false)
		s.dataPtr = rd.ReadWord(4, false)
		s.relocPtr = rd.ReadWord(4, false)
		s.lineNoPtr = rd.ReadWord(4, false)
		s.numReloc = rd.ReadWord(2, false)
		s.numLineNo = rd.ReadWord(2, false)
		s.flags = rd.ReadWord(4, false)
		sections[i] = s
	}

	fmt.Fprintln(out, "=== Sections ===")
	for i, s := range sections {
		fmt.Fprintf(out, "  [%d] %-8s vaddr=0x%08X size=0x%X data-offset=0x%X flags=0x%08X\n",
			i+1, s.name, s.virtAddr, s.size, s.dataPtr, s.flags)
	}

	stringTableOff := symTabPtr + numSyms*18
	var stringTableLen int64
	if numSyms > 0 {
		func() {
			defer rd.Save()()
			rd.Seek(stringTableOff)
			stringTableLen = rd.ReadWord(4, false)
		}()
	}
	readSymName := func(nameBytes []byte) string {
		if byteio.ParseWord(nameBytes[0:4], false, byteio.Little) != 0 {
			n := ""
			for _, b := range nameBytes {
				if b == 0 {
					break
				}
				n += string(rune(b))
			}
			return n
		}
		off := byteio.ParseWord(nameBytes[4:8], false, byteio.Little)
		defer rd.Save()()
		rd.Seek(stringTableOff + off)
		return string(rd.ReadToZero())
	}

	if numSyms > 0 {
		fmt.Fprintln(out, "=== Symbols ===")
		rd.Seek(symTabPtr)
		for i := int64(0); i < numSyms; i++ {
			nameBytes := rd.Read(8)
			value := rd.ReadWord(4, false)
			secNum := rd.ReadWord(2, true)
			symType := rd.ReadWord(2, false)
			storageClass := rd.Read(1)[0]
			numAux := rd.Read(1)[0]
			fmt.Fprintf(out, "  [%d] %-24s value=0x%08X section=%d type=0x%04X class=%d\n",
				i+1, readSymName(nameBytes), value, secNum, symType, storageClass)
			if numAux > 0 {
				rd.Skip(int64(numAux) * 18)
				i += int64(numAux)
			}
		}
	}
	_ = stringTableLen

	for i, s := range sections {
		relocMap := &reloc.Map{}
		rd.Seek(s.relocPtr)
		if opts.WantRel() && s.numReloc > 0 {
			fmt.Fprintf(out, "=== Relocations: section %s ===\n", s.name)
		}
		for r := int64(0); r < s.numReloc; r++ {
			vaddr := rd.ReadWord(4, false)
			symNdx := rd.ReadWord(4, false)
			relType := rd.ReadWord(2, false)
			if opts.WantRel() {
				fmt.Fprintf(out, "  vaddr=0x%08X sym=%d type=0x%04X\n", vaddr, symNdx, relType)
			}
			relocMap.Add(vaddr, 4)
		}

		if opts.WantData() && s.size > 0 {
			rd.Seek(s.dataPtr)
			data := rd.Read(int(s.size))
			fmt.Fprintf(out, "  --- section %s ---\n", s.name)
			hexdump.Format(data, hexdump.Options{
				Offset: s.virtAddr, Reloc: relocMap.Lookup, MaxRelocSize: 4,
				Encoding: opts.Encoding, ShowReloc: opts.WantRelShow(),
			}, func(row hexdump.Row) { fmt.Fprintf(out, "  [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
		}
		_ = i
	}

	return nil
}
