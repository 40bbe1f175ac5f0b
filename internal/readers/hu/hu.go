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

// Package hu implements the Human68k ".x" native executable format, the
// successor to the CP/M-68K-derived ".r"/".z" layout in package m68k: a
// 64-byte header carrying an explicit base address and separate relocation
// table length, still using the same byte-chained relocation encoding.
package hu

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for Human68k .x executables.
type Reader struct{}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Big

	rd.Seek(0)
	magic := rd.Read(2)
	if string(magic) != "HU" {
		ec.Addf("invalid Human68k magic: %q", magic)
	}
	rd.Skip(2) // reserved
	baseAddr := rd.ReadWord(4, false)
	execAddr := rd.ReadWord(4, false)
	textSize := rd.ReadWord(4, false)
	dataSize := rd.ReadWord(4, false)
	bssSize := rd.ReadWord(4, false)
	relocSize := rd.ReadWord(4, false)
	symSize := rd.ReadWord(4, false)
	rd.Skip(32) // reserved fields up to the 64-byte header boundary

	fmt.Fprintln(out, "=== Human68k Header ===")
	fmt.Fprintf(out, "Base address: 0x%08X, Entry point: 0x%08X\n", baseAddr, execAddr)
	fmt.Fprintf(out, "Text: 0x%X, Data: 0x%X, BSS: 0x%X\n", textSize, dataSize, bssSize)
	fmt.Fprintf(out, "Relocation table size: 0x%X, Symbol table size: 0x%X\n", relocSize, symSize)

	const headerSize = 64
	textOffset := int64(headerSize)
	dataOffset := textOffset + textSize
	symOffset := dataOffset + dataSize
	relocOffset := symOffset + symSize

	relocMap := &reloc.Map{}
	if relocSize > 0 {
		rd.Seek(relocOffset)
		end := relocOffset + relocSize
		if opts.WantRel() {
			fmt.Fprintln(out, "=== Relocations ===")
		}
		site := int64(0)
		first := true
		for rd.Tell() < end {
			if first {
				site = rd.ReadWord(4, false)
				first = false
			} else {
				b := rd.Read(1)[0]
				if b == 0 {
					break
				}
				if b == 1 {
					site += 254
					continue
				}
				site += int64(b)
			}
			if opts.WantRel() {
				fmt.Fprintf(out, "  site=0x%08X\n", site)
			}
			relocMap.Add(site, 4)
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Text Segment ===")
		rd.Seek(textOffset)
		hexdump.Format(rd.Read(int(textSize)), hexdump.Options{
			Offset: textOffset, Reloc: relocMap.Lookup, MaxRelocSize: 4,
			Encoding: opts.Encoding, ShowReloc: opts.WantRelShow(),
		}, func(row hexdump.Row) { fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })

		fmt.Fprintln(out, "=== Data Segment ===")
		rd.Seek(dataOffset)
		hexdump.Format(rd.Read(int(dataSize)), hexdump.Options{
			Offset: dataOffset, Reloc: relocMap.Lookup, MaxRelocSize: 4,
			Encoding: opts.Encoding, ShowReloc: opts.WantRelShow(),
		}, func(row hexdump.Row) { fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
	}

	return nil
}
