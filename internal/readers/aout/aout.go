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

package aout

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for the classic 32-bit Unix a.out
// object/executable layout (OMAGIC/NMAGIC/ZMAGIC/QMAGIC), including the
// DJGPP COFF-in-a.out-clothing ZMAGIC special case where the header is
// padded to a page boundary before the text segment.
type Reader struct{}

var magicNames = map[int64]string{
	0407: "OMAGIC", 0410: "NMAGIC", 0413: "ZMAGIC", 0314: "QMAGIC",
}

func symbolTypeName(t int64) string {
	names := map[int64]string{
		0x00: "undefined", 0x02: "absolute", 0x04: "text", 0x06: "data",
		0x08: "bss", 0x0C: "file name", 0x1f: "warning",
	}
	base := t &^ 0x01 // strip N_EXT (external) bit
	if n, ok := names[base]; ok {
		if t&0x01 != 0 {
			return n + " (external)"
		}
		return n
	}
	return fmt.Sprintf("0x%02X", t)
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	rd.Seek(0)
	info := rd.ReadWord(4, false)
	magic := info & 0xFFFF
	flags := (info >> 16) & 0xFF

	textSize := rd.ReadWord(4, false)
	dataSize := rd.ReadWord(4, false)
	bssSize := rd.ReadWord(4, false)
	symSize := rd.ReadWord(4, false)
	entry := rd.ReadWord(4, false)
	textRelocSize := rd.ReadWord(4, false)
	dataRelocSize := rd.ReadWord(4, false)

	name := magicNames[magic]
	if name == "" {
		name = fmt.Sprintf("unknown(0%o)", magic)
	}
	fmt.Fprintf(out, "=== a.out Header ===\n")
	fmt.Fprintf(out, "Magic: %s (0%o), flags=0x%02X\n", name, magic, flags)
	fmt.Fprintf(out, "Text size: 0x%X, Data size: 0x%X, BSS size: 0x%X\n", textSize, dataSize, bssSize)
	fmt.Fprintf(out, "Symbol table size: 0x%X\n", symSize)
	fmt.Fprintf(out, "Entry point: 0x%08X\n", entry)
	fmt.Fprintf(out, "Text relocations: 0x%X bytes, Data relocations: 0x%X bytes\n", textRelocSize, dataRelocSize)

	const headerSize = 32
	textOffset := int64(headerSize)
	if magic == 0413 { // ZMAGIC: text starts at the next page boundary
		textOffset = 0x400
	}
	dataOffset := textOffset + textSize
	textRelocOffset := dataOffset + dataSize
	dataRelocOffset := textRelocOffset + textRelocSize
	symOffset := dataRelocOffset + dataRelocSize
	strOffset := symOffset + symSize

	relocMap := &reloc.Map{}
	readRelocs := func(off, size, base int64, label string) {
		if size == 0 {
			return
		}
		rd.Seek(off)
		count := size / 8
		if opts.WantRel() {
			fmt.Fprintf(out, "=== %s Relocations ===\n", label)
		}
		for i := int64(0); i < count; i++ {
			addr := rd.ReadWord(4, false)
			info := rd.ReadWord(4, false)
			symNum := info & 0xFFFFFF
			pcRel := (info >> 24) & 0x01
			length := int64(1) << uint((info>>25)&0x03)
			extern := (info >> 27) & 0x01
			site := base + addr
			if opts.WantRel() {
				fmt.Fprintf(out, "  addr=0x%08X sym=%d pcrel=%d len=%d extern=%d\n", addr, symNum, pcRel, length, extern)
			}
			if !relocMap.Add(site, int(length)) {
				ec.Addf("duplicate %s relocation at 0x%X", label, site)
			}
		}
	}
	readRelocs(textRelocOffset, textRelocSize, textOffset, "Text")
	readRelocs(dataRelocOffset, dataRelocSize, dataOffset, "Data")

	if symSize > 0 {
		fmt.Fprintln(out, "=== Symbols ===")
		rd.Seek(symOffset)
		count := symSize / 12
		for i := int64(0); i < count; i++ {
			strOff := rd.ReadWord(4, false)
			symType := rd.ReadWord(1, false)
			rd.Skip(1) // "other"
			desc := rd.ReadWord(2, false)
			value := rd.ReadWord(4, false)
			symName := func() string {
				defer rd.Save()()
				rd.Seek(strOffset + strOff)
				return string(rd.ReadToZero())
			}()
			fmt.Fprintf(out, "  %-24s %s desc=0x%04X value=0x%08X\n", symName, symbolTypeName(symType), desc, value)
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
