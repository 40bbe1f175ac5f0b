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

// Package m68k implements the CP/M-68K family of flat 68000 executable
// headers: CP/M-68K proper, GEMDOS (Atari ST), Human68k .r/.z, and
// Concurrent DOS 68K. All four share a 28-byte big-endian header (36 bytes
// for the non-contiguous magic, which carries two extra address fields);
// they differ in which magic words they accept and in a handful of
// sys-specific field interpretations.
package m68k

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for one CP/M-68K family variant. Sys
// selects the sys-specific behavior: "cpm68k" (magic 0x601A or 0x601B),
// "gemdos" (0x601A, textbase forced to 0, prgflags in its place),
// "human68k" (0x601A, no-reloc word must read 0xFFFF), or "cdos68k"
// (0x601C, crunched relocation stream not yet decoded).
type Reader struct {
	Sys string
}

func (r Reader) displayMagicOK(magic int64) bool {
	switch magic {
	case 0x601A:
		return true
	case 0x601B:
		return r.Sys == "cpm68k"
	case 0x601C:
		return r.Sys == "cdos68k"
	default:
		return false
	}
}

func (r Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Big

	fmt.Fprintln(out, "==== CP/M-68K format ====")

	rd.Seek(0)
	magic := rd.ReadWord(2, false)
	if !r.displayMagicOK(magic) {
		ec.Addf("invalid magic 0x%04X for sys %q", magic, r.Sys)
	}

	defaultEncoding := "ascii_graphic"
	if r.Sys == "gemdos" {
		defaultEncoding = "st_full"
	}
	encoding := opts.Encoding
	if encoding == "" {
		encoding = defaultEncoding
	}

	textSize := rd.ReadWord(4, false)
	dataSize := rd.ReadWord(4, false)
	bssSize := rd.ReadWord(4, false)
	symTabSize := rd.ReadWord(4, false)
	rd.Skip(4) // stack size: unused by the dump
	textBase := rd.ReadWord(4, false)
	noReloc := rd.ReadWord(2, false)

	if r.Sys == "human68k" && noReloc != 0xFFFF {
		ec.Addf("expected 0xFFFF at offset 0x1A, received 0x%04X", noReloc)
		noReloc = 0xFFFF
	}
	if r.Sys == "gemdos" {
		prgFlags := textBase
		textBase = 0
		fmt.Fprintf(out, "Program flags: 0x%08X\n", prgFlags)
	}

	var dataBase, bssBase, textOffset int64
	if magic == 0x601B {
		dataBase = rd.ReadWord(4, false)
		bssBase = rd.ReadWord(4, false)
		textOffset = 0x24
	} else {
		dataBase = textBase + textSize
		bssBase = dataBase + dataSize
		textOffset = 0x1C
	}
	dataOffset := textOffset + textSize
	symTabOffset := dataOffset + dataSize
	fixupOffset := symTabOffset + symTabSize

	fmt.Fprintln(out, "Text segment:")
	fmt.Fprintf(out, "- Offset: 0x%08X\n", textOffset)
	fmt.Fprintf(out, "- Length: 0x%08X\n", textSize)
	if r.Sys != "gemdos" {
		fmt.Fprintf(out, "- Address: 0x%08X\n", textBase)
	}
	fmt.Fprintln(out, "Data segment:")
	fmt.Fprintf(out, "- Offset: 0x%08X\n", dataOffset)
	fmt.Fprintf(out, "- Length: 0x%08X\n", dataSize)
	if r.Sys != "gemdos" {
		fmt.Fprintf(out, "- Address: 0x%08X\n", dataBase)
	}
	fmt.Fprintln(out, "Bss segment:")
	fmt.Fprintf(out, "- Length: 0x%08X\n", bssSize)
	if r.Sys != "gemdos" {
		fmt.Fprintf(out, "- Address: 0x%08X\n", bssBase)
	}
	if r.Sys != "human68k" {
		fmt.Fprintln(out, "Symbol table:")
		fmt.Fprintf(out, "- Offset: 0x%08X\n", symTabOffset)
		fmt.Fprintf(out, "- Length: 0x%08X\n", symTabSize)
	} else if symTabSize != 0 {
		fmt.Fprintf(out, "Reserved field - Symbol table size: 0x%08X\n", symTabSize)
	}
	if noReloc == 0 {
		fmt.Fprintln(out, "Fixup information:")
		fmt.Fprintf(out, "- Offset: 0x%08X\n", fixupOffset)
	}

	// relocMap is keyed by file-absolute offset (to match hexdump.Options.
	// Offset below), but the textual fixup listing prints the span-relative
	// position (0-based from the start of text) the way the source does.
	relocMap := &reloc.Map{}
	if noReloc == 0 {
		rd.Seek(fixupOffset)
		switch {
		case r.Sys == "gemdos":
			readGEMDOSFixups(rd, relocMap, textOffset, opts, out)
		case magic != 0x601C:
			readWordFixups(rd, relocMap, textOffset, textSize+dataSize, opts, out)
		default:
			// Concurrent DOS 68K's crunched relocation stream has no
			// documented decoder here; see spec's CPM8000Reader-style TODO.
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "== Text segment ==")
		fmt.Fprintln(out, "[FILE    ] (SEGMENT ) MEMORY  \tDATA")
		rd.Seek(textOffset)
		textData := rd.Read(int(textSize))
		hexdump.Format(textData, hexdump.Options{
			Offset: textOffset, Reloc: relocMap.Lookup, MaxRelocSize: 4,
			Encoding: encoding, ShowReloc: opts.WantRelShow(),
		}, func(row hexdump.Row) {
			fmt.Fprintf(out, "[%08X] (%08X) %08X\t%s\t%s\n", row.Offset, row.Offset-textOffset, textBase+row.Offset-textOffset, row.Hex, row.Text)
		})

		fmt.Fprintln(out, "== Data segment ==")
		fmt.Fprintln(out, "[FILE    ] (SEGMENT ) MEMORY  \tDATA")
		rd.Seek(dataOffset)
		dataData := rd.Read(int(dataSize))
		hexdump.Format(dataData, hexdump.Options{
			Offset: dataOffset, Reloc: relocMap.Lookup, MaxRelocSize: 4,
			Encoding: encoding, ShowReloc: opts.WantRelShow(),
		}, func(row hexdump.Row) {
			fmt.Fprintf(out, "[%08X] (%08X) %08X\t%s\t%s\n", row.Offset, row.Offset-dataOffset, dataBase+row.Offset-dataOffset, row.Hex, row.Text)
		})
	}

	return nil
}

// readGEMDOSFixups decodes the byte-chained relocation stream: a leading
// longword offset, then bytes where 0 terminates, 1 advances the cursor by
// 254 without a fixup, and any other value is a delta to the next
// longword-sized fixup site. textOffset converts the span-relative site
// (0-based from the start of text) into the file-absolute key relocMap
// needs to line up with the hex dump's own offset space.
func readGEMDOSFixups(rd *byteio.Reader, relocMap *reloc.Map, textOffset int64, opts format.Options, out io.Writer) {
	if opts.WantRel() {
		fmt.Fprintln(out, "== Fixups ==")
	}
	offset := rd.ReadWord(4, false)
	relocMap.Add(textOffset+offset, 4)
	if opts.WantRel() {
		fmt.Fprintf(out, "Fixup longword at 0x%08X\n", offset)
	}
	for {
		delta := rd.ReadWord(1, false)
		switch delta {
		case 0:
			return
		case 1:
			offset += 254
		default:
			offset += delta
			relocMap.Add(textOffset+offset, 4)
			if opts.WantRel() {
				fmt.Fprintf(out, "Fixup longword at 0x%08X\n", offset)
			}
		}
	}
}

// readWordFixups decodes CP/M-68K's non-crunched relocation scheme: for
// every 2-byte position across text+data, a word whose low 3 bits name the
// fixup target (1 data, 2 text, 3 bss, 4 undefined, 5 "next fixup is a
// longword"). Values 0 (absolute), 6 (PC-relative), and 7 (instruction)
// carry no relocation.
func readWordFixups(rd *byteio.Reader, relocMap *reloc.Map, textOffset, span int64, opts format.Options, out io.Writer) {
	if opts.WantRel() {
		fmt.Fprintln(out, "== Fixups ==")
	}
	size := int64(2)
	sizeName := "word"
	for offset := int64(0); offset < span; offset += 2 {
		word := rd.ReadWord(2, false)
		var name string
		switch word & 7 {
		case 1:
			name = "data"
		case 2:
			name = "text"
		case 3:
			name = "bss"
		case 4:
			if opts.WantRel() {
				fmt.Fprintf(out, "- 0x%08X: %s to undefined symbol\n", offset+2-size, sizeName)
			}
		case 5:
			size = 4
			sizeName = "long word"
			continue
		}
		if name != "" {
			if opts.WantRel() {
				fmt.Fprintf(out, "- 0x%08X: %s to %s\n", offset+2-size, sizeName, name)
			}
			relocMap.Add(textOffset+offset+2-size, int(size))
		}
		size = 2
		sizeName = "word"
	}
}
