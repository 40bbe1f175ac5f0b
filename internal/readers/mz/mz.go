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

// Package mz implements the DOS MZ executable reader.
package mz

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for DOS MZ executables.
type Reader struct{}

type header struct {
	magic           [2]byte
	lastPageBytes   int64
	pageCount       int64
	relocCount      int64
	headerParas     int64
	minAlloc        int64
	maxAlloc        int64
	initialSS       int64
	initialSP       int64
	checksum        int64
	initialIP       int64
	initialCS       int64
	relocTableOff   int64
	overlayNumber   int64
}

// ReadFile parses an MZ executable from src.
func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	rd.Seek(0)
	var h header
	m := rd.Read(2)
	h.magic = [2]byte{m[0], m[1]}
	if h.magic != [2]byte{'M', 'Z'} && h.magic != [2]byte{'Z', 'M'} {
		ec.Addf("invalid MZ magic: %q", h.magic[:])
	}
	h.lastPageBytes = rd.ReadWord(2, false)
	h.pageCount = rd.ReadWord(2, false)
	h.relocCount = rd.ReadWord(2, false)
	h.headerParas = rd.ReadWord(2, false)
	h.minAlloc = rd.ReadWord(2, false)
	h.maxAlloc = rd.ReadWord(2, false)
	h.initialSS = rd.ReadWord(2, false)
	h.initialSP = rd.ReadWord(2, false)
	h.checksum = rd.ReadWord(2, false)
	h.initialIP = rd.ReadWord(2, false)
	h.initialCS = rd.ReadWord(2, false)
	h.relocTableOff = rd.ReadWord(2, false)
	h.overlayNumber = rd.ReadWord(2, false)

	fileSize := (h.pageCount << 9) - ((-h.lastPageBytes) & 0x1FF)
	headerSize := h.headerParas << 4

	fmt.Fprintf(out, "Magic number: %q\n", h.magic[:])
	fmt.Fprintf(out, "Bytes on last page: 0x%04X\n", h.lastPageBytes)
	fmt.Fprintf(out, "Pages: 0x%04X\n", h.pageCount)
	fmt.Fprintf(out, "File size: 0x%08X\n", fileSize)
	fmt.Fprintf(out, "Header length: 0x%08X\n", headerSize)
	fmt.Fprintf(out, "Minimum extra paragraphs: 0x%04X\n", h.minAlloc)
	fmt.Fprintf(out, "Maximum extra paragraphs: 0x%04X\n", h.maxAlloc)
	fmt.Fprintf(out, "Initial SS:SP: %04X:%04X\n", h.initialSS, h.initialSP)
	fmt.Fprintf(out, "Checksum: 0x%04X\n", h.checksum)
	fmt.Fprintf(out, "Initial CS:IP: %04X:%04X\n", h.initialCS, h.initialIP)
	fmt.Fprintf(out, "Relocation table offset: 0x%04X\n", h.relocTableOff)
	fmt.Fprintf(out, "Overlay number: 0x%04X\n", h.overlayNumber)

	if fileSize > length {
		ec.Addf("declared file size 0x%X exceeds physical file length 0x%X", fileSize, length)
	}

	relocMap := &reloc.Map{}
	if h.relocCount > 0 {
		if h.relocTableOff < 0x1C {
			ec.Addf("relocation table at 0x%X begins before the standard header", h.relocTableOff)
		}
		if h.relocTableOff+h.relocCount*4 > headerSize {
			ec.Addf("relocation table crosses the header boundary (header length 0x%X)", headerSize)
		}
		fmt.Fprintf(out, "Relocations count: %d\n", h.relocCount)
		rd.Seek(h.relocTableOff)
		fmt.Fprintln(out, "=== Relocations ===")
		for i := int64(0); i < h.relocCount; i++ {
			off := rd.ReadWord(2, false)
			seg := rd.ReadWord(2, false)
			pos := headerSize + (seg << 4) + off
			fmt.Fprintf(out, "  %04X:%04X -> file position 0x%08X\n", seg, off, pos)
			if opts.WantRel() {
				fmt.Fprintf(out, "    fixup word at 0x%08X\n", pos)
			}
			if !relocMap.Add(pos, 2) {
				ec.Addf("duplicate relocation at position 0x%X", pos)
			}
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Image ===")
		imageLen := fileSize - headerSize
		if imageLen < 0 {
			imageLen = 0
		}
		if headerSize+imageLen > length {
			imageLen = length - headerSize
		}
		rd.Seek(headerSize)
		data := rd.Read(int(imageLen))
		err := hexdump.Format(data, hexdump.Options{
			Offset:       headerSize,
			Reloc:        relocMap.Lookup,
			MaxRelocSize: 2,
			Encoding:     opts.Encoding,
			ShowReloc:    opts.WantRelShow(),
		}, func(row hexdump.Row) {
			fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text)
		})
		if err != nil {
			ec.Add(err)
		}
	}

	return nil
}
