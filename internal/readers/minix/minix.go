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

package minix

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
)

// Reader implements format.Reader for the MINIX a.out executable, a
// compact 32-byte header whose CPU-identifier byte selects the word
// assembly order: little-endian (8086), big-endian (68000), PDP-11, or
// anti-PDP-11 for any other identifier.
type Reader struct{}

func cpuEndian(cpuID int64) (byteio.Endian, string) {
	switch cpuID {
	case 0x04: // PDP-11
		return byteio.PDP11, "PDP-11"
	case 0x10: // Motorola 68000
		return byteio.Big, "68000"
	case 0x20: // Intel 8086
		return byteio.Little, "8086"
	default:
		return byteio.AntiPDP11, fmt.Sprintf("unknown(0x%02X)", cpuID)
	}
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }

	rd.Seek(0)
	magic := rd.Read(2)
	if magic[0] != 0x01 || magic[1] != 0x03 {
		ec.Addf("invalid MINIX a.out magic: %02X%02X", magic[0], magic[1])
	}
	flags := rd.Read(1)[0]
	cpuID := int64(rd.Read(1)[0])
	endian, cpuName := cpuEndian(cpuID)
	rd.Endian = endian

	hdrLen := rd.Read(1)[0]
	rd.Skip(1) // unused
	version := rd.ReadWord(2, false)
	textSize := rd.ReadWord(4, false)
	dataSize := rd.ReadWord(4, false)
	bssSize := rd.ReadWord(4, false)
	entry := rd.ReadWord(4, false)
	totalMem := rd.ReadWord(4, false)
	symSize := rd.ReadWord(4, false)

	fmt.Fprintln(out, "=== MINIX a.out Header ===")
	fmt.Fprintf(out, "CPU: %s, Flags: 0x%02X, Version: %d\n", cpuName, flags, version)
	fmt.Fprintf(out, "Header length: %d\n", hdrLen)
	fmt.Fprintf(out, "Text: 0x%X, Data: 0x%X, BSS: 0x%X\n", textSize, dataSize, bssSize)
	fmt.Fprintf(out, "Entry point: 0x%08X, Total memory: 0x%X\n", entry, totalMem)
	fmt.Fprintf(out, "Symbol table size: 0x%X\n", symSize)

	textOffset := int64(hdrLen)
	if textOffset == 0 {
		textOffset = 32
	}
	dataOffset := textOffset + textSize

	if flags&0x20 != 0 {
		ec.Addf("separate instruction/data (I&D) layout not supported, dumping as combined")
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Text Segment ===")
		rd.Seek(textOffset)
		hexdump.Format(rd.Read(int(textSize)), hexdump.Options{
			Offset: textOffset, Encoding: opts.Encoding, ShowReloc: false,
		}, func(row hexdump.Row) { fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })

		fmt.Fprintln(out, "=== Data Segment ===")
		rd.Seek(dataOffset)
		hexdump.Format(rd.Read(int(dataSize)), hexdump.Options{
			Offset: dataOffset, Encoding: opts.Encoding, ShowReloc: false,
		}, func(row hexdump.Row) { fmt.Fprintf(out, "[%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text) })
	}

	return nil
}
