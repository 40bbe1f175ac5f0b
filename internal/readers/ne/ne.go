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

// Package ne implements the 16-bit Windows/OS2 "New Executable" reader.
package ne

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for NE executables.
type Reader struct{}

type segment struct {
	offsetSectors int64
	length        int64
	flags         int64
	minAlloc      int64
	fileOffset    int64
	fileLength    int64
}

func sourceKindName(kind int64) string {
	names := map[int64]string{
		0: "byte offset", 2: "selector", 3: "16:16 pointer",
		5: "16-bit offset", 0xB: "16:32 pointer", 0xD: "32-bit offset",
	}
	if n, ok := names[kind]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", kind)
}

// ReadFile parses an NE executable from src.
func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	// locate the new header: via the MZ stub's e_lfanew, or at offset 0
	// for a stubless image.
	var newHeader int64
	rd.Seek(0)
	stub := rd.Read(2)
	if string(stub) == "MZ" || string(stub) == "ZM" {
		rd.Seek(0x3C)
		newHeader = rd.ReadWord(4, false)
	}
	rd.Seek(newHeader)

	magic := rd.Read(2)
	if string(magic) != "NE" {
		ec.Addf("invalid NE magic at 0x%X: %q", newHeader, magic)
	}
	linkerVer := rd.Read(1)[0]
	linkerRev := rd.Read(1)[0]
	entTabOff := rd.ReadWord(2, false)
	entTabLen := rd.ReadWord(2, false)
	rd.Skip(4) // CRC
	progFlags := rd.ReadWord(1, false)
	appFlags := rd.ReadWord(1, false)
	autoDataSeg := rd.ReadWord(2, false)
	heapSize := rd.ReadWord(2, false)
	stackSize := rd.ReadWord(2, false)
	initIP := rd.ReadWord(2, false)
	initCS := rd.ReadWord(2, false)
	initSP := rd.ReadWord(2, false)
	initSS := rd.ReadWord(2, false)
	segCount := rd.ReadWord(2, false)
	modRefCount := rd.ReadWord(2, false)
	nonResNameTabLen := rd.ReadWord(2, false)
	segTabOff := rd.ReadWord(2, false)
	rsrcTabOff := rd.ReadWord(2, false)
	resNameTabOff := rd.ReadWord(2, false)
	modRefTabOff := rd.ReadWord(2, false)
	impNameTabOff := rd.ReadWord(2, false)
	nonResNameTabOff := rd.ReadWord(4, false)
	movEntCount := rd.ReadWord(2, false)
	sectorShift := rd.ReadWord(2, false)
	resSegCount := rd.ReadWord(2, false)
	exeType := rd.Read(1)[0]
	rd.Skip(9) // other flags, thunks, seg-ref bytes, swap area, expected version

	fmt.Fprintf(out, "=== NE Header (at 0x%X) ===\n", newHeader)
	fmt.Fprintf(out, "Linker version: %d.%d\n", linkerVer, linkerRev)
	fmt.Fprintf(out, "Entry table: offset 0x%04X, length 0x%04X\n", entTabOff, entTabLen)
	fmt.Fprintf(out, "Program flags: 0x%02X\n", progFlags)
	fmt.Fprintf(out, "Application flags: 0x%02X\n", appFlags)
	fmt.Fprintf(out, "Auto data segment: %d\n", autoDataSeg)
	fmt.Fprintf(out, "Heap size: 0x%04X, Stack size: 0x%04X\n", heapSize, stackSize)
	fmt.Fprintf(out, "Initial CS:IP: %04X:%04X, SS:SP: %04X:%04X\n", initCS, initIP, initSS, initSP)
	fmt.Fprintf(out, "Segment count: %d\n", segCount)
	fmt.Fprintf(out, "Module reference count: %d\n", modRefCount)
	fmt.Fprintf(out, "Non-resident name table length: 0x%04X\n", nonResNameTabLen)
	fmt.Fprintf(out, "Sector shift count: %d\n", sectorShift)
	fmt.Fprintf(out, "Resource segment count: %d\n", resSegCount)
	fmt.Fprintf(out, "Target OS byte: 0x%02X\n", exeType)
	fmt.Fprintf(out, "Movable entry count: %d\n", movEntCount)

	fetchName := func(tableOff int64, entryOff int64) string {
		defer rd.Save()()
		rd.Seek(newHeader + tableOff + entryOff)
		return string(rd.ReadLengthPrefixed())
	}

	// module reference table: cmod u16 entries, each an offset into the
	// imported-names table (itself a length-prefixed string table).
	moduleNames := make([]string, modRefCount)
	func() {
		defer rd.Save()()
		rd.Seek(newHeader + modRefTabOff)
		for i := int64(0); i < modRefCount; i++ {
			off := rd.ReadWord(2, false)
			moduleNames[i] = fetchName(impNameTabOff, off)
		}
	}()
	if modRefCount > 0 {
		fmt.Fprintln(out, "=== Imported Modules ===")
		for i, n := range moduleNames {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, n)
		}
	}

	// segment table
	segments := make([]segment, segCount)
	rd.Seek(newHeader + segTabOff)
	for i := int64(0); i < segCount; i++ {
		offSectors := rd.ReadWord(2, false)
		segLen := rd.ReadWord(2, false)
		if segLen == 0 {
			segLen = 0x10000
		}
		flags := rd.ReadWord(2, false)
		minSize := rd.ReadWord(2, false)
		segments[i] = segment{
			offsetSectors: offSectors,
			length:        segLen,
			flags:         flags,
			minAlloc:      minSize,
			fileOffset:    offSectors << uint(sectorShift),
			fileLength:    segLen,
		}
	}

	fmt.Fprintln(out, "=== Segments ===")
	for i, seg := range segments {
		kind := "CODE"
		if seg.flags&0x0001 != 0 {
			kind = "DATA"
		}
		fmt.Fprintf(out, "  [%d] %s file-offset=0x%X length=0x%X flags=0x%04X min-alloc=0x%X\n",
			i+1, kind, seg.fileOffset, seg.fileLength, seg.flags, seg.minAlloc)

		if seg.flags&0x0100 == 0 {
			continue // no relocations
		}
		if !opts.WantRel() && !opts.WantRelShow() && !opts.WantData() {
			continue
		}
		relocMap := &reloc.Map{}
		func() {
			defer rd.Save()()
			rd.Seek(seg.fileOffset + seg.fileLength)
			count := rd.ReadWord(2, false)
			for r := int64(0); r < count; r++ {
				srcByte := rd.Read(1)[0]
				flagsByte := rd.Read(1)[0]
				srcOffset := rd.ReadWord(2, false)
				kind := srcByte & 0x0F
				targetKind := flagsByte & 0x03
				width := 2
				switch kind {
				case 3, 0xB:
					width = 4
				case 0xD:
					width = 4
				}
				var targetDesc string
				switch targetKind {
				case 0:
					tseg := rd.Read(1)[0]
					rd.Read(1)
					toff := rd.ReadWord(2, false)
					targetDesc = fmt.Sprintf("internal seg=%d off=0x%X", tseg, toff)
				case 1:
					mod := rd.ReadWord(2, false)
					ord := rd.ReadWord(2, false)
					modName := ""
					if mod >= 1 && int(mod) <= len(moduleNames) {
						modName = moduleNames[mod-1]
					}
					targetDesc = fmt.Sprintf("ordinal import %s.#%d", modName, ord)
				case 2:
					mod := rd.ReadWord(2, false)
					nameOff := rd.ReadWord(2, false)
					modName := ""
					if mod >= 1 && int(mod) <= len(moduleNames) {
						modName = moduleNames[mod-1]
					}
					name := fetchName(impNameTabOff, nameOff)
					targetDesc = fmt.Sprintf("name import %s.%s", modName, name)
				case 3:
					rd.Skip(4)
					targetDesc = "OS fixup"
				}
				if opts.WantRel() {
					fmt.Fprintf(out, "    fixup src=%s(0x%02X) at 0x%04X -> %s\n",
						sourceKindName(int64(kind)), srcByte, srcOffset, targetDesc)
				}
				if !relocMap.Add(srcOffset, width) {
					ec.Addf("duplicate relocation at segment %d offset 0x%X", i+1, srcOffset)
				}
			}
		}()

		if opts.WantData() {
			segData := func() []byte {
				defer rd.Save()()
				rd.Seek(seg.fileOffset)
				return rd.Read(int(seg.fileLength))
			}()
			fmt.Fprintf(out, "  --- segment %d data ---\n", i+1)
			hexdump.Format(segData, hexdump.Options{
				Offset:       0,
				Reloc:        relocMap.Lookup,
				MaxRelocSize: 4,
				Encoding:     opts.Encoding,
				ShowReloc:    opts.WantRelShow(),
			}, func(row hexdump.Row) {
				fmt.Fprintf(out, "  [%04X] \t%s\t%s\n", row.Offset, row.Hex, row.Text)
			})
		}
	}

	if resNameTabOff != 0 {
		func() {
			defer rd.Save()()
			rd.Seek(newHeader + resNameTabOff)
			fmt.Fprintln(out, "=== Resident Names ===")
			rd.Skip(0) // first entry is the module name itself
			for {
				name := rd.ReadLengthPrefixed()
				ordinal := rd.ReadWord(2, false)
				if len(name) == 0 {
					break
				}
				fmt.Fprintf(out, "  %s -> ordinal %d\n", name, ordinal)
			}
		}()
	}

	if entTabLen > 0 {
		func() {
			defer rd.Save()()
			rd.Seek(newHeader + entTabOff)
			fmt.Fprintln(out, "=== Entry Table ===")
			ordinal := 1
			for {
				count := rd.Read(1)[0]
				if count == 0 {
					break
				}
				kind := rd.Read(1)[0]
				switch kind {
				case 0x00:
					ordinal += int(count) // unused bundle
				case 0xFF:
					for b := byte(0); b < count; b++ {
						flags := rd.Read(1)[0]
						rd.Skip(2) // int3F
						seg := rd.Read(1)[0]
						off := rd.ReadWord(2, false)
						fmt.Fprintf(out, "  #%d movable flags=0x%02X seg=%d off=0x%04X\n", ordinal, flags, seg, off)
						ordinal++
					}
				case 0xFE:
					for b := byte(0); b < count; b++ {
						flags := rd.Read(1)[0]
						off := rd.ReadWord(2, false)
						fmt.Fprintf(out, "  #%d constant flags=0x%02X off=0x%04X\n", ordinal, flags, off)
						ordinal++
					}
				default:
					for b := byte(0); b < count; b++ {
						flags := rd.Read(1)[0]
						off := rd.ReadWord(2, false)
						fmt.Fprintf(out, "  #%d fixed(seg=%d) flags=0x%02X off=0x%04X\n", ordinal, kind, flags, off)
						ordinal++
					}
				}
			}
		}()
	}

	_ = rsrcTabOff
	_ = nonResNameTabOff
	return nil
}
