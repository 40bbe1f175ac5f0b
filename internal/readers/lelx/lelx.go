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

// Package lelx implements the OS/2 Linear Executable (LE) and Windows/386
// Linear Executable (LX) reader; the two formats share a header shape and
// differ only in the object page table record and in being selected by the
// "LE"/"LX" magic.
package lelx

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for both LE and LX images. IsLX selects
// the object-page-table record shape; the magic bytes already told the
// driver which variant this file is, so it is threaded in here rather than
// re-detected.
type Reader struct {
	IsLX bool
}

type object struct {
	virtualSize int64
	base        int64
	flags       int64
	pageIndex   int64
	pageCount   int64
}

type pageEntry struct {
	dataOffset int64
	size       int64
	flags      int64
}

func fixupSourceName(kind int64) string {
	names := map[int64]string{
		0: "byte offset", 2: "selector", 3: "16:16 pointer", 5: "16-bit offset",
		7: "32-bit offset", 8: "32-bit self-relative", 0xB: "16:32 pointer", 0xD: "32-bit offset",
	}
	if n, ok := names[kind&0x0F]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", kind&0x0F)
}

// ReadFile parses an LE/LX executable from src.
func (r Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }

	rd.Seek(0)
	stub := rd.Read(2)
	var base int64
	if string(stub) == "MZ" || string(stub) == "ZM" {
		rd.Seek(0x3C)
		base = rd.ReadWord(4, false)
	}
	rd.Seek(base)

	magic := rd.Read(2)
	variant := "LE"
	if r.IsLX {
		variant = "LX"
	}
	if string(magic) != variant {
		ec.Addf("invalid %s magic at 0x%X: %q", variant, base, magic)
	}
	byteOrder := rd.Read(1)[0]
	wordOrder := rd.Read(1)[0]
	endian, err := byteio.EndianFromPair(byteOrder, wordOrder)
	if err != nil {
		ec.Add(err)
	}
	rd.Endian = endian

	formatLevel := rd.ReadWord(4, false)
	cpuType := rd.ReadWord(2, false)
	osType := rd.ReadWord(2, false)
	rd.Skip(4) // module version
	moduleFlags := rd.ReadWord(4, false)
	numPages := rd.ReadWord(4, false)
	eipObject := rd.ReadWord(4, false)
	eip := rd.ReadWord(4, false)
	espObject := rd.ReadWord(4, false)
	esp := rd.ReadWord(4, false)
	pageSize := rd.ReadWord(4, false)
	pageShift := rd.ReadWord(4, false)
	rd.Skip(8)                  // fixup section size+checksum
	rd.Skip(8)                  // loader section size+checksum
	objTabOff := rd.ReadWord(4, false)
	objCount := rd.ReadWord(4, false)
	objPageTabOff := rd.ReadWord(4, false)
	rd.Skip(4) // object iterated pages offset
	rd.Skip(8) // resource table offset+count
	rd.Skip(4) // resident names table offset
	rd.Skip(4) // entry table offset
	rd.Skip(8) // module directives offset+count
	fixupPageTabOff := rd.ReadWord(4, false)
	fixupRecTabOff := rd.ReadWord(4, false)
	rd.Skip(4) // imported modules name table offset
	rd.Skip(4) // imported modules count
	rd.Skip(4) // imported procedures name table offset
	rd.Skip(4) // per-page checksum table offset
	dataPagesOff := rd.ReadWord(4, false)

	fmt.Fprintf(out, "=== %s Header (at 0x%X) ===\n", variant, base)
	fmt.Fprintf(out, "Byte order: %d, Word order: %d\n", byteOrder, wordOrder)
	fmt.Fprintf(out, "Format level: %d\n", formatLevel)
	fmt.Fprintf(out, "CPU type: 0x%04X, OS type: 0x%04X\n", cpuType, osType)
	fmt.Fprintf(out, "Module flags: 0x%08X\n", moduleFlags)
	fmt.Fprintf(out, "Page count: %d, Page size: 0x%X, Page shift: %d\n", numPages, pageSize, pageShift)
	fmt.Fprintf(out, "Entry point: object %d, offset 0x%X\n", eipObject, eip)
	fmt.Fprintf(out, "Stack pointer: object %d, offset 0x%X\n", espObject, esp)

	objects := make([]object, objCount)
	rd.Seek(base + objTabOff)
	seenPages := map[int64]int64{}
	for i := int64(0); i < objCount; i++ {
		o := object{
			virtualSize: rd.ReadWord(4, false),
			base:        rd.ReadWord(4, false),
			flags:       rd.ReadWord(4, false),
			pageIndex:   rd.ReadWord(4, false),
			pageCount:   rd.ReadWord(4, false),
		}
		rd.Skip(4) // reserved
		objects[i] = o
		for p := int64(0); p < o.pageCount; p++ {
			page := o.pageIndex + p
			if owner, ok := seenPages[page]; ok && owner != i {
				ec.Addf("page %d claimed by both object %d and object %d", page, owner+1, i+1)
			} else {
				seenPages[page] = i
			}
		}
	}
	fmt.Fprintln(out, "=== Objects ===")
	for i, o := range objects {
		fmt.Fprintf(out, "  [%d] base=0x%08X vsize=0x%X flags=0x%08X pages=[%d..%d)\n",
			i+1, o.base, o.virtualSize, o.flags, o.pageIndex, o.pageIndex+o.pageCount)
	}

	// object page table: one record per declared page, 1-based indices
	// into this table via object.pageIndex.
	totalPages := numPages
	pages := make([]pageEntry, totalPages+1) // index 1..totalPages used
	rd.Seek(base + objPageTabOff)
	for i := int64(1); i <= totalPages; i++ {
		if r.IsLX {
			dataOff := rd.ReadWord(4, false)
			size := rd.ReadWord(2, false)
			flags := rd.ReadWord(2, false)
			pages[i] = pageEntry{dataOffset: dataOff << uint(pageShift), size: size, flags: flags}
		} else {
			idx := rd.ReadWordEndian(3, false, byteio.Big)
			typ := rd.Read(1)[0]
			pages[i] = pageEntry{dataOffset: idx, size: pageSize, flags: int64(typ)}
		}
	}

	// fixup page table: numPages+1 u32 offsets into the fixup record
	// table, delimiting per-page runs.
	relocMap := &reloc.Map{}
	rd.Seek(base + fixupPageTabOff)
	pageFixupStart := make([]int64, totalPages+2)
	for i := int64(0); i <= totalPages; i++ {
		pageFixupStart[i] = rd.ReadWord(4, false)
	}

	if opts.WantRel() || opts.WantRelShow() {
		fmt.Fprintln(out, "=== Fixups ===")
		for p := int64(1); p <= totalPages; p++ {
			start := base + fixupRecTabOff + pageFixupStart[p-1]
			end := base + fixupRecTabOff + pageFixupStart[p]
			rd.Seek(start)
			for rd.Tell() < end {
				src := rd.Read(1)[0]
				flags := rd.Read(1)[0]
				var count int64 = 1
				var srcOffset int64
				if src&0x20 != 0 {
					count = int64(rd.Read(1)[0])
				} else {
					srcOffset = rd.ReadWord(2, false)
				}
				width := 2
				switch src & 0x0F {
				case 3, 7, 8, 0xB, 0xD:
					width = 4
				}
				if flags&0x10 != 0 {
					width = 4
				}
				var targetDesc string
				switch flags & 0x03 {
				case 0, 3:
					obj := rd.Read(1)[0]
					var off int64
					if flags&0x10 != 0 {
						off = rd.ReadWord(4, false)
					} else {
						off = rd.ReadWord(2, false)
					}
					targetDesc = fmt.Sprintf("internal object=%d off=0x%X", obj, off)
				case 1:
					var mod int64
					if flags&0x40 != 0 {
						mod = rd.ReadWord(2, false)
					} else {
						mod = int64(rd.Read(1)[0])
					}
					var ord int64
					if flags&0x80 != 0 {
						ord = int64(rd.Read(1)[0])
					} else {
						ord = rd.ReadWord(2, false)
					}
					targetDesc = fmt.Sprintf("ordinal import module=%d ord=%d", mod, ord)
				case 2:
					mod := rd.Read(1)[0]
					nameOff := rd.ReadWord(2, false)
					targetDesc = fmt.Sprintf("name import module=%d nameoff=0x%X", mod, nameOff)
				}
				if flags&0x04 != 0 {
					if flags&0x20 != 0 {
						rd.Skip(4)
					} else {
						rd.Skip(2)
					}
				}
				fmtOff := func(o int64) int64 {
					return pages[p].dataOffset + o
				}
				if src&0x20 != 0 {
					for c := int64(0); c < count; c++ {
						off := rd.ReadWord(2, false)
						site := fmtOff(off)
						if opts.WantRel() {
							fmt.Fprintf(out, "  page %d src=%s target=%s site=0x%X\n", p, fixupSourceName(int64(src)), targetDesc, site)
						}
						if !relocMap.Add(site, width) {
							ec.Addf("duplicate relocation at 0x%X", site)
						}
					}
				} else {
					site := fmtOff(srcOffset)
					if opts.WantRel() {
						fmt.Fprintf(out, "  page %d src=%s target=%s site=0x%X\n", p, fixupSourceName(int64(src)), targetDesc, site)
					}
					if !relocMap.Add(site, width) {
						ec.Addf("duplicate relocation at 0x%X", site)
					}
				}
			}
		}
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Object Data ===")
		for i, o := range objects {
			fmt.Fprintf(out, "  --- object %d ---\n", i+1)
			for p := int64(0); p < o.pageCount; p++ {
				pageNum := o.pageIndex + p
				if pageNum < 1 || pageNum > totalPages {
					continue
				}
				pe := pages[pageNum]
				rd.Seek(base + dataPagesOff + pe.dataOffset)
				data := rd.Read(int(pe.size))
				virtBase := pe.dataOffset
				hexdump.Format(data, hexdump.Options{
					Offset:       virtBase,
					Reloc:        relocMap.Lookup,
					MaxRelocSize: 4,
					Encoding:     opts.Encoding,
					ShowReloc:    opts.WantRelShow(),
				}, func(row hexdump.Row) {
					fmt.Fprintf(out, "  [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text)
				})
			}
		}
	}

	return nil
}
