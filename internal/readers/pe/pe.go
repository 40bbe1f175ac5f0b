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

package pe

import (
	"fmt"
	"io"
	"sort"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
)

// Reader implements format.Reader for Portable Executable images (PE32 and
// PE32+). The optional header's magic word selects which variant is in
// play; everything past the data-directory count is identical in shape.
type Reader struct{}

type section struct {
	name           string
	virtualSize    int64
	virtualAddress int64
	rawSize        int64
	rawOffset      int64
	relocOffset    int64
	relocCount     int64
}

// memRange maps a virtual address window back to a file offset, built from
// the section table so directory entries (which are RVAs) can be resolved
// without a second header pass.
type memRange struct {
	vaStart, vaEnd, fileStart int64
}

func buildMemoryMap(secs []section) []memRange {
	ranges := make([]memRange, 0, len(secs))
	for _, s := range secs {
		ranges = append(ranges, memRange{s.virtualAddress, s.virtualAddress + s.virtualSize, s.rawOffset})
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].vaStart < ranges[j].vaStart })
	return ranges
}

func rvaToFile(ranges []memRange, rva int64) (int64, bool) {
	for _, r := range ranges {
		if rva >= r.vaStart && rva < r.vaEnd {
			return r.fileStart + (rva - r.vaStart), true
		}
	}
	return 0, false
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	rd.Seek(0)
	stub := rd.Read(2)
	var peOff int64
	if string(stub) == "MZ" || string(stub) == "ZM" {
		rd.Seek(0x3C)
		peOff = rd.ReadWord(4, false)
	}
	rd.Seek(peOff)
	sig := rd.Read(4)
	if string(sig) != "PE\x00\x00" {
		ec.Addf("invalid PE signature at 0x%X: %q", peOff, sig)
	}

	machine := rd.ReadWord(2, false)
	numSections := rd.ReadWord(2, false)
	timestamp := rd.ReadWord(4, false)
	rd.Skip(8) // symbol table pointer + count (deprecated, COFF debug)
	optHdrSize := rd.ReadWord(2, false)
	characteristics := rd.ReadWord(2, false)

	fmt.Fprintf(out, "=== PE Header (at 0x%X) ===\n", peOff)
	fmt.Fprintf(out, "Machine: 0x%04X\n", machine)
	fmt.Fprintf(out, "Number of sections: %d\n", numSections)
	fmt.Fprintf(out, "Timestamp: 0x%08X\n", timestamp)
	fmt.Fprintf(out, "Characteristics: 0x%04X\n", characteristics)

	optHdrStart := rd.Tell()
	var isPE32Plus bool
	var entryPoint, imageBase, sectionAlign, fileAlign int64
	var numDataDirs int64
	var dataDirs []struct{ rva, size int64 }

	if optHdrSize > 0 {
		magic := rd.ReadWord(2, false)
		isPE32Plus = magic == 0x20B
		rd.Skip(2) // linker version
		rd.Skip(12) // size of code, initialized data, uninitialized data
		entryPoint = rd.ReadWord(4, false)
		rd.Skip(4) // base of code
		if !isPE32Plus {
			rd.Skip(4) // base of data, PE32 only
			imageBase = rd.ReadWord(4, false)
		} else {
			imageBase = rd.ReadWord(8, false)
		}
		sectionAlign = rd.ReadWord(4, false)
		fileAlign = rd.ReadWord(4, false)

		fmt.Fprintf(out, "=== Optional Header (%s) ===\n", map[bool]string{true: "PE32+", false: "PE32"}[isPE32Plus])
		fmt.Fprintf(out, "Entry point: 0x%08X\n", entryPoint)
		fmt.Fprintf(out, "Image base: 0x%016X\n", imageBase)
		fmt.Fprintf(out, "Section alignment: 0x%X, File alignment: 0x%X\n", sectionAlign, fileAlign)

		// jump to the data-directory count, whose offset differs between
		// PE32 and PE32+ because the base-of-data field is absent in PE32+.
		ddCountOff := optHdrStart + 92
		if isPE32Plus {
			ddCountOff = optHdrStart + 108
		}
		rd.Seek(ddCountOff)
		numDataDirs = rd.ReadWord(4, false)
		dataDirs = make([]struct{ rva, size int64 }, numDataDirs)
		for i := int64(0); i < numDataDirs; i++ {
			dataDirs[i].rva = rd.ReadWord(4, false)
			dataDirs[i].size = rd.ReadWord(4, false)
		}
	}

	sectionTabOff := optHdrStart + optHdrSize
	rd.Seek(sectionTabOff)
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
		vsize := rd.ReadWord(4, false)
		vaddr := rd.ReadWord(4, false)
		rawSize := rd.ReadWord(4, false)
		rawOff := rd.ReadWord(4, false)
		relocOff := rd.ReadWord(4, false)
		rd.Skip(4) // line numbers pointer (deprecated)
		relocCount := rd.ReadWord(2, false)
		rd.Skip(2) // line number count (deprecated)
		rd.Skip(4) // characteristics
		sections[i] = section{name, vsize, vaddr, rawSize, rawOff, relocOff, relocCount}
	}

	fmt.Fprintln(out, "=== Sections ===")
	for i, s := range sections {
		fmt.Fprintf(out, "  [%d] %-8s vaddr=0x%08X vsize=0x%X raw-offset=0x%X raw-size=0x%X\n",
			i+1, s.name, s.virtualAddress, s.virtualSize, s.rawOffset, s.rawSize)
	}

	memMap := buildMemoryMap(sections)
	if len(dataDirs) > 0 {
		fmt.Fprintln(out, "=== Data Directories ===")
		dirNames := []string{"Export", "Import", "Resource", "Exception", "Security",
			"Base Relocation", "Debug", "Architecture", "Global Ptr", "TLS",
			"Load Config", "Bound Import", "IAT", "Delay Import", "COM Descriptor"}
		for i, d := range dataDirs {
			if d.size == 0 {
				continue
			}
			name := fmt.Sprintf("directory %d", i)
			if i < len(dirNames) {
				name = dirNames[i]
			}
			fmt.Fprintf(out, "  %s: rva=0x%08X size=0x%X\n", name, d.rva, d.size)
		}

		if len(dataDirs) > 1 && dataDirs[1].size > 0 {
			readImports(rd, memMap, dataDirs[1].rva, isPE32Plus, out, ec)
		}
		if len(dataDirs) > 0 && dataDirs[0].size > 0 {
			readExports(rd, memMap, dataDirs[0].rva, dataDirs[0].size, out, ec)
		}
	}

	relocMap := &reloc.Map{}
	if len(dataDirs) > 5 && dataDirs[5].size > 0 {
		readBaseRelocations(rd, memMap, dataDirs[5].rva, dataDirs[5].size, relocMap, opts, out, ec)
	}

	if opts.WantData() {
		fmt.Fprintln(out, "=== Section Data ===")
		for _, s := range sections {
			if s.rawSize == 0 {
				continue
			}
			rd.Seek(s.rawOffset)
			data := rd.Read(int(s.rawSize))
			fmt.Fprintf(out, "  --- section %s ---\n", s.name)
			hexdump.Format(data, hexdump.Options{
				Offset:       s.virtualAddress,
				Reloc:        relocMap.Lookup,
				MaxRelocSize: 4,
				Encoding:     opts.Encoding,
				ShowReloc:    opts.WantRelShow(),
			}, func(row hexdump.Row) {
				fmt.Fprintf(out, "  [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text)
			})
		}
	}

	return nil
}

func readCString(rd *byteio.Reader, off int64) string {
	defer rd.Save()()
	rd.Seek(off)
	return string(rd.ReadToZero())
}

// readImports walks the import directory: a sequence of 20-byte DLL
// descriptors terminated by an all-zero entry, each naming an import
// lookup table that is itself terminated by a zero word. Every lookup-table
// entry is either a high-bit-set ordinal or an RVA to a (hint, name) pair,
// per spec.md's §4.5.5.
func readImports(rd *byteio.Reader, memMap []memRange, rva int64, isPE32Plus bool, out io.Writer, ec *errcollect.Collector) {
	fileOff, ok := rvaToFile(memMap, rva)
	if !ok {
		ec.Addf("Import directory table RVA falls outside section data")
		return
	}
	defer rd.Save()()
	fmt.Fprintln(out, "=== Imports ===")
	entrySize := 4
	if isPE32Plus {
		entrySize = 8
	}
	ordinalBit := uint64(1) << 31
	if isPE32Plus {
		ordinalBit = uint64(1) << 63
	}
	rd.Seek(fileOff)
	for {
		lookupRVA := rd.ReadWord(4, false)
		rd.Skip(4) // timestamp
		rd.Skip(4) // forwarder chain
		nameRVA := rd.ReadWord(4, false)
		iatRVA := rd.ReadWord(4, false)
		if lookupRVA == 0 && nameRVA == 0 && iatRVA == 0 {
			break
		}
		name := "?"
		if nameOff, ok := rvaToFile(memMap, nameRVA); ok {
			name = readCString(rd, nameOff)
		}
		fmt.Fprintf(out, "  %s:\n", name)

		tableRVA := lookupRVA
		if tableRVA == 0 {
			tableRVA = iatRVA
		}
		tableOff, ok := rvaToFile(memMap, tableRVA)
		if !ok {
			ec.Addf("import lookup table rva 0x%X for %s does not map to any section", tableRVA, name)
			continue
		}
		func() {
			defer rd.Save()()
			rd.Seek(tableOff)
			for {
				entry := uint64(rd.ReadWord(entrySize, false))
				if entry == 0 {
					break
				}
				if entry&ordinalBit != 0 {
					fmt.Fprintf(out, "    by ordinal %d\n", entry&0xFFFF)
					continue
				}
				hintNameRVA := int64(entry & 0x7FFFFFFF)
				hintNameOff, ok := rvaToFile(memMap, hintNameRVA)
				if !ok {
					fmt.Fprintf(out, "    hint/name rva=0x%08X (outside section data)\n", hintNameRVA)
					continue
				}
				func() {
					defer rd.Save()()
					rd.Seek(hintNameOff)
					hint := rd.ReadWord(2, false)
					funcName := string(rd.ReadToZero())
					fmt.Fprintf(out, "    %s (hint %d)\n", funcName, hint)
				}()
			}
		}()
	}
}

// readExports walks the three export tables: address, name pointer, and
// ordinal. Each name pointer's matching ordinal (via the ordinal table) is
// the index into the address table; if the resulting address RVA lies
// inside the export directory's own span, it names a forwarder string
// rather than a function address, per spec.md's §4.5.5.
func readExports(rd *byteio.Reader, memMap []memRange, rva, size int64, out io.Writer, ec *errcollect.Collector) {
	fileOff, ok := rvaToFile(memMap, rva)
	if !ok {
		ec.Addf("Export directory table RVA falls outside section data")
		return
	}
	defer rd.Save()()
	rd.Seek(fileOff)
	rd.Skip(4) // characteristics
	rd.Skip(4) // timestamp
	rd.Skip(4) // version
	nameRVA := rd.ReadWord(4, false)
	ordinalBase := rd.ReadWord(4, false)
	numFuncs := rd.ReadWord(4, false)
	numNames := rd.ReadWord(4, false)
	addrTableRVA := rd.ReadWord(4, false)
	namePtrTableRVA := rd.ReadWord(4, false)
	ordinalTableRVA := rd.ReadWord(4, false)

	name := "?"
	if nameOff, ok := rvaToFile(memMap, nameRVA); ok {
		name = readCString(rd, nameOff)
	}
	fmt.Fprintf(out, "=== Exports (%s) ===\n", name)
	fmt.Fprintf(out, "  ordinal base: %d, functions: %d, named: %d\n", ordinalBase, numFuncs, numNames)

	addrTableOff, ok := rvaToFile(memMap, addrTableRVA)
	if !ok {
		ec.Addf("Export address table RVA falls outside section data")
		return
	}
	addresses := make([]int64, numFuncs)
	func() {
		defer rd.Save()()
		rd.Seek(addrTableOff)
		for i := int64(0); i < numFuncs; i++ {
			addresses[i] = rd.ReadWord(4, false)
		}
	}()

	names := make(map[int64]string)
	if numNames > 0 {
		namePtrOff, ok := rvaToFile(memMap, namePtrTableRVA)
		ordinalOff, okOrd := rvaToFile(memMap, ordinalTableRVA)
		if !ok || !okOrd {
			ec.Addf("Export name pointer or ordinal table RVA falls outside section data")
		} else {
			namePtrs := make([]int64, numNames)
			ordinals := make([]int64, numNames)
			func() {
				defer rd.Save()()
				rd.Seek(namePtrOff)
				for i := int64(0); i < numNames; i++ {
					namePtrs[i] = rd.ReadWord(4, false)
				}
				rd.Seek(ordinalOff)
				for i := int64(0); i < numNames; i++ {
					ordinals[i] = rd.ReadWord(2, false)
				}
			}()
			for i := int64(0); i < numNames; i++ {
				funcName := "?"
				if off, ok := rvaToFile(memMap, namePtrs[i]); ok {
					funcName = readCString(rd, off)
				}
				names[ordinals[i]] = funcName
			}
		}
	}

	for i := int64(0); i < numFuncs; i++ {
		addr := addresses[i]
		if addr == 0 {
			continue
		}
		ordinal := i + ordinalBase
		funcName, named := names[i]
		if !named {
			funcName = fmt.Sprintf("(no name, ordinal %d)", ordinal)
		}
		if addr >= rva && addr < rva+size {
			forwarder := readCString(rd, func() int64 {
				if off, ok := rvaToFile(memMap, addr); ok {
					return off
				}
				return fileOff
			}())
			fmt.Fprintf(out, "  [%d] %s -> forwarded to %s\n", ordinal, funcName, forwarder)
			continue
		}
		fmt.Fprintf(out, "  [%d] %s at rva=0x%08X\n", ordinal, funcName, addr)
	}
}

func readBaseRelocations(rd *byteio.Reader, memMap []memRange, rva int64, size int64, relocMap *reloc.Map, opts format.Options, out io.Writer, ec *errcollect.Collector) {
	fileOff, ok := rvaToFile(memMap, rva)
	if !ok {
		ec.Addf("Base Relocation directory table RVA falls outside section data")
		return
	}
	defer rd.Save()()
	if opts.WantRel() {
		fmt.Fprintln(out, "=== Base Relocations ===")
	}
	rd.Seek(fileOff)
	end := fileOff + size
	for rd.Tell() < end {
		pageRVA := rd.ReadWord(4, false)
		blockSize := rd.ReadWord(4, false)
		if blockSize < 8 {
			break
		}
		count := (blockSize - 8) / 2
		for i := int64(0); i < count; i++ {
			entry := rd.ReadWord(2, false)
			kind := entry >> 12
			offset := entry & 0xFFF
			if kind == 0 {
				continue
			}
			siteRVA := pageRVA + offset
			width := 4
			if kind == 10 {
				width = 8
			}
			if opts.WantRel() {
				fmt.Fprintf(out, "  rva=0x%08X type=%d\n", siteRVA, kind)
			}
			if siteFile, ok := rvaToFile(memMap, siteRVA); ok {
				relocMap.Add(siteFile, width)
			}
		}
	}
}
