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

// Package cpm86 implements the CP/M-86 command file format: up to 8 group
// descriptors at offset 0, an optional libraries group at 0x48, a library
// name/version at 0x60, RSX-table and fixup-table offsets plus a flags byte
// at 0x7B, and segment data packed from 0x80. An RSX (Resident System
// eXtension) table, when present, names further CP/M-86 images nested at
// other file offsets; each is a complete image in its own right, so reading
// one is a recursive call into the same image reader, capped at a depth of
// 8 since nothing issued by Digital Research ever nests RSXs deeper than
// that and a malformed table must not recurse forever.
package cpm86

import (
	"fmt"
	"io"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/reloc"
	"github.com/holocm/xfdump/internal/textenc"
)

const maxRSXDepth = 8

// Reader implements format.Reader for CP/M-86 command files.
type Reader struct{}

// group is one of the up to 8 group descriptors read from the file's
// opening 9-byte-record table (or the libraries descriptor at 0x48, which
// shares the same shape).
type group struct {
	Type byte
	Size int64
	Base int64
	Min  int64
	Max  int64
}

func groupTypeName(t byte) string {
	switch t & 0x0F {
	case 0x1:
		return "code"
	case 0x2:
		return "data"
	case 0x3:
		return "extra"
	case 0x4:
		return "stack"
	case 0x5:
		return "auxiliary 1"
	case 0x6:
		return "auxiliary 2"
	case 0x7:
		return "auxiliary 3"
	case 0x8:
		return "auxiliary 4/fixups"
	case 0x9:
		return "shared code"
	default:
		return "undefined"
	}
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Little

	fmt.Fprintln(out, "==== CP/M-86 format ====")
	readImage(rd, 0, 0, opts, out, ec)
	return nil
}

func decodeName(opts format.Options, raw []byte) string {
	enc := opts.Encoding
	if enc == "" {
		enc = "cp437_full"
	}
	decode, err := textenc.ByName(enc)
	if err != nil {
		decode, _ = textenc.ByName("cp437_full")
	}
	return decode(raw)
}

// readImage parses one CP/M-86 image (the top-level program, or a nested
// RSX) starting at imageOffset, then recurses into any RSX table it names.
func readImage(rd *byteio.Reader, imageOffset int64, depth int, opts format.Options, out io.Writer, ec *errcollect.Collector) {
	if depth > maxRSXDepth {
		ec.Addf("RSX chain exceeds %d links at 0x%X, stopping", maxRSXDepth, imageOffset)
		return
	}
	if imageOffset != 0 {
		fmt.Fprintf(out, "- Image offset: 0x%08X\n", imageOffset)
	}

	rd.Seek(imageOffset)
	var groups []group
	for i := 0; i < 8; i++ {
		t := rd.Read(1)[0]
		if t == 0 {
			break
		}
		size := rd.ReadWord(2, false) << 4
		base := rd.ReadWord(2, false) << 4
		min := rd.ReadWord(2, false) << 4
		max := rd.ReadWord(2, false) << 4
		groups = append(groups, group{Type: t, Size: size, Base: base, Min: min, Max: max})
	}

	rd.Seek(imageOffset + 0x48)
	libType := rd.Read(1)[0]
	hasLibraries := libType == 0xFF
	var libs group
	if hasLibraries {
		libs.Size = rd.ReadWord(2, false) << 4
		libs.Base = rd.ReadWord(2, false) << 4
		libs.Min = rd.ReadWord(2, false) << 4
		libs.Max = rd.ReadWord(2, false) << 4
	}

	rd.Seek(imageOffset + 0x60)
	libNameRaw := rd.Read(8)
	isLibrary := libNameRaw[0] != 0
	libName := decodeName(opts, libNameRaw)
	libVerMajor := rd.ReadWord(2, false)
	libVerMinor := rd.ReadWord(2, false)
	libFlags := rd.ReadWord(4, false)

	rd.Seek(imageOffset + 0x7B)
	rsxTableOffset := rd.ReadWord(2, false) << 7
	fixupOffset := rd.ReadWord(2, false) << 7
	flags := rd.Read(1)[0]

	fmt.Fprintln(out, "= Group table")
	segmentOffset := int64(0x80)
	var librariesOffset int64
	if hasLibraries {
		librariesOffset = segmentOffset
		segmentOffset += libs.Size
	}
	segmentOffsets := make([]int64, len(groups))
	for i, g := range groups {
		fmt.Fprintf(out, "Segment #%d:\n", i+1)
		fmt.Fprintf(out, "- Type: %s (0x%02X)\n", groupTypeName(g.Type), g.Type)
		if g.Base != 0 {
			fmt.Fprintf(out, "- Address: 0x%06X\n", g.Base)
		}
		fmt.Fprintf(out, "- Offset: 0x%06X (0x%08X in file)\n", segmentOffset, imageOffset+segmentOffset)
		fmt.Fprintf(out, "- Length: 0x%06X\n", g.Size)
		if g.Min != g.Size {
			fmt.Fprintf(out, "- Minimum: 0x%06X\n", g.Min)
		}
		if g.Max != 0 {
			fmt.Fprintf(out, "- Maximum: 0x%06X\n", g.Max)
		}
		segmentOffsets[i] = segmentOffset
		segmentOffset += g.Size
	}

	if hasLibraries {
		fmt.Fprintln(out, "Libraries:")
		if libs.Base != 0 {
			fmt.Fprintf(out, "- Address: 0x%06X\n", libs.Base)
		}
		fmt.Fprintf(out, "- Offset: 0x%06X (0x%08X in file)\n", librariesOffset, imageOffset+librariesOffset)
		fmt.Fprintf(out, "- Length: 0x%06X\n", libs.Size)
		if libs.Min != libs.Size {
			fmt.Fprintf(out, "- Minimum: 0x%06X\n", libs.Min)
		}
		if libs.Max != 0 && libs.Max != libs.Size {
			fmt.Fprintf(out, "- Maximum: 0x%06X\n", libs.Max)
		}
	}

	if rsxTableOffset != 0 {
		fmt.Fprintf(out, "RSX index offset: 0x%06X (0x%08X in file)\n", rsxTableOffset, imageOffset+rsxTableOffset)
	}
	if fixupOffset != 0 {
		fmt.Fprintf(out, "Fixup offset: 0x%06X (0x%08X in file)\n", fixupOffset, imageOffset+fixupOffset)
		if flags&0x80 == 0 {
			fmt.Fprintln(out, "Warning: no actual fixups take place")
		}
	}
	fmt.Fprintf(out, "Flags: 0x%02X", flags)
	if flags&0x08 != 0 {
		fmt.Fprint(out, ", direct video access")
	}
	if flags&0x10 != 0 {
		fmt.Fprint(out, ", RSX")
	}
	if flags&0x20 != 0 {
		fmt.Fprint(out, ", needs 8087")
	}
	if flags&0x40 != 0 {
		fmt.Fprint(out, ", uses or emulates 8087")
	}
	if flags&0x80 != 0 {
		fmt.Fprint(out, ", do fixups")
	}
	fmt.Fprintln(out)

	if isLibrary {
		fmt.Fprintf(out, "Library: %s %d.%d, flags: 0x%08X\n", libName, libVerMajor, libVerMinor, libFlags)
	}

	var importedLibNames []string
	var importedLibFixupCounts []int64
	if hasLibraries {
		rd.Seek(imageOffset + librariesOffset)
		libraryCount := rd.ReadWord(2, false)
		actualSize := (2 + libraryCount*18 + 0xF) &^ 0xF
		if actualSize != libs.Size {
			if actualSize < libs.Size {
				ec.Addf("actual STRL group is too short at 0x%X", imageOffset+librariesOffset)
			} else {
				ec.Addf("actual STRL group is too long at 0x%X", imageOffset+librariesOffset)
			}
			fmt.Fprintf(out, "Actual library size: 0x%06X\n", actualSize)
		}
		for i := int64(0); i < libraryCount; i++ {
			name := decodeName(opts, rd.Read(8))
			verMajor := rd.ReadWord(2, false)
			verMinor := rd.ReadWord(2, false)
			impFlags := rd.ReadWord(4, false)
			fixups := rd.ReadWord(2, false)
			fmt.Fprintf(out, "Imported library #%d: %s %d.%d, flags: 0x%08X, fixups: #%d\n",
				i+1, name, verMajor, verMinor, impFlags, fixups)
			importedLibNames = append(importedLibNames, name)
			importedLibFixupCounts = append(importedLibFixupCounts, fixups)
		}
	}

	relocs := make([]*reloc.Map, len(groups))
	for i := range relocs {
		relocs[i] = &reloc.Map{}
	}

	if (opts.WantRel() || opts.WantRelShow()) && flags&0x80 != 0 {
		if opts.WantRel() {
			fmt.Fprintln(out, "= Relocations")
		}
		rd.Seek(imageOffset + fixupOffset)
		index := 0
		readFixupRecord := func() bool {
			tg := rd.Read(1)[0]
			if tg == 0 {
				return false
			}
			owner := int64(tg >> 4)
			target := int64(tg & 0xF)
			if owner == 0 || int(owner) > len(groups) {
				ec.Addf("invalid group %d in CP/M-86 relocation at 0x%X", owner, rd.Tell()-1)
			}
			if target == 0 || int(target) > len(groups) {
				ec.Addf("invalid target group %d in CP/M-86 relocation at 0x%X", target, rd.Tell()-1)
			}
			seg := rd.ReadWord(2, false)
			off := rd.ReadWord(1, false)
			position := (seg << 4) + off
			if opts.WantRel() {
				fmt.Fprintf(out, "Relocation #%d to group #%d at #%d:0x%06X\n", index+1, target, owner, position)
			}
			if owner >= 1 && int(owner) <= len(relocs) {
				if !relocs[owner-1].Add(position, 2) {
					ec.Addf("duplicate relocation 0x%X in group #%d", position, owner)
				}
			}
			index++
			return true
		}
		for readFixupRecord() {
		}
		if len(importedLibFixupCounts) > 0 {
			rd.Skip(3)
			for li, name := range importedLibNames {
				if opts.WantRel() {
					fmt.Fprintf(out, "- Fixups for library %s\n", name)
				}
				for i2 := int64(0); i2 < importedLibFixupCounts[li]; i2++ {
					if !readFixupRecord() {
						break
					}
				}
			}
		}
	}

	if opts.WantData() {
		for i, segOff := range segmentOffsets {
			fmt.Fprintf(out, "= Segment data #%d\n", i+1)
			fileOff := imageOffset + segOff
			rd.Seek(fileOff)
			data := rd.Read(int(groups[i].Size))
			hexdump.Format(data, hexdump.Options{
				Offset:       0,
				Reloc:        relocs[i].Lookup,
				MaxRelocSize: 2,
				Encoding:     opts.Encoding,
				ShowReloc:    opts.WantRelShow(),
			}, func(row hexdump.Row) {
				fmt.Fprintf(out, "[%08X] %08X\t%s\t%s\n", fileOff+row.Offset, row.Offset, row.Hex, row.Text)
			})
		}
	}

	if rsxTableOffset != 0 {
		fmt.Fprintln(out, "= RSX table")
		rd.Seek(imageOffset + rsxTableOffset)
		var rsxOffsets []int64
		var rsxNames []string
		for {
			raw := rd.ReadWord(2, false)
			if raw == 0xFFFF {
				break
			}
			off := raw << 7
			name := decodeName(opts, rd.Read(8))
			rd.Skip(6)
			rsxOffsets = append(rsxOffsets, off)
			rsxNames = append(rsxNames, name)
			fmt.Fprintf(out, "RSX #%d:\n", len(rsxOffsets))
			fmt.Fprintf(out, "- Name: %q\n", name)
			fmt.Fprintf(out, "- Offset: 0x%06X (0x%08X in file)\n", off, imageOffset+off)
		}

		for i, off := range rsxOffsets {
			fmt.Fprintf(out, "== RSX #%d: %q\n", i+1, rsxNames[i])
			readImage(rd, off, depth+1, opts, out, ec)
		}
	}
}
