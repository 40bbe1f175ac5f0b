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

// Package magic implements MagicDetector: peek the header bytes of a
// seekable byte source and return one of the format tags in
// internal/format, dispatching through a table of two- and four-byte magic
// values rather than a chain of prefix comparisons.
package magic

import (
	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/format"
)

var twoByteMagics = map[[2]byte]format.Tag{
	{'M', 'Z'}: format.MZ, {'Z', 'M'}: format.MZ,
	{'N', 'E'}: format.NE, {'D', 'X'}: format.NE,
	{'L', 'E'}: format.LE, {'L', 'X'}: format.LX,
	{0x07, 0x01}: format.AOut, {0x08, 0x01}: format.AOut, {0x0B, 0x01}: format.AOut, {0xCC, 0x00}: format.AOut,
	{0x4C, 0x01}: format.COFF, {0x01, 0x50}: format.COFF,
	{0x01, 0x03}: format.MINIXAOut,
	// 0x601A is also the GEMDOS and Human68k magic; auto-detection can't tell
	// them apart from CP/M-68K proper and falls back to the base sys. Select
	// -Ftos or -Fzfile explicitly to dump a GEMDOS or Human68k image.
	{0x60, 0x1A}: format.CPM68K,
	{0x60, 0x1B}: format.CPM68K,
	{0x60, 0x1C}: format.CDOS68K,
	{'H', 'U'}:   format.HU,
	{'M', 'P'}:   format.MPMQ, {'M', 'Q'}: format.MPMQ,
	{'P', '2'}: format.P2P3, {'P', '3'}: format.P2P3,
	{'B', 'W'}:   format.BW,
	{0xFF, 0x00}: format.UZI280,
	{0xEE, 0x00}: format.CPM8000, {0xEE, 0x01}: format.CPM8000, {0xEE, 0x02}: format.CPM8000,
	{0xEE, 0x03}: format.CPM8000, {0xEE, 0x07}: format.CPM8000, {0xEE, 0x0B}: format.CPM8000,
}

var fourByteMagics = map[[4]byte]format.Tag{
	{'P', 'E', 0, 0}: format.PE, {'P', 'L', 0, 0}: format.PE,
	{0x7F, 'E', 'L', 'F'}: format.ELF,
	{0, 0, 0x03, 0xF3}:    format.Hunk, {0, 0, 0x03, 0xE7}: format.Hunk,
	{0, 0x05, 0x16, 0x00}: format.Apple, {0, 0x05, 0x16, 0x07}: format.Apple,
	{'A', 'd', 'a', 'm'}: format.Adam, {'D', 'l', 'l', ' '}: format.Adam,
	{'D', '3', 'X', '1'}: format.D3X,
	{'L', 'V', 0, 0}:     format.DX64, {'F', 'l', 'a', 't'}: format.DX64,
}

// getMagic reads a tentative tag from the reader's current position,
// consuming 2 or 4 bytes depending on which table matches.
func getMagic(rd *byteio.Reader) format.Tag {
	two := rd.Read(2)
	key2 := [2]byte{two[0], two[1]}
	if tag, ok := twoByteMagics[key2]; ok {
		return tag
	}
	four := append(two, rd.Read(2)...)
	key4 := [4]byte{four[0], four[1], four[2], four[3]}
	if tag, ok := fourByteMagics[key4]; ok {
		return tag
	}
	return format.Unknown
}

// Detect runs MagicDetector over rd, which must be positioned anywhere
// (Detect always seeks to 0 first). For MZ/ZM stubs it follows the e_lfanew
// offset at 0x3C, falling back to the computed end-of-MZ-image offset, and
// finally to FMT_MZ itself if nothing else is recognized there.
func Detect(rd *byteio.Reader) format.Tag {
	rd.Endian = byteio.Little
	rd.Seek(0)
	tag := getMagic(rd)
	if tag != format.MZ {
		return tag
	}

	rd.Seek(0x3C)
	offset := rd.ReadWord(4, false)
	if offset != 0 {
		rd.Seek(offset)
		if sub := getMagic(rd); sub != format.Unknown {
			return sub
		}
	}

	rd.Seek(0x02)
	lastPageBytes := rd.ReadWord(2, false)
	pageCount := rd.ReadWord(2, false)
	endOffset := (pageCount << 9) - ((-lastPageBytes) & 0x1FF)
	rd.Seek(endOffset)
	if sub := getMagic(rd); sub != format.Unknown {
		return sub
	}
	return format.MZ
}
