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

// Package hexdump implements the aligned offset / hex / text row layout
// every format reader uses for segment dumps, with ANSI underline
// overlays marking relocation spans.
package hexdump

import (
	"fmt"
	"strings"

	"github.com/holocm/xfdump/internal/textenc"
)

const (
	// RowLength is the fixed number of bytes rendered per hex-dump row.
	RowLength = 16

	underlineOn  = "\x1b[4m"
	underlineOff = "\x1b[m"
)

// RelocLookup returns the width (in bytes) of the relocation recorded at
// the given absolute offset, or ok=false if there is none.
type RelocLookup func(offset int64) (width int, ok bool)

// Row is one rendered line of a hex dump.
type Row struct {
	// Offset is the file (or segment-relative) start of this row.
	Offset int64
	// Hex is the space-separated two-digit hex codes column, padded to a
	// fixed width.
	Hex string
	// Text is the decoded text column, one rune per byte.
	Text string
}

// Options configures one dump pass.
type Options struct {
	// Offset is the absolute (or segment-relative) position of data[0].
	Offset int64
	// Reloc, if non-nil, is consulted for every byte position in every
	// row to draw underline overlays. MaxRelocSize bounds how far back a
	// relocation that began in the previous row can start and still be
	// re-applied to this row (so a width-4 fixup at offset 14 also
	// underlines the first two bytes of the next row, because the
	// formatter looks up to MaxRelocSize-1 positions before the row's
	// start).
	Reloc        RelocLookup
	MaxRelocSize int
	// Encoding names a textenc decoder; empty means ascii_graphic.
	Encoding string
	// ShowReloc enables the underline overlay (the -Orelshow option).
	ShowReloc bool
}

// Format renders data (the bytes starting at opts.Offset) into a sequence
// of Row values, one per 16-byte row, calling emit for each. Rows start at
// the greatest multiple of 16 <= opts.Offset and are padded with blanks up
// to the true starting offset, matching get_rows/process_data.
func Format(data []byte, opts Options, emit func(Row)) error {
	decode, err := textenc.ByName(opts.Encoding)
	if err != nil {
		return err
	}

	rowStart := (opts.Offset / RowLength) * RowLength
	leadPad := int(opts.Offset - rowStart)
	rowEnd := opts.Offset + int64(len(data))

	cursor := 0 // index into data of the next unconsumed byte
	for row := rowStart; row < rowEnd; row += RowLength {
		avail := RowLength - leadPad
		take := avail
		if remain := len(data) - cursor; take > remain {
			take = remain
		}
		chunk := data[cursor : cursor+take]
		cursor += take

		hexParts := make([]string, len(chunk))
		for i, b := range chunk {
			hexParts[i] = fmt.Sprintf("%02X", b)
		}
		hexCodes := strings.Join(hexParts, " ")
		text := decode(chunk)

		if leadPad != 0 {
			hexCodes = strings.Repeat(" ", 3*leadPad) + hexCodes
			text = strings.Repeat(" ", leadPad) + text
		}
		const fullWidth = RowLength*3 - 1
		if len(hexCodes) < fullWidth {
			hexCodes += strings.Repeat(" ", fullWidth-len(hexCodes))
		}
		textRunes := []rune(text)
		if len(textRunes) < RowLength {
			pad := make([]rune, RowLength-len(textRunes))
			for i := range pad {
				pad[i] = ' '
			}
			textRunes = append(textRunes, pad...)
		}
		text = string(textRunes)

		if opts.Reloc != nil && opts.ShowReloc {
			maxSize := opts.MaxRelocSize
			if maxSize <= 0 {
				maxSize = 8
			}
			for col := RowLength - 1; col >= -(maxSize - 1); col-- {
				width, ok := opts.Reloc(row + int64(col))
				if !ok {
					continue
				}
				hexCodes, text = signalReloc(col, width, hexCodes, text)
			}
		}

		emit(Row{Offset: row, Hex: hexCodes, Text: text})
		leadPad = 0
	}
	return nil
}

// signalReloc wraps the w-byte text span and the corresponding 3w-1 hex
// character span, starting at column offset, in ANSI underline sequences.
// A span that starts before the row (offset < 0, from a relocation that
// began in a previous row) or extends past it is truncated to the row's
// bounds.
func signalReloc(offset, size int, hexCodes, text string) (string, string) {
	if offset+size <= 0 {
		return hexCodes, text
	}
	start := offset
	if start < 0 {
		start = 0
	}
	length := size
	if RowLength-offset < length {
		length = RowLength - offset
	}

	textRunes := []rune(text)
	textEnd := offset + length
	if textEnd > len(textRunes) {
		textEnd = len(textRunes)
	}
	if textEnd < start {
		textEnd = start
	}
	newText := string(textRunes[:start]) + underlineOn + string(textRunes[start:textEnd]) + underlineOff + string(textRunes[textEnd:])

	hexStart := 3 * start
	hexEnd := offset*3 + 3*length - 1
	if hexEnd > len(hexCodes) {
		hexEnd = len(hexCodes)
	}
	if hexEnd < hexStart {
		hexEnd = hexStart
	}
	newHex := hexCodes[:hexStart] + underlineOn + hexCodes[hexStart:hexEnd] + underlineOff + hexCodes[hexEnd:]

	return newHex, newText
}
