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

// Package textenc implements the four named text decoders the hex dump's
// text column renders bytes through: ascii_graphic, cp437_full,
// macroman_graphic, and st_full. Every decoder produces exactly one
// printable rune per input byte, which is what keeps hex-dump rows
// monospace-aligned.
package textenc

import (
	"fmt"
	"unicode/utf8"
)

// Decoder turns a byte slice into a string with exactly one rune per byte.
type Decoder func(data []byte) string

// controlPicture maps a C0 control byte to its Unicode control-picture
// glyph (U+2400 + byte), the same substitution control_decode performs for
// every byte below 0x20.
func controlPicture(b byte) rune {
	return rune(0x2400) + rune(b)
}

// asciiGraphic renders 7-bit ASCII, substituting control-picture glyphs for
// C0 controls, "␡" for DEL, and the Unicode replacement character for any
// other 8-bit value (mirrors Python's str.decode(..., 'replace')).
func asciiGraphic(data []byte) string {
	out := make([]rune, len(data))
	for i, b := range data {
		switch {
		case b < 0x20:
			out[i] = controlPicture(b)
		case b == 0x7F:
			out[i] = '␡'
		case b < 0x80:
			out[i] = rune(b)
		default:
			out[i] = utf8.RuneError
		}
	}
	return string(out)
}

// cp437Glyphs holds the graphical substitutes IBM PC Code Page 437 uses for
// its 32 low-control characters (smileys, suits, arrows, ...).
var cp437Glyphs = []rune(
	"␀☺☻♥♦♣♠•◘○◙♂♀♪♫☼►◄↕‼¶§▬↨↑↓→←∟↔▲▼",
)

// cp437Table holds the printable glyph for bytes 0x20-0xFF of Code Page 437.
// Bytes below 0x20 are handled separately via cp437Glyphs; 0x7F is the house
// glyph '⌂', and 0xA0 is rendered as a replacement glyph per the original's
// special case.
var cp437Table = buildCP437Table()

func buildCP437Table() [256]rune {
	var t [256]rune
	// the printable ASCII range is unchanged in CP437
	for b := 0x20; b < 0x7F; b++ {
		t[b] = rune(b)
	}
	t[0x7F] = '⌂'
	hi := []rune(
		"ÇüéâäàåçêëèïîìÄÅÉæÆôöòûùÿÖÜ¢£¥ßƒáíóúñÑªº¿⌐¬½¼¡«»" +
			"░▒▓│┤╡╢╖╕╣║╗╝╜╛┐└┴┬├─┼╞╟╚╔╩╦╠═╬╧╨╤╥╙╘╒╓╫╪┘┌█▄▌▐▀" +
			"αßΓπΣσµτΦΘΩδ∞φε∩≡±≥≤⌠⌡÷≈°∙·√ⁿ²■ ",
	)
	for i, r := range hi {
		t[0x80+i] = r
	}
	t[0xA0] = utf8.RuneError
	return t
}

func cp437Full(data []byte) string {
	out := make([]rune, len(data))
	for i, b := range data {
		switch {
		case b < 0x20:
			out[i] = cp437Glyphs[b]
		default:
			out[i] = cp437Table[b]
		}
	}
	return string(out)
}

// macRomanGraphic renders Mac OS Roman with control codes visualized the
// same way asciiGraphic does. Only the printable ASCII subset and the
// high-bit Mac OS Roman table are implemented; this is sufficient for every
// byte a CODE resource's text column can hold.
func macRomanGraphic(data []byte) string {
	out := make([]rune, len(data))
	for i, b := range data {
		switch {
		case b < 0x20:
			out[i] = controlPicture(b)
		case b == 0x7F:
			out[i] = '␡'
		case b < 0x80:
			out[i] = rune(b)
		default:
			out[i] = macRomanHi[b-0x80]
		}
	}
	return string(out)
}

var macRomanHi = []rune(
	"ÄÅÇÉÑÖÜáàâäãåçéèêëíìîïñóòôöõúùûü†°¢£§•¶ß®©™´¨≠ÆØ" +
		"∞±≤≥¥µ∂∑∏π∫ªºΩæø¿¡¬√ƒ≈∆«»…ÀÃÕŒœ–—“”‘’÷◊ÿŸ⁄€‹›ﬁﬂ" +
		"‡·‚„‰ÂÊÁËÈÍÎÏÌÓÔÒÚÛÙıˆ˜¯˘˙˚¸˝˛ˇ¤¦",
)

// stTable is the fixed 256-entry Atari ST glyph table: every byte indexes
// directly into it, no control-code special casing.
var stTable = buildSTTable()

func buildSTTable() [256]rune {
	var t [256]rune
	control := []rune("␀⇧⇩⇨⇦␅␆✓␈␉♪␌␍␎␏␐␑␒␓␔␕␖␗ə␛␜␝␞␟␠␡")
	for i := 0; i < 0x20 && i < len(control); i++ {
		t[i] = control[i]
	}
	for b := 0x20; b < 0x7F; b++ {
		t[b] = rune(b)
	}
	t[0x7F] = '⌂'
	hi := []rune(
		"ÇüéâäàåçêëèïîìÄÅÉæÆôöòûùÿÖÜ¢£¥ßƒáíóúñÑªº¿⌐¬½¼¡«»" +
			"ãõØøœŒÀÃÕ¨´†¶©®™ĳĲאבגדהוזחטיכלמנסעפצקרשתןךםףץ" +
			"§∧∞αβΓπΣσµτΦΘΩδ∮ϕ∈∩≡±≥≤⌠⌡÷≈°•·√ⁿ²³¯",
	)
	for i, r := range hi {
		t[0x80+i] = r
	}
	return t
}

func stFull(data []byte) string {
	out := make([]rune, len(data))
	for i, b := range data {
		out[i] = stTable[b]
	}
	return string(out)
}

var registry = map[string]Decoder{
	"ascii_graphic":    asciiGraphic,
	"cp437_full":       cp437Full,
	"macroman_graphic": macRomanGraphic,
	"st_full":          stFull,
}

// ByName looks up a registered decoder by its option name (the value given
// to -Oencoding). The empty string resolves to ascii_graphic, the default
// text column codec.
func ByName(name string) (Decoder, error) {
	if name == "" {
		name = "ascii_graphic"
	}
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown text encoding %q", name)
	}
	return d, nil
}
