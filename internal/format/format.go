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

// Package format defines the Tag enumeration MagicDetector produces and the
// Reader capability every format-specific package implements. One Reader
// exists per container format; dispatch happens at the driver's switch over
// the tag, never through a runtime string-keyed registry.
package format

import (
	"io"

	"github.com/holocm/xfdump/internal/errcollect"
)

// Tag identifies a container format.
type Tag int

const (
	Unknown Tag = iota
	CPM86
	MZ
	NE
	LE
	LX
	PE
	AOut
	COFF
	MINIXAOut
	CPM68K
	GEMDOS
	Human68K
	CDOS68K
	HU
	MPMQ
	P2P3
	BW
	UZI280
	CPM8000
	Hunk
	MacRsrc
	Apple
	Adam
	D3X
	DX64
	ELF
	MachO
	PEF
	OMF
)

var names = map[Tag]string{
	Unknown:            "unknown",
	CPM86:              "cmd",
	MZ:                 "mz",
	NE:                 "ne",
	LE:                 "le",
	LX:                 "lx",
	PE:                 "pe",
	AOut:               "aout",
	COFF:               "coff",
	MINIXAOut:          "minix",
	CPM68K:             "68k",
	GEMDOS:             "tos",
	Human68K:           "zfile",
	CDOS68K:            "cdos68k",
	HU:                 "hu",
	MPMQ:               "mpmq",
	P2P3:               "p2p3",
	BW:                 "bw",
	UZI280:             "uzi280",
	CPM8000:            "cpm8000",
	Hunk:               "hunk",
	MacRsrc:            "rsrc",
	Apple:              "apple",
	Adam:               "adam",
	D3X:                "d3x",
	DX64:               "dx64",
	ELF:                "elf",
	MachO:              "macho",
	PEF:                "pef",
	OMF:                "gsos",
}

// String returns the CLI -F format name for this tag.
func (t Tag) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "unknown"
}

// ByName resolves a CLI -F format name back to a Tag.
func ByName(name string) (Tag, bool) {
	for tag, n := range names {
		if n == name {
			return tag, true
		}
	}
	return Unknown, false
}

// Implemented reports whether a reader package exists for this tag.
// Mach-O, full ELF, PEF, CP/M-8000, D3X, DX64, Adam, MP/MQ, P2/P3, BW, and
// UZI-280 are detected but have no reader; Driver reports "parser not
// implemented" for them.
func (t Tag) Implemented() bool {
	switch t {
	case MachO, ELF, PEF, CPM8000, D3X, DX64, Adam, MPMQ, P2P3, BW, UZI280:
		return false
	case Unknown:
		return false
	default:
		return true
	}
}

// Options are the flags the driver passes to a Reader's ReadFile.
type Options struct {
	// Data dumps raw segment bytes (-Odata).
	Data bool
	// Rel textually lists every relocation record (-Orel).
	Rel bool
	// RelShow underlines relocation sites within hex dumps (-Orelshow).
	RelShow bool
	// ShowAll implies Data + Rel + RelShow and always-emit optional fields
	// (-Oshowall).
	ShowAll bool
	// Encoding overrides the text-column codec used in hex dumps.
	Encoding string
}

// WantData reports whether segment data should be dumped.
func (o Options) WantData() bool { return o.Data || o.ShowAll }

// WantRel reports whether relocation records should be listed textually.
func (o Options) WantRel() bool { return o.Rel || o.ShowAll }

// WantRelShow reports whether hex dumps should be annotated with underline
// overlays.
func (o Options) WantRelShow() bool { return o.RelShow || o.ShowAll }

// Reader is the capability every format-specific package implements.
type Reader interface {
	// ReadFile parses src (length bytes long) under opts, writing the
	// structured dump to out and collecting non-fatal diagnostics in ec.
	ReadFile(src io.ReaderAt, length int64, opts Options, out io.Writer, ec *errcollect.Collector) error
}
