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

// Package reloc implements the per-segment relocation site map: a mapping
// from an offset to a fixup width in bytes, consulted by the hex dump
// formatter once per byte position.
//
// A dump visits offsets in ascending row order, so a sorted slice searched
// by lower bound serves the lookup as well as a hashed map would, and gives
// deterministic iteration order for tests.
package reloc

import "sort"

// Site is one recorded relocation: the byte offset of the fixup and its
// width in bytes (1, 2, 3, 4, 6, or 8).
type Site struct {
	Offset int64
	Width  int
}

// Map is a sorted-by-offset collection of relocation sites within one
// segment. Duplicates at the same offset are recorded once; callers that
// try to add a second site at an already-seen offset get told so, but the
// dump continues rather than aborting.
type Map struct {
	sites []Site
}

// Add records a relocation site. It returns false if a site already exists
// at this offset (the map is left unchanged in that case); callers use
// this to emit a "duplicate relocation" warning exactly once.
func (m *Map) Add(offset int64, width int) bool {
	i := sort.Search(len(m.sites), func(i int) bool { return m.sites[i].Offset >= offset })
	if i < len(m.sites) && m.sites[i].Offset == offset {
		return false
	}
	m.sites = append(m.sites, Site{})
	copy(m.sites[i+1:], m.sites[i:])
	m.sites[i] = Site{Offset: offset, Width: width}
	return true
}

// Lookup returns the width of the relocation recorded at offset, and
// whether one exists there at all. This is the callback HexDumpFormatter
// consults once per byte position in a row.
func (m *Map) Lookup(offset int64) (width int, ok bool) {
	i := sort.Search(len(m.sites), func(i int) bool { return m.sites[i].Offset >= offset })
	if i < len(m.sites) && m.sites[i].Offset == offset {
		return m.sites[i].Width, true
	}
	return 0, false
}

// Len returns the number of distinct relocation sites recorded.
func (m *Map) Len() int { return len(m.sites) }

// Sites returns the recorded sites in ascending offset order, for textual
// -Orel listings.
func (m *Map) Sites() []Site {
	return append([]Site(nil), m.sites...)
}
