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

// Package appledouble implements the AppleSingle and AppleDouble container
// formats: a short header and a flat array of (id, offset, length) entries
// covering a Macintosh file's data fork, resource fork, and metadata. Entry
// 2 is always a resource fork, so this reader recurses into package
// macrsrc to dump it rather than treating it as an opaque blob.
package appledouble

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/hexdump"
	"github.com/holocm/xfdump/internal/readers/macrsrc"
)

// Reader implements format.Reader for AppleSingle (magic 0x00051600) and
// AppleDouble (magic 0x00051607) containers.
type Reader struct{}

var entryNames = map[int64]string{
	1: "Data Fork", 2: "Resource Fork", 3: "Real Name", 4: "Comment",
	5: "Icon, B&W", 6: "Icon, Color", 8: "File Dates Info", 9: "Finder Info",
	10: "Macintosh File Info", 11: "ProDOS File Info", 12: "MS-DOS File Info",
	13: "Short Name", 14: "AFP File Info", 15: "Directory ID",
}

type entry struct {
	id, offset, length int64
}

// limitedReaderAt adapts a sub-range of src to io.ReaderAt so the embedded
// resource fork can be handed to macrsrc.Reader unmodified.
type limitedReaderAt struct {
	src       io.ReaderAt
	base, len int64
}

func (l limitedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= l.len {
		return 0, io.EOF
	}
	max := l.len - off
	if int64(len(p)) > max {
		p = p[:max]
	}
	return l.src.ReadAt(p, l.base+off)
}

// decompressForkIfNeeded peeks the fork's leading bytes for a gzip or bzip2
// magic and, if found, decompresses the whole fork into memory. A resource
// fork stored this way shows up in a handful of old .sit/.bin archives that
// were recompressed without repacking; most forks are stored raw and take
// the zero-cost path through unchanged.
func decompressForkIfNeeded(sub io.ReaderAt, length int64) (io.ReaderAt, int64, error) {
	peek := make([]byte, 3)
	n, _ := sub.ReadAt(peek, 0)
	peek = peek[:n]

	switch {
	case len(peek) >= 2 && peek[0] == 0x1F && peek[1] == 0x8B:
		gr, err := gzip.NewReader(io.NewSectionReader(sub, 0, length))
		if err != nil {
			return sub, length, err
		}
		defer gr.Close()
		data, err := ioutil.ReadAll(gr)
		if err != nil {
			return sub, length, err
		}
		return bytes.NewReader(data), int64(len(data)), nil
	case len(peek) >= 3 && peek[0] == 'B' && peek[1] == 'Z' && peek[2] == 'h':
		data, err := ioutil.ReadAll(bzip2.NewReader(io.NewSectionReader(sub, 0, length)))
		if err != nil {
			return sub, length, err
		}
		return bytes.NewReader(data), int64(len(data)), nil
	default:
		return sub, length, nil
	}
}

func (Reader) ReadFile(src io.ReaderAt, length int64, opts format.Options, out io.Writer, ec *errcollect.Collector) error {
	rd := byteio.New(src, length)
	rd.Warnf = func(f string, a ...interface{}) { ec.Addf(f, a...) }
	rd.Endian = byteio.Big

	rd.Seek(0)
	magic := rd.ReadWord(4, false)
	version := rd.ReadWord(4, false)
	rd.Skip(16) // home filesystem filler, historically ASCII padded with spaces

	kind := "unknown"
	switch magic {
	case 0x00051600:
		kind = "AppleSingle"
	case 0x00051607:
		kind = "AppleDouble"
	default:
		ec.Addf("unrecognized AppleSingle/Double magic: 0x%08X", magic)
	}

	count := rd.ReadWord(2, false)
	fmt.Fprintf(out, "=== %s Header ===\n", kind)
	fmt.Fprintf(out, "Version: 0x%08X, Entry count: %d\n", version, count)

	entries := make([]entry, count)
	for i := int64(0); i < count; i++ {
		entries[i] = entry{
			id:     rd.ReadWord(4, false),
			offset: rd.ReadWord(4, false),
			length: rd.ReadWord(4, false),
		}
	}

	fmt.Fprintln(out, "=== Entries ===")
	for _, e := range entries {
		name := entryNames[e.id]
		if name == "" {
			name = fmt.Sprintf("entry type %d", e.id)
		}
		fmt.Fprintf(out, "  %-20s offset=0x%X length=0x%X\n", name, e.offset, e.length)
	}

	for _, e := range entries {
		switch e.id {
		case 2: // resource fork
			fmt.Fprintln(out, "--- Resource Fork ---")
			sub := limitedReaderAt{src: src, base: e.offset, len: e.length}
			decoded, decodedLen, err := decompressForkIfNeeded(sub, e.length)
			if err != nil {
				ec.Addf("resource fork: decompressing: %v", err)
				continue
			}
			if err := (macrsrc.Reader{}).ReadFile(decoded, decodedLen, opts, out, ec); err != nil {
				ec.Add(err)
			}
		case 1: // data fork
			if opts.WantData() {
				rd.Seek(e.offset)
				data := rd.Read(int(e.length))
				fmt.Fprintln(out, "--- Data Fork ---")
				hexdump.Format(data, hexdump.Options{Encoding: opts.Encoding}, func(row hexdump.Row) {
					fmt.Fprintf(out, "  [%08X] \t%s\t%s\n", row.Offset, row.Hex, row.Text)
				})
			}
		}
	}

	return nil
}
