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

// Command xfdump dumps the structure of an executable or object file in
// any of a wide range of historical container formats, printing headers,
// segment/section tables, relocation records, and optionally hex dumps
// of segment data.
//
// Flag parsing mixes github.com/ogier/pflag for the long-form switches
// with a manual argv pre-scan for the glued short forms pflag's grammar
// cannot express: -Fmz selects a format by name and -Odata=1 (or bare
// -Odata) sets one of the dump options, both without a space before the
// value.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ogier/pflag"

	"github.com/holocm/xfdump/internal/byteio"
	"github.com/holocm/xfdump/internal/config"
	"github.com/holocm/xfdump/internal/errcollect"
	"github.com/holocm/xfdump/internal/format"
	"github.com/holocm/xfdump/internal/magic"
	"github.com/holocm/xfdump/internal/readers/aout"
	"github.com/holocm/xfdump/internal/readers/appledouble"
	"github.com/holocm/xfdump/internal/readers/coff"
	"github.com/holocm/xfdump/internal/readers/cpm86"
	"github.com/holocm/xfdump/internal/readers/hu"
	"github.com/holocm/xfdump/internal/readers/hunk"
	"github.com/holocm/xfdump/internal/readers/lelx"
	"github.com/holocm/xfdump/internal/readers/m68k"
	"github.com/holocm/xfdump/internal/readers/macrsrc"
	"github.com/holocm/xfdump/internal/readers/minix"
	"github.com/holocm/xfdump/internal/readers/mz"
	"github.com/holocm/xfdump/internal/readers/ne"
	"github.com/holocm/xfdump/internal/readers/omf"
	"github.com/holocm/xfdump/internal/readers/pe"
)

const version = "1.0.0"

// readerFor maps a resolved format tag to its implementation. A few tags
// share one reader keyed by an instance field (LE vs LX, and the four
// CP/M-68K sys variants).
func readerFor(tag format.Tag) format.Reader {
	switch tag {
	case format.CPM86:
		return cpm86.Reader{}
	case format.MZ:
		return mz.Reader{}
	case format.NE:
		return ne.Reader{}
	case format.LE:
		return lelx.Reader{IsLX: false}
	case format.LX:
		return lelx.Reader{IsLX: true}
	case format.PE:
		return pe.Reader{}
	case format.AOut:
		return aout.Reader{}
	case format.COFF:
		return coff.Reader{}
	case format.MINIXAOut:
		return minix.Reader{}
	case format.CPM68K:
		return m68k.Reader{Sys: "cpm68k"}
	case format.GEMDOS:
		return m68k.Reader{Sys: "gemdos"}
	case format.Human68K:
		return m68k.Reader{Sys: "human68k"}
	case format.CDOS68K:
		return m68k.Reader{Sys: "cdos68k"}
	case format.HU:
		return hu.Reader{}
	case format.Hunk:
		return hunk.Reader{}
	case format.MacRsrc:
		return macrsrc.Reader{}
	case format.Apple:
		return appledouble.Reader{}
	case format.OMF:
		return omf.Reader{}
	default:
		return nil
	}
}

// splitGluedFlags pulls -F<fmt> and -O<key>[=<value>] tokens (which
// pflag cannot parse, since it expects a space or "=" before a short
// flag's value) out of argv before pflag sees it, returning the
// remaining arguments untouched.
func splitGluedFlags(argv []string) (formatName string, opts format.Options, rest []string, badOption string) {
	for _, a := range argv {
		switch {
		case len(a) > 2 && a[0] == '-' && a[1] == 'F':
			formatName = a[2:]
		case len(a) > 2 && a[0] == '-' && a[1] == 'O':
			if !applyOption(&opts, a[2:]) && badOption == "" {
				badOption = a[2:]
			}
		default:
			rest = append(rest, a)
		}
	}
	return formatName, opts, rest, badOption
}

// applyOption parses one -O key[=value] option. It reports false for an
// unrecognized key, same as dump.py's "unknown option" branch.
func applyOption(opts *format.Options, kv string) bool {
	key, value := kv, ""
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			key, value = kv[:i], kv[i+1:]
			break
		}
	}
	on := value == "" || value == "1" || value == "true"
	switch key {
	case "data":
		opts.Data = on
	case "rel":
		opts.Rel = on
	case "relshow":
		opts.RelShow = on
	case "showall":
		opts.ShowAll = on
	case "enc", "encoding":
		opts.Encoding = value
	default:
		return false
	}
	return true
}

// showError prints a driver-level error with the teacher's colored "!!"
// marker, same as holo-build's showError.
func showError(stderr io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(stderr, "\x1b[31m\x1b[1m!!\x1b[0m xfdump: "+format+"\n", a...)
}

func run(argv []string, stdout, stderr io.Writer) int {
	formatName, opts, rest, badOption := splitGluedFlags(argv)
	if badOption != "" {
		showError(stderr, "unknown option %q", badOption)
		return 0
	}

	fs := pflag.NewFlagSet("xfdump", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	help := fs.BoolP("help", "h", false, "show usage and exit")
	showVersion := fs.BoolP("version", "v", false, "show version and exit")
	configPath := fs.StringP("config", "c", "", "path to an xfdump.toml defaults file")
	if err := fs.Parse(rest); err != nil {
		return 0 // pflag already printed the usage/error message
	}

	if *help {
		fmt.Fprintln(stdout, "usage: xfdump [-Ffmt] [-Okey[=value] ...] [--config path] file")
		fs.PrintDefaults()
		return 0
	}
	if *showVersion {
		fmt.Fprintln(stdout, "xfdump", version)
		return 0
	}

	args := fs.Args()
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: xfdump [-Ffmt] [-Okey[=value] ...] [--config path] file")
		return 0
	}
	path := args[0]

	if *configPath == "" {
		if _, err := os.Stat("xfdump.toml"); err == nil {
			*configPath = "xfdump.toml"
		}
	}
	defaults, err := config.Load(*configPath)
	if err != nil {
		showError(stderr, "reading config %s: %v", *configPath, err)
		return 1
	}
	opts = mergeDefaults(opts, defaults)

	f, err := os.Open(path)
	if err != nil {
		showError(stderr, "%v", err)
		return 1
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		showError(stderr, "%v", err)
		return 1
	}

	var tag format.Tag
	if formatName != "" {
		var ok bool
		tag, ok = format.ByName(formatName)
		if !ok {
			showError(stderr, "unknown format %q", formatName)
			return 0
		}
	} else {
		rd := byteio.New(f, info.Size())
		tag = magic.Detect(rd)
		if tag == format.Unknown {
			showError(stderr, "cannot determine file format")
			return 1
		}
	}

	if !tag.Implemented() {
		showError(stderr, "parser not implemented for format %q", tag)
		return 1
	}

	reader := readerFor(tag)
	fmt.Fprintf(stdout, "File: %s (format: %s)\n", filepath.Base(path), tag)

	var ec errcollect.Collector
	if err := reader.ReadFile(f, info.Size(), opts, stdout, &ec); err != nil {
		showError(stderr, "%v", err)
		return 1
	}
	ec.Flush(stderr)
	return 0
}

func mergeDefaults(opts format.Options, d config.Defaults) format.Options {
	if !opts.Data && d.Defaults.Data {
		opts.Data = true
	}
	if !opts.Rel && d.Defaults.Rel {
		opts.Rel = true
	}
	if !opts.RelShow && d.Defaults.RelShow {
		opts.RelShow = true
	}
	if !opts.ShowAll && d.Defaults.ShowAll {
		opts.ShowAll = true
	}
	if opts.Encoding == "" {
		opts.Encoding = d.Defaults.Encoding
	}
	return opts
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
