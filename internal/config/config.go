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

// Package config loads an optional xfdump.toml defaults file: a user may
// pin a default encoding or default option set without repeating -O flags
// on every invocation. This is additive; it never overrides an explicit
// -O/-F flag given on the command line.
//
// Uses github.com/BurntSushi/toml to unmarshal the settings document.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Defaults is the shape of the optional xfdump.toml file.
type Defaults struct {
	Defaults struct {
		Encoding string `toml:"encoding"`
		Data     bool   `toml:"data"`
		Rel      bool   `toml:"rel"`
		RelShow  bool   `toml:"relshow"`
		ShowAll  bool   `toml:"showall"`
	} `toml:"defaults"`
}

// Load reads and parses path. A missing file is not an error: it yields a
// zero-value Defaults, meaning "no defaults configured".
func Load(path string) (Defaults, error) {
	var d Defaults
	if path == "" {
		return d, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return d, nil
	}
	_, err := toml.DecodeFile(path, &d)
	return d, err
}
