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

// Package errcollect implements the "warn and continue" error policy used by
// every format reader: a malformed field is reported, not fatal.
package errcollect

import (
	"errors"
	"fmt"
	"io"
)

// Collector aggregates non-fatal errors encountered while parsing a single
// file, so that a reader can keep going after a recoverable problem and
// still surface every diagnostic at the end of the run.
type Collector struct {
	Errors []error
}

// Add adds err to the collector. A nil error is a no-op, so callers can
// write c.Add(maybeFailingCall()) unconditionally.
func (c *Collector) Add(err error) {
	if err != nil {
		c.Errors = append(c.Errors, err)
	}
}

// Addf adds an error built from a format string, mirroring fmt.Errorf.
func (c *Collector) Addf(format string, args ...interface{}) {
	if len(args) > 0 {
		c.Errors = append(c.Errors, fmt.Errorf(format, args...))
	} else {
		c.Errors = append(c.Errors, errors.New(format))
	}
}

// Flush writes every collected error to w, one per line, and clears the
// collector. It is called once at the end of a ReadFile invocation.
func (c *Collector) Flush(w io.Writer) {
	for _, err := range c.Errors {
		fmt.Fprintln(w, err.Error())
	}
	c.Errors = nil
}

// HasErrors reports whether any error has been collected so far.
func (c *Collector) HasErrors() bool {
	return len(c.Errors) > 0
}
