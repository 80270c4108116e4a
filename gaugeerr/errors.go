/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package gaugeerr holds the error kinds shared by the fuel gauge packages.
// Specific failures wrap one of these so callers can branch with errors.Is.
package gaugeerr

import "errors"

var (
	// Hardware access
	ErrTransport = errors.New("transport error")

	// Startup, fatal
	ErrConfiguration  = errors.New("configuration error")
	ErrUnknownParam   = errors.New("configuration error: unknown parameter")
	ErrLengthMismatch = errors.New("configuration error: length mismatch")

	// Routine, never surfaced as hard failures
	ErrPlausibility = errors.New("plausibility rejection")
	ErrPrecondition = errors.New("precondition not met")

	// Reporting
	ErrUnavailable = errors.New("not yet available")
	ErrNoData      = errors.New("no data")
	ErrTimeout     = errors.New("timed out")
)

// IsRoutine reports whether err is a rejection or a skipped precondition,
// which callers log and carry on from.
func IsRoutine(err error) bool {
	return errors.Is(err, ErrPlausibility) || errors.Is(err, ErrPrecondition)
}

// IsConfiguration reports whether err should abort startup.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrUnknownParam) ||
		errors.Is(err, ErrLengthMismatch)
}
