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

// Package transport moves raw bytes in and out of the fuel gauge's
// word-addressed SRAM. It knows nothing about what the bytes mean.
package transport

import (
	"context"
	"fmt"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
)

// BytesPerWord is the width of one SRAM word.
const BytesPerWord = 4

// Flags modify how a write is carried out.
type Flags uint8

const (
	AccessDefault Flags = 0
	// AccessAtomic asks the memory interface to complete the write without
	// letting the gauge's own algorithm interleave an access.
	AccessAtomic Flags = 1 << 0
)

func (f Flags) String() string {
	if f&AccessAtomic != 0 {
		return "atomic"
	}
	return "default"
}

// Transport reads and writes byte ranges of the SRAM. An access may span
// words; offset is the byte within the first word.
type Transport interface {
	Read(ctx context.Context, word uint16, offset uint8, n int) ([]byte, error)
	Write(ctx context.Context, word uint16, offset uint8, data []byte, flags Flags) error
}

func transportErr(op string, word uint16, offset uint8, err error) error {
	return fmt.Errorf("%w: %s word %d offset %d: %v", gaugeerr.ErrTransport, op, word, offset, err)
}
