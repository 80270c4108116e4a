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

package transport

import (
	"errors"
	"fmt"

	"github.com/sigurn/crc8"
)

const (
	cmdRead  = 0x01
	cmdWrite = 0x02
	// Set on cmdWrite for atomic access.
	cmdAtomic = 0x80

	// maxPayload is the largest number of data bytes carried by one frame.
	maxPayload = 32
)

var (
	errBadCRC        = errors.New("bad crc")
	errShortResponse = errors.New("short response")
	errBadRange      = errors.New("bad range")
)

var crcTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31, // Polynomial 1 + x^4 + x^5 + x^8
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

func calculateCRC(data []byte) byte {
	return crc8.Checksum(data, crcTable)
}

// readFrame is the request for n bytes starting at word/offset.
func readFrame(word uint16, offset uint8, n int) []byte {
	f := []byte{cmdRead, byte(word), byte(word >> 8), offset, byte(n)}
	return append(f, calculateCRC(f))
}

func writeFrame(word uint16, offset uint8, data []byte, flags Flags) []byte {
	cmd := byte(cmdWrite)
	if flags&AccessAtomic != 0 {
		cmd |= cmdAtomic
	}
	f := make([]byte, 0, len(data)+6)
	f = append(f, cmd, byte(word), byte(word>>8), offset, byte(len(data)))
	f = append(f, data...)
	return append(f, calculateCRC(f))
}

// checkResponse validates the trailing CRC of a read response and strips it.
func checkResponse(resp []byte, n int) ([]byte, error) {
	if len(resp) != n+1 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", errShortResponse, len(resp), n+1)
	}
	data := resp[:n]
	if crc := calculateCRC(data); crc != resp[n] {
		return nil, fmt.Errorf("%w: received 0x%X, calculated 0x%X", errBadCRC, resp[n], crc)
	}
	return data, nil
}

// chunk is one frame-sized piece of a longer access.
type chunk struct {
	word   uint16
	offset uint8
	start  int
	n      int
}

// split breaks an access into frames no larger than maxPayload, carrying the
// word address forward as the byte position crosses word boundaries.
func split(word uint16, offset uint8, n int) ([]chunk, error) {
	if n <= 0 || offset >= BytesPerWord {
		return nil, fmt.Errorf("%w: offset %d length %d", errBadRange, offset, n)
	}
	var chunks []chunk
	pos := int(word)*BytesPerWord + int(offset)
	for start := 0; start < n; start += maxPayload {
		size := n - start
		if size > maxPayload {
			size = maxPayload
		}
		p := pos + start
		chunks = append(chunks, chunk{
			word:   uint16(p / BytesPerWord),
			offset: uint8(p % BytesPerWord),
			start:  start,
			n:      size,
		})
	}
	return chunks, nil
}
