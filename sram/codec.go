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

package sram

import (
	"fmt"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
)

// Kind selects how a descriptor converts between raw and physical values.
type Kind uint8

const (
	// KindDefault is raw = round(physical*Den/Num) + Off.
	KindDefault Kind = iota
	KindVoltage15
	KindVoltage24
	KindCurrent16
	KindCurrent24
	KindCCSoc
	KindFloat
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindVoltage15:
		return "voltage-15b"
	case KindVoltage24:
		return "voltage-24b"
	case KindCurrent16:
		return "current-16b"
	case KindCurrent24:
		return "current-24b"
	case KindCCSoc:
		return "cc-soc"
	case KindFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Descriptor is where a parameter lives and how it is scaled. Num/Den is the
// physical value of one raw LSB; Off is added to the raw value.
type Descriptor struct {
	ID     ParamID
	Word   uint16
	Offset uint8
	Len    int
	Num    int64
	Den    int64
	Off    int64
	Signed bool
	Kind   Kind
}

// requiredLen is the byte length a bespoke kind is defined for, 0 if any.
func (k Kind) requiredLen() int {
	switch k {
	case KindVoltage15, KindCurrent16, KindFloat:
		return 2
	case KindVoltage24, KindCurrent24:
		return 3
	case KindCCSoc:
		return 4
	}
	return 0
}

// width is the number of significant raw bits.
func (d Descriptor) width() uint {
	if d.Kind == KindVoltage15 {
		return 15
	}
	return uint(d.Len * 8)
}

func (d Descriptor) signed() bool {
	switch d.Kind {
	case KindCurrent16, KindCurrent24, KindCCSoc, KindFloat:
		return true
	case KindVoltage15, KindVoltage24:
		return false
	}
	return d.Signed
}

// rawRange is the representable raw range of the descriptor.
func (d Descriptor) rawRange() (int64, int64) {
	w := d.width()
	if d.signed() {
		return -(int64(1) << (w - 1)), int64(1)<<(w-1) - 1
	}
	return 0, int64(1)<<w - 1
}

func (d Descriptor) validate() error {
	if d.ID < 0 || d.ID >= ParamCount {
		return fmt.Errorf("%w: id %d", gaugeerr.ErrUnknownParam, d.ID)
	}
	if d.Len < 1 || d.Len > 4 {
		return fmt.Errorf("%w: %v length %d", gaugeerr.ErrConfiguration, d.ID, d.Len)
	}
	if d.Num <= 0 || d.Den <= 0 {
		return fmt.Errorf("%w: %v scale %d/%d", gaugeerr.ErrConfiguration, d.ID, d.Num, d.Den)
	}
	if d.Offset >= 4 {
		return fmt.Errorf("%w: %v byte offset %d", gaugeerr.ErrConfiguration, d.ID, d.Offset)
	}
	if want := d.Kind.requiredLen(); want != 0 && d.Len != want {
		return fmt.Errorf("%w: %v is %v but %d bytes long", gaugeerr.ErrConfiguration, d.ID, d.Kind, d.Len)
	}
	if d.Kind > KindFloat {
		return fmt.Errorf("%w: %v kind %d", gaugeerr.ErrConfiguration, d.ID, d.Kind)
	}
	return nil
}

// Encode converts a physical value into the descriptor's raw bytes,
// little-endian. Values outside the raw range saturate.
func (d Descriptor) Encode(physical int64) []byte {
	return pack(d.EncodeValue(physical), d.Len)
}

// EncodeValue is Encode without the packing.
func (d Descriptor) EncodeValue(physical int64) int64 {
	lo, hi := d.rawRange()
	switch d.Kind {
	case KindFloat:
		return int64(floatEncode(physical))
	default:
		raw := mathx.MulDivRound(physical, d.Den, d.Num)
		return mathx.Clamp(raw, lo-d.Off, hi-d.Off) + d.Off
	}
}

// Decode converts raw bytes back into a physical value. The byte count must
// match the descriptor.
func (d Descriptor) Decode(raw []byte) (int64, error) {
	if len(raw) != d.Len {
		return 0, fmt.Errorf("%w: %v wants %d bytes, got %d", gaugeerr.ErrLengthMismatch, d.ID, d.Len, len(raw))
	}
	return d.DecodeValue(unpack(raw)), nil
}

// DecodeValue decodes a raw value already assembled into an integer. Bits
// above the declared width are ignored.
func (d Descriptor) DecodeValue(raw int64) int64 {
	w := d.width()
	v := raw & (int64(1)<<w - 1)
	switch d.Kind {
	case KindFloat:
		return floatDecode(uint16(v))
	case KindCurrent16, KindCurrent24, KindCCSoc:
		v = signExtend(v, w)
	default:
		if d.signed() {
			v = signExtend(v, w)
		}
	}
	return mathx.MulDivRound(v-d.Off, d.Num, d.Den)
}

// Resolution is the physical size of one raw step, rounded up to a whole unit.
func (d Descriptor) Resolution() int64 {
	r := (d.Num + d.Den - 1) / d.Den
	if r < 1 {
		r = 1
	}
	return r
}

// PhysicalRange is the range of physical values the raw range can represent.
func (d Descriptor) PhysicalRange() (int64, int64) {
	if d.Kind == KindFloat {
		limit := floatDecode(0x7BFF)
		return -limit, limit
	}
	lo, hi := d.rawRange()
	a, b := d.DecodeValue(lo), d.DecodeValue(hi)
	if a > b {
		a, b = b, a
	}
	return a, b
}

func signExtend(v int64, width uint) int64 {
	shift := 64 - width
	return (v << shift) >> shift
}

func pack(v int64, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func unpack(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	return v
}
