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

import "math"

// The compact float packs a 5 bit signed exponent above an 11 bit signed
// mantissa. Values are in millionths of the stored unit.
const (
	floatExpBias   = 9
	floatMantScale = 1000000
	floatMantMin   = -1024
	floatMantMax   = 1023
)

func floatDecode(val uint16) int64 {
	exp := int(int16(val)>>11) - floatExpBias
	mant := int64(val & 0x7FF)
	if mant&0x400 != 0 {
		mant -= 0x800
	}
	mant *= floatMantScale
	if exp < 0 {
		return mant >> uint(-exp)
	}
	return mant << uint(exp)
}

// floatEncode picks the smallest exponent whose mantissa fits, which keeps
// the most precision. Out of range values saturate at the largest exponent.
func floatEncode(v int64) uint16 {
	for field := -16; field <= 15; field++ {
		step := math.Ldexp(floatMantScale, field-floatExpBias)
		mant := math.Round(float64(v) / step)
		if mant >= floatMantMin && mant <= floatMantMax {
			return floatPack(field, int64(mant))
		}
	}
	if v < 0 {
		return floatPack(15, floatMantMin)
	}
	return floatPack(15, floatMantMax)
}

func floatPack(field int, mant int64) uint16 {
	return uint16(field&0x1F)<<11 | uint16(mant&0x7FF)
}
