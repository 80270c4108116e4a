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

package interp

// LnTable approximates 1000*ln(x/1000) for x from 1000 to 128000.
var LnTable = mustTable(
	Point{1000, 0},
	Point{2000, 693},
	Point{4000, 1386},
	Point{6000, 1792},
	Point{8000, 2079},
	Point{16000, 2773},
	Point{32000, 3466},
	Point{64000, 4159},
	Point{128000, 4852},
)

// OscTimebaseTable maps battery temperature in 0.1 degC to the oscillator
// timebase scale in parts per million, 1000000 being nominal.
var OscTimebaseTable = mustTable(
	Point{-400, 999931},
	Point{-300, 999969},
	Point{-200, 999987},
	Point{-100, 999998},
	Point{0, 1000003},
	Point{100, 1000004},
	Point{200, 1000001},
	Point{250, 1000000},
	Point{300, 999997},
	Point{400, 999987},
	Point{500, 999973},
	Point{600, 999955},
	Point{700, 999933},
	Point{800, 999908},
	Point{900, 999880},
)
