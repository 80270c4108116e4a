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

// ParamID names one logical quantity held in the gauge SRAM.
type ParamID int

const (
	// Measured and algorithm outputs, read by the engine.
	BattSOC ParamID = iota
	MonotonicSOC
	VoltagePred
	VbattFilt
	OCV
	IbattFilt
	IbattInst
	ESR
	ESRActual
	ESRNominal
	Rslow
	RslowScale
	CCSoc
	CCSocSW
	ActBattCap
	Timebase
	BattTemp

	// Thresholds and coefficients, written by the engine.
	CutoffVolt
	EmptyVolt
	FloatVolt
	SysTermCurr
	ChgTermCurr
	CutoffCurr
	DeltaMSOCThr
	DeltaBSOCThr
	RechargeSOCThr
	ESRPulseThresh
	ESRTimerDischgMax
	ESRTimerDischgInit
	ESRTimerChgMax
	ESRTimerChgInit
	KICoeffLowDischg
	KICoeffMedDischg
	KICoeffHiDischg
	KICoeffLowChg
	KICoeffMedChg
	KICoeffHiChg
	KICoeffFullSOC
	KICoeffCutoff
	SlopeLimit
	ESRTightFilter
	ESRBroadFilter
	ESRCalSOCMin
	ESRCalSOCMax
	ESRCalTempMin
	ESRCalTempMax
	DeltaESRThr
	BattTempCold
	BattTempHot

	ParamCount
)

var paramNames = [ParamCount]string{
	BattSOC:            "batt-soc",
	MonotonicSOC:       "monotonic-soc",
	VoltagePred:        "voltage-pred",
	VbattFilt:          "vbatt-filt",
	OCV:                "ocv",
	IbattFilt:          "ibatt-filt",
	IbattInst:          "ibatt-inst",
	ESR:                "esr",
	ESRActual:          "esr-actual",
	ESRNominal:         "esr-nominal",
	Rslow:              "rslow",
	RslowScale:         "rslow-scale",
	CCSoc:              "cc-soc",
	CCSocSW:            "cc-soc-sw",
	ActBattCap:         "act-batt-cap",
	Timebase:           "timebase",
	BattTemp:           "batt-temp",
	CutoffVolt:         "cutoff-volt",
	EmptyVolt:          "empty-volt",
	FloatVolt:          "float-volt",
	SysTermCurr:        "sys-term-curr",
	ChgTermCurr:        "chg-term-curr",
	CutoffCurr:         "cutoff-curr",
	DeltaMSOCThr:       "delta-msoc-thr",
	DeltaBSOCThr:       "delta-bsoc-thr",
	RechargeSOCThr:     "recharge-soc-thr",
	ESRPulseThresh:     "esr-pulse-thresh",
	ESRTimerDischgMax:  "esr-timer-dischg-max",
	ESRTimerDischgInit: "esr-timer-dischg-init",
	ESRTimerChgMax:     "esr-timer-chg-max",
	ESRTimerChgInit:    "esr-timer-chg-init",
	KICoeffLowDischg:   "ki-coeff-low-dischg",
	KICoeffMedDischg:   "ki-coeff-med-dischg",
	KICoeffHiDischg:    "ki-coeff-hi-dischg",
	KICoeffLowChg:      "ki-coeff-low-chg",
	KICoeffMedChg:      "ki-coeff-med-chg",
	KICoeffHiChg:       "ki-coeff-hi-chg",
	KICoeffFullSOC:     "ki-coeff-full-soc",
	KICoeffCutoff:      "ki-coeff-cutoff",
	SlopeLimit:         "slope-limit",
	ESRTightFilter:     "esr-tight-filter",
	ESRBroadFilter:     "esr-broad-filter",
	ESRCalSOCMin:       "esr-cal-soc-min",
	ESRCalSOCMax:       "esr-cal-soc-max",
	ESRCalTempMin:      "esr-cal-temp-min",
	ESRCalTempMax:      "esr-cal-temp-max",
	DeltaESRThr:        "delta-esr-thr",
	BattTempCold:       "batt-temp-cold",
	BattTempHot:        "batt-temp-hot",
}

func (id ParamID) String() string {
	if id < 0 || id >= ParamCount {
		return "unknown"
	}
	return paramNames[id]
}

// ParseParam looks a parameter up by the name String returns.
func ParseParam(name string) (ParamID, bool) {
	for id, n := range paramNames {
		if n == name {
			return ParamID(id), true
		}
	}
	return 0, false
}

// Units, per LSB unless noted:
//
//	voltage      mV         15 bit 244.141 uV, 24 bit 476.837 nV
//	current      mA         16 bit 488.281 uA, 24 bit 953.674 nA
//	resistance   mOhm       10 uOhm
//	soc          %
//	cc soc       0.01 %     full scale 2^30
//	temperature  0.1 degC
//	filters      micro %    100/2048
//	timebase     ppm        offset from nominal
var defaultParams = []Descriptor{
	{ID: BattSOC, Word: 91, Offset: 0, Len: 4, Num: 100, Den: 0xFFFFFFFF, Kind: KindDefault},
	{ID: MonotonicSOC, Word: 94, Offset: 2, Len: 2, Num: 100, Den: 0xFFFF, Kind: KindDefault},
	{ID: VoltagePred, Word: 97, Offset: 0, Len: 2, Num: 244141, Den: 1000000, Kind: KindVoltage15},
	{ID: VbattFilt, Word: 109, Offset: 0, Len: 3, Num: 1000, Den: 2097152, Kind: KindVoltage24},
	{ID: OCV, Word: 97, Offset: 2, Len: 2, Num: 244141, Den: 1000000, Kind: KindVoltage15},
	{ID: IbattFilt, Word: 108, Offset: 0, Len: 3, Num: 1000, Den: 1048576, Kind: KindCurrent24},
	{ID: IbattInst, Word: 110, Offset: 0, Len: 2, Num: 488281, Den: 1000000, Kind: KindCurrent16},
	{ID: ESR, Word: 99, Offset: 0, Len: 2, Num: 1, Den: 100, Kind: KindDefault},
	{ID: ESRActual, Word: 99, Offset: 2, Len: 2, Num: 1, Den: 100, Kind: KindDefault},
	{ID: ESRNominal, Word: 100, Offset: 0, Len: 2, Num: 1, Den: 100, Kind: KindDefault},
	{ID: Rslow, Word: 101, Offset: 0, Len: 2, Num: 1, Den: 100, Kind: KindDefault},
	{ID: RslowScale, Word: 101, Offset: 2, Len: 2, Num: 1, Den: 1, Kind: KindFloat},
	{ID: CCSoc, Word: 117, Offset: 0, Len: 4, Num: 10000, Den: 1 << 30, Kind: KindCCSoc},
	{ID: CCSocSW, Word: 118, Offset: 0, Len: 4, Num: 10000, Den: 1 << 30, Kind: KindCCSoc},
	{ID: ActBattCap, Word: 74, Offset: 0, Len: 2, Num: 1, Den: 1, Kind: KindDefault},
	{ID: Timebase, Word: 90, Offset: 0, Len: 2, Num: 1, Den: 1, Signed: true, Kind: KindDefault},
	{ID: BattTemp, Word: 4, Offset: 2, Len: 2, Num: 1, Den: 1, Signed: true, Kind: KindDefault},

	{ID: CutoffVolt, Word: 15, Offset: 0, Len: 2, Num: 244141, Den: 1000000, Kind: KindVoltage15},
	{ID: EmptyVolt, Word: 15, Offset: 2, Len: 1, Num: 10, Den: 1, Off: -250, Kind: KindDefault},
	{ID: FloatVolt, Word: 16, Offset: 0, Len: 2, Num: 244141, Den: 1000000, Kind: KindVoltage15},
	{ID: SysTermCurr, Word: 18, Offset: 0, Len: 3, Num: 1000, Den: 1048576, Kind: KindCurrent24},
	{ID: ChgTermCurr, Word: 14, Offset: 1, Len: 1, Num: 25, Den: 2, Kind: KindDefault},
	{ID: CutoffCurr, Word: 17, Offset: 0, Len: 3, Num: 1000, Den: 1048576, Kind: KindCurrent24},
	{ID: DeltaMSOCThr, Word: 12, Offset: 0, Len: 1, Num: 100, Den: 255, Kind: KindDefault},
	{ID: DeltaBSOCThr, Word: 13, Offset: 0, Len: 1, Num: 100, Den: 255, Kind: KindDefault},
	{ID: RechargeSOCThr, Word: 14, Offset: 0, Len: 1, Num: 100, Den: 255, Kind: KindDefault},
	{ID: ESRPulseThresh, Word: 19, Offset: 0, Len: 1, Num: 15625, Den: 1000, Kind: KindDefault},
	{ID: ESRTimerDischgMax, Word: 31, Offset: 2, Len: 2, Num: 1, Den: 1, Kind: KindDefault},
	{ID: ESRTimerDischgInit, Word: 31, Offset: 0, Len: 2, Num: 1, Den: 1, Kind: KindDefault},
	{ID: ESRTimerChgMax, Word: 32, Offset: 2, Len: 2, Num: 1, Den: 1, Kind: KindDefault},
	{ID: ESRTimerChgInit, Word: 32, Offset: 0, Len: 2, Num: 1, Den: 1, Kind: KindDefault},
	{ID: KICoeffLowDischg, Word: 37, Offset: 0, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffMedDischg, Word: 37, Offset: 1, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffHiDischg, Word: 37, Offset: 2, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffLowChg, Word: 38, Offset: 0, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffMedChg, Word: 38, Offset: 1, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffHiChg, Word: 38, Offset: 2, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffFullSOC, Word: 39, Offset: 0, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: KICoeffCutoff, Word: 39, Offset: 1, Len: 1, Num: 61, Den: 1, Kind: KindDefault},
	{ID: SlopeLimit, Word: 40, Offset: 0, Len: 1, Num: 122, Den: 1, Kind: KindDefault},
	{ID: ESRTightFilter, Word: 41, Offset: 0, Len: 3, Num: 100, Den: 2048, Kind: KindDefault},
	{ID: ESRBroadFilter, Word: 42, Offset: 0, Len: 3, Num: 100, Den: 2048, Kind: KindDefault},
	{ID: ESRCalSOCMin, Word: 43, Offset: 0, Len: 2, Num: 100, Den: 0xFFFF, Kind: KindDefault},
	{ID: ESRCalSOCMax, Word: 43, Offset: 2, Len: 2, Num: 100, Den: 0xFFFF, Kind: KindDefault},
	{ID: ESRCalTempMin, Word: 44, Offset: 0, Len: 1, Num: 10, Den: 1, Signed: true, Kind: KindDefault},
	{ID: ESRCalTempMax, Word: 44, Offset: 1, Len: 1, Num: 10, Den: 1, Signed: true, Kind: KindDefault},
	{ID: DeltaESRThr, Word: 45, Offset: 0, Len: 2, Num: 1, Den: 100, Kind: KindDefault},
	{ID: BattTempCold, Word: 46, Offset: 0, Len: 1, Num: 5, Den: 1, Off: 60, Kind: KindDefault},
	{ID: BattTempHot, Word: 46, Offset: 1, Len: 1, Num: 5, Den: 1, Off: 60, Kind: KindDefault},
}

// DefaultParams returns a copy of the built-in descriptor table.
func DefaultParams() []Descriptor {
	return append([]Descriptor(nil), defaultParams...)
}
