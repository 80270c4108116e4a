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

// Package engine owns the fuel gauge components, feeds them samples and
// writes their corrections back to the gauge.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/caplearn"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/esr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/kicoeff"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/store"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/transport"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/ttf"
)

// RawSample is one set of raw parameter bytes as read from the gauge.
type RawSample struct {
	Params map[sram.ParamID][]byte
	// TempDC is the battery temperature, used when Params has no BattTemp
	// and HasTemp is set.
	TempDC  int
	HasTemp bool
	Time    time.Time
}

type NotificationKind int

const (
	ChargerStatus NotificationKind = iota
	ChargerType
	DeltaTemp
	Full
)

func (k NotificationKind) String() string {
	switch k {
	case ChargerType:
		return "charger-type"
	case DeltaTemp:
		return "delta-temp"
	case Full:
		return "full"
	default:
		return "charger-status"
	}
}

type Notification struct {
	Kind     NotificationKind
	Charging bool
	Charger  string
	Time     time.Time
}

// readParams are polled from the gauge on every sample.
var readParams = []sram.ParamID{
	sram.BattSOC, sram.MonotonicSOC,
	sram.VoltagePred, sram.VbattFilt, sram.OCV,
	sram.IbattFilt, sram.IbattInst,
	sram.ESR, sram.ESRActual, sram.ESRNominal, sram.Rslow, sram.RslowScale,
	sram.CCSoc, sram.CCSocSW,
	sram.ActBattCap, sram.Timebase, sram.BattTemp,
}

type parts struct {
	cfg     Config
	learner *caplearn.Learner
	filter  *esr.Filter
	cal     *esr.Calibrator
	health  *esr.Health
	cycles  *cyclecount.Counter
	ki      *kicoeff.Selector
	ttf     *ttf.Estimator
}

func newParts(cfg Config) (*parts, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &parts{cfg: cfg}
	var err error
	if p.learner, err = caplearn.New(cfg.CapLearn); err != nil {
		return nil, err
	}
	if p.filter, err = esr.NewFilter(cfg.ESRFilter); err != nil {
		return nil, err
	}
	if p.cal, err = esr.NewCalibrator(cfg.ESRCal); err != nil {
		return nil, err
	}
	if p.health, err = esr.NewHealth(cfg.Health); err != nil {
		return nil, err
	}
	if p.cycles, err = cyclecount.New(cfg.CycleDirection, cfg.CycleBounds); err != nil {
		return nil, err
	}
	if p.ki, err = kicoeff.NewSelector(cfg.KI); err != nil {
		return nil, err
	}
	if p.ttf, err = ttf.New(cfg.TTF); err != nil {
		return nil, err
	}
	return p, nil
}

// state copies what has been learned into s.
func (p *parts) state() store.State {
	s := store.State{CycleCounts: p.cycles.Counts()}
	s.LearnedCapacityMAh, _ = p.learner.Learned()
	s.ESRmOhm, _ = p.cal.Accepted()
	s.ESRCalibrations = p.cal.Stats().Successes
	s.SOH, s.SOHCycle, s.HasSOH = p.health.SOH()
	return s
}

func (p *parts) restore(s store.State) {
	p.learner.SetLearned(s.LearnedCapacityMAh)
	p.cycles.Restore(s.CycleCounts)
	p.cal.Restore(s.ESRmOhm, s.ESRCalibrations)
	if s.HasSOH {
		p.health.Restore(s.SOH, s.SOHCycle)
	}
}

// capacity is the learned capacity, or the nominal one before anything has
// been learned.
func (p *parts) capacity() int64 {
	if c, ok := p.learner.Learned(); ok {
		return c
	}
	return p.cfg.CapLearn.NominalMAh
}

type Engine struct {
	log   *logging.Logger
	codec *sram.Codec
	store store.Store
	sched *Scheduler
	parts atomic.Pointer[parts]

	// swapMu serialises Reload and ResetLearning.
	swapMu sync.Mutex

	mu          sync.Mutex
	tempDC      int
	hasTemp     bool
	charging    bool
	charger     string
	full        bool
	lastSOC     int
	hasSOC      bool
	lastAt      time.Time
	ttfEst      ttf.Estimate
	hasTTF      bool
	pending     map[sram.ParamID]int64
	flushQueued bool
}

func New(cfg Config, tr transport.Transport, st store.Store, log *logging.Logger) (*Engine, error) {
	if log == nil {
		log = logging.NewLogger("info")
	}
	p, err := newParts(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := sram.NewCodec(tr, cfg.Params)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		log:     log,
		codec:   codec,
		store:   st,
		sched:   NewScheduler(log, cfg.QueueSize),
		pending: map[sram.ParamID]int64{},
	}
	e.parts.Store(p)
	return e, nil
}

func (e *Engine) Codec() *sram.Codec {
	return e.codec
}

func (e *Engine) Scheduler() *Scheduler {
	return e.sched
}

func (e *Engine) Config() Config {
	return e.parts.Load().cfg
}

// Start restores saved state, queues the startup parameter writes and starts
// the scheduler. It returns once the scheduler is running.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Restore(ctx); err != nil {
		return err
	}
	e.queueStartupWrites(e.parts.Load())
	go e.sched.Run(ctx)
	e.armESRTimer()
	e.kick()
	return nil
}

// Restore loads the saved state into the components.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	s, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load saved state: %w", err)
	}
	e.parts.Load().restore(s)
	e.log.Infof("Restored state: capacity %d mAh, cycles %v, esr %d mOhm", s.LearnedCapacityMAh, s.CycleCounts, s.ESRmOhm)
	return nil
}

// Reload applies a new configuration to the running components. Learned
// state and work in progress, such as a learning session, an ESR calibration
// cycle or a partial cycle count, carry on under the new configuration.
func (e *Engine) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.swapMu.Lock()
	defer e.swapMu.Unlock()
	prev := e.parts.Load()
	before := startupWrites(prev)

	// The counter validates its bounds first. Everything after it was
	// checked by cfg.Validate and cannot fail.
	if err := prev.cycles.Reconfigure(cfg.CycleDirection, cfg.CycleBounds); err != nil {
		return err
	}
	if err := errors.Join(
		prev.learner.Reconfigure(cfg.CapLearn),
		prev.filter.Reconfigure(cfg.ESRFilter),
		prev.cal.Reconfigure(cfg.ESRCal),
		prev.health.Reconfigure(cfg.Health),
		prev.ki.Reconfigure(cfg.KI),
		prev.ttf.Reconfigure(cfg.TTF),
	); err != nil {
		return err
	}
	next := *prev
	next.cfg = cfg
	e.parts.Store(&next)

	for id, v := range startupWrites(&next) {
		if old, ok := before[id]; ok && old == v {
			continue
		}
		if err := e.codec.Override(id, v); err != nil {
			return err
		}
		e.queueWrite(id, v)
	}
	if prev.learner.Active() {
		e.log.Info("Configuration reloaded, capacity learning continues")
	} else {
		e.log.Info("Configuration reloaded")
	}
	e.kick()
	return nil
}

func startupWrites(p *parts) map[sram.ParamID]int64 {
	cfg := p.cfg
	w := map[sram.ParamID]int64{
		sram.FloatVolt:      cfg.FloatMV,
		sram.CutoffVolt:     cfg.CutoffMV,
		sram.ESRCalSOCMin:   int64(cfg.ESRCal.MinSOC),
		sram.ESRCalSOCMax:   int64(cfg.ESRCal.MaxSOC),
		sram.ESRCalTempMin:  int64(cfg.ESRCal.MinTempDC),
		sram.ESRCalTempMax:  int64(cfg.ESRCal.MaxTempDC),
		sram.ESRPulseThresh: cfg.ESRCal.PulseThreshMA,
	}
	for id, v := range cfg.Thresholds {
		w[id] = v
	}
	if c, ok := p.learner.Learned(); ok {
		w[sram.ActBattCap] = c
	}
	return w
}

func (e *Engine) queueStartupWrites(p *parts) {
	for id, v := range startupWrites(p) {
		e.queueWrite(id, v)
	}
}

func (e *Engine) armESRTimer() {
	e.sched.After(e.parts.Load().cfg.ESRCal.Interval, "esr-calibration", e.esrTimer)
}

func (e *Engine) esrTimer(ctx context.Context) error {
	if !e.parts.Load().cal.TimerFired(time.Now()) {
		e.log.Info("ESR fast calibration complete")
		return nil
	}
	e.log.Debug("ESR calibration cycle started")
	e.armESRTimer()
	return nil
}

// Poll reads the sampled parameters from the gauge and feeds them to Update.
// It runs on the scheduler.
func (e *Engine) Poll(ctx context.Context) error {
	params := make(map[sram.ParamID][]byte, len(readParams))
	for _, id := range readParams {
		raw, err := e.codec.Fetch(ctx, id)
		if err != nil {
			return err
		}
		params[id] = raw
	}
	return e.Update(RawSample{Params: params, Time: time.Now()})
}

// Update feeds one sample to every component. It never touches the transport:
// corrections are queued to the scheduler.
func (e *Engine) Update(s RawSample) error {
	var decodeErr error
	ids := make([]sram.ParamID, 0, len(s.Params))
	for id := range s.Params {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if _, err := e.codec.Store(id, s.Params[id]); err != nil {
			e.codec.Invalidate(id)
			decodeErr = errors.Join(decodeErr, fmt.Errorf("%v: %w", id, err))
		}
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	temp, measured := s.TempDC, s.HasTemp
	if _, ok := s.Params[sram.BattTemp]; ok {
		if v, ok := e.codec.Cached(sram.BattTemp); ok {
			temp, measured = int(v), true
		}
	}

	p := e.parts.Load()
	e.mu.Lock()
	prevSOC, hadSOC := e.lastSOC, e.hasSOC
	if measured {
		e.tempDC, e.hasTemp = temp, true
	}
	// Without a reading in this sample the last measured temperature stands.
	temp, tempOK := e.tempDC, e.hasTemp
	e.lastAt = s.Time
	charging, charger := e.charging, e.charger
	soc, socOK := e.soc()
	if socOK && e.full && !charging && soc < p.cfg.rechargeSOC() {
		e.full = false
	}
	full := e.full
	e.lastSOC, e.hasSOC = soc, socOK
	e.mu.Unlock()

	cur, curOK := e.codec.Cached(sram.IbattFilt)
	volt, voltOK := e.codec.Cached(sram.VbattFilt)

	if !tempOK {
		e.log.Debug("No battery temperature yet, temperature dependent updates skipped")
	}
	if socOK {
		e.updateCycles(p, soc)
		if tempOK {
			e.updateLearning(p, soc, temp, charging, charger, full, s.Time)
		}
	}
	if tempOK {
		e.updateFilter(p, temp, s.Time)
		e.updateTimebase(temp)
	}
	if socOK && curOK && tempOK {
		e.updateCalibration(p, soc, temp, cur, s.Time)
		e.updateKI(p, soc, temp, cur, charging, full)
	}
	if socOK && hadSOC && !charging && prevSOC > p.cfg.SOHSOC && soc <= p.cfg.SOHSOC {
		e.updateHealth(p)
	}
	if charging && socOK && curOK && voltOK {
		e.updateTTF(p, soc, cur, volt, s.Time)
	}

	e.kick()
	return decodeErr
}

func (e *Engine) soc() (int, bool) {
	if v, ok := e.codec.Cached(sram.MonotonicSOC); ok {
		return int(v), true
	}
	v, ok := e.codec.Cached(sram.BattSOC)
	return int(v), ok
}

func (c Config) rechargeSOC() int {
	if v, ok := c.Thresholds[sram.RechargeSOCThr]; ok {
		return int(v)
	}
	return 95
}

func (e *Engine) updateCycles(p *parts, soc int) {
	inc := p.cycles.Update(soc)
	if len(inc) == 0 {
		return
	}
	counts := p.cycles.Counts()
	e.log.Infof("Cycle completed in buckets %v, counts %v", inc, counts)
	e.report(eventCycleCompleted, map[string]interface{}{
		"buckets": inc,
		"counts":  counts,
		"cycles":  p.cycles.Cycles(),
	})
	e.requestSave()
}

// ccMAh turns the charge counter into mAh of the current capacity.
func (e *Engine) ccMAh(p *parts) (int64, bool) {
	cc, ok := e.codec.Cached(sram.CCSoc)
	if !ok {
		return 0, false
	}
	return cc * p.capacity() / 10000, true
}

func (e *Engine) updateLearning(p *parts, soc, temp int, charging bool, charger string, full bool, now time.Time) {
	cc, ccOK := e.ccMAh(p)
	if !p.learner.Active() {
		if !charging {
			return
		}
		err := p.learner.Start(caplearn.StartSample{
			SOC:     soc,
			TempDC:  temp,
			CCMAh:   cc,
			CCValid: ccOK,
			Charger: charger,
			Time:    now,
		})
		if err != nil {
			e.log.Debugf("Capacity learning not started: %v", err)
			return
		}
		e.log.Infof("Capacity learning started at %d%%", soc)
		return
	}
	if !ccOK {
		return
	}
	r, err := p.learner.Update(caplearn.Sample{TempDC: temp, CCMAh: cc, Charger: charger, Full: full, Time: now})
	e.learnResult(p, r, err)
}

func (e *Engine) learnResult(p *parts, r caplearn.Result, err error) {
	if err != nil {
		e.log.Warnf("Capacity learning rejected: %v", err)
		return
	}
	switch r.Event {
	case caplearn.EventCommitted:
		e.log.Infof("Learned capacity %d mAh (charged %d mAh)", r.Learned, r.Delta)
		e.queueWrite(sram.ActBattCap, r.Learned)
		e.report(eventCapacityLearned, map[string]interface{}{
			"capacity": r.Learned,
			"delta":    r.Delta,
		})
		e.requestSave()
	case caplearn.EventAborted:
		e.log.Infof("Capacity learning aborted: %s", r.Reason)
	}
}

func (e *Engine) updateFilter(p *parts, temp int, now time.Time) {
	regime, changed := p.filter.Update(temp, now)
	if !changed {
		return
	}
	v := p.filter.Values(regime)
	e.log.Infof("ESR filter regime %s at %d dC", regime, temp)
	e.queueWrite(sram.ESRTightFilter, v.TightUPct)
	e.queueWrite(sram.ESRBroadFilter, v.BroadUPct)
}

func (e *Engine) updateCalibration(p *parts, soc, temp int, cur int64, now time.Time) {
	measured, ok := e.codec.Cached(sram.ESRActual)
	if !ok {
		return
	}
	r, err := p.cal.Attempt(esr.Sample{ESRmOhm: measured, CurrentMA: cur, TempDC: temp, SOC: soc}, now)
	switch r.Outcome {
	case esr.Accepted:
		e.log.Infof("ESR calibrated to %d mOhm", r.ESRmOhm)
		e.queueWrite(sram.ESR, r.ESRmOhm)
		e.requestSave()
	case esr.Rejected:
		e.log.Warnf("ESR sample rejected: %v", err)
		if r.State == esr.CalExhausted {
			e.report(eventESRExhausted, map[string]interface{}{"retries": r.Retries, "esr": r.ESRmOhm})
		}
	case esr.TimedOut:
		e.log.Warnf("ESR calibration: %v", err)
		e.report(eventESRExhausted, map[string]interface{}{"retries": r.Retries, "timeout": true})
	case esr.Gated:
		e.log.Debugf("ESR calibration skipped: %v", err)
	}
}

func (e *Engine) updateKI(p *parts, soc, temp int, cur int64, charging, full bool) {
	sel, ch := p.ki.Apply(kicoeff.Input{TempDC: temp, Charging: charging, CurrentMA: cur, SOC: soc, Full: full})
	if ch.Slope {
		e.log.Debugf("Slope limit %s: %d", sel.Status, sel.Slope)
		e.queueWrite(sram.SlopeLimit, sel.Slope)
	}
	if ch.KI {
		e.log.Debugf("KI coefficient %s: %d", sel.KIParam, sel.KI)
		e.queueWrite(sel.KIParam, sel.KI)
	}
}

func (e *Engine) updateHealth(p *parts) {
	actual, ok := p.cal.Accepted()
	if !ok {
		if actual, ok = e.codec.Cached(sram.ESRActual); !ok {
			return
		}
	}
	nominal, _ := e.codec.Cached(sram.ESRNominal)
	soh, updated, err := p.health.Update(actual, nominal, p.cycles.Cycles())
	if err != nil {
		e.log.Warnf("SOH not updated: %v", err)
		return
	}
	if !updated {
		return
	}
	e.log.Infof("State of health %d%%", soh)
	e.report(eventSOHUpdated, map[string]interface{}{"soh": soh, "esr": actual})
	e.requestSave()
}

func (e *Engine) updateTimebase(temp int) {
	corr := int64(interp.OscTimebaseTable.Lerp(int32(temp))) - 1000000
	if v, ok := e.codec.Cached(sram.Timebase); ok && v == corr {
		return
	}
	e.queueWrite(sram.Timebase, corr)
}

func (e *Engine) updateTTF(p *parts, soc int, cur, volt int64, now time.Time) {
	est, err := p.ttf.Update(ttf.Sample{
		CurrentMA:   cur,
		VoltageMV:   volt,
		SOC:         soc,
		CapacityMAh: p.capacity(),
		Time:        now,
	})
	if ttf.IsNotCharging(err) {
		e.log.Debug("No time to full while the current shows discharge")
		return
	}
	if err != nil {
		e.log.Debugf("No time to full: %v", err)
		return
	}
	e.mu.Lock()
	e.ttfEst, e.hasTTF = est, true
	e.mu.Unlock()
}

// Notify applies a charger or gauge interrupt.
func (e *Engine) Notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	p := e.parts.Load()
	switch n.Kind {
	case ChargerStatus:
		e.mu.Lock()
		was := e.charging
		e.charging = n.Charging
		if n.Charging {
			e.full = false
		} else {
			e.hasTTF = false
		}
		e.mu.Unlock()
		if n.Charging && !was {
			e.log.Info("Charging started")
			p.ttf.Reset()
		}
		if !n.Charging && was {
			e.log.Info("Charging stopped")
			e.learnResult(p, p.learner.Abort("charging stopped"), nil)
		}
	case ChargerType:
		e.mu.Lock()
		e.charger = n.Charger
		e.mu.Unlock()
		mode := ttf.Normal
		if p.cfg.paced(n.Charger) {
			mode = ttf.Paced
		}
		p.ttf.SetMode(mode)
		e.log.Infof("Charger type %q, %s charging", n.Charger, mode)
	case DeltaTemp:
		p.filter.DeltaTemp(n.Time)
	case Full:
		e.mu.Lock()
		e.full = true
		temp, charger := e.tempDC, e.charger
		e.mu.Unlock()
		e.log.Info("Battery full")
		if cc, ok := e.ccMAh(p); ok && p.learner.Active() {
			r, err := p.learner.Update(caplearn.Sample{TempDC: temp, CCMAh: cc, Charger: charger, Full: true, Time: n.Time})
			e.learnResult(p, r, err)
		}
	}
	e.kick()
}

// queueWrite records a parameter write for the next flush. A newer value for
// the same parameter replaces an older one.
func (e *Engine) queueWrite(id sram.ParamID, v int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[id] = v
}

// kick queues a flush if there are writes waiting and none is queued.
func (e *Engine) kick() {
	e.mu.Lock()
	if len(e.pending) == 0 || e.flushQueued {
		e.mu.Unlock()
		return
	}
	e.flushQueued = true
	e.mu.Unlock()
	if !e.sched.Submit("write-params", e.flushWrites) {
		e.mu.Lock()
		e.flushQueued = false
		e.mu.Unlock()
	}
}

// Pending returns the writes waiting to go to the gauge.
func (e *Engine) Pending() map[sram.ParamID]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[sram.ParamID]int64, len(e.pending))
	for id, v := range e.pending {
		out[id] = v
	}
	return out
}

// flushWrites writes the pending parameters. Failed writes stay pending and
// go out with the next flush.
func (e *Engine) flushWrites(ctx context.Context) error {
	e.mu.Lock()
	e.flushQueued = false
	e.mu.Unlock()
	writes := e.Pending()
	ids := make([]sram.ParamID, 0, len(writes))
	for id := range writes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	timeout := e.parts.Load().cfg.WriteTimeout
	var failed int
	var firstErr error
	for _, id := range ids {
		wctx, cancel := context.WithTimeout(ctx, timeout)
		got, err := e.codec.Write(wctx, id, writes[id], transport.AccessAtomic)
		cancel()
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		e.mu.Lock()
		if e.pending[id] == writes[id] {
			delete(e.pending, id)
		}
		e.mu.Unlock()
		e.log.Debugf("Wrote %s = %d", id, got)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d parameter writes failed, will retry: %w", failed, len(ids), firstErr)
	}
	return nil
}

func (e *Engine) requestSave() {
	if e.store == nil {
		return
	}
	e.sched.Submit("save-state", e.Save)
}

// Save writes the learned state to the store.
func (e *Engine) Save(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	s := e.parts.Load().state()
	s.LastUpdated = time.Now()
	if err := e.store.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// ResetLearning forgets the learned capacity, cycle counts and SOH and saves
// the cleared state.
func (e *Engine) ResetLearning(ctx context.Context) error {
	e.swapMu.Lock()
	defer e.swapMu.Unlock()
	p := e.parts.Load()
	fresh, err := newParts(p.cfg)
	if err != nil {
		return err
	}
	fresh.ttf.SetMode(p.ttf.Mode())
	e.parts.Store(fresh)
	e.log.Info("Learned state reset")
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, store.State{LastUpdated: time.Now()}); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}
