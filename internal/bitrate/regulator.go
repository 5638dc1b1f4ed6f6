package bitrate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/streamhub/livecore/internal/config"
)

// SinkStats is the subset of sink metrics the regulator reads each tick:
// buffer occupancy, round-trip time, and packet loss percentage.
type SinkStats struct {
	BufferBytes  uint64
	RTT          time.Duration
	LossPercent  float64
	SendBps      uint64
}

// SinkStatsFunc polls the current sink statistics; supplied by the
// orchestrator's output wiring.
type SinkStatsFunc func() SinkStats

// BitrateSetter pushes a new target bitrate to one encoder. Implemented by
// the encoder wrapper (C5).
type BitrateSetter func(bps int)

// Regulator runs the periodic congestion-feedback loop described in spec
// §4.8: every tick it estimates congestion from sink stats and steps the
// video (and, once video has bottomed out, audio) target bitrate.
type Regulator struct {
	cfg    config.BitrateRegulatorConfig
	stats  SinkStatsFunc
	setVideo BitrateSetter
	setAudio BitrateSetter
	logger *slog.Logger

	mu             sync.Mutex
	videoBps       int
	audioBps       int
	lowStreak      int
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// New creates a Regulator seeded with the starting video/audio bitrates.
func New(cfg config.BitrateRegulatorConfig, stats SinkStatsFunc, setVideo, setAudio BitrateSetter, startVideoBps, startAudioBps int, logger *slog.Logger) *Regulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Regulator{
		cfg:      cfg,
		stats:    stats,
		setVideo: setVideo,
		setAudio: setAudio,
		logger:   logger,
		videoBps: startVideoBps,
		audioBps: startAudioBps,
	}
}

// Start launches the periodic tick loop on its own goroutine; ctx
// cancellation or Stop ends it.
func (r *Regulator) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stopCh != nil {
		r.mu.Unlock()
		return
	}
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Tick()
			}
		}
	}()
}

// Stop ends the tick loop and waits for it to exit.
func (r *Regulator) Stop() {
	r.mu.Lock()
	if r.stopCh == nil {
		r.mu.Unlock()
		return
	}
	close(r.stopCh)
	r.stopCh = nil
	r.mu.Unlock()
	r.wg.Wait()
}

// Tick runs a single regulation step synchronously; exported so tests and
// S6-style scenarios can drive it deterministically without a real ticker.
func (r *Regulator) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats()
	congestion := estimateCongestion(s, r.cfg.LossThresholdPercent)

	switch {
	case congestion > 1:
		r.lowStreak = 0
		r.videoBps = clamp(int(float64(r.videoBps)*r.cfg.StepDownFactor), r.cfg.MinVideoBitrateBps, r.cfg.MaxVideoBitrateBps)
		r.setVideo(r.videoBps)
		r.logger.Debug("bitrate stepped down", slog.Float64("congestion", congestion), slog.Int("video_bps", r.videoBps))

	case congestion < 0.5:
		r.lowStreak++
		if r.lowStreak >= r.cfg.ConsecutiveLowWindows {
			r.videoBps = clamp(int(float64(r.videoBps)*r.cfg.StepUpFactor), r.cfg.MinVideoBitrateBps, r.cfg.MaxVideoBitrateBps)
			r.setVideo(r.videoBps)
			r.lowStreak = 0
			r.logger.Debug("bitrate stepped up", slog.Float64("congestion", congestion), slog.Int("video_bps", r.videoBps))
		}

	default:
		r.lowStreak = 0
	}

	// Audio bitrate is only touched once video has saturated to its minimum.
	if r.videoBps <= r.cfg.MinVideoBitrateBps && congestion > 1 && r.setAudio != nil {
		r.audioBps = clamp(int(float64(r.audioBps)*r.cfg.StepDownFactor), 1, r.audioBps)
		r.setAudio(r.audioBps)
	}
}

// VideoBps returns the regulator's current video target bitrate.
func (r *Regulator) VideoBps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoBps
}

func estimateCongestion(s SinkStats, lossThreshold float64) float64 {
	bufferRatio := 0.0
	if s.SendBps > 0 {
		bufferRatio = float64(s.BufferBytes) / float64(s.SendBps)
	}
	lossRatio := 0.0
	if lossThreshold > 0 {
		lossRatio = s.LossPercent / lossThreshold
	}
	if bufferRatio > lossRatio {
		return bufferRatio
	}
	return lossRatio
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
