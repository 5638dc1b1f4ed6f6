package bitrate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamhub/livecore/internal/config"
)

func testRegCfg() config.BitrateRegulatorConfig {
	return config.BitrateRegulatorConfig{
		StepDownFactor:        0.8,
		StepUpFactor:          1.1,
		LossThresholdPercent:  5.0,
		ConsecutiveLowWindows: 2,
		MinVideoBitrateBps:    300_000,
		MaxVideoBitrateBps:    20_000_000,
	}
}

// S6: one video output at 2 Mbps; fake sink stats report 50% packet loss.
// After one tick the target drops to 1.6 Mbps, after a second to 1.28 Mbps,
// and it never drops below the configured minimum.
func TestRegulator_S6_StepDownOnLoss(t *testing.T) {
	var gotBps int
	stats := func() SinkStats { return SinkStats{LossPercent: 50} }
	r := New(testRegCfg(), stats, func(bps int) { gotBps = bps }, nil, 2_000_000, 0, nil)

	r.Tick()
	assert.Equal(t, 1_600_000, gotBps)
	assert.Equal(t, 1_600_000, r.VideoBps())

	r.Tick()
	assert.Equal(t, 1_280_000, gotBps)
}

func TestRegulator_NeverBelowMinimum(t *testing.T) {
	var gotBps int
	stats := func() SinkStats { return SinkStats{LossPercent: 100} }
	cfg := testRegCfg()
	r := New(cfg, stats, func(bps int) { gotBps = bps }, nil, cfg.MinVideoBitrateBps, 0, nil)

	for i := 0; i < 10; i++ {
		r.Tick()
	}
	assert.Equal(t, cfg.MinVideoBitrateBps, gotBps)
}

func TestRegulator_StepsUpAfterConsecutiveLowWindows(t *testing.T) {
	var gotBps int
	stats := func() SinkStats { return SinkStats{LossPercent: 0} }
	r := New(testRegCfg(), stats, func(bps int) { gotBps = bps }, nil, 1_000_000, 0, nil)

	r.Tick() // low streak 1, no change yet
	assert.Equal(t, 0, gotBps)

	r.Tick() // low streak 2, steps up
	assert.Equal(t, 1_100_000, gotBps)
}

func TestRegulator_NeverAboveMaximum(t *testing.T) {
	var gotBps int
	stats := func() SinkStats { return SinkStats{LossPercent: 0} }
	cfg := testRegCfg()
	r := New(cfg, stats, func(bps int) { gotBps = bps }, nil, cfg.MaxVideoBitrateBps, 0, nil)

	for i := 0; i < 10; i++ {
		r.Tick()
	}
	assert.Equal(t, cfg.MaxVideoBitrateBps, gotBps)
}
