// Package encoder implements the per-track encoder wrapper (C5): state
// machine, CSD extraction/normalization, and bitrate control around an
// injected hardware codec session. The codec itself (MediaCodec, VideoToolbox,
// an SDK encoder, ...) is deliberately out of scope per the spec's external
// collaborator boundary; Session is the interface this package drives.
package encoder

import (
	"log/slog"
	"sync"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// State is the encoder lifecycle: Configured -> Running -> Stopped ->
// (Configured|Released).
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateRunning
	StateStopped
	StateReleased
)

// CodecConfigBuffer is what Session delivers when the codec emits
// BUFFER_FLAG_CODEC_CONFIG: raw CSD bytes plus whether this track is HEVC
// (so the wrapper knows to split VPS/SPS/PPS).
type CodecConfigBuffer struct {
	Data  []byte
	IsHEVC bool
}

// EncodedOutput is what Session delivers for every encoded access unit,
// before CSD normalization.
type EncodedOutput struct {
	Data       []byte
	Pts        int64
	Dts        int64
	HasDts     bool
	IsKeyFrame bool
}

// Session is the hardware/software codec driver this wrapper controls. A
// real implementation binds to a platform codec API; tests use a fake.
type Session interface {
	Open(cfg corepipe.CodecConfig) error
	// CreateInputSurface returns a platform surface handle for surface-mode
	// video encoding; only called when the track is video.
	CreateInputSurface() (corepipe.SurfaceHandle, error)
	SetBitrate(bps int) error
	SignalEndOfInput() error
	Close() error
}

// Encoder drives one Session through its lifecycle and normalizes its
// output into corepipe.Frame values with clean CSD handling (spec §4.4,
// §9 "CSD handling rationale").
type Encoder struct {
	mu      sync.Mutex
	state   State
	session Session
	cfg     corepipe.CodecConfig
	isHEVC  bool
	params  *ParamSetStore
	logger  *slog.Logger

	onOutput func(corepipe.Frame)
}

// New creates an Encoder around a codec session.
func New(session Session, isHEVC bool, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{session: session, isHEVC: isHEVC, params: NewParamSetStore(), logger: logger, state: StateUnconfigured}
}

// Configure opens the codec with the closest supported profile/level,
// falling back to the session's default when the requested one is
// unsupported (the fallback itself is the Session implementation's
// responsibility; the wrapper only records the resulting state).
func (e *Encoder) Configure(cfg corepipe.CodecConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateReleased {
		return corepipeerrors.New(corepipeerrors.Closed, "encoder.configure", nil)
	}
	if err := e.session.Open(cfg); err != nil {
		return corepipeerrors.New(corepipeerrors.Config, "encoder.configure", err)
	}
	e.cfg = cfg
	e.state = StateConfigured
	return nil
}

// OnOutputFrame registers the callback invoked for every normalized
// encoded Frame (spec §6.2, on_output_frame).
func (e *Encoder) OnOutputFrame(fn func(corepipe.Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOutput = fn
}

// CreateInputSurface switches the encoder into surface mode (video only)
// and returns the surface handle the compositor should render into.
func (e *Encoder) CreateInputSurface() (corepipe.SurfaceHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConfigured {
		return nil, corepipeerrors.New(corepipeerrors.Config, "encoder.create-input-surface", nil)
	}
	surface, err := e.session.CreateInputSurface()
	if err != nil {
		return nil, corepipeerrors.New(corepipeerrors.Unsupported, "encoder.create-input-surface", err)
	}
	e.state = StateRunning
	return surface, nil
}

// Start transitions a Configured buffer-mode encoder into Running. A
// surface-mode encoder is already Running after CreateInputSurface, and
// Start on it fails with Config.
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConfigured {
		return corepipeerrors.New(corepipeerrors.Config, "encoder.start", nil)
	}
	e.state = StateRunning
	return nil
}

// SetBitrate updates the target bitrate in-line; the next encoded frame
// reflects the new rate.
func (e *Encoder) SetBitrate(bps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return nil
	}
	if err := e.session.SetBitrate(bps); err != nil {
		return corepipeerrors.New(corepipeerrors.Unsupported, "encoder.set-bitrate", err)
	}
	e.cfg.BitrateBps = bps
	return nil
}

// HandleCodecConfig processes a BUFFER_FLAG_CODEC_CONFIG buffer: for HEVC it
// splits the blob into {VPS, SPS, PPS} in that order; for everything else it
// is scanned as Annex-B and its SPS/PPS NAL units are cached. The
// codec-config buffer itself is never forwarded
// downstream.
func (e *Encoder) HandleCodecConfig(buf CodecConfigBuffer) {
	if buf.IsHEVC {
		e.params.ExtractFromNALUs(SplitHEVCCsdBlob(buf.Data), true)
		return
	}
	e.params.ExtractFromAnnexB(buf.Data, false)
}

// HandleOutput normalizes one encoded access unit and invokes onOutput.
// Video non-key frames carry empty CSD (I2); key frames and every audio
// frame carry the cached parameter sets. If the payload begins with the
// concatenation of those CSD buffers, the inline copy is sliced off so the
// muxer always receives a clean payload (spec §4.4).
func (e *Encoder) HandleOutput(out EncodedOutput, media corepipe.MediaType, stream corepipe.StreamId) {
	e.mu.Lock()
	cb := e.onOutput
	mime := e.cfg.Mime
	e.mu.Unlock()
	if cb == nil {
		return
	}

	var csd [][]byte
	switch {
	case media == corepipe.MediaAudio:
		csd = e.audioCsd()
	case out.IsKeyFrame:
		csd = e.videoCsd()
	}

	data := out.Data
	if len(csd) > 0 {
		data = StripInlineCsd(data, csd)
	}

	cb(corepipe.Frame{
		Data:       data,
		Pts:        out.Pts,
		Dts:        out.Dts,
		HasDts:     out.HasDts,
		IsKeyFrame: out.IsKeyFrame,
		Csd:        csd,
		Mime:       mime,
		Media:      media,
		Stream:     stream,
	})
}

func (e *Encoder) videoCsd() [][]byte {
	if e.isHEVC {
		vps, sps, pps := e.hevcParams()
		var out [][]byte
		for _, p := range [][]byte{vps, sps, pps} {
			if p != nil {
				out = append(out, p)
			}
		}
		return out
	}
	sps, pps := e.avcParams()
	var out [][]byte
	if sps != nil {
		out = append(out, sps)
	}
	if pps != nil {
		out = append(out, pps)
	}
	return out
}

// audioCsd returns this track's audio CSD (I2): the caller-supplied
// CodecConfig.Csd if set, otherwise an AAC AudioSpecificConfig or Opus
// identification header derived from the configured sample rate/channel
// count, held for the life of the configuration rather than extracted from
// the bitstream.
func (e *Encoder) audioCsd() [][]byte {
	if len(e.cfg.Csd) > 0 {
		out := make([][]byte, len(e.cfg.Csd))
		for i, c := range e.cfg.Csd {
			out[i] = copyBytes(c)
		}
		return out
	}
	switch e.cfg.Mime {
	case "audio/aac":
		return [][]byte{BuildAACAudioSpecificConfig(e.cfg.SampleRateHz, e.cfg.Channels)}
	case "audio/opus":
		return [][]byte{BuildOpusIDHeader(e.cfg.Channels, e.cfg.SampleRateHz)}
	default:
		return nil
	}
}

func (e *Encoder) avcParams() (sps, pps []byte) {
	e.params.mu.RLock()
	defer e.params.mu.RUnlock()
	return copyBytes(e.params.h264SPS), copyBytes(e.params.h264PPS)
}

func (e *Encoder) hevcParams() (vps, sps, pps []byte) {
	e.params.mu.RLock()
	defer e.params.mu.RUnlock()
	return copyBytes(e.params.h265VPS), copyBytes(e.params.h265SPS), copyBytes(e.params.h265PPS)
}

// Stop signals end-of-input-stream to the codec and marks the encoder
// Stopped. It does not wait for pending output to drain and does not close
// the codec session (Release does). An error from the end-of-input signal
// is logged and swallowed (graceful shutdown).
func (e *Encoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	if err := e.session.SignalEndOfInput(); err != nil {
		e.logger.Warn("encoder end-of-input signal failed during stop", slog.String("error", err.Error()))
	}
	e.state = StateStopped
}

// Release tears the codec down for good.
func (e *Encoder) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateReleased {
		return
	}
	if err := e.session.Close(); err != nil {
		e.logger.Warn("encoder close failed during release", slog.String("error", err.Error()))
	}
	e.state = StateReleased
}

// CurrentState returns the encoder's lifecycle state.
func (e *Encoder) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
