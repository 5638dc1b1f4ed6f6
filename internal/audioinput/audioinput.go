// Package audioinput implements the audio source holder (C3): a pluggable
// audio source (microphone, silence, custom callback), its current
// SourceConfig, mute, and effects, fed either by a pull interface
// (get_audio_frame) or a push interface (queue_audio_frame) that fans a
// single captured buffer out to every connected output.
package audioinput

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// SourceVariant is the closed set of audio source kinds.
type SourceVariant int

const (
	SourceMicrophone SourceVariant = iota
	SourceSilence
	SourceCustomCallback
)

// Source is the pull-mode capture backend. A concrete implementation binds
// to the platform's microphone API, a silence generator, or a
// caller-supplied callback; this package only drives the lifecycle.
type Source interface {
	Variant() SourceVariant
	Configure(cfg corepipe.SourceConfig) error
	Start() error
	Stop() error
	Release() error
	// GetFrame blocks for one capture period and returns its samples.
	GetFrame(ctx context.Context, pool FramePool) (*corepipe.RawFrame, error)
	// DeviceID identifies the exclusive hardware device this source binds
	// to, empty for non-exclusive variants (silence, callback).
	DeviceID() string
}

// FramePool is the minimal allocator interface Source.GetFrame needs; it is
// satisfied by *bufpool.Pool without this package importing bufpool
// directly, keeping the source interface test-friendly.
type FramePool interface {
	Get(size int) []byte
}

// SourceFactory builds a fresh Source instance; set_source takes a factory
// rather than an instance so the input owns construction and teardown.
type SourceFactory func() (Source, error)

// EffectID identifies an active audio effect by session-scoped UUID.
type EffectID = uuid.UUID

// Input owns the current audio source, its SourceConfig, active effects,
// and the mute flag (spec §4.2).
type Input struct {
	mu sync.Mutex

	current       Source
	cfg           corepipe.SourceConfig
	effects       map[EffectID]struct{}
	muted         bool
	streaming     bool
	released      bool
	previewActive bool
}

// New creates an empty audio input with no source attached.
func New() *Input {
	return &Input{effects: make(map[EffectID]struct{})}
}

// SetSource atomically swaps the current source for a new one built from
// factory. The previous source is stopped and released unless a live
// preview still holds it. Fails with Closed if the input was released, and
// with Config (I7) if the incoming source claims the same exclusive device
// as the current source (compared by DeviceID; an empty id never clashes),
// in which case the incoming source is released and the current one kept.
func (in *Input) SetSource(factory SourceFactory) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.released {
		return corepipeerrors.New(corepipeerrors.Closed, "audioinput.set-source", nil)
	}

	next, err := factory()
	if err != nil {
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.set-source", err)
	}
	if in.current != nil && next.DeviceID() != "" && next.DeviceID() == in.current.DeviceID() {
		_ = next.Release()
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.set-source", nil)
	}

	if in.current != nil && !in.previewActive {
		_ = in.current.Stop()
		_ = in.current.Release()
	}
	in.current = next
	in.streaming = false
	return nil
}

// SetSourceConfig reconfigures the current source. Refused while streaming
// (I6).
func (in *Input) SetSourceConfig(cfg corepipe.SourceConfig) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.streaming {
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.set-source-config", nil)
	}
	if in.current == nil {
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.set-source-config", nil)
	}
	if in.cfg == cfg {
		return nil // setting the same config twice is a no-op (spec §8.2)
	}
	if err := in.current.Configure(cfg); err != nil {
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.set-source-config", err)
	}
	in.cfg = cfg
	return nil
}

// StartStream is idempotent. It leaves the set of active effects unchanged.
func (in *Input) StartStream() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.streaming {
		return nil
	}
	if in.current == nil {
		return corepipeerrors.New(corepipeerrors.Config, "audioinput.start-stream", nil)
	}
	if err := in.current.Start(); err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "audioinput.start-stream", err)
	}
	in.streaming = true
	return nil
}

// StopStream is idempotent.
func (in *Input) StopStream() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.streaming {
		return nil
	}
	if err := in.current.Stop(); err != nil {
		return corepipeerrors.New(corepipeerrors.Io, "audioinput.stop-stream", err)
	}
	in.streaming = false
	return nil
}

// Release tears the input and its source down permanently.
func (in *Input) Release() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.released {
		return nil
	}
	in.released = true
	if in.current != nil {
		_ = in.current.Stop()
		err := in.current.Release()
		in.current = nil
		if err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "audioinput.release", err)
		}
	}
	return nil
}

// Mute sets or clears the mute flag; muted output frames are still pulled
// from the source (to keep timestamps continuous) but zeroed by the caller.
func (in *Input) Mute(muted bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.muted = muted
}

// IsMuted reports the current mute flag.
func (in *Input) IsMuted() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.muted
}

// IsStreaming reports whether start_stream has run without a matching
// stop_stream.
func (in *Input) IsStreaming() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.streaming
}

// DeviceID exposes the current source's exclusive-device identity for I7
// enforcement during a source swap.
func (in *Input) DeviceID() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current == nil {
		return ""
	}
	return in.current.DeviceID()
}

// GetAudioFrame pulls one capture period of samples from the current
// source. The caller must close the returned frame before the next call to
// avoid pool exhaustion (spec §4.2).
func (in *Input) GetAudioFrame(ctx context.Context, pool FramePool) (*corepipe.RawFrame, error) {
	in.mu.Lock()
	src := in.current
	in.mu.Unlock()

	if src == nil {
		return nil, corepipeerrors.New(corepipeerrors.Config, "audioinput.get-audio-frame", nil)
	}
	frame, err := src.GetFrame(ctx, pool)
	if err != nil {
		return nil, corepipeerrors.New(corepipeerrors.Io, "audioinput.get-audio-frame", err)
	}
	return frame, nil
}

// QueueAudioFrame implements the push interface: when the source pushes and
// N outputs consume, the input fans the buffer out to N-1 duplicated
// consumers and the last gets the original; a shared close-counter releases
// the underlying buffer once every consumer has closed its copy.
func (in *Input) QueueAudioFrame(data []byte, pts int64, outputs int, release func([]byte)) []*corepipe.RawFrame {
	if outputs <= 0 {
		return nil
	}
	return corepipe.FanOutRawFrame(data, pts, outputs, release)
}

// AddEffect registers an effect scoped to the current source's lifecycle.
func (in *Input) AddEffect(id EffectID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.effects[id] = struct{}{}
}

// RemoveEffect deregisters an effect.
func (in *Input) RemoveEffect(id EffectID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.effects, id)
}

// Effects lists active effect ids.
func (in *Input) Effects() []EffectID {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]EffectID, 0, len(in.effects))
	for id := range in.effects {
		out = append(out, id)
	}
	return out
}

// MarkPreviewActive records that a live preview consumer still holds the
// current source, deferring its release on the next SetSource call.
func (in *Input) MarkPreviewActive(active bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.previewActive = active
}
