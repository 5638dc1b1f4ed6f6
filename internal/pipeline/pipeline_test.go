package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamhub/livecore/internal/audioinput"
	"github.com/streamhub/livecore/internal/compositor"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/encoder"
	"github.com/streamhub/livecore/internal/endpoint"
	"github.com/streamhub/livecore/internal/sink"
)

type fakeSession struct {
	mu      sync.Mutex
	opened  corepipe.CodecConfig
	surface corepipe.SurfaceHandle
}

func (s *fakeSession) Open(cfg corepipe.CodecConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = cfg
	return nil
}
func (s *fakeSession) CreateInputSurface() (corepipe.SurfaceHandle, error) { return "surface", nil }
func (s *fakeSession) SetBitrate(int) error                                { return nil }
func (s *fakeSession) SignalEndOfInput() error                             { return nil }
func (s *fakeSession) Close() error                                        { return nil }

type fakeMuxer struct {
	mu      sync.Mutex
	added   []corepipe.CodecConfig
	started bool
	csd     map[corepipe.StreamId][][]byte
	writes  []corepipe.Frame
	stopped bool
}

func (m *fakeMuxer) AddStream(cfg corepipe.CodecConfig) (corepipe.StreamId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, cfg)
	return corepipe.StreamId(len(m.added)), nil
}
func (m *fakeMuxer) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}
func (m *fakeMuxer) Write(f corepipe.Frame, _ corepipe.StreamId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, f)
	return nil
}
func (m *fakeMuxer) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}
func (m *fakeMuxer) SetCsd(stream corepipe.StreamId, csd [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.csd == nil {
		m.csd = make(map[corepipe.StreamId][][]byte)
	}
	m.csd[stream] = csd
}

func (m *fakeMuxer) snapshot() (started, stopped bool, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped, len(m.writes)
}

type fakeRenderer struct{}

func (fakeRenderer) SampleExternalTexture() (compositor.Matrix4, error) {
	return compositor.Matrix4{}, nil
}
func (fakeRenderer) DrawToOutput(corepipe.SurfaceHandle, compositor.Matrix4, int64) error { return nil }
func (fakeRenderer) RenderSnapshot(compositor.Matrix4, int, int) ([]byte, error)          { return nil, nil }
func (fakeRenderer) DestroyContext()                                                     {}

func audioCodecCfg() corepipe.CodecConfig {
	return corepipe.CodecConfig{
		SourceConfig: corepipe.SourceConfig{Media: corepipe.MediaAudio, SampleRateHz: 48000, Channels: 2},
		Mime:         "audio/opus",
	}
}

func videoCodecCfg() corepipe.CodecConfig {
	return corepipe.CodecConfig{
		SourceConfig: corepipe.SourceConfig{Media: corepipe.MediaVideo, Width: 1280, Height: 720, FPS: 30},
		Mime:         "video/avc",
	}
}

func TestAddOutput_RejectsEmptySpec(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	_, err := p.AddOutput(OutputSpec{})
	require.Error(t, err)
}

func TestAddOutput_RejectsAudioConfigWithoutEncoder(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	cfg := audioCodecCfg()
	_, err := p.AddOutput(OutputSpec{AudioConfig: &cfg, Raw: sink.NewDiscardSink()})
	require.Error(t, err)
}

func TestAddOutput_RejectsBothMuxAndRaw(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	cfg := audioCodecCfg()
	mux := &fakeMuxer{}
	ep := endpoint.New([]sink.Sink{sink.NewDiscardSink()}, []corepipe.EndpointDescriptor{{}}, nil)
	_, err := p.AddOutput(OutputSpec{
		AudioConfig:  &cfg,
		AudioEncoder: encoder.New(&fakeSession{}, false, nil),
		Mux:          mux,
		Endpoint:     ep,
		Raw:          sink.NewDiscardSink(),
	})
	require.Error(t, err)
}

func TestPipeline_StartStream_AudioOnlyOutput_WritesThroughMuxer(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	require.NoError(t, setUpSource(p))

	cfg := audioCodecCfg()
	mux := &fakeMuxer{}
	discard := sink.NewDiscardSink()
	ep := endpoint.New([]sink.Sink{discard}, []corepipe.EndpointDescriptor{{Kind: corepipe.EndpointFile}}, nil)
	enc := encoder.New(&fakeSession{}, false, nil)

	id, err := p.AddOutput(OutputSpec{AudioConfig: &cfg, AudioEncoder: enc, Mux: mux, Endpoint: ep})
	require.NoError(t, err)

	require.NoError(t, p.StartStream())
	require.True(t, discard.IsOpened())

	enc.HandleOutput(encoder.EncodedOutput{Data: []byte{1, 2, 3}, IsKeyFrame: true}, corepipe.MediaAudio, corepipe.StreamId(1))
	started, stopped, writes := mux.snapshot()
	require.True(t, started)
	require.False(t, stopped)
	require.Equal(t, 1, writes)

	require.NoError(t, p.StopStream())
	_, stopped, _ = mux.snapshot()
	require.True(t, stopped)

	_ = id
}

func TestPipeline_StartStream_RawOutput_WritesDirectlyToSink(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	require.NoError(t, setUpSource(p))
	cfg := audioCodecCfg()
	enc := encoder.New(&fakeSession{}, false, nil)
	discard := sink.NewDiscardSink()

	_, err := p.AddOutput(OutputSpec{AudioConfig: &cfg, AudioEncoder: enc, Raw: discard})
	require.NoError(t, err)
	require.NoError(t, p.StartStream())

	enc.HandleOutput(encoder.EncodedOutput{Data: make([]byte, 10), IsKeyFrame: true}, corepipe.MediaAudio, corepipe.StreamId(1))
	require.Eventually(t, func() bool { return discard.BytesWritten() == 10 }, time.Second, time.Millisecond)
}

func TestPipeline_ReactiveStop_OnlyStopsInputWhenNoSiblingStreaming(t *testing.T) {
	audio := audioinput.New()
	p := New(audio, nil, nil)
	require.NoError(t, audio.SetSource(func() (audioinput.Source, error) { return &fakeAudioSource{}, nil }))

	cfg1, cfg2 := audioCodecCfg(), audioCodecCfg()
	enc1 := encoder.New(&fakeSession{}, false, nil)
	enc2 := encoder.New(&fakeSession{}, false, nil)

	id1, err := p.AddOutput(OutputSpec{AudioConfig: &cfg1, AudioEncoder: enc1, Raw: sink.NewDiscardSink()})
	require.NoError(t, err)
	id2, err := p.AddOutput(OutputSpec{AudioConfig: &cfg2, AudioEncoder: enc2, Raw: sink.NewDiscardSink()})
	require.NoError(t, err)

	require.NoError(t, p.StartStream())
	require.True(t, audio.IsStreaming())

	require.NoError(t, p.RemoveOutput(id1))
	require.True(t, audio.IsStreaming(), "sibling output still streaming, input must stay up")

	require.NoError(t, p.RemoveOutput(id2))
	require.False(t, audio.IsStreaming(), "no streaming outputs left, input must stop")
}

func TestPipeline_SetTargetRotation_UpdatesOutputTransform(t *testing.T) {
	video := compositor.New(fakeRenderer{}, nil)
	p := New(nil, video, nil)

	cfg := videoCodecCfg()
	enc := encoder.New(&fakeSession{}, false, nil)
	id, err := p.AddOutput(OutputSpec{VideoConfig: &cfg, VideoEncoder: enc, Raw: sink.NewDiscardSink()})
	require.NoError(t, err)

	require.NoError(t, p.SetTargetRotation(id, corepipe.Rotate90))

	p.mu.Lock()
	o := p.outputs[id]
	p.mu.Unlock()
	o.mu.Lock()
	rotation := o.spec.Transform.Rotation
	o.mu.Unlock()
	require.Equal(t, corepipe.Rotate90, rotation)
}

func TestPipeline_Release_IsIdempotentAndClosesErrorChannel(t *testing.T) {
	p := New(audioinput.New(), nil, nil)
	cfg := audioCodecCfg()
	enc := encoder.New(&fakeSession{}, false, nil)
	_, err := p.AddOutput(OutputSpec{AudioConfig: &cfg, AudioEncoder: enc, Raw: sink.NewDiscardSink()})
	require.NoError(t, err)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())

	_, open := <-p.ErrorChannel()
	require.False(t, open)

	_, err = p.AddOutput(OutputSpec{AudioConfig: &cfg, AudioEncoder: enc, Raw: sink.NewDiscardSink()})
	require.Error(t, err)
}

// setUpSource attaches a minimal silence-like source so audioinput.Input
// has something to configure/start against.
func setUpSource(p *Pipeline) error {
	return p.audio.SetSource(func() (audioinput.Source, error) { return &fakeAudioSource{}, nil })
}

type fakeAudioSource struct{}

func (fakeAudioSource) Variant() audioinput.SourceVariant     { return audioinput.SourceSilence }
func (fakeAudioSource) Configure(corepipe.SourceConfig) error { return nil }
func (fakeAudioSource) Start() error                          { return nil }
func (fakeAudioSource) Stop() error                           { return nil }
func (fakeAudioSource) Release() error                        { return nil }
func (fakeAudioSource) DeviceID() string                      { return "" }
func (fakeAudioSource) GetFrame(ctx context.Context, pool audioinput.FramePool) (*corepipe.RawFrame, error) {
	return nil, nil
}
