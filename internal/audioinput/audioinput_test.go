package audioinput

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/livecore/internal/corepipe"
)

type fakePool struct{}

func (fakePool) Get(size int) []byte { return make([]byte, size) }

type fakeSource struct {
	variant    SourceVariant
	deviceID   string
	configured corepipe.SourceConfig
	started    bool
	stopped    bool
	released   bool
}

func (f *fakeSource) Variant() SourceVariant { return f.variant }
func (f *fakeSource) Configure(cfg corepipe.SourceConfig) error {
	f.configured = cfg
	return nil
}
func (f *fakeSource) Start() error   { f.started = true; return nil }
func (f *fakeSource) Stop() error    { f.stopped = true; return nil }
func (f *fakeSource) Release() error { f.released = true; return nil }
func (f *fakeSource) GetFrame(ctx context.Context, pool FramePool) (*corepipe.RawFrame, error) {
	return corepipe.NewRawFrame(pool.Get(4), 1000, nil), nil
}
func (f *fakeSource) DeviceID() string { return f.deviceID }

func TestInput_SetSourceConfig_RefusedWhileStreaming(t *testing.T) {
	in := New()
	src := &fakeSource{}
	require.NoError(t, in.SetSource(func() (Source, error) { return src, nil }))
	require.NoError(t, in.StartStream())

	err := in.SetSourceConfig(corepipe.SourceConfig{Media: corepipe.MediaAudio, SampleRateHz: 48000})
	assert.Error(t, err)
}

func TestInput_SetSourceConfig_SameTwiceIsNoOp(t *testing.T) {
	in := New()
	src := &fakeSource{}
	require.NoError(t, in.SetSource(func() (Source, error) { return src, nil }))

	cfg := corepipe.SourceConfig{Media: corepipe.MediaAudio, SampleRateHz: 48000, Channels: 2}
	require.NoError(t, in.SetSourceConfig(cfg))
	require.NoError(t, in.SetSourceConfig(cfg))
	assert.Equal(t, cfg, src.configured)
}

func TestInput_StartStopStream_Idempotent(t *testing.T) {
	in := New()
	src := &fakeSource{}
	require.NoError(t, in.SetSource(func() (Source, error) { return src, nil }))

	require.NoError(t, in.StartStream())
	require.NoError(t, in.StartStream())
	assert.True(t, in.IsStreaming())

	require.NoError(t, in.StopStream())
	require.NoError(t, in.StopStream())
	assert.False(t, in.IsStreaming())
}

func TestInput_Release_StopsAndReleasesSource(t *testing.T) {
	in := New()
	src := &fakeSource{}
	require.NoError(t, in.SetSource(func() (Source, error) { return src, nil }))
	require.NoError(t, in.StartStream())

	require.NoError(t, in.Release())
	assert.True(t, src.stopped)
	assert.True(t, src.released)

	// Second release is a no-op.
	require.NoError(t, in.Release())
}

func TestInput_QueueAudioFrame_FanOutReleasesOnce(t *testing.T) {
	in := New()
	released := 0
	frames := in.QueueAudioFrame([]byte{1, 2, 3}, 100, 3, func([]byte) { released++ })
	require.Len(t, frames, 3)
	for _, f := range frames {
		f.Close()
	}
	assert.Equal(t, 1, released)
}

func TestInput_GetAudioFrame(t *testing.T) {
	in := New()
	src := &fakeSource{}
	require.NoError(t, in.SetSource(func() (Source, error) { return src, nil }))

	frame, err := in.GetAudioFrame(context.Background(), fakePool{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), frame.Pts)
	frame.Close()
}

func TestInput_Effects(t *testing.T) {
	in := New()
	id := uuid.New()
	in.AddEffect(id)
	assert.Contains(t, in.Effects(), id)
	in.RemoveEffect(id)
	assert.NotContains(t, in.Effects(), id)
}
