package compositor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamhub/livecore/internal/corepipe"
)

type drawCall struct {
	output corepipe.SurfaceHandle
	matrix Matrix4
	pts    int64
}

type fakeRenderer struct {
	draws      []drawCall
	destroyed  bool
	failDraw   corepipe.SurfaceHandle
	snapshot   []byte
	snapErr    error
	sampleErr  error
}

func (f *fakeRenderer) SampleExternalTexture() (Matrix4, error) {
	if f.sampleErr != nil {
		return Matrix4{}, f.sampleErr
	}
	var m Matrix4
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	return m, nil
}

func (f *fakeRenderer) DrawToOutput(output corepipe.SurfaceHandle, matrix Matrix4, ptsNs int64) error {
	if f.failDraw != nil && output == f.failDraw {
		return assert.AnError
	}
	f.draws = append(f.draws, drawCall{output: output, matrix: matrix, pts: ptsNs})
	return nil
}

func (f *fakeRenderer) RenderSnapshot(matrix Matrix4, width, height int) ([]byte, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.snapshot, nil
}

func (f *fakeRenderer) DestroyContext() { f.destroyed = true }

func streamingTrue() bool { return true }
func streamingFalse() bool { return false }

func TestCompositor_DrawsOnlyStreamingOutputs(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)

	c.AddOutput(corepipe.SurfaceOutput{ID: 1, Surface: "surf-1", IsStreaming: streamingTrue})
	c.AddOutput(corepipe.SurfaceOutput{ID: 2, Surface: "surf-2", IsStreaming: streamingFalse})

	c.OnProducerFrame(1000, 0)

	require.Len(t, r.draws, 1)
	assert.Equal(t, "surf-1", r.draws[0].output)
}

func TestCompositor_SwapFailureUnregistersOutput(t *testing.T) {
	r := &fakeRenderer{failDraw: "bad-surf"}
	c := New(r, nil)

	c.AddOutput(corepipe.SurfaceOutput{ID: 1, Surface: "bad-surf", IsStreaming: streamingTrue})
	c.OnProducerFrame(1000, 0)
	assert.Empty(t, r.draws)

	c.OnProducerFrame(2000, 0)
	assert.Empty(t, r.draws, "unregistered output must not be drawn to again")
}

func TestCompositor_SnapshotDeliveredOnNextFrame(t *testing.T) {
	r := &fakeRenderer{snapshot: []byte{1, 2, 3, 4}}
	c := New(r, nil)
	c.AddOutput(corepipe.SurfaceOutput{ID: 1, Surface: "surf-1", IsStreaming: streamingTrue})

	done := c.RequestSnapshot(90)
	c.OnProducerFrame(500, 0)

	select {
	case result := <-done:
		require.NoError(t, result.Err)
		assert.Equal(t, []byte{1, 2, 3, 4}, result.RGBA)
	case <-time.After(time.Second):
		t.Fatal("snapshot never delivered")
	}
}

func TestCompositor_SnapshotFailsWithNoStreamingOutput(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	c.AddOutput(corepipe.SurfaceOutput{ID: 1, Surface: "surf-1", IsStreaming: streamingFalse})

	done := c.RequestSnapshot(0)
	c.OnProducerFrame(500, 0)

	result := <-done
	assert.Error(t, result.Err)
}

func TestCompositor_ReleaseIsDeferredUntilInputsRemoved(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	input := corepipe.SurfaceInput{Producer: "prod-1"}
	c.AddInput(input)

	c.Release()
	assert.False(t, r.destroyed, "teardown must wait for the last input to be removed")

	c.RemoveInput(input)
	assert.True(t, r.destroyed)
}

func TestCompositor_ReleaseIsIdempotent(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	c.Release()
	c.Release()
	assert.True(t, r.destroyed)
}

func TestCompositor_SetTargetRotationAppliesOnNextFrame(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	c.AddOutput(corepipe.SurfaceOutput{ID: 1, Surface: "surf-1", IsStreaming: streamingTrue})

	c.SetTargetRotation(1, corepipe.Rotate90)
	c.OnProducerFrame(1000, 0)

	require.Len(t, r.draws, 1)
	// A 90-degree rotation swaps and negates the upper-left 2x2 block.
	assert.NotEqual(t, float32(1), r.draws[0].matrix[0])
}

func TestCompositor_AspectCropNarrowsWiderSourceHorizontally(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	c.AddInput(corepipe.SurfaceInput{Producer: "prod-1", Width: 1920, Height: 1080})
	c.AddOutput(corepipe.SurfaceOutput{
		ID: 1, Surface: "surf-1", IsStreaming: streamingTrue,
		TargetWidth: 1080, TargetHeight: 1080,
		Transform: corepipe.Transform{AspectMode: corepipe.AspectCrop},
	})

	c.OnProducerFrame(1000, 0)

	require.Len(t, r.draws, 1)
	m := r.draws[0].matrix
	assert.InDelta(t, float32(1080.0/1920.0), m[0], 1e-6, "16:9 source cropped to a 1:1 target must narrow the horizontal sample range")
	assert.Equal(t, float32(1), m[5], "vertical sample range is untouched when cropping the horizontal axis")
}

func TestCompositor_CropRectScalesSampleRange(t *testing.T) {
	r := &fakeRenderer{}
	c := New(r, nil)
	c.AddOutput(corepipe.SurfaceOutput{
		ID: 1, Surface: "surf-1", IsStreaming: streamingTrue,
		Transform: corepipe.Transform{CropRect: [4]float32{0.25, 0.1, 0.5, 0.5}},
	})

	c.OnProducerFrame(1000, 0)

	require.Len(t, r.draws, 1)
	m := r.draws[0].matrix
	assert.Equal(t, float32(0.5), m[0])
	assert.Equal(t, float32(0.5), m[5])
	assert.Equal(t, float32(0.25), m[12])
	assert.InDelta(t, float32(0.1), m[13], 1e-6)
}

func TestRotate90_FourTimesIsIdentity(t *testing.T) {
	var m Matrix4
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
	got := m
	for i := 0; i < 4; i++ {
		got = rotate90(got)
	}
	assert.Equal(t, m, got)
}
