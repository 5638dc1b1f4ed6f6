package pipeline

import (
	"sync"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/encoder"
	"github.com/streamhub/livecore/internal/endpoint"
	"github.com/streamhub/livecore/internal/sink"
)

// OutputSpec describes one pipeline output: an optional audio track, an
// optional video track, and either a muxer+endpoint pair or a raw sink that
// receives encoded bytes directly without container framing (spec §4.7's
// "tuple (audio? encoder, video? encoder, endpoint) or a raw callback
// sink"). At least one of AudioConfig/VideoConfig must be set, and exactly
// one of (Mux and Endpoint) or Raw.
type OutputSpec struct {
	AudioConfig  *corepipe.CodecConfig
	AudioEncoder *encoder.Encoder

	VideoConfig  *corepipe.CodecConfig
	VideoEncoder *encoder.Encoder
	// TargetWidth/TargetHeight/Transform describe this output's compositor
	// surface when VideoConfig is set; ignored otherwise.
	TargetWidth  int
	TargetHeight int
	Transform    corepipe.Transform

	Mux      Muxer
	Endpoint *endpoint.Endpoint

	Raw           sink.Sink
	RawDescriptor corepipe.EndpointDescriptor
}

// output is the orchestrator's runtime view of one OutputSpec: the stream
// ids a muxer assigned, whether its init segment has been emitted yet, and
// whether it is currently streaming. Its own mutex guards this runtime
// state independent of the pipeline-outputs-map mutex (spec §5: "per-input
// mutexes").
type output struct {
	id   corepipe.OutputId
	spec OutputSpec

	mu                sync.Mutex
	streaming         bool
	muxerStarted      bool
	surfaceRegistered bool
	audioStream       corepipe.StreamId
	videoStream       corepipe.StreamId
}

// IsStreaming reports the output's current streaming state; it also serves
// as the compositor SurfaceOutput.IsStreaming callback for video outputs.
func (o *output) IsStreaming() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.streaming
}

func (o *output) usesMedia(media corepipe.MediaType) bool {
	if media == corepipe.MediaAudio {
		return o.spec.AudioConfig != nil
	}
	return o.spec.VideoConfig != nil
}
