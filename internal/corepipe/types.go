// Package corepipe holds the data types shared across every pipeline stage:
// raw and encoded frame carriers, container packets, stream/endpoint
// descriptors, and the source/codec configuration types the orchestrator
// joins across outputs.
package corepipe

import "sync/atomic"

// StreamId is assigned by the endpoint when a stream is added and stays
// stable until stopStream. Multiple muxers may remap it to internal track
// numbers; the endpoint always preserves the outward id.
type StreamId int

// MediaType distinguishes audio and video tracks throughout the pipeline.
type MediaType int

const (
	MediaAudio MediaType = iota
	MediaVideo
)

func (m MediaType) String() string {
	if m == MediaVideo {
		return "video"
	}
	return "audio"
}

// ByteFormat names an audio sample's in-memory layout.
type ByteFormat int

const (
	BytesPCM16LE ByteFormat = iota
	BytesPCM32Float
)

// RawFrame is an opaque byte buffer plus a monotonic presentation timestamp
// (microseconds) and a close callback. It is produced by a source, owned by
// exactly one consumer at a time, and must be closed exactly once (I1):
// double-close is a no-op that does not propagate.
type RawFrame struct {
	Data      []byte
	Pts       int64
	closeOnce atomic.Bool
	onClose   func([]byte)
}

// NewRawFrame wraps data with a close callback, typically the buffer pool's
// Put for the class the data was allocated from.
func NewRawFrame(data []byte, pts int64, onClose func([]byte)) *RawFrame {
	return &RawFrame{Data: data, Pts: pts, onClose: onClose}
}

// Close releases the underlying buffer. Safe to call more than once: only
// the first call runs the callback (I1).
func (f *RawFrame) Close() {
	if f.closeOnce.CompareAndSwap(false, true) {
		if f.onClose != nil {
			f.onClose(f.Data)
		}
	}
}

// sharedCloseCounter backs the push-fan-out duplication contract of C3:
// queue_audio_frame hands the first N-1 consumers a duplicated buffer
// reference and the last consumer the original; the underlying buffer is
// released only once every consumer has closed its copy.
type sharedCloseCounter struct {
	remaining atomic.Int32
	release   func([]byte)
	data      []byte
}

// FanOutRawFrame duplicates a RawFrame's buffer reference across n
// consumers so each can close its copy independently; the real buffer is
// released once all n copies have been closed.
func FanOutRawFrame(data []byte, pts int64, n int, release func([]byte)) []*RawFrame {
	if n <= 0 {
		return nil
	}
	counter := &sharedCloseCounter{data: data, release: release}
	counter.remaining.Store(int32(n))
	frames := make([]*RawFrame, n)
	for i := 0; i < n; i++ {
		frames[i] = NewRawFrame(data, pts, func([]byte) {
			if counter.remaining.Add(-1) == 0 && counter.release != nil {
				counter.release(counter.data)
			}
		})
	}
	return frames
}

// Frame is an encoded access unit: payload bytes, timestamps, the key-frame
// flag, an ordered list of codec-specific-data buffers, and a mime tag.
//
// I2: for video, Frame.IsKeyFrame == false implies len(Csd) == 0; every
// audio frame carries a non-empty Csd. Buffers are shared-read only between
// the encoder that produced them and the muxer that consumes them.
type Frame struct {
	Data       []byte
	Pts        int64
	Dts        int64
	HasDts     bool
	IsKeyFrame bool
	Csd        [][]byte
	Mime       string
	Media      MediaType
	Stream     StreamId
}

// Packet is the muxer's output unit and the sink's input unit: container-
// ready bytes tagged with frame-boundary markers and a timestamp.
type Packet struct {
	Data         []byte
	IsFirstOfAU  bool
	IsLastOfAU   bool
	TimestampUs  int64
	Stream       StreamId
}

// DynamicRangeProfile pairs a color-space and transfer-function tag with an
// is_hdr flag. SDR is the default; switching HDR<->SDR forces compositor
// reconstruction.
type DynamicRangeProfile struct {
	ColorSpace string
	Transfer   string
	IsHDR      bool
}

// SDRProfile is the default dynamic-range profile.
var SDRProfile = DynamicRangeProfile{ColorSpace: "bt709", Transfer: "sdr", IsHDR: false}

// Covers reports whether p strictly covers other under the orchestrator's
// join rule: HDR strictly covers SDR, HDR10 strictly covers HLG10, and a
// profile always covers itself.
func (p DynamicRangeProfile) Covers(other DynamicRangeProfile) bool {
	if p == other {
		return true
	}
	if p.IsHDR && !other.IsHDR {
		return true
	}
	if p.IsHDR && other.IsHDR && p.Transfer == "hdr10" && other.Transfer == "hlg10" {
		return true
	}
	return false
}

// SourceConfig is the minimum-covering configuration across all connected
// outputs of one media type. The pipeline computes it as a join over every
// output's declared SourceConfig (covering rule in spec §4.7).
type SourceConfig struct {
	Media MediaType

	// Audio fields.
	SampleRateHz int
	Channels     int
	Format       ByteFormat

	// Video fields.
	Width, Height int
	FPS           int
	DynamicRange  DynamicRangeProfile
}

// CompatibleWith reports whether two configs are compatible, used by the orchestrator's
// compatibility check (equality on channel/sample/format for audio;
// equality on fps/dynamic-range for video — resolution need not match
// since the compositor scales).
func (s SourceConfig) CompatibleWith(other SourceConfig) bool {
	if s.Media != other.Media {
		return false
	}
	if s.Media == MediaAudio {
		return s.SampleRateHz == other.SampleRateHz && s.Channels == other.Channels && s.Format == other.Format
	}
	return s.FPS == other.FPS && s.DynamicRange == other.DynamicRange
}

// JoinAudio computes the minimum-covering audio SourceConfig across outputs:
// the maximum channel count, maximum sample rate, and widest byte format.
func JoinAudio(configs []SourceConfig) SourceConfig {
	out := SourceConfig{Media: MediaAudio}
	for _, c := range configs {
		if c.Channels > out.Channels {
			out.Channels = c.Channels
		}
		if c.SampleRateHz > out.SampleRateHz {
			out.SampleRateHz = c.SampleRateHz
		}
		if widestByteFormat(c.Format, out.Format) == c.Format {
			out.Format = c.Format
		}
	}
	return out
}

func widestByteFormat(a, b ByteFormat) ByteFormat {
	// PCM32Float is wider than PCM16LE; ties keep b.
	if a == BytesPCM32Float || b == BytesPCM32Float {
		return BytesPCM32Float
	}
	return b
}

// JoinVideo computes the minimum-covering video SourceConfig: maximum
// resolution by pixel count, maximum fps, and the strictest dynamic-range
// profile across outputs.
func JoinVideo(configs []SourceConfig) SourceConfig {
	out := SourceConfig{Media: MediaVideo, DynamicRange: SDRProfile}
	for _, c := range configs {
		if c.Width*c.Height > out.Width*out.Height {
			out.Width, out.Height = c.Width, c.Height
		}
		if c.FPS > out.FPS {
			out.FPS = c.FPS
		}
		if c.DynamicRange.Covers(out.DynamicRange) {
			out.DynamicRange = c.DynamicRange
		}
	}
	return out
}

// CodecConfig is a SourceConfig plus the codec parameters an encoder needs:
// mime type, target bitrate, profile/level, and key-frame interval.
//
// Csd optionally supplies audio codec-specific-data (AAC AudioSpecificConfig,
// Opus identification header) up front, for sessions that hand CSD to the
// caller out of band instead of through a codec-config buffer. When nil, the
// encoder wrapper derives it from SampleRateHz/Channels/Mime (I2).
type CodecConfig struct {
	SourceConfig
	Mime            string
	BitrateBps      int
	Profile         string
	Level           string
	KeyFrameIntvSec float64
	Csd             [][]byte
}

// AspectMode is the closed enum governing how a compositor output fits the
// source frame into its viewport.
type AspectMode int

const (
	AspectPreserve AspectMode = iota
	AspectStretch
	AspectCrop
)

// Rotation is the quantised output rotation in degrees; only multiples of
// 90 are valid. NormalizeRotation rounds an arbitrary integer to the
// nearest one.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// NormalizeRotation rounds degrees to the nearest multiple of 90, wrapped
// into [0, 360).
func NormalizeRotation(degrees int) Rotation {
	d := degrees % 360
	if d < 0 {
		d += 360
	}
	rounded := ((d + 45) / 90) * 90 % 360
	return Rotation(rounded)
}

// Transform holds a single output's orientation parameters, updated in
// place by set_target_rotation and picked up on the compositor's next
// frame.
type Transform struct {
	Rotation    Rotation
	AspectMode  AspectMode
	MirrorX     bool
	CropRect    [4]float32 // x, y, w, h in normalized [0,1] source coordinates; zero value means full frame
}

// SurfaceHandle is an opaque reference to a platform window/texture surface.
// The real GPU object lives behind whatever Renderer implementation the
// host process injects; the pipeline only ever threads the handle through.
type SurfaceHandle any

// SurfaceOutput is one compositor output: a consumer surface handle, its
// target resolution, transform, and an is-streaming callback. Added by the
// pipeline per output; removed before that output is released.
type SurfaceOutput struct {
	ID            OutputId
	Surface       SurfaceHandle
	TargetWidth   int
	TargetHeight  int
	Transform     Transform
	IsStreaming   func() bool
}

// OutputId is a stable identifier handed out at add_output, replacing
// reference-identity map keys so removal is race-free (spec §9 design
// note).
type OutputId uint64

// SurfaceInput is the single producer surface feeding the compositor, with
// its monotonic timestamp offset in nanoseconds and pixel dimensions. One
// per active video source. Width/Height feed the per-output aspect-ratio
// fit (spec §4.3 step 3); zero means "unknown", which disables aspect
// adjustment for outputs fed by this input.
type SurfaceInput struct {
	Producer          SurfaceHandle
	TimestampOffsetNs int64
	Width, Height     int
}

// PendingSnapshot is a single in-flight snapshot request: the rotation to
// apply and the future its result completes.
type PendingSnapshot struct {
	RotationDegrees int
	Done            chan SnapshotResult
}

// SnapshotResult is delivered to a PendingSnapshot's Done channel exactly
// once: either the captured RGBA image or an error (compositor I/O
// failures fail every pending snapshot of that tick together).
type SnapshotResult struct {
	Width, Height int
	RGBA          []byte
	Err           error
}

// EndpointKind tags which destination an EndpointDescriptor names.
type EndpointKind int

const (
	EndpointFile EndpointKind = iota
	EndpointContent
	EndpointSRT
	EndpointRTMP
)

// EndpointDescriptor is the tagged union of every sink destination this
// library knows how to open. Only the fields of its Kind are meaningful.
type EndpointDescriptor struct {
	Kind EndpointKind

	// File
	Path string

	// Content
	URI string

	// SRT
	SRTHost             string
	SRTPort             int
	SRTStreamID         string
	SRTPassphrase       string
	SRTLatencyMs        int
	SRTConnectTimeoutMs int

	// RTMP
	RTMPURL string
}
