// Package flv implements the FLV muxer (C7): header, onMetaData script
// tag, and a sequence of audio/video tags each trailed by its own
// previous-tag-size field, per spec §4.5.3.
package flv

import (
	"encoding/binary"
	"sync"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

const (
	tagTypeAudio  = 8
	tagTypeVideo  = 9
	tagTypeScript = 18

	videoCodecAVC = 7
	soundFormatAAC = 10
)

type track struct {
	id    corepipe.StreamId
	media corepipe.MediaType
	cfg   corepipe.CodecConfig
	// sentSeqHeader tracks whether the AVCDecoderConfigurationRecord /
	// AudioSpecificConfig sequence header tag has been emitted yet.
	sentSeqHeader bool
}

// Muxer is the FLV container writer.
type Muxer struct {
	mu sync.Mutex

	tracks   []*track
	byStream map[corepipe.StreamId]*track
	started  bool
	onPacket func(corepipe.Packet)
}

// New creates an empty FLV muxer.
func New(onPacket func(corepipe.Packet)) *Muxer {
	return &Muxer{byStream: make(map[corepipe.StreamId]*track), onPacket: onPacket}
}

// AddStream registers a track.
func (m *Muxer) AddStream(cfg corepipe.CodecConfig) (corepipe.StreamId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return 0, corepipeerrors.New(corepipeerrors.Config, "flv.add-stream", nil)
	}
	id := corepipe.StreamId(len(m.tracks) + 1)
	t := &track{id: id, media: cfg.Media, cfg: cfg}
	m.tracks = append(m.tracks, t)
	m.byStream[id] = t
	return id, nil
}

// AddStreams registers every config in order.
func (m *Muxer) AddStreams(cfgs []corepipe.CodecConfig) (map[int]corepipe.StreamId, error) {
	out := make(map[int]corepipe.StreamId, len(cfgs))
	for i, cfg := range cfgs {
		id, err := m.AddStream(cfg)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// StartStream emits the FLV header and the onMetaData script tag.
func (m *Muxer) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if len(m.tracks) == 0 {
		return corepipeerrors.New(corepipeerrors.Config, "flv.start-stream", nil)
	}
	m.started = true

	var out []byte
	out = append(out, m.buildHeader()...)
	out = append(out, m.buildTag(tagTypeScript, 0, m.buildOnMetaData())...)
	m.deliver(out)
	return nil
}

func (m *Muxer) buildHeader() []byte {
	flags := byte(0)
	for _, t := range m.tracks {
		if t.media == corepipe.MediaAudio {
			flags |= 0x04
		} else {
			flags |= 0x01
		}
	}
	header := []byte{'F', 'L', 'V', 0x01, flags, 0x00, 0x00, 0x00, 0x09}
	var prevTagSize [4]byte // PreviousTagSize0 = 0
	return append(header, prevTagSize[:]...)
}

func (m *Muxer) buildOnMetaData() []byte {
	var width, height, fps float64
	var hasAudio, hasVideo bool
	for _, t := range m.tracks {
		if t.media == corepipe.MediaVideo {
			width, height, fps = float64(t.cfg.Width), float64(t.cfg.Height), float64(t.cfg.FPS)
			hasVideo = true
		} else {
			hasAudio = true
		}
	}
	var props []amf0Property
	if hasVideo {
		props = append(props,
			amf0Property{Key: "width", Value: encodeAMF0Number(width)},
			amf0Property{Key: "height", Value: encodeAMF0Number(height)},
			amf0Property{Key: "framerate", Value: encodeAMF0Number(fps)},
			amf0Property{Key: "videocodecid", Value: encodeAMF0Number(float64(videoCodecIDFor(m.tracks)))},
		)
	}
	if hasAudio {
		props = append(props, amf0Property{Key: "audiocodecid", Value: encodeAMF0Number(float64(soundFormatAAC))})
	}
	props = append(props, amf0Property{Key: "canSeekToEnd", Value: amf0Bool(false)})

	body := encodeAMF0String("onMetaData")
	body = append(body, amf0ECMAArrayOf(props)...)
	return body
}

func videoCodecIDFor(tracks []*track) int {
	for _, t := range tracks {
		if t.media == corepipe.MediaVideo {
			switch t.cfg.Mime {
			case "video/avc":
				return videoCodecAVC
			default:
				return videoCodecAVC // extended codec IDs are signalled per-tag, not in onMetaData
			}
		}
	}
	return 0
}

// Write serializes one Frame as an FLV tag.
func (m *Muxer) Write(frame corepipe.Frame, stream corepipe.StreamId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return corepipeerrors.New(corepipeerrors.Config, "flv.write", nil)
	}
	t, ok := m.byStream[stream]
	if !ok {
		return corepipeerrors.New(corepipeerrors.Config, "flv.write", nil)
	}

	var out []byte
	timestampMs := frame.Pts / 1000

	if !t.sentSeqHeader && len(frame.Csd) > 0 {
		seq := buildSequenceHeader(t, frame.Csd)
		out = append(out, m.buildTagFor(t, timestampMs, seq)...)
		t.sentSeqHeader = true
	}

	body := buildMediaBody(t, frame)
	out = append(out, m.buildTagFor(t, timestampMs, body)...)

	m.deliver(out)
	return nil
}

func (m *Muxer) buildTagFor(t *track, timestampMs int64, body []byte) []byte {
	if t.media == corepipe.MediaVideo {
		return m.buildTag(tagTypeVideo, timestampMs, body)
	}
	return m.buildTag(tagTypeAudio, timestampMs, body)
}

// buildTag frames one FLV tag: type, 3-byte size, 3+1 byte timestamp,
// 3-byte always-zero stream id, body, 4-byte previous-tag-size trailer
// equal to 11+len(body) (spec §4.5.3, §8.1).
func (m *Muxer) buildTag(tagType byte, timestampMs int64, body []byte) []byte {
	tag := make([]byte, 0, 11+len(body)+4)
	tag = append(tag, tagType)

	var sizeField [4]byte
	binary.BigEndian.PutUint32(sizeField[:], uint32(len(body)))
	tag = append(tag, sizeField[1], sizeField[2], sizeField[3]) // 3-byte data size

	ts := uint32(timestampMs) & 0xFFFFFF
	ext := byte(uint32(timestampMs) >> 24)
	tag = append(tag, byte(ts>>16), byte(ts>>8), byte(ts), ext)

	tag = append(tag, 0x00, 0x00, 0x00) // stream id, always 0
	tag = append(tag, body...)

	var prevSize [4]byte
	binary.BigEndian.PutUint32(prevSize[:], uint32(11+len(body)))
	tag = append(tag, prevSize[:]...)
	return tag
}

// buildSequenceHeader builds the AVCDecoderConfigurationRecord (legacy AVC)
// or AudioSpecificConfig sequence-header body from cached CSD. HEVC/VP9/AV1
// are signalled with the enhanced-RTMP FourCC sequence-start packet type and
// a minimal configuration payload. Every audio track, Opus included, is
// framed with the AAC (SoundFormat 10) tag header; no enhanced-RTMP audio
// signalling is written.
func buildSequenceHeader(t *track, csd [][]byte) []byte {
	if t.media == corepipe.MediaAudio {
		body := []byte{byte(soundFormatAAC<<4) | 0x0F, 0x00} // AAC, 44kHz/16-bit/stereo flags, AACPacketType=0 (seq header)
		if len(csd) > 0 {
			body = append(body, csd[0]...)
		}
		return body
	}
	switch t.cfg.Mime {
	case "video/avc":
		return buildAVCDecoderConfigurationRecord(csd)
	default:
		return buildExtendedVideoSequenceHeader(t.cfg.Mime, csd)
	}
}

// buildAVCDecoderConfigurationRecord assembles the legacy AVCC sequence
// header: frame-type/codec-id byte, AVCPacketType=0, composition time=0,
// then the record itself (configurationVersion, profile, level,
// lengthSizeMinusOne, SPS, PPS).
func buildAVCDecoderConfigurationRecord(csd [][]byte) []byte {
	var sps, pps []byte
	if len(csd) > 0 {
		sps = csd[0]
	}
	if len(csd) > 1 {
		pps = csd[1]
	}

	record := []byte{1} // configurationVersion
	if len(sps) >= 4 {
		record = append(record, sps[1], sps[2], sps[3]) // profile, compat, level
	} else {
		record = append(record, 0, 0, 0)
	}
	record = append(record, 0xFF) // lengthSizeMinusOne=3, reserved bits set
	record = append(record, 0xE1) // reserved | numOfSPS=1
	record = appendU16Len(record, sps)
	record = append(record, 0x01) // numOfPPS=1
	record = appendU16Len(record, pps)

	out := []byte{(1 << 4) | videoCodecAVC, 0x00, 0x00, 0x00, 0x00}
	out = append(out, record...)
	return out
}

func appendU16Len(out, data []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	out = append(out, l[:]...)
	return append(out, data...)
}

// buildExtendedVideoSequenceHeader writes the enhanced-RTMP extended
// header (IsExHeader bit set, FrameType=key, PacketType=SequenceStart)
// followed by the codec's FourCC and the concatenated CSD as a minimal
// configuration payload.
func buildExtendedVideoSequenceHeader(mime string, csd [][]byte) []byte {
	fourCC := fourCCFor(mime)
	out := []byte{0x80 | (1 << 4) | 0x00} // ExHeader=1, FrameType=key(1), PacketType=SequenceStart(0)
	out = append(out, fourCC...)
	for _, c := range csd {
		out = append(out, c...)
	}
	return out
}

func fourCCFor(mime string) []byte {
	switch mime {
	case "video/hevc":
		return []byte("hvc1")
	case "video/vp9":
		return []byte("vp09")
	case "video/av1":
		return []byte("av01")
	default:
		return []byte("avc1")
	}
}

// buildMediaBody builds the per-frame coded-data body: legacy AVC NALU
// framing (4-byte length prefixes) for AVC, extended CodedFrames framing
// for other video codecs, and for audio (Opus included) the raw payload
// behind an AAC tag header with AACPacketType=1.
func buildMediaBody(t *track, frame corepipe.Frame) []byte {
	if t.media == corepipe.MediaAudio {
		body := []byte{byte(soundFormatAAC<<4) | 0x0F, 0x01} // AACPacketType=1 (raw)
		return append(body, frame.Data...)
	}

	frameType := byte(2) // inter frame
	if frame.IsKeyFrame {
		frameType = 1
	}

	if t.cfg.Mime == "video/avc" {
		out := []byte{(frameType << 4) | videoCodecAVC, 0x01, 0x00, 0x00, 0x00} // AVCPacketType=1, composition time=0
		return appendAVCCNALU(out, frame.Data)
	}

	out := []byte{0x80 | (frameType << 4) | 0x01} // ExHeader=1, PacketType=CodedFrames(1)
	out = append(out, fourCCFor(t.cfg.Mime)...)
	out = append(out, 0x00, 0x00, 0x00) // composition time
	return appendAVCCNALU(out, frame.Data)
}

func appendAVCCNALU(out []byte, nalu []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(nalu)))
	out = append(out, l[:]...)
	return append(out, nalu...)
}

func (m *Muxer) deliver(data []byte) {
	if m.onPacket == nil || len(data) == 0 {
		return
	}
	m.onPacket(corepipe.Packet{Data: data, IsFirstOfAU: true, IsLastOfAU: true})
}

// StopStream is a no-op beyond marking the muxer no longer started; FLV
// has no trailing boxes to emit.
func (m *Muxer) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}
