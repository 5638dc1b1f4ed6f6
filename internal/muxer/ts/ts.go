// Package ts implements the MPEG-TS muxer (C7): a pure function of
// (stream configuration, ordered frames) to an ordered sequence of
// corepipe.Packet, per spec §4.5.1. PAT/PMT/SDT cadence, PCR encoding, the
// PID scheme, and the 7-packet delivery batching all follow the wire-format
// rules the spec pins down exactly; NAL framing reuses internal/encoder's
// Annex-B builder, and ADTS headers are built locally (aac.go).
package ts

import (
	"sync"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
	"github.com/streamhub/livecore/internal/encoder"
)

const (
	nPAT          = 40
	nSDT          = 200
	maxBatchSize  = 7
	firstElemPID  = uint16(0x0100)
	pmtPID        = uint16(0x1000)
)

// stream types per spec §4.5.1's supported-encoder list.
const (
	streamTypeAAC  = 0x0F
	streamTypeOpus = 0x06 // carried as private data; no registration descriptor emitted
	streamTypeAVC  = 0x1B
	streamTypeHEVC = 0x24
)

type track struct {
	id         corepipe.StreamId
	pid        uint16
	streamType byte
	media      corepipe.MediaType
	cfg        corepipe.CodecConfig
	cc         uint8
}

// Muxer is the MPEG-TS container writer.
type Muxer struct {
	mu sync.Mutex

	tracks    []*track
	byStream  map[corepipe.StreamId]*track
	nextPID   uint16
	pcrTrack  *track

	started  bool
	tsCount  int
	patCC    uint8
	pmtCC    uint8
	sdtCC    uint8

	batch    [][]byte
	onPacket func(corepipe.Packet)
}

// New creates an empty MPEG-TS muxer. onPacket is invoked for every
// delivered batch of at most 7 TS packets.
func New(onPacket func(corepipe.Packet)) *Muxer {
	return &Muxer{
		byStream: make(map[corepipe.StreamId]*track),
		nextPID:  firstElemPID,
		onPacket: onPacket,
	}
}

// AddStream registers a track and assigns it the next sequential PID.
func (m *Muxer) AddStream(cfg corepipe.CodecConfig) (corepipe.StreamId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return 0, corepipeerrors.New(corepipeerrors.Config, "ts.add-stream", nil)
	}
	streamType, err := streamTypeFor(cfg)
	if err != nil {
		return 0, err
	}
	id := corepipe.StreamId(len(m.tracks) + 1)
	t := &track{id: id, pid: m.nextPID, streamType: streamType, media: cfg.Media, cfg: cfg}
	m.nextPID++
	m.tracks = append(m.tracks, t)
	m.byStream[id] = t
	if m.pcrTrack == nil || cfg.Media == corepipe.MediaVideo {
		m.pcrTrack = t
	}
	return id, nil
}

// AddStreams registers every config in order and returns the resulting ids
// keyed by input index.
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

func streamTypeFor(cfg corepipe.CodecConfig) (byte, error) {
	switch cfg.Mime {
	case "video/avc":
		return streamTypeAVC, nil
	case "video/hevc":
		return streamTypeHEVC, nil
	case "audio/aac":
		return streamTypeAAC, nil
	case "audio/opus":
		return streamTypeOpus, nil
	default:
		return 0, corepipeerrors.New(corepipeerrors.Unsupported, "ts.add-stream", nil)
	}
}

// StartStream emits the initial PAT, PMT, and SDT and marks the muxer
// ready to accept writes.
func (m *Muxer) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if len(m.tracks) == 0 {
		return corepipeerrors.New(corepipeerrors.Config, "ts.start-stream", nil)
	}
	m.started = true
	m.emitPAT()
	m.emitSDT()
	m.flushBatch()
	return nil
}

// Write serializes one Frame into a PES packet, packetizes it into TS
// packets, and interleaves PAT/SDT re-emission at the cadences of
// spec §4.5.1. Batches of up to 7 TS packets are delivered as one Packet.
func (m *Muxer) Write(frame corepipe.Frame, stream corepipe.StreamId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return corepipeerrors.New(corepipeerrors.Config, "ts.write", nil)
	}
	t, ok := m.byStream[stream]
	if !ok {
		return corepipeerrors.New(corepipeerrors.Config, "ts.write", nil)
	}

	payload, streamID := buildElementaryPayload(t, frame)

	var pcrUs *int64
	if t == m.pcrTrack {
		v := frame.Pts
		pcrUs = &v
	}

	pes := buildPES(streamID, payload, frame.Pts, frame.Dts, frame.HasDts)
	packets := packetizePES(t.pid, pes, pcrUs, &t.cc)

	for _, pkt := range packets {
		m.maybeEmitTables()
		m.appendPacket(pkt)
	}
	m.flushBatch()
	return nil
}

// maybeEmitTables checks the running TS-packet counter against the PAT/SDT
// cadences before the next elementary-stream packet is appended.
func (m *Muxer) maybeEmitTables() {
	emitPAT := m.tsCount > 0 && m.tsCount%nPAT == 0
	emitSDT := m.tsCount > 0 && m.tsCount%nSDT == 0
	if emitPAT {
		m.emitPAT()
	}
	if emitSDT {
		m.emitSDT()
	}
}

func (m *Muxer) emitPAT() {
	m.appendPacket(buildSectionPacket(patPID, buildPAT(pmtPID), &m.patCC))
	m.appendPacket(buildSectionPacket(pmtPID, buildPMT(m.pcrTrack.pid, m.descriptors()), &m.pmtCC))
}

func (m *Muxer) emitSDT() {
	m.appendPacket(buildSectionPacket(sdtPID, buildSDT(), &m.sdtCC))
}

func (m *Muxer) descriptors() []streamDescriptor {
	out := make([]streamDescriptor, len(m.tracks))
	for i, t := range m.tracks {
		out[i] = streamDescriptor{streamType: t.streamType, pid: t.pid}
	}
	return out
}

// appendPacket adds one 188-byte TS packet to the pending batch, flushing
// at maxBatchSize.
func (m *Muxer) appendPacket(packet []byte) {
	m.batch = append(m.batch, packet)
	m.tsCount++
	if len(m.batch) >= maxBatchSize {
		m.flushBatch()
	}
}

func (m *Muxer) flushBatch() {
	if len(m.batch) == 0 || m.onPacket == nil {
		m.batch = m.batch[:0]
		return
	}
	size := 0
	for _, p := range m.batch {
		size += len(p)
	}
	data := make([]byte, 0, size)
	for _, p := range m.batch {
		data = append(data, p...)
	}
	m.onPacket(corepipe.Packet{Data: data, IsFirstOfAU: true, IsLastOfAU: true})
	m.batch = m.batch[:0]
}

// StopStream flushes any pending batch and resets per-stream state so the
// muxer can be reused for a fresh session.
func (m *Muxer) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushBatch()
	m.started = false
	m.tsCount = 0
	m.patCC, m.pmtCC, m.sdtCC = 0, 0, 0
	for _, t := range m.tracks {
		t.cc = 0
	}
	return nil
}

// buildElementaryPayload converts a normalized Frame into the bytes the
// elementary stream carries: Annex-B with CSD re-inserted on key frames for
// video, ADTS-framed for AAC, raw bytes for Opus.
func buildElementaryPayload(t *track, frame corepipe.Frame) (payload []byte, streamID byte) {
	switch t.media {
	case corepipe.MediaVideo:
		nalus := make([][]byte, 0, len(frame.Csd)+1)
		nalus = append(nalus, frame.Csd...)
		nalus = append(nalus, frame.Data)
		return encoder.BuildAnnexB(nalus), pesStreamIDVideo
	default:
		if t.cfg.Mime == "audio/aac" {
			header := buildADTSHeader(len(frame.Data), t.cfg.SampleRateHz, t.cfg.Channels)
			out := make([]byte, 0, 7+len(frame.Data))
			out = append(out, header[:]...)
			out = append(out, frame.Data...)
			return out, pesStreamIDAudio
		}
		return frame.Data, pesStreamIDAudio
	}
}
