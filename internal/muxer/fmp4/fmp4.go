package fmp4

import (
	"sync"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// Muxer is the fragmented-MP4 container writer. Each Write call produces
// one self-contained (moof, mdat) fragment pair carrying exactly one
// sample, keeping trun's "all samples agree which optional fields are
// present" precondition trivially satisfied.
type Muxer struct {
	mu sync.Mutex

	tracks   []*trackInfo
	byStream map[corepipe.StreamId]*trackInfo
	baseTime map[corepipe.StreamId]uint64
	firstPts map[corepipe.StreamId]int64
	lastPts  map[corepipe.StreamId]int64
	sequence uint32
	started  bool
	onPacket func(corepipe.Packet)
}

// New creates an empty fMP4 muxer.
func New(onPacket func(corepipe.Packet)) *Muxer {
	return &Muxer{
		byStream: make(map[corepipe.StreamId]*trackInfo),
		baseTime: make(map[corepipe.StreamId]uint64),
		firstPts: make(map[corepipe.StreamId]int64),
		lastPts:  make(map[corepipe.StreamId]int64),
		onPacket: onPacket,
	}
}

// AddStream registers a track.
func (m *Muxer) AddStream(cfg corepipe.CodecConfig) (corepipe.StreamId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return 0, corepipeerrors.New(corepipeerrors.Config, "fmp4.add-stream", nil)
	}
	id := corepipe.StreamId(len(m.tracks) + 1)
	t := &trackInfo{
		id:           uint32(id),
		media:        cfg.Media,
		mime:         cfg.Mime,
		timescale:    timescaleFor(cfg),
		width:        cfg.Width,
		height:       cfg.Height,
		channels:     cfg.Channels,
		sampleRateHz: cfg.SampleRateHz,
	}
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

// StartStream emits ftyp and moov; at this point every track's CSD must
// already be known, since the sample description boxes are written once
// here and never updated mid-stream.
func (m *Muxer) StartStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	if len(m.tracks) == 0 {
		return corepipeerrors.New(corepipeerrors.Config, "fmp4.start-stream", nil)
	}
	m.started = true
	m.deliver(concat(buildFtyp(), buildMoov(m.tracks)))
	return nil
}

// SetCsd records a track's codec-specific data ahead of StartStream so the
// sample description box (avcC/hvcC/esds/dOps) is populated correctly.
func (m *Muxer) SetCsd(stream corepipe.StreamId, csd [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byStream[stream]; ok {
		t.csd = csd
	}
}

// Write emits one (moof, mdat) fragment pair for frame.
func (m *Muxer) Write(frame corepipe.Frame, stream corepipe.StreamId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return corepipeerrors.New(corepipeerrors.Config, "fmp4.write", nil)
	}
	t, ok := m.byStream[stream]
	if !ok {
		return corepipeerrors.New(corepipeerrors.Config, "fmp4.write", nil)
	}

	if len(frame.Csd) > 0 && len(t.csd) == 0 {
		t.csd = frame.Csd
	}

	if _, seen := m.firstPts[stream]; !seen {
		m.firstPts[stream] = frame.Pts
		m.baseTime[stream] = 0
	} else {
		elapsedUs := frame.Pts - m.firstPts[stream]
		m.baseTime[stream] = uint64(elapsedUs) * uint64(t.timescale) / 1_000_000
	}

	durationTicks := uint32(0)
	if last, ok := m.lastPts[stream]; ok {
		durationTicks = uint32((frame.Pts - last) * int64(t.timescale) / 1_000_000)
	}
	m.lastPts[stream] = frame.Pts

	sample := sampleInfo{
		durationTicks: durationTicks,
		size:          uint32(len(frame.Data)),
		isSync:        frame.IsKeyFrame || frame.Media == corepipe.MediaAudio,
	}
	if frame.HasDts && frame.Pts != frame.Dts {
		sample.hasCTSOffset = true
		sample.ctsOffsetTicks = int32((frame.Pts - frame.Dts) * int64(t.timescale) / 1_000_000)
	}

	moof := buildMoof(m.sequence, t.id, m.baseTime[stream], sample)
	m.sequence++
	mdat := box("mdat", frame.Data)

	m.deliver(concat(moof, mdat))
	return nil
}

func (m *Muxer) deliver(data []byte) {
	if m.onPacket == nil || len(data) == 0 {
		return
	}
	m.onPacket(corepipe.Packet{Data: data, IsFirstOfAU: true, IsLastOfAU: true})
}

// StopStream resets fragment sequencing so the muxer can start a fresh
// session; fMP4 has no trailing box to emit.
func (m *Muxer) StopStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	m.sequence = 0
	m.firstPts = make(map[corepipe.StreamId]int64)
	m.lastPts = make(map[corepipe.StreamId]int64)
	m.baseTime = make(map[corepipe.StreamId]uint64)
	return nil
}
