package pipeline

import "github.com/streamhub/livecore/internal/corepipe"

// Muxer is the common subset of internal/muxer/{ts,flv,fmp4}.Muxer the
// orchestrator drives; the concrete container (TS/FLV/fMP4) is chosen by
// the caller building the Output, not by this package.
type Muxer interface {
	AddStream(cfg corepipe.CodecConfig) (corepipe.StreamId, error)
	StartStream() error
	Write(frame corepipe.Frame, stream corepipe.StreamId) error
	StopStream() error
}

// CsdSetter is implemented by muxers that need codec-specific data supplied
// before StartStream builds their init segment (fmp4.Muxer only: the moov
// sample-entry boxes are written once, at StartStream time).
type CsdSetter interface {
	SetCsd(stream corepipe.StreamId, csd [][]byte)
}
