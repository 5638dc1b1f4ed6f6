// Package pipeline implements the orchestrator (C10): it binds zero-or-one
// audio input, zero-or-one video compositor, and a set of outputs, and
// drives the add_output/remove_output/start_stream/stop_stream/release/
// set_target_rotation lifecycle of spec §4.7, including the source-config
// join/covering rule and the reactive stop-when-no-sibling-streaming
// behavior.
package pipeline

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/streamhub/livecore/internal/audioinput"
	"github.com/streamhub/livecore/internal/compositor"
	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// Pipeline is the orchestrator described in spec §4.7. Either input may be
// nil if the embedding application never attaches that media type.
type Pipeline struct {
	logger *slog.Logger
	audio  *audioinput.Input
	video  *compositor.Compositor

	mu       sync.Mutex
	outputs  map[corepipe.OutputId]*output
	nextID   uint64
	released bool

	audioCfg    corepipe.SourceConfig
	audioCfgSet bool
	videoCfg    corepipe.SourceConfig
	videoCfgSet bool

	errCh chan error
}

// New creates an orchestrator around the given inputs. audio/video may be
// nil when the pipeline never carries that media type.
func New(audio *audioinput.Input, video *compositor.Compositor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:  logger,
		audio:   audio,
		video:   video,
		outputs: make(map[corepipe.OutputId]*output),
		errCh:   make(chan error, 16),
	}
}

// ErrorChannel is the pipeline's throwable-channel (spec §5, §7): non-fatal
// per-output failures that don't abort a fan-out call are reported here
// instead.
func (p *Pipeline) ErrorChannel() <-chan error { return p.errCh }

// AddOutput validates and registers a new output. It does not start it;
// start_stream (or a later call, once added while already live) does that.
func (p *Pipeline) AddOutput(spec OutputSpec) (corepipe.OutputId, error) {
	if err := validateOutputSpec(spec); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return 0, corepipeerrors.New(corepipeerrors.Closed, "pipeline.add-output", nil)
	}
	p.nextID++
	id := corepipe.OutputId(p.nextID)
	p.outputs[id] = &output{id: id, spec: spec}
	return id, nil
}

func validateOutputSpec(spec OutputSpec) error {
	if spec.AudioConfig == nil && spec.VideoConfig == nil {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.add-output", nil)
	}
	if spec.AudioConfig != nil && spec.AudioEncoder == nil {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.add-output", nil)
	}
	if spec.VideoConfig != nil && spec.VideoEncoder == nil {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.add-output", nil)
	}
	hasMux := spec.Mux != nil && spec.Endpoint != nil
	hasRaw := spec.Raw != nil
	if hasMux == hasRaw {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.add-output", nil)
	}
	return nil
}

// RemoveOutput stops the output if streaming, releases its encoders and
// sink(s), detaches its compositor surface, and forgets it.
func (p *Pipeline) RemoveOutput(id corepipe.OutputId) error {
	p.mu.Lock()
	o, ok := p.outputs[id]
	if ok {
		delete(p.outputs, id)
	}
	p.mu.Unlock()
	if !ok {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.remove-output", nil)
	}
	return p.teardownOutput(o)
}

func (p *Pipeline) teardownOutput(o *output) error {
	err := p.stopOutput(o)
	if o.spec.AudioEncoder != nil {
		o.spec.AudioEncoder.Release()
	}
	if o.spec.VideoEncoder != nil {
		o.spec.VideoEncoder.Release()
	}
	if o.spec.Endpoint != nil {
		if e := o.spec.Endpoint.Close(); e != nil && err == nil {
			err = e
		}
	}
	if o.spec.Raw != nil {
		if e := o.spec.Raw.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// StartStream joins every output's declared source config, reconfigures the
// inputs if nothing is currently streaming, then starts every output
// concurrently, aggregating per-output failures into a multi-error (spec
// §4.7, §9).
func (p *Pipeline) StartStream() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return corepipeerrors.New(corepipeerrors.Closed, "pipeline.start-stream", nil)
	}
	outs := p.snapshotOutputsLocked()
	p.mu.Unlock()

	if err := p.reconfigureInputs(outs); err != nil {
		return err
	}
	if p.audio != nil {
		if err := p.audio.StartStream(); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-stream", err)
		}
	}

	errs := make([]error, len(outs))
	var g errgroup.Group
	for i, o := range outs {
		i, o := i, o
		g.Go(func() error {
			errs[i] = p.startOutput(o)
			return nil
		})
	}
	_ = g.Wait()
	return corepipeerrors.Combine(errs)
}

func (p *Pipeline) snapshotOutputsLocked() []*output {
	outs := make([]*output, 0, len(p.outputs))
	for _, o := range p.outputs {
		outs = append(outs, o)
	}
	return outs
}

// reconfigureInputs applies the source-config join (spec §4.7's covering
// rule) to the audio input, refusing when any output is already streaming
// (I6). Video has no analogous reconfigure step in this library: the
// capture source feeding the compositor's producer surface is an external
// collaborator (spec §1), so only the joined config is recorded here, for
// later compatibility checks.
func (p *Pipeline) reconfigureInputs(outs []*output) error {
	for _, o := range outs {
		if o.IsStreaming() {
			return nil
		}
	}

	var audioConfigs, videoConfigs []corepipe.SourceConfig
	for _, o := range outs {
		if o.spec.AudioConfig != nil {
			audioConfigs = append(audioConfigs, o.spec.AudioConfig.SourceConfig)
		}
		if o.spec.VideoConfig != nil {
			videoConfigs = append(videoConfigs, o.spec.VideoConfig.SourceConfig)
		}
	}

	if len(audioConfigs) > 0 {
		joined := corepipe.JoinAudio(audioConfigs)
		if p.audio != nil {
			if err := p.audio.SetSourceConfig(joined); err != nil {
				return corepipeerrors.New(corepipeerrors.Config, "pipeline.start-stream", err)
			}
		}
		p.mu.Lock()
		p.audioCfg, p.audioCfgSet = joined, true
		p.mu.Unlock()
	}
	if len(videoConfigs) > 0 {
		joined := corepipe.JoinVideo(videoConfigs)
		p.mu.Lock()
		p.videoCfg, p.videoCfgSet = joined, true
		p.mu.Unlock()
	}
	return nil
}

// startOutput wires and starts one output's encoders, muxer/endpoint (or
// raw sink), and compositor surface. A compatibility failure against the
// input's current joined config rejects the start and leaves the output
// untouched (spec §4.7's "start_stream is rejected and the output
// reverts").
func (p *Pipeline) startOutput(o *output) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.streaming {
		return nil
	}

	if o.spec.AudioConfig != nil {
		p.mu.Lock()
		cur, ok := p.audioCfg, p.audioCfgSet
		p.mu.Unlock()
		if ok && !o.spec.AudioConfig.SourceConfig.CompatibleWith(cur) {
			return corepipeerrors.New(corepipeerrors.Config, "pipeline.start-output", nil)
		}
	}
	if o.spec.VideoConfig != nil {
		p.mu.Lock()
		cur, ok := p.videoCfg, p.videoCfgSet
		p.mu.Unlock()
		if ok && !o.spec.VideoConfig.SourceConfig.CompatibleWith(cur) {
			return corepipeerrors.New(corepipeerrors.Config, "pipeline.start-output", nil)
		}
	}

	if o.spec.Mux != nil {
		if err := o.spec.Endpoint.Open(); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-output", err)
		}
		if err := o.spec.Endpoint.StartStream(); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-output", err)
		}
	} else {
		if err := o.spec.Raw.Open(o.spec.RawDescriptor); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-output", err)
		}
		if err := o.spec.Raw.StartStream(); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-output", err)
		}
	}

	if o.spec.AudioConfig != nil {
		id, err := p.addMuxerStream(o, *o.spec.AudioConfig)
		if err != nil {
			return err
		}
		o.audioStream = id
		o.spec.AudioEncoder.OnOutputFrame(func(f corepipe.Frame) { p.deliverFrame(o, f) })
		if err := o.spec.AudioEncoder.Configure(*o.spec.AudioConfig); err != nil {
			return corepipeerrors.New(corepipeerrors.Config, "pipeline.start-output", err)
		}
		if err := o.spec.AudioEncoder.Start(); err != nil {
			return corepipeerrors.New(corepipeerrors.Io, "pipeline.start-output", err)
		}
	}

	if o.spec.VideoConfig != nil {
		id, err := p.addMuxerStream(o, *o.spec.VideoConfig)
		if err != nil {
			return err
		}
		o.videoStream = id
		o.spec.VideoEncoder.OnOutputFrame(func(f corepipe.Frame) { p.deliverFrame(o, f) })
		if err := o.spec.VideoEncoder.Configure(*o.spec.VideoConfig); err != nil {
			return corepipeerrors.New(corepipeerrors.Config, "pipeline.start-output", err)
		}
		surface, err := o.spec.VideoEncoder.CreateInputSurface()
		if err != nil {
			return corepipeerrors.New(corepipeerrors.Unsupported, "pipeline.start-output", err)
		}
		if p.video != nil {
			p.video.AddOutput(corepipe.SurfaceOutput{
				ID:           o.id,
				Surface:      surface,
				TargetWidth:  o.spec.TargetWidth,
				TargetHeight: o.spec.TargetHeight,
				Transform:    o.spec.Transform,
				IsStreaming:  o.IsStreaming,
			})
			o.surfaceRegistered = true
		}
	}

	o.streaming = true
	return nil
}

func (p *Pipeline) addMuxerStream(o *output, cfg corepipe.CodecConfig) (corepipe.StreamId, error) {
	if o.spec.Mux == nil {
		return 0, nil
	}
	id, err := o.spec.Mux.AddStream(cfg)
	if err != nil {
		return 0, corepipeerrors.New(corepipeerrors.Config, "pipeline.start-output", err)
	}
	return id, nil
}

// deliverFrame is the shared OnOutputFrame target for both of an output's
// encoders: it lazily starts the muxer on the first frame (populating fMP4
// CSD just before StartStream builds its init segment, per I2's guarantee
// that the first frame of any track always carries non-empty CSD), writes
// through the muxer, or writes directly to the raw sink.
func (p *Pipeline) deliverFrame(o *output, f corepipe.Frame) {
	if o.spec.Mux != nil {
		o.mu.Lock()
		if !o.muxerStarted {
			if cs, ok := o.spec.Mux.(CsdSetter); ok {
				cs.SetCsd(f.Stream, f.Csd)
			}
			if err := o.spec.Mux.StartStream(); err != nil {
				o.mu.Unlock()
				p.handleOutputError(o, corepipeerrors.New(corepipeerrors.Protocol, "pipeline.deliver-frame", err))
				return
			}
			o.muxerStarted = true
		}
		o.mu.Unlock()

		if err := o.spec.Mux.Write(f, f.Stream); err != nil {
			p.handleOutputError(o, err)
		}
		return
	}

	pkt := corepipe.Packet{Data: f.Data, TimestampUs: f.Pts, IsFirstOfAU: true, IsLastOfAU: true, Stream: f.Stream}
	if err := o.spec.Raw.Write(pkt); err != nil {
		p.handleOutputError(o, err)
	}
}

// handleOutputError implements the propagation policy of spec §7: a Fatal
// error forces release; everything else is surfaced on the error channel
// and drops just the offending output out of streaming, without aborting
// its siblings.
func (p *Pipeline) handleOutputError(o *output, err error) {
	p.reportError(err)
	if corepipeerrors.IsFatal(err) {
		_ = p.Release()
		return
	}
	_ = p.stopOutput(o)
}

func (p *Pipeline) reportError(err error) {
	if err == nil {
		return
	}
	p.logger.Warn("pipeline: output error", slog.String("error", err.Error()))
	select {
	case p.errCh <- err:
	default:
	}
}

// StopStream stops inputs first so no more frames are produced, then every
// output (spec §4.7).
func (p *Pipeline) StopStream() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return corepipeerrors.New(corepipeerrors.Closed, "pipeline.stop-stream", nil)
	}
	outs := p.snapshotOutputsLocked()
	p.mu.Unlock()

	if p.audio != nil {
		_ = p.audio.StopStream()
	}

	errs := make([]error, len(outs))
	var g errgroup.Group
	for i, o := range outs {
		i, o := i, o
		g.Go(func() error {
			errs[i] = p.stopOutput(o)
			return nil
		})
	}
	_ = g.Wait()
	return corepipeerrors.Combine(errs)
}

// stopOutput idempotently stops one output's encoders, muxer/endpoint (or
// raw sink), and compositor surface registration, then applies the
// reactive rule: if no sibling output of the same media type is still
// streaming, the corresponding input is stopped (spec §4.7, I5).
func (p *Pipeline) stopOutput(o *output) error {
	o.mu.Lock()
	if !o.streaming {
		o.mu.Unlock()
		return nil
	}
	o.streaming = false
	hadAudio := o.spec.AudioConfig != nil
	hadVideo := o.spec.VideoConfig != nil

	if o.spec.AudioEncoder != nil {
		o.spec.AudioEncoder.Stop()
	}
	if o.spec.VideoEncoder != nil {
		o.spec.VideoEncoder.Stop()
	}
	if p.video != nil && o.surfaceRegistered {
		p.video.RemoveOutput(o.id)
		o.surfaceRegistered = false
	}

	var err error
	if o.spec.Mux != nil {
		if e := o.spec.Mux.StopStream(); e != nil {
			err = e
		}
		if e := o.spec.Endpoint.StopStream(); e != nil && err == nil {
			err = e
		}
	} else {
		if e := o.spec.Raw.StopStream(); e != nil {
			err = e
		}
	}
	o.muxerStarted = false
	o.mu.Unlock()

	if hadAudio {
		p.maybeStopInput(corepipe.MediaAudio)
	}
	if hadVideo {
		p.maybeStopInput(corepipe.MediaVideo)
	}
	return err
}

func (p *Pipeline) maybeStopInput(media corepipe.MediaType) {
	p.mu.Lock()
	outs := p.snapshotOutputsLocked()
	p.mu.Unlock()

	for _, o := range outs {
		if o.usesMedia(media) && o.IsStreaming() {
			return
		}
	}
	if media == corepipe.MediaAudio && p.audio != nil {
		_ = p.audio.StopStream()
	}
}

// Release fully releases every output and both inputs; idempotent.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	outs := p.snapshotOutputsLocked()
	p.outputs = make(map[corepipe.OutputId]*output)
	p.mu.Unlock()

	var errs []error
	for _, o := range outs {
		if err := p.teardownOutput(o); err != nil {
			errs = append(errs, err)
		}
	}
	if p.audio != nil {
		if err := p.audio.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.video != nil {
		p.video.Release()
	}
	close(p.errCh)
	return corepipeerrors.Combine(errs)
}

// SetTargetRotation forwards a rotation update to the named output's
// compositor surface; the compositor picks it up on its next frame.
func (p *Pipeline) SetTargetRotation(id corepipe.OutputId, rotation corepipe.Rotation) error {
	p.mu.Lock()
	o, ok := p.outputs[id]
	p.mu.Unlock()
	if !ok {
		return corepipeerrors.New(corepipeerrors.Config, "pipeline.set-target-rotation", nil)
	}
	o.mu.Lock()
	o.spec.Transform.Rotation = rotation
	o.mu.Unlock()
	if p.video != nil {
		p.video.SetTargetRotation(id, rotation)
	}
	return nil
}

// RequestSnapshot forwards a snapshot request to the video compositor, or
// returns a closed channel with an Unsupported error if this pipeline
// carries no video input.
func (p *Pipeline) RequestSnapshot(rotationDegrees int) <-chan corepipe.SnapshotResult {
	if p.video == nil {
		ch := make(chan corepipe.SnapshotResult, 1)
		ch <- corepipe.SnapshotResult{Err: corepipeerrors.New(corepipeerrors.Unsupported, "pipeline.request-snapshot", nil)}
		close(ch)
		return ch
	}
	return p.video.RequestSnapshot(rotationDegrees)
}
