// Package compositor implements the surface compositor (C4): a single
// external texture fanned out to N output surfaces, each with its own
// transform, aspect policy, rotation, and mirror, plus a snapshot pipeline.
//
// All GL-state-touching work happens on one dedicated worker goroutine (the
// "GL thread" in spec §4.3); every public method posts a closure to that
// goroutine's mailbox and blocks on a completion channel, mirroring the
// language's thread-confined handler pattern via a single-writer channel
// discipline (spec §9, "Actor-style compositor"). The actual GPU calls are
// behind the Renderer interface: GPU/graphics bindings are an out-of-scope
// external collaborator, and none of the example repos in the corpus import
// a GL/Vulkan binding, so this boundary is interface-only rather than
// backed by a third-party graphics library.
package compositor

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/streamhub/livecore/internal/corepipe"
	"github.com/streamhub/livecore/internal/corepipe/corepipeerrors"
)

// Matrix4 is a 4x4 texture/transform matrix, row-major.
type Matrix4 [16]float32

// Renderer performs the actual GPU work; a real implementation binds to
// EGL/OpenGL ES, Metal, or similar. Every method here runs only on the
// compositor's GL thread.
type Renderer interface {
	SampleExternalTexture() (Matrix4, error)
	// DrawToOutput renders the external texture into output using matrix,
	// sets the platform presentation time to ptsNs, and swaps buffers.
	DrawToOutput(output corepipe.SurfaceHandle, matrix Matrix4, ptsNs int64) error
	// RenderSnapshot renders into an intermediate framebuffer sized
	// width x height using matrix and reads it back as RGBA.
	RenderSnapshot(matrix Matrix4, width, height int) ([]byte, error)
	DestroyContext()
}

type outputEntry struct {
	out          corepipe.SurfaceOutput
	unregistered bool
}

// Compositor is the GL-thread actor described in spec §4.3.
type Compositor struct {
	renderer Renderer
	logger   *slog.Logger

	mailbox chan func()
	wg      sync.WaitGroup

	mu               sync.Mutex
	inputs           []corepipe.SurfaceInput
	srcWidth         int
	srcHeight        int
	outputs          map[corepipe.OutputId]*outputEntry
	pending          []*corepipe.PendingSnapshot
	releaseRequested atomic.Bool
	released         atomic.Bool
}

// New starts the GL-thread goroutine and returns a ready Compositor.
func New(renderer Renderer, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compositor{
		renderer: renderer,
		logger:   logger,
		mailbox:  make(chan func(), 64),
		outputs:  make(map[corepipe.OutputId]*outputEntry),
	}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Compositor) run() {
	defer c.wg.Done()
	for fn := range c.mailbox {
		fn()
	}
}

// post submits fn to the GL thread and blocks until it completes.
func (c *Compositor) post(fn func()) {
	done := make(chan struct{})
	c.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// AddInput registers the single producer surface currently feeding the
// compositor. Its dimensions become the source size used for every output's
// aspect-ratio fit until a later AddInput replaces them.
func (c *Compositor) AddInput(input corepipe.SurfaceInput) {
	c.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.inputs = append(c.inputs, input)
		if input.Width > 0 && input.Height > 0 {
			c.srcWidth, c.srcHeight = input.Width, input.Height
		}
	})
}

// RemoveInput deregisters a producer surface. Once every input surface is
// removed, a pending release completes teardown (spec §4.3, "Release
// contract").
func (c *Compositor) RemoveInput(input corepipe.SurfaceInput) {
	noInputs := false
	c.post(func() {
		c.mu.Lock()
		filtered := c.inputs[:0]
		for _, in := range c.inputs {
			if in != input {
				filtered = append(filtered, in)
			}
		}
		c.inputs = filtered
		noInputs = len(c.inputs) == 0
		c.mu.Unlock()
	})

	if noInputs && c.releaseRequested.Load() {
		c.teardown()
	}
}

// AddOutput registers a new output surface, created lazily by the
// orchestrator when the output publishes its producer surface.
func (c *Compositor) AddOutput(out corepipe.SurfaceOutput) {
	c.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.outputs[out.ID] = &outputEntry{out: out}
	})
}

// RemoveOutput unregisters an output surface.
func (c *Compositor) RemoveOutput(id corepipe.OutputId) {
	c.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.outputs, id)
	})
}

// SetTargetRotation updates an output's transform in place; the next frame
// picks it up.
func (c *Compositor) SetTargetRotation(id corepipe.OutputId, rotation corepipe.Rotation) {
	c.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if entry, ok := c.outputs[id]; ok {
			entry.out.Transform.Rotation = rotation
		}
	})
}

// RequestSnapshot enqueues a snapshot request, drained on the next producer
// frame (spec §4.3, step 4).
func (c *Compositor) RequestSnapshot(rotationDegrees int) <-chan corepipe.SnapshotResult {
	snap := &corepipe.PendingSnapshot{RotationDegrees: rotationDegrees, Done: make(chan corepipe.SnapshotResult, 1)}
	c.post(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.pending = append(c.pending, snap)
	})
	return snap.Done
}

// OnProducerFrame runs the frame-arrival contract of spec §4.3 on the GL
// thread: sample the texture, compute each streaming output's matrix and
// draw, then drain any pending snapshots.
func (c *Compositor) OnProducerFrame(producerTs int64, offsetNs int64) {
	c.post(func() { c.onProducerFrame(producerTs, offsetNs) })
}

func (c *Compositor) onProducerFrame(producerTs int64, offsetNs int64) {
	srcMatrix, err := c.renderer.SampleExternalTexture()
	if err != nil {
		c.failAllSnapshots(corepipeerrors.New(corepipeerrors.Io, "compositor.sample-texture", err))
		return
	}

	t := producerTs + offsetNs

	c.mu.Lock()
	entries := make([]*outputEntry, 0, len(c.outputs))
	for _, e := range c.outputs {
		entries = append(entries, e)
	}
	srcWidth, srcHeight := c.srcWidth, c.srcHeight
	c.mu.Unlock()

	var firstMatrix Matrix4
	haveFirst := false

	for _, entry := range entries {
		if entry.unregistered || entry.out.IsStreaming == nil || !entry.out.IsStreaming() {
			continue
		}
		outMatrix := applyTransform(srcMatrix, entry.out.Transform, srcWidth, srcHeight, entry.out.TargetWidth, entry.out.TargetHeight)
		if !haveFirst {
			firstMatrix = outMatrix
			haveFirst = true
		}
		if err := c.renderer.DrawToOutput(entry.out.Surface, outMatrix, t); err != nil {
			// On swap failure, unregister the output but keep the mapping
			// entry so a later render call can create a fresh surface.
			entry.unregistered = true
			c.logger.Warn("compositor swap failed, output unregistered", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if !haveFirst {
		// No streaming output to source a matrix from; fail the batch rather
		// than guess at a default orientation.
		c.deliverSnapshots(pending, corepipe.SnapshotResult{Err: corepipeerrors.New(corepipeerrors.Unsupported, "compositor.snapshot", nil)})
		return
	}
	c.drainSnapshots(pending, firstMatrix)
}

// drainSnapshots renders each pending snapshot: clone the matrix, apply
// snapshot-rotation and a vertical flip (undoing GL's Y-flip), render with
// width and height 0 (the renderer's default size), and deliver RGBA pixels.
// No output resolution or rotated dimensions are applied, and each result
// reports Width and Height 0. A single I/O error fails every snapshot of this
// tick not yet delivered (spec §4.3, §7).
//
// Note: cloning the *first* output's matrix (rather than a rotation-only
// matrix independent of any live output) mirrors the upstream behavior spec
// §9's open question (a) flags as possibly wrong for mixed-orientation
// outputs; this implementation intentionally preserves that behavior
// pending clarification, see DESIGN.md.
func (c *Compositor) drainSnapshots(pending []*corepipe.PendingSnapshot, baseMatrix Matrix4) {
	for i, snap := range pending {
		rotation := corepipe.NormalizeRotation(snap.RotationDegrees)
		matrix := applyRotationAndVFlip(baseMatrix, rotation)

		width, height := 0, 0 // 0 signals "use renderer default"; no output or rotated size is passed
		pixels, err := c.renderer.RenderSnapshot(matrix, width, height)
		if err != nil {
			c.deliverSnapshots(pending[i:], corepipe.SnapshotResult{Err: corepipeerrors.New(corepipeerrors.Io, "compositor.snapshot", err)})
			return
		}
		snap.Done <- corepipe.SnapshotResult{Width: width, Height: height, RGBA: pixels}
		close(snap.Done)
	}
}

func (c *Compositor) deliverSnapshots(pending []*corepipe.PendingSnapshot, result corepipe.SnapshotResult) {
	for _, snap := range pending {
		snap.Done <- result
		close(snap.Done)
	}
}

func (c *Compositor) failAllSnapshots(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.deliverSnapshots(pending, corepipe.SnapshotResult{Err: err})
}

// Release is idempotent and deferred: teardown runs only after every input
// surface has been removed, so upstream producers can finish cleanly.
func (c *Compositor) Release() {
	if !c.releaseRequested.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	noInputs := len(c.inputs) == 0
	c.mu.Unlock()
	if noInputs {
		c.teardown()
	}
}

func (c *Compositor) teardown() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.post(func() {
		c.mu.Lock()
		for id := range c.outputs {
			delete(c.outputs, id)
		}
		c.mu.Unlock()
		c.renderer.DestroyContext()
	})
	close(c.mailbox)
	c.wg.Wait()
}

// applyTransform computes an output-specific matrix from the source matrix
// and the output's rotation, crop, aspect-ratio mode, and mirror settings,
// in that order (spec §4.3 step 3). srcW/srcH are the producer surface's
// pixel dimensions (0 if unknown); dstW/dstH are the output's target
// dimensions. Both are only consulted for AspectMode fitting.
func applyTransform(src Matrix4, t corepipe.Transform, srcW, srcH, dstW, dstH int) Matrix4 {
	m := applyRotation(src, t.Rotation)

	steps := (int(t.Rotation) / 90) % 4
	if steps == 1 || steps == 3 {
		srcW, srcH = srcH, srcW
	}

	cx, cy, cw, ch := cropParams(t)
	m = scaleAndTranslate(m, cw, ch, cx, cy)

	srcAspect := aspectRatio(float64(srcW)*float64(cw), float64(srcH)*float64(ch))
	dstAspect := aspectRatio(float64(dstW), float64(dstH))
	sx, sy, ox, oy := aspectFitParams(t.AspectMode, srcAspect, dstAspect)
	m = scaleAndTranslate(m, sx, sy, ox, oy)

	if t.MirrorX {
		m = mirrorHorizontal(m)
	}
	return m
}

// cropParams returns the output's crop rectangle, defaulting to the full
// frame when CropRect is the zero value (spec §9, Transform.CropRect doc).
func cropParams(t corepipe.Transform) (x, y, w, h float32) {
	x, y, w, h = t.CropRect[0], t.CropRect[1], t.CropRect[2], t.CropRect[3]
	if w == 0 && h == 0 {
		return 0, 0, 1, 1
	}
	return x, y, w, h
}

func aspectRatio(w, h float64) float64 {
	if w <= 0 || h <= 0 {
		return 0
	}
	return w / h
}

// aspectFitParams computes the texture-sample scale/offset that implements
// one of the three aspect-ratio policies (spec §4.3's closed enum) for a
// source of aspect srcAspect drawn into a target of aspect dstAspect. CROP
// narrows the sampled range on the relatively-longer axis so the full
// target is covered without distortion; PRESERVE widens it on the other
// axis instead, sampling past [0,1] so a border-clamped renderer shows bars
// rather than cropping or stretching. STRETCH (and unknown dimensions) is a
// no-op: the full texture maps onto the full target.
func aspectFitParams(mode corepipe.AspectMode, srcAspect, dstAspect float64) (sx, sy, ox, oy float32) {
	sx, sy = 1, 1
	if mode == corepipe.AspectStretch || srcAspect <= 0 || dstAspect <= 0 {
		return 1, 1, 0, 0
	}
	ratio := srcAspect / dstAspect
	switch mode {
	case corepipe.AspectCrop:
		if ratio > 1 {
			sx = float32(1 / ratio)
		} else {
			sy = float32(ratio)
		}
	case corepipe.AspectPreserve:
		if ratio > 1 {
			sy = float32(ratio)
		} else {
			sx = float32(1 / ratio)
		}
	}
	ox = (1 - sx) / 2
	oy = (1 - sy) / 2
	return sx, sy, ox, oy
}

// scaleAndTranslate composes m with a texture-space scale(sx,sy) followed
// by a translate(ox,oy), i.e. the result samples ox+sx*u, oy+sy*v wherever m
// alone would have sampled u,v. Rows 0-1 carry the linear part and row 3
// (indices 12-13) the translation, matching rotate90/mirrorHorizontal's
// layout.
func scaleAndTranslate(m Matrix4, sx, sy, ox, oy float32) Matrix4 {
	out := m
	out[0] = m[0] * sx
	out[1] = m[1] * sy
	out[4] = m[4] * sx
	out[5] = m[5] * sy
	out[12] = m[12]*sx + ox
	out[13] = m[13]*sy + oy
	return out
}

func applyRotationAndVFlip(src Matrix4, rotation corepipe.Rotation) Matrix4 {
	m := applyRotation(src, rotation)
	return verticalFlip(m)
}

// applyRotation rotates a row-major 4x4 matrix by a quantised multiple of
// 90 degrees around the Z axis (texture-space rotation).
func applyRotation(src Matrix4, rotation corepipe.Rotation) Matrix4 {
	steps := (int(rotation) / 90) % 4
	m := src
	for i := 0; i < steps; i++ {
		m = rotate90(m)
	}
	return m
}

func rotate90(m Matrix4) Matrix4 {
	var out Matrix4
	// Swap and negate the 2x2 upper-left block: (x,y) -> (-y,x).
	out[0], out[1], out[4], out[5] = -m[4], -m[5], m[0], m[1]
	for i := 8; i < 16; i++ {
		out[i] = m[i]
	}
	return out
}

func mirrorHorizontal(m Matrix4) Matrix4 {
	out := m
	out[0] = -out[0]
	out[1] = -out[1]
	return out
}

func verticalFlip(m Matrix4) Matrix4 {
	out := m
	out[4] = -out[4]
	out[5] = -out[5]
	return out
}
