// Package render evaluates frames through the graph, owns the images checked
// out for display and hands them to the image renderer.
package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/types"
)

// ErrBufferNeedsRefill is returned by EvaluateForDisplay when the look-ahead
// cache ran dry and playback should pause to refill it.
var ErrBufferNeedsRefill = errors.New("buffer needs refill")

const (
	msgFailedEvaluation = "Failed Evaluation"
	msgGraphError       = "Graph Evaluation Error"
	msgRenderError      = "Error during rendering"
)

// Stats counts coordinator activity.
type Stats struct {
	Evaluations     uint64 `json:"evaluations"`
	Promotions      uint64 `json:"promotions"`
	PreEvaluations  uint64 `json:"pre_evaluations"`
	PreEvalFailures uint64 `json:"pre_eval_failures"`
	Renders         uint64 `json:"renders"`
	EvalErrors      uint64 `json:"eval_errors"`
	RenderErrors    uint64 `json:"render_errors"`
}

// Coordinator owns the display and pre-display slots. The renderer is always
// given something displayable: a failed evaluation installs the error
// sentinel, a missing image the loading sentinel. Not safe for concurrent use.
type Coordinator struct {
	graph    types.GraphEvaluator
	renderer types.ImageRenderer
	logger   logger.Logger

	display    Slot
	preDisplay Slot

	errorImage *types.Image
	proxyImage *types.Image

	status types.StatusFlags
	stats  Stats
}

// New creates a coordinator. graph is required; renderer may be nil for
// headless evaluation.
func New(graph types.GraphEvaluator, renderer types.ImageRenderer, log logger.Logger) *Coordinator {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Coordinator{
		graph:    graph,
		renderer: renderer,
		logger:   log.WithField("component", "render_coordinator"),
		errorImage: &types.Image{Buffer: &types.FrameBuffer{Attributes: map[string]string{
			types.AttrType:    types.TypeError,
			types.AttrMessage: msgFailedEvaluation,
		}}},
		proxyImage: &types.Image{Buffer: &types.FrameBuffer{Attributes: map[string]string{
			types.AttrRequestedFrameLoading: "true",
		}}},
		status: types.StatusNoImage,
	}
}

func (c *Coordinator) checkIn(img *types.Image, flushHint bool, originFrame int) {
	c.graph.CheckInImage(img, flushHint, originFrame)
}

// evaluate calls the graph, converting a panic into an error.
func (c *Coordinator) evaluate(ctx context.Context, frame int, allowLocalCache bool) (res types.EvalResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", msgFailedEvaluation, r)
		}
	}()
	return c.graph.EvaluateAtFrame(ctx, frame, allowLocalCache)
}

// ShowError puts the error sentinel on display with msg.
func (c *Coordinator) ShowError(frame int, msg string) {
	c.errorImage.Frame = frame
	c.errorImage.Buffer.Attributes[types.AttrMessage] = msg
	c.display.Set(sentinelHandle(c.errorImage, frame))
	c.status = types.StatusOf(c.errorImage)
}

// EvaluateForDisplay releases both slots and installs the image for frame,
// evaluated with local caching. When the pre-display slot already holds frame
// it is promoted as is instead; that image was evaluated without local
// caching and is not evaluated again. ErrBufferNeedsRefill is the only error
// returned; other failures become the error sentinel.
func (c *Coordinator) EvaluateForDisplay(ctx context.Context, frame int) error {
	if c.preDisplay.Holds(frame) {
		c.display.MoveFrom(&c.preDisplay)
		c.status = types.StatusOf(c.display.Image())
		c.stats.Promotions++
		return nil
	}

	c.display.Clear()
	c.preDisplay.Clear()
	c.stats.Evaluations++

	res, err := c.evaluate(ctx, frame, true)
	if err != nil {
		if res.Image != nil {
			c.checkIn(res.Image, false, frame)
		}
		c.stats.EvalErrors++
		c.logger.WithError(err).WithField("frame", frame).Warn("Frame evaluation failed")
		c.ShowError(frame, err.Error())
		return nil
	}

	switch res.Status {
	case types.EvalBufferNeedsRefill:
		c.install(res.Image, frame)
		return ErrBufferNeedsRefill
	case types.EvalError:
		if res.Image != nil {
			c.checkIn(res.Image, false, frame)
		}
		c.stats.EvalErrors++
		c.ShowError(frame, msgGraphError)
		return nil
	}

	c.install(res.Image, frame)
	return nil
}

func (c *Coordinator) install(img *types.Image, frame int) {
	if img == nil {
		c.proxyImage.Frame = frame
		c.display.Set(sentinelHandle(c.proxyImage, frame))
		c.status = types.StatusOf(c.proxyImage)
		return
	}
	c.display.Set(NewHandle(img, frame, c.checkIn))
	c.status = types.StatusOf(img)
}

// PreEval speculatively evaluates successor without local caching. Failures
// leave the pre-display slot empty.
func (c *Coordinator) PreEval(ctx context.Context, successor int) {
	c.preDisplay.Clear()
	c.stats.PreEvaluations++

	res, err := c.evaluate(ctx, successor, false)
	if err != nil || res.Status != types.EvalNormal || res.Image == nil {
		if res.Image != nil {
			c.checkIn(res.Image, false, successor)
		}
		c.stats.PreEvalFailures++
		if err != nil {
			c.logger.WithError(err).WithField("frame", successor).Debug("Pre-evaluation failed")
		}
		return
	}
	c.preDisplay.Set(NewHandle(res.Image, successor, c.checkIn))
}

// Prefetch pre-evaluates successor and lets the renderer start uploading it.
func (c *Coordinator) Prefetch(ctx context.Context, successor int) {
	c.PreEval(ctx, successor)

	img := c.preDisplay.Image()
	if img == nil || c.renderer == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithField("panic", r).Debug("Prefetch panicked")
			}
		}()
		if err := c.renderer.Prefetch(img); err != nil {
			c.logger.WithError(err).Debug("Prefetch failed")
		}
	}()
}

// RenderFrame draws the display image. With lookAhead the successor is
// evaluated first and handed to the renderer so it can upload both frames in
// one pass.
func (c *Coordinator) RenderFrame(ctx context.Context, frame, successor int, lookAhead bool, aux types.AuxRenderFunc, auxAudio types.AuxAudioFunc) {
	if c.renderer == nil {
		return
	}
	if !c.renderer.Supported() {
		return
	}

	var next *types.Image
	if lookAhead {
		c.PreEval(ctx, successor)
		next = c.preDisplay.Image()
	}

	c.stats.Renders++
	err := c.render(frame, aux, auxAudio, next)
	switch {
	case err == nil, errors.Is(err, types.ErrRendererUnsupported):
	default:
		c.stats.RenderErrors++
		c.logger.WithError(err).WithField("frame", frame).Warn("Render failed")
		c.ShowError(frame, err.Error())
	}
}

func (c *Coordinator) render(frame int, aux types.AuxRenderFunc, auxAudio types.AuxAudioFunc, lookAhead *types.Image) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(msgRenderError)
		}
	}()
	return c.renderer.Render(frame, c.display.Image(), aux, auxAudio, lookAhead)
}

// Supported reports whether a renderer is attached and able to draw.
func (c *Coordinator) Supported() bool {
	return c.renderer != nil && c.renderer.Supported()
}

// Status is the flag set of the display image.
func (c *Coordinator) Status() types.StatusFlags {
	return c.status
}

// IsError reports whether the error sentinel is on display.
func (c *Coordinator) IsError() bool {
	return c.display.Image() == c.errorImage
}

// ErrorMessage is the message carried by the error sentinel when shown.
func (c *Coordinator) ErrorMessage() string {
	if !c.IsError() {
		return ""
	}
	return c.errorImage.Buffer.Attributes[types.AttrMessage]
}

// HasFrameBuffer reports whether the display image carries pixels at all.
func (c *Coordinator) HasFrameBuffer() bool {
	img := c.display.Image()
	if img == nil || img == c.errorImage || img == c.proxyImage {
		return false
	}
	found := false
	img.Walk(func(n *types.Image) {
		if n.Buffer != nil {
			found = true
		}
	})
	return found
}

// DisplayImage returns the image on display, nil if none.
func (c *Coordinator) DisplayImage() *types.Image {
	return c.display.Image()
}

// DisplayFrame is the frame the display slot was filled for.
func (c *Coordinator) DisplayFrame() int {
	return c.display.Handle().Frame()
}

// PreDisplayImage returns the pre-evaluated successor, nil if none.
func (c *Coordinator) PreDisplayImage() *types.Image {
	return c.preDisplay.Image()
}

// ReleaseDisplay checks in the display image and forgets the status.
func (c *Coordinator) ReleaseDisplay() {
	c.display.Clear()
	c.status = types.StatusNoImage
}

// ReleasePreDisplay checks in the pre-evaluated successor.
func (c *Coordinator) ReleasePreDisplay() {
	c.preDisplay.Clear()
}

func (c *Coordinator) Stats() Stats {
	return c.stats
}

// Close checks in everything the coordinator holds.
func (c *Coordinator) Close() {
	c.preDisplay.Clear()
	c.ReleaseDisplay()
}
