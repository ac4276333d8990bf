// Package overlay holds the render state machine that turns tracker frames
// into per-target overlay poses and publishes them to connected renderers.
package overlay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/metrics"
	"github.com/jewel-mirror/overlay/pkg/track"
	"github.com/jewel-mirror/overlay/pkg/transform"
)

// DefaultInboxSize bounds the engine event queue.
const DefaultInboxSize = 64

type eventKind int

const (
	evFrame eventKind = iota
	evConnected
	evExhausted
	evSelect
	evDimensions
	evAssetReport
)

type event struct {
	kind      eventKind
	frame     track.Frame
	connected bool
	item      jewelry.Descriptor
	width     int
	height    int
	assetPath string
	assetOK   bool
	assetErr  string
}

// Options configures an Engine. Logger must be set; Metrics may be nil.
type Options struct {
	Logger  customlog.Logger
	Metrics *metrics.Metrics

	// InboxSize bounds the event queue. DefaultInboxSize when zero.
	InboxSize int

	// Selected is the jewelry item provisioned before any selection arrives.
	Selected jewelry.Descriptor

	// VideoWidth and VideoHeight seed the aspect ratio. Zero means unknown
	// and selects the default widescreen aspect.
	VideoWidth  int
	VideoHeight int
}

// Engine is the single writer of overlay render state. Frames, connection
// changes, selections and asset reports all funnel through one event loop so
// state transitions stay ordered; readers receive immutable RenderState
// snapshots through Subscribe or Snapshot.
type Engine struct {
	logger  customlog.Logger
	metrics *metrics.Metrics

	inbox chan event
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	subMu     sync.Mutex
	subs      map[string]chan RenderState
	latest    RenderState
	haveState bool

	// Everything below is owned by the run loop.
	seq          uint64
	timestamp    float64
	visible      bool
	hiddenReason string
	poses        map[track.Target]transform.Pose
	lastRotation *track.Rotation
	lastFrame    *track.Frame
	aspect       float64
	status       Status
	selected     jewelry.Descriptor
	object       *jewelry.RenderObject
	provisioner  *jewelry.Provisioner
	receiveRate  rateEstimator
}

// NewEngine creates an overlay engine. Call Start before feeding events.
func NewEngine(opts Options) *Engine {
	size := opts.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}
	aspect := transform.AspectOf(opts.VideoWidth, opts.VideoHeight)
	e := &Engine{
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		inbox:        make(chan event, size),
		quit:         make(chan struct{}),
		subs:         make(map[string]chan RenderState),
		hiddenReason: hiddenNoLandmarks,
		aspect:       aspect,
		selected:     opts.Selected,
		provisioner:  jewelry.NewProvisioner(opts.Logger),
	}
	e.status = Status{
		ConnectionState: connStateConnecting,
		Aspect:          aspect,
	}
	return e
}

// Start publishes the initial state and launches the event loop. Snapshot
// and Subscribe return real state from the moment Start returns.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.object = e.resolveObject()
	e.publish()

	e.wg.Add(1)
	go e.run()
	e.logger.Infof("Overlay engine started (aspect %.3f)", e.aspect)
}

// Stop terminates the event loop and closes all subscriber channels.
// Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.quit)
	e.wg.Wait()

	e.subMu.Lock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	e.subMu.Unlock()

	e.logger.Infof("Overlay engine stopped")
}

// HandleFrame enqueues a landmark frame. Frames are dropped rather than
// blocked on when the loop falls behind; the drop counter records it.
func (e *Engine) HandleFrame(f track.Frame) {
	select {
	case e.inbox <- event{kind: evFrame, frame: f}:
	default:
		if e.metrics != nil {
			e.metrics.FramesDropped.Add(1)
		}
	}
}

// HandleConnected records a change of the upstream socket state.
func (e *Engine) HandleConnected(connected bool) {
	e.send(event{kind: evConnected, connected: connected})
}

// HandleRetriesExhausted marks the stream as failed until a new connect run.
func (e *Engine) HandleRetriesExhausted() {
	e.send(event{kind: evExhausted})
}

// SelectItem switches the provisioned jewelry item.
func (e *Engine) SelectItem(item jewelry.Descriptor) {
	e.send(event{kind: evSelect, item: item})
}

// SetVideoDimensions updates the aspect ratio used for coordinate mapping
// and recomputes the current poses against the new ratio.
func (e *Engine) SetVideoDimensions(width, height int) {
	e.send(event{kind: evDimensions, width: width, height: height})
}

// ReportAsset records a renderer's verdict on a requested asset load.
func (e *Engine) ReportAsset(path string, ok bool, reason string) {
	e.send(event{kind: evAssetReport, assetPath: path, assetOK: ok, assetErr: reason})
}

func (e *Engine) send(ev event) {
	select {
	case e.inbox <- ev:
	case <-e.quit:
	}
}

// Subscribe registers a render feed and primes it with the latest state.
// The returned channel holds at most one pending state; the engine swaps in
// newer states instead of blocking behind a slow reader.
func (e *Engine) Subscribe() (string, <-chan RenderState) {
	id := uuid.NewString()[:8]
	ch := make(chan RenderState, 1)

	e.subMu.Lock()
	e.subs[id] = ch
	if e.haveState {
		ch <- e.latest
	}
	e.subMu.Unlock()

	if e.metrics != nil {
		e.metrics.ActiveRenderClients.Add(1)
		e.metrics.TotalRenderClients.Add(1)
	}
	e.logger.Debugf("Render subscriber %s registered", id)
	return id, ch
}

// Unsubscribe removes a render feed and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	ch, ok := e.subs[id]
	if ok {
		delete(e.subs, id)
		close(ch)
	}
	e.subMu.Unlock()

	if ok && e.metrics != nil {
		e.metrics.ActiveRenderClients.Add(^uint64(0))
	}
}

// Snapshot returns the most recently published render state.
func (e *Engine) Snapshot() RenderState {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	return e.latest
}

func (e *Engine) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.quit:
			return
		case ev := <-e.inbox:
			e.process(ev)
		}
	}
}

func (e *Engine) process(ev event) {
	switch ev.kind {
	case evFrame:
		e.processFrame(ev.frame)
	case evConnected:
		e.processConnected(ev.connected)
	case evExhausted:
		e.status.Connected = false
		e.status.ConnectionState = connStateFailed
		e.logger.Warnf("Landmark stream reconnects exhausted; overlay holds last pose")
	case evSelect:
		e.selected = ev.item
		e.object = e.resolveObject()
		e.logger.Infof("Jewelry selection changed to '%s'", ev.item.ID)
	case evDimensions:
		e.processDimensions(ev.width, ev.height)
	case evAssetReport:
		e.processAssetReport(ev)
	}
	e.publish()
}

// processFrame drives the visibility state machine. Only frames move the
// overlay between hidden and visible; connection changes never do.
func (e *Engine) processFrame(f track.Frame) {
	if f.StatusOnly() {
		e.status.UpstreamError = f.Error
		if e.metrics != nil {
			e.metrics.UpstreamErrors.Add(1)
		}
		e.logger.Warnf("Tracker reported error: %s", f.Error)
		return
	}

	e.receiveRate.tick(time.Now())

	e.timestamp = f.Timestamp
	e.status.UpstreamError = ""
	e.status.FaceDetected = f.FaceDetected
	e.status.TrackerFPS = f.FPS
	e.status.ReceiveFPS = e.receiveRate.value()
	if f.FrameCount > 0 {
		e.status.FrameCount = f.FrameCount
	}
	if e.metrics != nil {
		e.metrics.SetTrackerFPS(f.FPS)
		e.metrics.SetReceiveFPS(e.receiveRate.value())
	}

	frame := f
	e.lastFrame = &frame

	if !f.TargetsVisible() {
		e.setHidden(hideReason(&f))
		return
	}

	if f.Landmarks.FaceRotation != nil {
		rot := *f.Landmarks.FaceRotation
		e.lastRotation = &rot
	}
	e.poses = e.computePoses(&f)
	e.setVisible()
}

func (e *Engine) processConnected(connected bool) {
	e.status.Connected = connected
	if connected {
		e.status.ConnectionState = connStateConnected
		e.logger.Infof("Landmark stream connected")
		return
	}

	e.status.ConnectionState = connStateReconnecting
	e.receiveRate.reset(time.Now())
	e.status.TrackerFPS = 0
	e.status.ReceiveFPS = 0
	if e.metrics != nil {
		e.metrics.SetTrackerFPS(0)
		e.metrics.SetReceiveFPS(0)
	}
	e.logger.Warnf("Landmark stream lost; holding last overlay pose")
}

func (e *Engine) processDimensions(width, height int) {
	aspect := transform.AspectOf(width, height)
	if aspect == e.aspect {
		return
	}
	e.aspect = aspect
	e.status.Aspect = aspect
	if e.visible && e.lastFrame != nil {
		e.poses = e.computePoses(e.lastFrame)
	}
	e.logger.Infof("Video dimensions set to %dx%d (aspect %.3f)", width, height, aspect)
}

func (e *Engine) processAssetReport(ev event) {
	var changed bool
	if ev.assetOK {
		changed = e.provisioner.AssetReady(ev.assetPath)
	} else {
		changed = e.provisioner.AssetFailed(ev.assetPath, ev.assetErr)
		if changed && e.metrics != nil {
			e.metrics.AssetLoadFailures.Add(1)
		}
	}
	if changed {
		e.object = e.resolveObject()
	}
}

func (e *Engine) setVisible() {
	if !e.visible {
		e.visible = true
		if e.metrics != nil {
			e.metrics.VisibilityTransitions.Add(1)
		}
		e.logger.Infof("Overlay visible: all attachment targets tracked")
	}
	e.hiddenReason = ""
}

func (e *Engine) setHidden(reason string) {
	if e.visible {
		e.visible = false
		if e.metrics != nil {
			e.metrics.VisibilityTransitions.Add(1)
		}
		e.logger.Infof("Overlay hidden: %s", reason)
	}
	e.hiddenReason = reason
	e.poses = nil
}

// computePoses maps every tracked overlay target into render space using
// the held head rotation. A target missing from the frame is skipped.
func (e *Engine) computePoses(f *track.Frame) map[track.Target]transform.Pose {
	rot := track.Rotation{}
	if e.lastRotation != nil {
		rot = *e.lastRotation
	}
	poses := make(map[track.Target]transform.Pose, len(track.OverlayTargets))
	for _, t := range track.OverlayTargets {
		p := f.Point(t)
		if p == nil {
			continue
		}
		poses[t] = transform.TargetPose(*p, rot, e.aspect, t.Mirrored())
	}
	return poses
}

func (e *Engine) resolveObject() *jewelry.RenderObject {
	obj := e.provisioner.Resolve(e.selected)
	return &obj
}

func (e *Engine) publish() {
	e.seq++
	st := e.renderState()

	e.subMu.Lock()
	e.latest = st
	e.haveState = true
	for _, ch := range e.subs {
		select {
		case ch <- st:
		default:
			// A full buffer holds a state nobody read yet; swap it for
			// the new one.
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
	e.subMu.Unlock()

	if e.metrics != nil {
		e.metrics.StatesPublished.Add(1)
	}
}

func (e *Engine) renderState() RenderState {
	st := RenderState{
		Seq:           e.seq,
		Timestamp:     e.timestamp,
		Visible:       e.visible,
		HiddenReason:  e.hiddenReason,
		Object:        e.object,
		PendingAssets: e.provisioner.Pending(),
		Status:        e.status,
	}
	if len(e.poses) > 0 {
		poses := make(map[track.Target]transform.Pose, len(e.poses))
		for t, p := range e.poses {
			poses[t] = p
		}
		st.Poses = poses
	}
	return st
}

func hideReason(f *track.Frame) string {
	if f.Landmarks == nil {
		return hiddenNoLandmarks
	}
	if !f.FaceDetected {
		return hiddenFaceNotDetected
	}
	return hiddenTargetsMissing
}
