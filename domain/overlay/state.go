package overlay

import (
	"time"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	"github.com/jewel-mirror/overlay/pkg/track"
	"github.com/jewel-mirror/overlay/pkg/transform"
)

// Connection states reported in Status.ConnectionState.
const (
	connStateConnecting   = "connecting"
	connStateConnected    = "connected"
	connStateReconnecting = "reconnecting"
	connStateFailed       = "failed"
)

// Reasons reported in RenderState.HiddenReason while the overlay is hidden.
const (
	hiddenNoLandmarks     = "no_landmarks"
	hiddenFaceNotDetected = "face_not_detected"
	hiddenTargetsMissing  = "targets_missing"
)

// Status reports connection and tracker health alongside each render state.
type Status struct {
	Connected       bool   `json:"connected"`
	ConnectionState string `json:"connection_state"`

	// FaceDetected mirrors the flag of the most recent landmark frame.
	FaceDetected bool `json:"face_detected"`

	// TrackerFPS is the frame rate the tracker reports about itself, while
	// ReceiveFPS is the rate at which frames actually arrive over the socket.
	TrackerFPS float64 `json:"tracker_fps"`
	ReceiveFPS float64 `json:"receive_fps"`
	FrameCount int64   `json:"frame_count"`

	// UpstreamError carries the message of the latest tracker error report.
	// It is cleared by the next well-formed landmark frame.
	UpstreamError string `json:"upstream_error,omitempty"`

	// Aspect is the width/height ratio used for coordinate mapping.
	Aspect float64 `json:"aspect"`
}

// RenderState is a self-contained snapshot of everything a renderer needs to
// draw one overlay frame. States are immutable once published; the engine
// never mutates a state it has handed out.
type RenderState struct {
	Seq       uint64  `json:"seq"`
	Timestamp float64 `json:"timestamp"`

	// Visible reports whether the overlay should be drawn at all.
	Visible bool `json:"visible"`
	// HiddenReason explains a hidden overlay. Empty while visible.
	HiddenReason string `json:"hidden_reason,omitempty"`

	// Poses maps each tracked attachment target to its render-space pose.
	Poses map[track.Target]transform.Pose `json:"poses,omitempty"`

	// Object describes the jewelry representation to attach at each pose.
	Object *jewelry.RenderObject `json:"object,omitempty"`
	// PendingAssets lists asset paths renderers have been asked to load.
	PendingAssets []string `json:"pending_assets,omitempty"`

	Status Status `json:"status"`
}

// rateEstimator measures an arrival rate over one second windows.
type rateEstimator struct {
	count    int
	windowAt time.Time
	rate     float64
}

// tick records one arrival and refreshes the rate once a window has elapsed.
func (r *rateEstimator) tick(now time.Time) {
	if r.windowAt.IsZero() {
		r.windowAt = now
	}
	r.count++
	if elapsed := now.Sub(r.windowAt); elapsed >= time.Second {
		r.rate = float64(r.count) / elapsed.Seconds()
		r.count = 0
		r.windowAt = now
	}
}

func (r *rateEstimator) value() float64 {
	return r.rate
}

func (r *rateEstimator) reset(now time.Time) {
	r.count = 0
	r.rate = 0
	r.windowAt = now
}
