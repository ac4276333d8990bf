package overlay

import (
	"math"
	"testing"
	"time"

	"github.com/jewel-mirror/overlay/domain/jewelry"
	customlog "github.com/jewel-mirror/overlay/pkg/log"
	"github.com/jewel-mirror/overlay/pkg/metrics"
	"github.com/jewel-mirror/overlay/pkg/track"
)

func testLogger(t *testing.T) customlog.Logger {
	t.Helper()
	logger, err := customlog.NewLogrusLogger("fatal", "")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger(t)
	}
	if opts.Selected.ID == "" {
		opts.Selected = jewelry.Descriptor{
			ID:            "silver-hoop",
			Name:          "Silver Hoop",
			Scale:         1.0,
			FallbackColor: "#c0c0c0",
		}
	}
	e := NewEngine(opts)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

// waitState drains the feed until a state satisfies cond. The feed keeps only
// the newest undelivered state, so conditions must describe final outcomes.
func waitState(t *testing.T, ch <-chan RenderState, cond func(RenderState) bool) RenderState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatalf("render feed closed while waiting for condition")
			}
			if cond(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("timed out waiting for render state condition")
		}
	}
}

func visibleFrame(ts float64) track.Frame {
	return track.Frame{
		Timestamp:    ts,
		FPS:          30,
		FrameCount:   int64(ts * 30),
		FaceDetected: true,
		Landmarks: &track.Landmarks{
			LeftEar:      &track.Point{X: 0.3, Y: 0.4, Z: 0.1},
			RightEar:     &track.Point{X: 0.7, Y: 0.4, Z: 0.1},
			FaceRotation: &track.Rotation{Pitch: 0.5, Yaw: 0.5, Roll: 0.3},
		},
	}
}

func approx(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestEngineInitialState(t *testing.T) {
	e := newTestEngine(t, Options{})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	st := waitState(t, ch, func(st RenderState) bool { return st.Seq >= 1 })
	if st.Visible {
		t.Errorf("expected overlay hidden before any frame")
	}
	if st.HiddenReason != hiddenNoLandmarks {
		t.Errorf("expected hidden reason %q, got %q", hiddenNoLandmarks, st.HiddenReason)
	}
	if st.Object == nil || st.Object.Kind != jewelry.KindFallback {
		t.Errorf("expected procedural fallback object in initial state, got %+v", st.Object)
	}
	if st.Status.ConnectionState != connStateConnecting {
		t.Errorf("expected initial connection state %q, got %q", connStateConnecting, st.Status.ConnectionState)
	}
	if !approx(st.Status.Aspect, 16.0/9.0) {
		t.Errorf("expected default aspect, got %v", st.Status.Aspect)
	}
}

func TestVisibilityLifecycle(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, Options{Metrics: m})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleFrame(visibleFrame(1))
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })
	if len(st.Poses) != 2 {
		t.Fatalf("expected poses for both ears, got %d", len(st.Poses))
	}
	if st.HiddenReason != "" {
		t.Errorf("expected empty hidden reason while visible, got %q", st.HiddenReason)
	}
	if st.Status.TrackerFPS != 30 {
		t.Errorf("expected tracker fps 30, got %v", st.Status.TrackerFPS)
	}
	if st.Status.FrameCount != 30 {
		t.Errorf("expected frame count 30, got %d", st.Status.FrameCount)
	}

	noFace := visibleFrame(2)
	noFace.FaceDetected = false
	e.HandleFrame(noFace)
	st = waitState(t, ch, func(st RenderState) bool { return st.Timestamp == 2 })
	if st.Visible {
		t.Errorf("expected overlay hidden when face not detected")
	}
	if st.HiddenReason != hiddenFaceNotDetected {
		t.Errorf("expected hidden reason %q, got %q", hiddenFaceNotDetected, st.HiddenReason)
	}
	if len(st.Poses) != 0 {
		t.Errorf("expected poses cleared while hidden, got %d", len(st.Poses))
	}

	earless := visibleFrame(3)
	earless.Landmarks.RightEar = nil
	e.HandleFrame(earless)
	st = waitState(t, ch, func(st RenderState) bool { return st.Timestamp == 3 })
	if st.Visible {
		t.Errorf("expected overlay hidden when a required target is missing")
	}
	if st.HiddenReason != hiddenTargetsMissing {
		t.Errorf("expected hidden reason %q, got %q", hiddenTargetsMissing, st.HiddenReason)
	}

	if got := m.VisibilityTransitions.Load(); got != 2 {
		t.Errorf("expected 2 visibility transitions, got %d", got)
	}
}

func TestPoseMathMatchesSquareVideo(t *testing.T) {
	e := newTestEngine(t, Options{VideoWidth: 100, VideoHeight: 100})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleFrame(visibleFrame(1))
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })

	left, ok := st.Poses[track.TargetLeftEar]
	if !ok {
		t.Fatalf("missing left ear pose")
	}
	if !approx(left.Position.X, 0.4) || !approx(left.Position.Y, 0.2) || !approx(left.Position.Z, 0.2) {
		t.Errorf("unexpected left ear position: %+v", left.Position)
	}
	if !approx(left.Rotation.X, 0.25) || !approx(left.Rotation.Y, 0.25) || !approx(left.Rotation.Z, 0.3) {
		t.Errorf("unexpected left ear rotation: %+v", left.Rotation)
	}

	right, ok := st.Poses[track.TargetRightEar]
	if !ok {
		t.Fatalf("missing right ear pose")
	}
	if !approx(right.Position.X, -0.4) || !approx(right.Position.Y, 0.2) || !approx(right.Position.Z, 0.2) {
		t.Errorf("unexpected right ear position: %+v", right.Position)
	}
	if !approx(right.Rotation.Y, math.Pi+0.25) || !approx(right.Rotation.Z, -0.3) {
		t.Errorf("expected mirrored rotation on right ear, got %+v", right.Rotation)
	}
}

func TestNoseTipIsAuxiliary(t *testing.T) {
	e := newTestEngine(t, Options{VideoWidth: 100, VideoHeight: 100})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	withNose := visibleFrame(1)
	withNose.Landmarks.NoseTip = &track.Point{X: 0.5, Y: 0.5, Z: 0.05}
	e.HandleFrame(withNose)
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })
	if len(st.Poses) != 3 {
		t.Fatalf("expected ear and nose poses, got %d", len(st.Poses))
	}
	nose := st.Poses[track.TargetNoseTip]
	if !approx(nose.Position.X, 0) || !approx(nose.Position.Y, 0) || !approx(nose.Position.Z, 0.1) {
		t.Errorf("unexpected nose tip position: %+v", nose.Position)
	}
	if !approx(nose.Rotation.Y, 0.25) || !approx(nose.Rotation.Z, 0.3) {
		t.Errorf("expected unmirrored rotation on nose tip, got %+v", nose.Rotation)
	}

	// Losing the nose tip alone never hides the overlay.
	e.HandleFrame(visibleFrame(2))
	st = waitState(t, ch, func(st RenderState) bool { return st.Timestamp == 2 })
	if !st.Visible || len(st.Poses) != 2 {
		t.Errorf("expected overlay visible with ear poses only, visible=%v poses=%d", st.Visible, len(st.Poses))
	}
}

func TestRotationHeldWhenAbsent(t *testing.T) {
	e := newTestEngine(t, Options{VideoWidth: 100, VideoHeight: 100})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleFrame(visibleFrame(1))
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })
	before := st.Poses[track.TargetLeftEar]

	next := visibleFrame(2)
	next.Landmarks.FaceRotation = nil
	next.Landmarks.LeftEar = &track.Point{X: 0.35, Y: 0.45, Z: 0.12}
	e.HandleFrame(next)

	st = waitState(t, ch, func(st RenderState) bool { return st.Timestamp == 2 })
	after := st.Poses[track.TargetLeftEar]
	if after.Rotation != before.Rotation {
		t.Errorf("expected rotation held across a frame without face rotation: before %+v after %+v", before.Rotation, after.Rotation)
	}
	if !approx(after.Position.X, 0.3) || !approx(after.Position.Y, 0.1) || !approx(after.Position.Z, 0.24) {
		t.Errorf("expected position to keep updating, got %+v", after.Position)
	}
}

func TestErrorFrameHoldsOverlay(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, Options{Metrics: m})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleFrame(visibleFrame(1))
	waitState(t, ch, func(st RenderState) bool { return st.Visible })

	e.HandleFrame(track.Frame{Error: "camera read failed"})
	st := waitState(t, ch, func(st RenderState) bool { return st.Status.UpstreamError != "" })
	if !st.Visible || len(st.Poses) != 2 {
		t.Errorf("expected overlay held through tracker error, visible=%v poses=%d", st.Visible, len(st.Poses))
	}
	if st.Timestamp != 1 {
		t.Errorf("expected timestamp held at 1, got %v", st.Timestamp)
	}
	if got := m.UpstreamErrors.Load(); got != 1 {
		t.Errorf("expected 1 upstream error, got %d", got)
	}

	e.HandleFrame(visibleFrame(2))
	st = waitState(t, ch, func(st RenderState) bool { return st.Timestamp == 2 })
	if st.Status.UpstreamError != "" {
		t.Errorf("expected upstream error cleared by next good frame, got %q", st.Status.UpstreamError)
	}
}

func TestConnectionLossKeepsPose(t *testing.T) {
	e := newTestEngine(t, Options{})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleConnected(true)
	waitState(t, ch, func(st RenderState) bool { return st.Status.Connected })

	e.HandleFrame(visibleFrame(1))
	waitState(t, ch, func(st RenderState) bool { return st.Visible })

	e.HandleConnected(false)
	st := waitState(t, ch, func(st RenderState) bool { return !st.Status.Connected })
	if st.Status.ConnectionState != connStateReconnecting {
		t.Errorf("expected connection state %q, got %q", connStateReconnecting, st.Status.ConnectionState)
	}
	if !st.Visible || len(st.Poses) != 2 {
		t.Errorf("expected overlay held across reconnect, visible=%v poses=%d", st.Visible, len(st.Poses))
	}
	if st.Status.TrackerFPS != 0 || st.Status.ReceiveFPS != 0 {
		t.Errorf("expected fps figures zeroed on disconnect, got %v/%v", st.Status.TrackerFPS, st.Status.ReceiveFPS)
	}

	e.HandleRetriesExhausted()
	st = waitState(t, ch, func(st RenderState) bool { return st.Status.ConnectionState == connStateFailed })
	if !st.Visible {
		t.Errorf("expected overlay still held after retries exhausted")
	}

	e.HandleConnected(true)
	waitState(t, ch, func(st RenderState) bool { return st.Status.ConnectionState == connStateConnected })
}

func TestSelectionAndAssetFlow(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, Options{Metrics: m})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	stud := jewelry.Descriptor{ID: "pearl-stud", AssetPath: "models/stud.glb", Scale: 2, FallbackColor: "#abcabc"}
	e.SelectItem(stud)
	st := waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.ItemID == "pearl-stud"
	})
	if st.Object.Kind != jewelry.KindPlaceholder {
		t.Fatalf("expected placeholder while asset loads, got %q", st.Object.Kind)
	}
	if len(st.PendingAssets) != 1 || st.PendingAssets[0] != "models/stud.glb" {
		t.Fatalf("expected pending asset request, got %v", st.PendingAssets)
	}

	e.ReportAsset("models/stud.glb", true, "")
	st = waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.Kind == jewelry.KindAsset
	})
	if len(st.PendingAssets) != 0 {
		t.Errorf("expected no pending assets after load, got %v", st.PendingAssets)
	}

	drop := jewelry.Descriptor{ID: "gold-drop", AssetPath: "models/drop.glb", Scale: 1, FallbackColor: "#ffd700"}
	e.SelectItem(drop)
	waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.ItemID == "gold-drop" && st.Object.Kind == jewelry.KindPlaceholder
	})

	e.ReportAsset("models/drop.glb", false, "decode error")
	st = waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.Kind == jewelry.KindFallback
	})
	if len(st.PendingAssets) != 0 {
		t.Errorf("expected failed asset removed from pending, got %v", st.PendingAssets)
	}
	if got := m.AssetLoadFailures.Load(); got != 1 {
		t.Errorf("expected 1 asset load failure, got %d", got)
	}

	// Asset outcomes stick for the rest of the session.
	e.SelectItem(stud)
	waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.ItemID == "pearl-stud" && st.Object.Kind == jewelry.KindAsset
	})
	e.SelectItem(drop)
	st = waitState(t, ch, func(st RenderState) bool {
		return st.Object != nil && st.Object.ItemID == "gold-drop"
	})
	if st.Object.Kind != jewelry.KindFallback {
		t.Errorf("expected failed asset to stay on fallback, got %q", st.Object.Kind)
	}
	if len(st.PendingAssets) != 0 {
		t.Errorf("expected no new load request for a failed asset, got %v", st.PendingAssets)
	}
}

func TestDimensionChangeRecomputesPoses(t *testing.T) {
	e := newTestEngine(t, Options{})
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	e.HandleFrame(visibleFrame(1))
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })
	wide := st.Poses[track.TargetLeftEar]
	if !approx(wide.Position.X, 0.4*16.0/9.0) {
		t.Fatalf("unexpected widescreen x position: %v", wide.Position.X)
	}

	e.SetVideoDimensions(100, 100)
	st = waitState(t, ch, func(st RenderState) bool { return approx(st.Status.Aspect, 1.0) })
	square := st.Poses[track.TargetLeftEar]
	if !approx(square.Position.X, 0.4) {
		t.Errorf("expected pose recomputed for square aspect, got x=%v", square.Position.X)
	}
	if !st.Visible {
		t.Errorf("expected visibility unaffected by dimension change")
	}
}

func TestSubscribePrimingAndUnsubscribe(t *testing.T) {
	e := newTestEngine(t, Options{})

	e.HandleFrame(visibleFrame(1))
	first, ch1 := e.Subscribe()
	waitState(t, ch1, func(st RenderState) bool { return st.Visible })
	e.Unsubscribe(first)

	// A late subscriber gets the current state without any new events. The
	// frame above is fully processed, so nothing can advance the state
	// between priming and the snapshot read.
	id, ch := e.Subscribe()
	st := waitState(t, ch, func(st RenderState) bool { return st.Visible })
	if st.Seq != e.Snapshot().Seq {
		t.Errorf("expected primed state to match snapshot, got seq %d vs %d", st.Seq, e.Snapshot().Seq)
	}

	e.Unsubscribe(id)
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected channel closed after unsubscribe")
		}
	}
}

func TestStopClosesFeeds(t *testing.T) {
	logger := testLogger(t)
	e := NewEngine(Options{Logger: logger, Selected: jewelry.Descriptor{ID: "hoop"}})
	e.Start()
	_, ch := e.Subscribe()
	e.Stop()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("expected feed closed after engine stop")
		}
	}
}
