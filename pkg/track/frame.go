package track

import (
	"encoding/json"
	"fmt"
)

// Target names an anatomical reference point an overlay object can attach to.
// Values match the landmark keys on the wire.
type Target string

const (
	TargetLeftEar  Target = "left_ear"
	TargetRightEar Target = "right_ear"
	TargetNoseTip  Target = "nose_tip"
)

// RequiredTargets must all be present in a frame before any overlay is shown.
var RequiredTargets = []Target{TargetLeftEar, TargetRightEar}

// OverlayTargets lists every target a pose is derived for. Targets beyond
// the required set are auxiliary: they get poses when tracked but their
// absence never hides the overlay.
var OverlayTargets = []Target{TargetLeftEar, TargetRightEar, TargetNoseTip}

// Mirrored reports whether objects attached to this target use the mirrored
// orientation convention (half turn of yaw, sign-flipped roll).
func (t Target) Mirrored() bool {
	return t == TargetRightEar
}

// Point is a landmark position in normalized image space. X and Y are
// fractions of the frame (0..1, origin top-left), Z is relative depth with
// lower values closer to the camera.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation holds head pose angles in radians.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Landmarks carries the reference points of one tracking cycle. Entries the
// tracker could not resolve are nil.
type Landmarks struct {
	LeftEar      *Point    `json:"left_ear"`
	RightEar     *Point    `json:"right_ear"`
	NoseTip      *Point    `json:"nose_tip,omitempty"`
	FaceRotation *Rotation `json:"face_rotation,omitempty"`
}

// Frame is one landmark message as produced by the tracking service. A frame
// either reports a tracking cycle (Landmarks set or FaceDetected false) or a
// producer-side fault (Error set, everything else empty).
type Frame struct {
	Timestamp    float64    `json:"timestamp"`
	Landmarks    *Landmarks `json:"landmarks,omitempty"`
	FPS          float64    `json:"fps,omitempty"`
	FrameCount   int64      `json:"frame_count,omitempty"`
	FaceDetected bool       `json:"face_detected,omitempty"`
	Message      string     `json:"message,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StatusOnly reports whether the frame carries a producer fault instead of
// tracking data.
func (f *Frame) StatusOnly() bool {
	return f.Error != ""
}

// Point returns the landmark for the given target, or nil when the frame does
// not carry it.
func (f *Frame) Point(t Target) *Point {
	if f.Landmarks == nil {
		return nil
	}
	switch t {
	case TargetLeftEar:
		return f.Landmarks.LeftEar
	case TargetRightEar:
		return f.Landmarks.RightEar
	case TargetNoseTip:
		return f.Landmarks.NoseTip
	}
	return nil
}

// TargetsVisible reports whether the frame supports showing overlays at all:
// the face must be detected and every required target resolved. A frame with
// nil landmarks or FaceDetected false hides everything regardless of any
// points it carries.
func (f *Frame) TargetsVisible() bool {
	if f.Landmarks == nil || !f.FaceDetected {
		return false
	}
	for _, t := range RequiredTargets {
		if f.Point(t) == nil {
			return false
		}
	}
	return true
}

// ParseFrame decodes a single landmark message. Payloads that are not valid
// JSON objects of the expected shape are rejected; the caller is expected to
// log and skip them without tearing down the connection.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("invalid landmark frame: %w", err)
	}
	if f.Timestamp <= 0 && f.Error == "" {
		return Frame{}, fmt.Errorf("invalid landmark frame: missing timestamp")
	}
	return f, nil
}
