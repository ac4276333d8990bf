// Package transform converts normalized tracking coordinates into the
// render-space frame used by the overlay renderer. All functions are pure;
// callers own any state such as held rotations.
package transform

import (
	"math"

	"github.com/jewel-mirror/overlay/pkg/track"
)

// DefaultAspect is assumed until the video source reports its real size.
const DefaultAspect = 16.0 / 9.0

// PitchYawDamping scales pitch and yaw before they are applied to an overlay
// object. Roll passes through undamped.
const PitchYawDamping = 0.5

// Vec3 represents a 3D vector in render space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Pose pairs a render-space position with Euler rotation angles in radians.
// Rotation maps X to pitch, Y to yaw and Z to roll.
type Pose struct {
	Position Vec3 `json:"position"`
	Rotation Vec3 `json:"rotation"`
}

// ToRenderSpace maps a normalized landmark point into render space. The
// horizontal axis is mirrored and widened by the aspect ratio, the vertical
// axis is mirrored, and depth is doubled:
//
//	x' = -(x*2 - 1) * aspect
//	y' = -(y*2 - 1)
//	z' = z * 2
//
// Out-of-range inputs pass through the same mapping; no clamping is applied.
func ToRenderSpace(p track.Point, aspect float64) Vec3 {
	return Vec3{
		X: -(p.X*2 - 1) * aspect,
		Y: -(p.Y*2 - 1),
		Z: p.Z * 2,
	}
}

// AspectOf returns the width/height ratio of a video source, falling back to
// DefaultAspect when either dimension is not yet known.
func AspectOf(width, height int) float64 {
	if width <= 0 || height <= 0 {
		return DefaultAspect
	}
	return float64(width) / float64(height)
}

// DampRotation attenuates pitch and yaw by PitchYawDamping and keeps roll
// unchanged, so overlay objects follow head turns at half intensity.
func DampRotation(r track.Rotation) track.Rotation {
	return track.Rotation{
		Pitch: r.Pitch * PitchYawDamping,
		Yaw:   r.Yaw * PitchYawDamping,
		Roll:  r.Roll,
	}
}

// MirrorRotation converts a damped rotation to the mirrored-side convention:
// yaw is offset by a half turn and roll changes sign. Apply after damping.
func MirrorRotation(r track.Rotation) track.Rotation {
	return track.Rotation{
		Pitch: r.Pitch,
		Yaw:   math.Pi + r.Yaw,
		Roll:  -r.Roll,
	}
}

// TargetPose derives the full pose for one overlay target from its landmark
// point and the current head rotation. Mirrored targets get the mirrored
// orientation convention.
func TargetPose(p track.Point, rot track.Rotation, aspect float64, mirrored bool) Pose {
	damped := DampRotation(rot)
	if mirrored {
		damped = MirrorRotation(damped)
	}
	return Pose{
		Position: ToRenderSpace(p, aspect),
		Rotation: Vec3{X: damped.Pitch, Y: damped.Yaw, Z: damped.Roll},
	}
}
