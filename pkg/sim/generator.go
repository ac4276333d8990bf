// Package sim provides a synthetic landmark tracker: a frame generator with
// configurable signal loss plus a websocket server speaking the same wire
// format as the real tracker. It backs the tracksim binary and the
// end-to-end tests.
package sim

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"strings"
	"time"

	"github.com/jewel-mirror/overlay/pkg/track"
)

// DefaultFPS is the synthetic tracker frame rate.
const DefaultFPS = 30

// Options tunes the synthetic tracker output.
type Options struct {
	// FPS is the frame rate. DefaultFPS when zero.
	FPS int

	// FaceLossEvery carves a face-loss window of FaceLossFor at the end of
	// every such interval. Zero disables face loss.
	FaceLossEvery time.Duration
	FaceLossFor   time.Duration

	// RotationLossEvery carves windows without face_rotation, exercising
	// rotation hold in consumers. Zero disables.
	RotationLossEvery time.Duration
	RotationLossFor   time.Duration

	// ErrorEvery injects a status-only error frame once per interval.
	// Zero disables.
	ErrorEvery time.Duration

	// MalformedEvery injects a non-JSON payload every Nth frame.
	// Zero disables.
	MalformedEvery int

	// ReplayPath switches the server from generated frames to a JSONL
	// capture replayed in a loop.
	ReplayPath string
}

func (o Options) fps() int {
	if o.FPS <= 0 {
		return DefaultFPS
	}
	return o.FPS
}

// frameSource yields one wire payload per tick.
type frameSource interface {
	Next() []byte
}

// Generator produces a deterministic head sway pattern: both ears drift on
// slow sine curves while the face rotation oscillates around neutral.
type Generator struct {
	opts  Options
	start time.Time
	frame int64
}

// NewGenerator creates a generator starting at frame zero.
func NewGenerator(opts Options) *Generator {
	return &Generator{opts: opts, start: time.Now()}
}

// Next returns the payload for the next frame tick.
func (g *Generator) Next() []byte {
	idx := g.frame
	g.frame++

	fps := g.opts.fps()
	t := float64(idx) / float64(fps)
	timestamp := float64(g.start.UnixNano())/1e9 + t

	if n := int64(g.opts.MalformedEvery); n > 0 && idx > 0 && idx%n == 0 {
		return []byte("{truncated frame")
	}
	if inWindow(idx, fps, g.opts.ErrorEvery, time.Second/time.Duration(fps)) {
		payload, _ := json.Marshal(track.Frame{
			Timestamp: timestamp,
			Error:     "synthetic tracker fault",
		})
		return payload
	}

	frame := track.Frame{
		Timestamp:    timestamp,
		FPS:          float64(fps),
		FrameCount:   idx + 1,
		FaceDetected: true,
	}

	if inWindow(idx, fps, g.opts.FaceLossEvery, g.opts.FaceLossFor) {
		frame.FaceDetected = false
		payload, _ := json.Marshal(frame)
		return payload
	}

	sway := 0.05 * math.Sin(2*math.Pi*0.20*t)
	bob := 0.02 * math.Sin(2*math.Pi*0.13*t+1.0)
	frame.Landmarks = &track.Landmarks{
		LeftEar:  &track.Point{X: 0.32 + sway, Y: 0.42 + bob, Z: 0.08},
		RightEar: &track.Point{X: 0.68 + sway, Y: 0.42 + bob, Z: 0.08},
		NoseTip:  &track.Point{X: 0.50 + sway, Y: 0.55 + bob, Z: 0.02},
	}
	if !inWindow(idx, fps, g.opts.RotationLossEvery, g.opts.RotationLossFor) {
		frame.Landmarks.FaceRotation = &track.Rotation{
			Pitch: 0.10 * math.Sin(2*math.Pi*0.11*t),
			Yaw:   0.35 * math.Sin(2*math.Pi*0.07*t),
			Roll:  0.12 * math.Sin(2*math.Pi*0.05*t+0.5),
		}
	}

	payload, _ := json.Marshal(frame)
	return payload
}

// inWindow reports whether frame idx falls in the trailing window of length
// dur inside each cycle of length every.
func inWindow(idx int64, fps int, every, dur time.Duration) bool {
	if every <= 0 || dur <= 0 {
		return false
	}
	cycle := int64(every.Seconds() * float64(fps))
	if cycle <= 0 {
		return false
	}
	window := int64(dur.Seconds() * float64(fps))
	if window <= 0 {
		window = 1
	}
	if window >= cycle {
		return true
	}
	return idx%cycle >= cycle-window
}

// replaySource cycles through a recorded frame capture.
type replaySource struct {
	frames [][]byte
	idx    int
}

func (r *replaySource) Next() []byte {
	payload := r.frames[r.idx]
	r.idx = (r.idx + 1) % len(r.frames)
	return payload
}

// LoadReplay reads a JSONL capture, one frame payload per line. Blank lines
// are skipped; payloads are served verbatim, so a capture may deliberately
// contain malformed lines.
func LoadReplay(path string) ([][]byte, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var frames [][]byte
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		frames = append(frames, []byte(line))
	}
	return frames, nil
}
