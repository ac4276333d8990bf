package api

import (
	"github.com/jewel-mirror/overlay/domain/jewelry"
	"github.com/jewel-mirror/overlay/domain/overlay"
)

// --- Data Structures for REST and WebSocket Messages ---

// Message types accepted on the render websocket.
const (
	MessageTypeAssetStatus = "asset_status"
)

// Asset load outcomes a renderer can report.
const (
	AssetStatusLoaded = "loaded"
	AssetStatusFailed = "failed"
)

// StreamStatus describes the landmark stream client.
type StreamStatus struct {
	State             string `json:"state"`
	SessionID         string `json:"session_id,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	TotalReconnects   uint64 `json:"total_reconnects"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesMalformed   uint64 `json:"frames_malformed"`
	LastConnectedAt   string `json:"last_connected_at,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorAt       string `json:"last_error_at,omitempty"`
}

// StatusResponse is the /api/status payload: the stream client view plus the
// latest render state snapshot.
type StatusResponse struct {
	Service string              `json:"service"`
	Stream  StreamStatus        `json:"stream"`
	Render  overlay.RenderState `json:"render"`
}

// JewelryListResponse is the /api/jewelry payload.
type JewelryListResponse struct {
	Items    []jewelry.Descriptor `json:"items"`
	Selected jewelry.Descriptor   `json:"selected"`
}

// SelectRequest asks for a jewelry item by catalog id.
type SelectRequest struct {
	ID string `json:"id"`
}

// DimensionsRequest reports the active video source size in pixels.
type DimensionsRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AssetStatusMessage is sent by a renderer over the render websocket once an
// asset load request settles.
type AssetStatusMessage struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
