package publish

import (
	"encoding/json"

	"github.com/vinayprograms/tagwatch/heartbeat"
	"github.com/vinayprograms/tagwatch/tag"
)

// Frame types.
const (
	FrameSnapshot = "snapshot"
	FrameAlert    = "alert"
)

// Frame wraps a payload with its type for streaming clients.
type Frame struct {
	Type     string           `json:"type"`
	Snapshot *tag.Snapshot    `json:"snapshot,omitempty"`
	Alert    *heartbeat.Alert `json:"alert,omitempty"`
}

func snapshotFrame(s tag.Snapshot) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameSnapshot, Snapshot: &s})
}

func alertFrame(a heartbeat.Alert) ([]byte, error) {
	return json.Marshal(Frame{Type: FrameAlert, Alert: &a})
}
