package models

// FlushRecord is one flush that reached the network
type FlushRecord struct {
	ID        int64  `json:"id"`
	DeviceID  string `json:"deviceId"`
	FlushedAt int64  `json:"flushedAt"` // Unix timestamp in milliseconds
	Submitted int    `json:"submitted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}
