package models

// QueueStatus is the lifecycle state of a queued trip submission
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem is one trip submission waiting to reach the server
type QueueItem struct {
	ClientID  string      `json:"clientId"`
	CreatedAt int64       `json:"createdAt"` // Unix timestamp in milliseconds
	Payload   TripPayload `json:"payload"`
	Status    QueueStatus `json:"status"`
	LastError string      `json:"lastError,omitempty"`
	Attempts  int         `json:"attempts"`
	ServerID  *int64      `json:"serverId,omitempty"`
}

// Eligible reports whether the item may be picked by an automatic flush
func (q QueueItem) Eligible(maxRetries int) bool {
	return (q.Status == QueueStatusPending || q.Status == QueueStatusFailed) && q.Attempts < maxRetries
}

// QueueStats summarizes the queue for the UI
type QueueStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"` // failed items past the retry ceiling
}
