package models

// SlotStatus describes one slot in the pool status snapshot. The owner,
// idle, counter, and preview fields are only present for BUSY slots.
type SlotStatus struct {
	ID             int     `json:"id"`
	State          string  `json:"state"`
	Owner          *string `json:"owner,omitempty"`
	IdleS          *int    `json:"idle_s,omitempty"`
	MessageCount   *int    `json:"message_count,omitempty"`
	MessagePreview *string `json:"message_preview,omitempty"`
}

// QueueStatus describes one waiting client.
type QueueStatus struct {
	Owner         string `json:"owner"`
	WaitingSinceS int    `json:"waiting_since_s"`
	Position      int    `json:"position"`
}

// SystemStatus is the system block of the pool status snapshot.
type SystemStatus struct {
	Chrome           string `json:"chrome"`
	Login            string `json:"login"`
	Enterprise       bool   `json:"enterprise"`
	LastHealthCheckS int    `json:"last_health_check_s"`
	UptimeS          int    `json:"uptime_s"`
}

// PoolStatus is the full snapshot returned by GET /api/pool/status.
type PoolStatus struct {
	TotalSlots int          `json:"total_slots"`
	Free       int          `json:"free"`
	Busy       int          `json:"busy"`
	Error      int          `json:"error"`
	QueueDepth int          `json:"queue_depth"`
	Slots      []SlotStatus `json:"slots"`
	Queue      []QueueStatus `json:"queue"`
	System     SystemStatus `json:"system"`
}
