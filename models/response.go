package models

// SendResponse is returned from POST /api/session/{id}/send.
type SendResponse struct {
	Response   string `json:"response"`
	DurationMs int64  `json:"duration_ms"`
	Format     string `json:"format"`
}

// ReleaseResponse is returned from POST /api/session/{id}/release.
type ReleaseResponse struct {
	Released bool `json:"released"`
}

// PoolResetResponse is returned from POST /api/pool/reset.
type PoolResetResponse struct {
	Reset          bool `json:"reset"`
	SlotsAvailable int  `json:"slots_available"`
}

// SlotResetResponse is returned from POST /api/pool/slot/{id}/reset.
type SlotResetResponse struct {
	SlotID int    `json:"slot_id"`
	State  string `json:"state"`
}

// ShutdownResponse acknowledges POST /api/shutdown before the server stops.
type ShutdownResponse struct {
	Shutdown string `json:"shutdown"`
	Message  string `json:"message"`
}
