package models

// AcquireOutcome is the result of a pool acquire call. Exactly one of the
// three concrete shapes is returned: Acquired, Queued, or Rejected.
type AcquireOutcome interface {
	acquireOutcome()
}

// Acquired is returned when a slot is immediately available (or the owner
// reattaches to a slot it already holds).
type Acquired struct {
	Status                string `json:"status"`
	SlotID                int    `json:"slot_id"`
	LeaseToken            string `json:"lease_token"`
	Reattached            bool   `json:"reattached"`
	ExpiresAfterInactiveS int    `json:"expires_after_inactive_s"`
}

// Queued is returned when the client is placed in the waiting queue.
type Queued struct {
	Status         string `json:"status"`
	QueuePosition  int    `json:"queue_position"`
	EstimatedWaitS int    `json:"estimated_wait_s"`
}

// Rejected is returned when the pool is exhausted and the queue is full.
type Rejected struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	TotalSlots int    `json:"total_slots"`
	QueueDepth int    `json:"queue_depth"`
	QueueMax   int    `json:"queue_max"`
}

func (Acquired) acquireOutcome() {}
func (Queued) acquireOutcome()   {}
func (Rejected) acquireOutcome() {}

// NewAcquired fills in the constant status field.
func NewAcquired(slotID int, token string, reattached bool, inactivityS int) Acquired {
	return Acquired{
		Status:                "acquired",
		SlotID:                slotID,
		LeaseToken:            token,
		Reattached:            reattached,
		ExpiresAfterInactiveS: inactivityS,
	}
}

// NewQueued computes the coarse wait estimate (position x 30s, min 1s).
func NewQueued(position int) Queued {
	wait := position * 30
	if wait < 1 {
		wait = 1
	}
	return Queued{Status: "queued", QueuePosition: position, EstimatedWaitS: wait}
}

// NewRejected reports pool exhaustion with structured totals.
func NewRejected(totalSlots, queueDepth, queueMax int) Rejected {
	return Rejected{
		Status:     "rejected",
		Error:      KindPoolExhausted,
		TotalSlots: totalSlots,
		QueueDepth: queueDepth,
		QueueMax:   queueMax,
	}
}
