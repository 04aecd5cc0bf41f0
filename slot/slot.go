// Package slot implements the per-tab state machine and the send protocol.
//
// Each Slot wraps one browser tab and cycles FREE -> BUSY -> FREE, with
// ERROR as a recovery state. A BUSY slot is bound to one owner through an
// opaque lease token; every operation on the slot revalidates the lease.
package slot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/google/uuid"

	clip "github.com/use-agent/gempool/clipboard"
	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/models"
)

// State of a pool slot.
type State string

const (
	StateFree  State = "FREE"
	StateBusy  State = "BUSY"
	StateError State = "ERROR"
)

// sendTimeoutMargin pads the outer send deadline beyond the response
// timeout so the extraction phase is the one that times out, not the guard.
const sendTimeoutMargin = 100 * time.Second

const previewLen = 50

// SendResult is the outcome of one successful send/extract cycle.
type SendResult struct {
	Text       string
	Format     clip.Format
	DurationMs int
}

// sendFunc runs the full send-and-extract protocol against a tab.
// Replaceable for tests.
type sendFunc func(ctx context.Context, page *rod.Page, message string, filePaths []string, responseTimeout time.Duration) (string, clip.Format, error)

// Slot is a single session slot backed by a browser tab. Safe for
// concurrent use.
type Slot struct {
	mu sync.Mutex

	id   int
	page *rod.Page
	cfg  config.BrowserConfig

	state          State
	owner          string
	leaseToken     string
	lastActivity   time.Time
	messageCount   int
	messagePreview string
	sending        bool

	send sendFunc
}

// New creates a FREE slot over an existing tab.
func New(id int, page *rod.Page, cfg config.BrowserConfig) *Slot {
	return &Slot{
		id:           id,
		page:         page,
		cfg:          cfg,
		state:        StateFree,
		lastActivity: time.Now(),
		send:         sendAndExtract,
	}
}

// ID returns the slot number.
func (s *Slot) ID() int { return s.id }

// Page returns the current tab.
func (s *Slot) Page() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// SetPage swaps the underlying tab, e.g. after a page restart.
func (s *Slot) SetPage(page *rod.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
}

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Owner returns the current lease owner, empty when FREE.
func (s *Slot) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// LeaseToken returns the active lease token, empty when FREE.
func (s *Slot) LeaseToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaseToken
}

// Sending reports whether a send cycle is in flight. The inactivity
// monitor never reclaims a slot mid-send.
func (s *Slot) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// IdleSeconds returns the time since the last lease activity.
func (s *Slot) IdleSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity).Seconds()
}

// MessageCount returns the number of messages sent on the current lease.
func (s *Slot) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// MessagePreview returns the first characters of the last sent message.
func (s *Slot) MessagePreview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagePreview
}

// Acquire transitions FREE -> BUSY and returns a fresh lease token.
func (s *Slot) Acquire(owner string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFree {
		return "", models.NewPoolError(models.KindDriverError,
			"slot is not free, cannot acquire", nil)
	}
	s.state = StateBusy
	s.owner = owner
	s.leaseToken = newLeaseToken()
	s.lastActivity = time.Now()
	s.messageCount = 0
	s.messagePreview = ""
	slog.Info("slot acquired", "slot", s.id, "owner", owner)
	return s.leaseToken, nil
}

// Release transitions BUSY -> FREE and clears ownership.
func (s *Slot) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateFree
	s.owner = ""
	s.leaseToken = ""
	s.messageCount = 0
	s.messagePreview = ""
	s.sending = false
	slog.Info("slot released", "slot", s.id)
}

// ReleaseIfIdle releases the slot when it is BUSY, not mid-send, and has
// been idle longer than timeoutS. Check and release share one critical
// section; a send that raised the sending flag first is never interrupted.
func (s *Slot) ReleaseIfIdle(timeoutS float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateBusy || s.sending {
		return false
	}
	idle := time.Since(s.lastActivity).Seconds()
	if idle <= timeoutS {
		return false
	}
	slog.Info("auto-releasing idle slot",
		"slot", s.id, "owner", s.owner, "idle_s", int(idle))
	s.state = StateFree
	s.owner = ""
	s.leaseToken = ""
	s.messageCount = 0
	s.messagePreview = ""
	return true
}

// MarkError transitions any state -> ERROR, voiding the lease.
func (s *Slot) MarkError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateError
	s.owner = ""
	s.leaseToken = ""
	s.sending = false
	slog.Warn("slot marked error", "slot", s.id, "was", prev)
}

// MarkFree transitions ERROR -> FREE with a replacement tab.
func (s *Slot) MarkFree(newPage *rod.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.page = newPage
	s.state = StateFree
	s.owner = ""
	s.leaseToken = ""
	s.messageCount = 0
	s.messagePreview = ""
	s.sending = false
	s.lastActivity = time.Now()
	slog.Info("slot recovered", "slot", s.id)
}

// ValidateLease verifies that token matches the active lease.
func (s *Slot) ValidateLease(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLeaseLocked(token)
}

func (s *Slot) validateLeaseLocked(token string) error {
	if s.state != StateBusy {
		return models.NewPoolError(models.KindLeaseExpired,
			"lease expired, slot was reclaimed", nil)
	}
	if s.leaseToken != token {
		return models.NewPoolError(models.KindInvalidToken,
			"lease token does not match", nil)
	}
	return nil
}

// Touch refreshes the inactivity clock.
func (s *Slot) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// SendMessage validates the lease and runs one full send/extract cycle.
// Validation and raising the sending flag share one critical section, so an
// inactivity reclaim can never slip between the check and the send. The slot
// stays BUSY on failure; the lease holder decides whether to retry or
// release.
func (s *Slot) SendMessage(ctx context.Context, token, message string, filePaths []string) (*SendResult, error) {
	s.mu.Lock()
	if err := s.validateLeaseLocked(token); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	page := s.page
	cfg := s.cfg
	s.sending = true
	s.lastActivity = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, cfg.ResponseTimeout()+sendTimeoutMargin)
	defer cancel()

	text, format, err := s.send(sctx, page, message, filePaths, cfg.ResponseTimeout())
	duration := int(time.Since(start).Milliseconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = models.NewPoolError(models.KindSendTimeout,
				"send cycle exceeded the overall deadline", err)
		}
		slog.Error("send failed", "slot", s.id, "duration_ms", duration, "error", err)
		return nil, err
	}

	s.mu.Lock()
	s.messageCount++
	s.messagePreview = truncate(message, previewLen)
	s.lastActivity = time.Now()
	s.mu.Unlock()

	slog.Info("send complete", "slot", s.id, "duration_ms", duration, "format", format)
	return &SendResult{Text: text, Format: format, DurationMs: duration}, nil
}

// newLeaseToken returns 32 lowercase hex characters.
func newLeaseToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
