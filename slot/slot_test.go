package slot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"

	clip "github.com/use-agent/gempool/clipboard"
	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/models"
)

func newTestSlot(t *testing.T) *Slot {
	t.Helper()
	return New(0, nil, config.Default().Browser)
}

var hexToken = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestAcquire_TokenFormat(t *testing.T) {
	s := newTestSlot(t)

	token, err := s.Acquire("client-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !hexToken.MatchString(token) {
		t.Errorf("token %q is not 32 lowercase hex chars", token)
	}
	if s.State() != StateBusy {
		t.Errorf("state = %s, want BUSY", s.State())
	}
	if s.Owner() != "client-a" {
		t.Errorf("owner = %q, want client-a", s.Owner())
	}
}

func TestAcquire_TokensUnique(t *testing.T) {
	s := newTestSlot(t)
	t1, _ := s.Acquire("a")
	s.Release()
	t2, _ := s.Acquire("a")
	if t1 == t2 {
		t.Error("consecutive leases must get distinct tokens")
	}
}

func TestAcquire_OnBusyFails(t *testing.T) {
	s := newTestSlot(t)
	if _, err := s.Acquire("a"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := s.Acquire("b"); err == nil {
		t.Error("acquiring a BUSY slot must fail")
	}
}

func TestValidateLease(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")

	if err := s.ValidateLease(token); err != nil {
		t.Errorf("valid lease rejected: %v", err)
	}
	if err := s.ValidateLease("0000"); models.KindOf(err) != models.KindInvalidToken {
		t.Errorf("wrong token: kind = %s, want invalid_token", models.KindOf(err))
	}

	s.Release()
	if err := s.ValidateLease(token); models.KindOf(err) != models.KindLeaseExpired {
		t.Errorf("released slot: kind = %s, want lease_expired", models.KindOf(err))
	}
}

func TestMarkErrorAndRecover(t *testing.T) {
	s := newTestSlot(t)
	s.Acquire("a")
	s.MarkError()

	if s.State() != StateError {
		t.Fatalf("state = %s, want ERROR", s.State())
	}
	if s.Owner() != "" || s.LeaseToken() != "" {
		t.Error("ERROR must void the lease")
	}

	s.MarkFree((*rod.Page)(nil))
	if s.State() != StateFree {
		t.Errorf("state = %s, want FREE after recovery", s.State())
	}
}

func TestRelease_ClearsCounters(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	s.send = func(context.Context, *rod.Page, string, []string, time.Duration) (string, clip.Format, error) {
		return "ok", clip.FormatMarkdown, nil
	}
	if _, err := s.SendMessage(context.Background(), token, "hello", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	s.Release()
	if s.MessageCount() != 0 || s.MessagePreview() != "" {
		t.Error("Release must clear message counters")
	}
}

func TestSendMessage_Success(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	s.send = func(_ context.Context, _ *rod.Page, msg string, _ []string, _ time.Duration) (string, clip.Format, error) {
		if msg != "hello world" {
			t.Errorf("message = %q", msg)
		}
		return "the answer", clip.FormatMarkdown, nil
	}

	res, err := s.SendMessage(context.Background(), token, "hello world", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Text != "the answer" || res.Format != clip.FormatMarkdown {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.DurationMs < 0 {
		t.Errorf("negative duration: %d", res.DurationMs)
	}
	if s.MessageCount() != 1 {
		t.Errorf("message count = %d, want 1", s.MessageCount())
	}
	if s.MessagePreview() != "hello world" {
		t.Errorf("preview = %q", s.MessagePreview())
	}
	if s.Sending() {
		t.Error("sending flag must clear after completion")
	}
}

func TestSendMessage_PreviewTruncated(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	s.send = func(context.Context, *rod.Page, string, []string, time.Duration) (string, clip.Format, error) {
		return "ok", clip.FormatMarkdown, nil
	}

	long := strings.Repeat("x", 200)
	if _, err := s.SendMessage(context.Background(), token, long, nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := s.MessagePreview(); len(got) != previewLen {
		t.Errorf("preview length = %d, want %d", len(got), previewLen)
	}
}

func TestSendMessage_FailureKeepsSlotBusy(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	sendErr := models.NewPoolError(models.KindSendTimeout, "generation stuck", nil)
	s.send = func(context.Context, *rod.Page, string, []string, time.Duration) (string, clip.Format, error) {
		return "", clip.FormatPlaintext, sendErr
	}

	_, err := s.SendMessage(context.Background(), token, "hello", nil)
	if !errors.Is(err, sendErr) {
		t.Fatalf("err = %v, want wrapped send error", err)
	}
	if s.State() != StateBusy {
		t.Error("slot must stay BUSY after a failed send")
	}
	if verr := s.ValidateLease(token); verr != nil {
		t.Errorf("lease must survive a failed send: %v", verr)
	}
	if s.MessageCount() != 0 {
		t.Error("failed send must not count")
	}
	if s.Sending() {
		t.Error("sending flag must clear after failure")
	}
}

func TestSendMessage_DeadlineMapsToSendTimeout(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	s.send = func(ctx context.Context, _ *rod.Page, _ string, _ []string, _ time.Duration) (string, clip.Format, error) {
		return "", clip.FormatPlaintext, context.DeadlineExceeded
	}

	_, err := s.SendMessage(context.Background(), token, "hello", nil)
	if models.KindOf(err) != models.KindSendTimeout {
		t.Errorf("kind = %s, want send_timeout", models.KindOf(err))
	}
}

func TestSendMessage_RejectsStaleLease(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")
	invoked := false
	s.send = func(context.Context, *rod.Page, string, []string, time.Duration) (string, clip.Format, error) {
		invoked = true
		return "ok", clip.FormatMarkdown, nil
	}

	if _, err := s.SendMessage(context.Background(), "0000", "hi", nil); models.KindOf(err) != models.KindInvalidToken {
		t.Errorf("wrong token: kind = %s, want invalid_token", models.KindOf(err))
	}

	s.Release()
	if _, err := s.SendMessage(context.Background(), token, "hi", nil); models.KindOf(err) != models.KindLeaseExpired {
		t.Errorf("released slot: kind = %s, want lease_expired", models.KindOf(err))
	}

	if invoked {
		t.Error("protocol must not run without a valid lease")
	}
	if s.Sending() {
		t.Error("sending flag must not be raised on a rejected send")
	}
}

func TestReleaseIfIdle_ReclaimsIdleBusySlot(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")

	if !s.ReleaseIfIdle(0) {
		t.Fatal("idle BUSY slot past the timeout must be reclaimed")
	}
	if s.State() != StateFree {
		t.Errorf("state = %s, want FREE", s.State())
	}
	if err := s.ValidateLease(token); models.KindOf(err) != models.KindLeaseExpired {
		t.Errorf("old lease: kind = %s, want lease_expired", models.KindOf(err))
	}

	if s.ReleaseIfIdle(0) {
		t.Error("a FREE slot must not be reclaimed again")
	}
}

func TestReleaseIfIdle_SkipsInFlightSend(t *testing.T) {
	s := newTestSlot(t)
	token, _ := s.Acquire("a")

	started := make(chan struct{})
	unblock := make(chan struct{})
	s.send = func(context.Context, *rod.Page, string, []string, time.Duration) (string, clip.Format, error) {
		close(started)
		<-unblock
		return "ok", clip.FormatMarkdown, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.SendMessage(context.Background(), token, "hi", nil)
		done <- err
	}()
	<-started

	if s.ReleaseIfIdle(0) {
		t.Error("a slot mid-send must never be reclaimed")
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := s.ValidateLease(token); err != nil {
		t.Errorf("lease must survive the sweep during a send: %v", err)
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"  hello  ", "hello"},
		{"a\r\nb\rc\nd", "a b c d"},
		{"a\t\t b\n\n\nc", "a b c"},
		{"", ""},
		{"   \n\t ", ""},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Errorf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
