package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	clip "github.com/use-agent/gempool/clipboard"
	"github.com/use-agent/gempool/config"
	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/slot"
)

// stubPool records calls and returns canned outcomes.
type stubPool struct {
	acquireOutcome models.AcquireOutcome
	releaseErr     error
	sendResult     *slot.SendResult
	sendErr        error
	sentMessage    string
	sentFiles      []string
	freshened      chan int
	resetAllN      int
	resetSlotErr   error
}

func (s *stubPool) Acquire(string) models.AcquireOutcome { return s.acquireOutcome }
func (s *stubPool) Release(int, string) error            { return s.releaseErr }

func (s *stubPool) Send(_ context.Context, _ int, _, message string, files []string) (*slot.SendResult, error) {
	s.sentMessage = message
	s.sentFiles = files
	return s.sendResult, s.sendErr
}

func (s *stubPool) Status() models.PoolStatus            { return models.PoolStatus{} }
func (s *stubPool) ResetAll(context.Context) (int, error) { return s.resetAllN, nil }
func (s *stubPool) ResetSlot(context.Context, int) error  { return s.resetSlotErr }

func (s *stubPool) FreshenSlot(_ context.Context, id int) {
	if s.freshened != nil {
		s.freshened <- id
	}
}

func newTestRouter(p Pool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := config.Default().Browser
	r.POST("/api/session/acquire", Acquire(p))
	r.POST("/api/session/:id/send", Send(p, cfg))
	r.POST("/api/session/:id/release", Release(p))
	r.GET("/api/pool/status", Status(p))
	r.POST("/api/pool/reset", ResetPool(p))
	r.POST("/api/pool/slot/:id/reset", ResetSlot(p))
	r.GET("/api/health", Health())
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func leaseHeader(token string) map[string]string {
	return map[string]string{"X-Lease-Token": token}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestAcquire_StatusCodes(t *testing.T) {
	cases := []struct {
		name    string
		outcome models.AcquireOutcome
		want    int
	}{
		{"acquired", models.NewAcquired(0, "tok", false, 300), http.StatusOK},
		{"queued", models.NewQueued(2), http.StatusAccepted},
		{"rejected", models.NewRejected(4, 10, 10), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubPool{acquireOutcome: tc.outcome})
			w := doJSON(t, r, http.MethodPost, "/api/session/acquire",
				models.AcquireRequest{Owner: "a"}, nil)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tc.want, w.Body)
			}
		})
	}
}

func TestAcquire_MissingOwner(t *testing.T) {
	r := newTestRouter(&stubPool{})
	w := doJSON(t, r, http.MethodPost, "/api/session/acquire", map[string]string{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSend_Success(t *testing.T) {
	p := &stubPool{sendResult: &slot.SendResult{Text: "hi", Format: clip.FormatMarkdown, DurationMs: 1234}}
	r := newTestRouter(p)

	w := doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "hello"}, leaseHeader("tok"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body)
	}

	var resp models.SendResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "hi" || resp.Format != "markdown" || resp.DurationMs != 1234 {
		t.Errorf("response = %+v", resp)
	}
	if p.sentMessage != "hello" {
		t.Errorf("sent message = %q", p.sentMessage)
	}
}

func TestSend_MergePathsEmbedded(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "hello")
	b := writeFile(t, dir, "b.txt", "world")

	p := &stubPool{sendResult: &slot.SendResult{Text: "ok", Format: clip.FormatMarkdown}}
	r := newTestRouter(p)

	w := doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "?", MergePaths: []string{a, b}}, leaseHeader("tok"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body)
	}

	want := "=== a.txt ===\nhello\n\n=== b.txt ===\nworld\n\n?"
	if p.sentMessage != want {
		t.Errorf("merged message = %q, want %q", p.sentMessage, want)
	}
	if len(p.sentFiles) != 0 {
		t.Errorf("merge paths must not be uploaded, got %v", p.sentFiles)
	}
}

func TestSend_FileLimitAndExistence(t *testing.T) {
	dir := t.TempDir()
	p := &stubPool{sendResult: &slot.SendResult{}}
	r := newTestRouter(p)

	// 10 binary uploads exceed the limit of 9.
	many := make([]string, 10)
	for i := range many {
		many[i] = writeFile(t, dir, "f"+string(rune('0'+i))+".bin", "x")
	}
	w := doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "m", FilePaths: many}, leaseHeader("tok"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("10 files: status = %d, want 400", w.Code)
	}

	// 9 is fine.
	w = doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "m", FilePaths: many[:9]}, leaseHeader("tok"))
	if w.Code != http.StatusOK {
		t.Errorf("9 files: status = %d, want 200 (body %s)", w.Code, w.Body)
	}

	// Missing path fails before touching the pool.
	w = doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "m", FilePaths: []string{filepath.Join(dir, "missing.bin")}},
		leaseHeader("tok"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file: status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "file not found") {
		t.Errorf("body = %s", w.Body)
	}
}

func TestSend_ErrorKindMapping(t *testing.T) {
	cases := []struct {
		kind string
		want int
	}{
		{models.KindLeaseExpired, http.StatusGone},
		{models.KindInvalidToken, http.StatusForbidden},
		{models.KindNotFound, http.StatusNotFound},
		{models.KindSendTimeout, http.StatusInternalServerError},
		{models.KindResponseStopped, http.StatusInternalServerError},
		{models.KindPasteVerification, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			p := &stubPool{sendErr: models.NewPoolError(tc.kind, "boom", nil)}
			r := newTestRouter(p)
			w := doJSON(t, r, http.MethodPost, "/api/session/0/send",
				models.SendRequest{Message: "m"}, leaseHeader("tok"))
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			var detail models.ErrorDetail
			if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if detail.Error != tc.kind {
				t.Errorf("error = %q, want %q", detail.Error, tc.kind)
			}
		})
	}
}

func TestSend_MissingLeaseToken(t *testing.T) {
	r := newTestRouter(&stubPool{})
	w := doJSON(t, r, http.MethodPost, "/api/session/0/send",
		models.SendRequest{Message: "m"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRelease_FreshensSlotInBackground(t *testing.T) {
	p := &stubPool{freshened: make(chan int, 1)}
	r := newTestRouter(p)

	w := doJSON(t, r, http.MethodPost, "/api/session/3/release", nil, leaseHeader("tok"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body)
	}
	var resp models.ReleaseResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || !resp.Released {
		t.Errorf("body = %s", w.Body)
	}
	if id := <-p.freshened; id != 3 {
		t.Errorf("freshened slot = %d, want 3", id)
	}
}

func TestRelease_LeaseExpired(t *testing.T) {
	p := &stubPool{releaseErr: models.NewPoolError(models.KindLeaseExpired, "gone", nil)}
	r := newTestRouter(p)
	w := doJSON(t, r, http.MethodPost, "/api/session/0/release", nil, leaseHeader("tok"))
	if w.Code != http.StatusGone {
		t.Errorf("status = %d, want 410", w.Code)
	}
}

func TestResetPoolAndSlot(t *testing.T) {
	p := &stubPool{resetAllN: 4}
	r := newTestRouter(p)

	w := doJSON(t, r, http.MethodPost, "/api/pool/reset", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pool reset status = %d", w.Code)
	}
	var reset models.PoolResetResponse
	if err := json.Unmarshal(w.Body.Bytes(), &reset); err != nil || !reset.Reset || reset.SlotsAvailable != 4 {
		t.Errorf("body = %s", w.Body)
	}

	w = doJSON(t, r, http.MethodPost, "/api/pool/slot/1/reset", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("slot reset status = %d", w.Code)
	}

	p.resetSlotErr = models.NewPoolError(models.KindNotFound, "no such slot", nil)
	w = doJSON(t, r, http.MethodPost, "/api/pool/slot/9/reset", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown slot status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newTestRouter(&stubPool{})
	w := doJSON(t, r, http.MethodGet, "/api/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `"ok"` {
		t.Errorf("body = %s", got)
	}
}

func TestMergeTextContent_Latin1Fallback(t *testing.T) {
	dir := t.TempDir()
	// 0xE4 is "ä" in ISO 8859-1 and invalid as a standalone UTF-8 byte.
	path := filepath.Join(dir, "legacy.txt")
	if err := os.WriteFile(path, []byte{'g', 'r', 0xE4, 0xDF, 'e'}, 0o644); err != nil {
		t.Fatal(err)
	}

	merged, err := MergeTextContent([]string{path})
	if err != nil {
		t.Fatalf("MergeTextContent: %v", err)
	}
	if !strings.Contains(merged, "gräße") {
		t.Errorf("merged = %q, want Latin-1 decoded content", merged)
	}
	if !strings.HasPrefix(merged, "=== legacy.txt ===\n") {
		t.Errorf("missing filename header: %q", merged)
	}
}
