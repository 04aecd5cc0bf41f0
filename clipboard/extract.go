package clipboard

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/go-rod/rod"

	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/selectors"
)

// Format tells the caller whether the extracted text is the copy-button
// markdown or a plaintext DOM scrape.
type Format string

const (
	FormatMarkdown  Format = "markdown"
	FormatPlaintext Format = "plaintext"
)

const (
	// sentinel detects whether the copy button actually updated the clipboard.
	sentinel = "__SENTINEL__"

	pollInterval    = 1 * time.Second
	newResponseWait = 30 * time.Second
	layoutSettle    = 1500 * time.Millisecond
	copySettle      = 800 * time.Millisecond
)

// ExtractResponse waits for the newest response to finish generating, then
// extracts its text via the copy button and the OS clipboard.
//
// previousCount is the number of response containers before the message was
// sent; a NEW response is detected when the count exceeds it. The wait
// phases run WITHOUT the clipboard lock; only the final copy sequence
// acquires it.
func ExtractResponse(ctx context.Context, page *rod.Page, previousCount int, responseTimeout time.Duration) (string, Format, error) {
	// Phase 1: wait for a new response container to appear.
	deadline := time.Now().Add(newResponseWait)
	appeared := false
	for time.Now().Before(deadline) {
		n, err := countResponses(page)
		if err != nil {
			return "", FormatPlaintext, models.NewPoolError(models.KindDriverError, "counting responses failed", err)
		}
		if n > previousCount {
			appeared = true
			break
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return "", FormatPlaintext, sendTimeout(err)
		}
	}
	if !appeared {
		return "", FormatPlaintext, models.NewPoolError(models.KindResponseEmpty, "no new response appeared", nil)
	}

	// Phase 2: wait for generation to complete. Clear requires BOTH no busy
	// attribute on any response container AND no visible stop affordance.
	deadline = time.Now().Add(responseTimeout)
	settled := false
	for time.Now().Before(deadline) {
		busy, _, err := page.Has(selectors.GenerationBusy)
		if err != nil {
			return "", FormatPlaintext, models.NewPoolError(models.KindDriverError, "busy probe failed", err)
		}
		if !busy {
			stop, _, err := page.Has(selectors.MustCombined("stop_button"))
			if err != nil {
				return "", FormatPlaintext, models.NewPoolError(models.KindDriverError, "stop probe failed", err)
			}
			if !stop {
				settled = true
				break
			}
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return "", FormatPlaintext, sendTimeout(err)
		}
	}
	if !settled {
		return "", FormatPlaintext, models.NewPoolError(models.KindSendTimeout,
			"generation did not finish within the response timeout", nil)
	}
	if err := sleep(ctx, layoutSettle); err != nil {
		return "", FormatPlaintext, sendTimeout(err)
	}

	// Phase 2b: reject stopped or empty responses before touching the lock.
	if err := checkStoppedOrEmpty(page); err != nil {
		return "", FormatPlaintext, err
	}

	// Phase 3: copy sequence, serialized host-wide.
	lock := defaultLock()
	if err := lock.Acquire(ctx); err != nil {
		return "", FormatPlaintext, sendTimeout(err)
	}
	defer lock.Release()

	return copyResponse(ctx, page)
}

// checkStoppedOrEmpty inspects the last response text for the localized
// "you stopped this response" phrases and for emptiness.
func checkStoppedOrEmpty(page *rod.Page) error {
	responses, err := page.Elements(selectors.ModelResponse)
	if err != nil || len(responses) == 0 {
		return nil
	}
	text, err := responses.Last().Text()
	if err != nil {
		return nil
	}
	preview := strings.TrimSpace(text)
	lower := strings.ToLower(preview)
	for _, phrase := range selectors.StoppedPhrases {
		if strings.Contains(lower, phrase) {
			return models.NewPoolError(models.KindResponseStopped,
				"response was stopped before completion", nil)
		}
	}
	if preview == "" {
		return models.NewPoolError(models.KindResponseEmpty,
			"response is empty, message may not have been sent", nil)
	}
	return nil
}

// copyResponse clicks the copy button of the last response and reads the
// clipboard. Must be called while holding the host lock.
func copyResponse(ctx context.Context, page *rod.Page) (string, Format, error) {
	copyBtn := findCopyButton(page)
	if copyBtn == nil {
		slog.Warn("copy button not found, using DOM fallback")
		text, err := domScrape(page)
		return text, FormatPlaintext, err
	}

	if err := clipboard.WriteAll(sentinel); err != nil {
		slog.Warn("clipboard sentinel write failed", "error", err)
	}

	// JS click bypasses overlays that would swallow a trusted click.
	if _, err := copyBtn.Eval(`() => this.click()`); err != nil {
		slog.Warn("copy click failed, using DOM fallback", "error", err)
		text, scrapeErr := domScrape(page)
		return text, FormatPlaintext, scrapeErr
	}
	if err := sleep(ctx, copySettle); err != nil {
		return "", FormatPlaintext, sendTimeout(err)
	}

	if text, err := clipboard.ReadAll(); err == nil && text != "" && text != sentinel {
		return text, FormatMarkdown, nil
	}

	// The OS clipboard did not change; try the in-page clipboard API.
	if res, err := page.Eval(`() => navigator.clipboard.readText()`); err == nil {
		if text := res.Value.Str(); text != "" && text != sentinel {
			return text, FormatMarkdown, nil
		}
	}

	slog.Warn("clipboard not updated, using DOM fallback")
	text, err := domScrape(page)
	return text, FormatPlaintext, err
}

// findCopyButton looks inside the last response first (stable test-id, then
// localized aria-label), then falls back to the last copy button page-wide.
func findCopyButton(page *rod.Page) *rod.Element {
	combined := selectors.MustCombined("copy_button")

	responses, err := page.Elements(selectors.ModelResponse)
	if err == nil && len(responses) > 0 {
		if has, el, err := responses.Last().Has(combined); err == nil && has {
			return el
		}
	}

	all, err := page.Elements(combined)
	if err == nil && len(all) > 0 {
		return all.Last()
	}
	return nil
}

// domScrape extracts the last response directly from the rendered markdown
// panel. Last resort; loses markdown formatting.
func domScrape(page *rod.Page) (string, error) {
	responses, err := page.Elements(selectors.ModelResponse)
	if err == nil && len(responses) > 0 {
		last := responses.Last()
		if has, panel, err := last.Has(selectors.ResponseText); err == nil && has {
			return panel.Text()
		}
		return last.Text()
	}

	panels, err := page.Elements(selectors.ResponseText)
	if err == nil && len(panels) > 0 {
		return panels.Last().Text()
	}
	return "", models.NewPoolError(models.KindResponseEmpty, "no response content in DOM", err)
}

func countResponses(page *rod.Page) (int, error) {
	els, err := page.Elements(selectors.ModelResponse)
	if err != nil {
		return 0, err
	}
	return len(els), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendTimeout(err error) error {
	return models.NewPoolError(models.KindSendTimeout, "send deadline exceeded", err)
}
