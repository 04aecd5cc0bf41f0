package slot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	osclip "github.com/atotto/clipboard"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"

	clip "github.com/use-agent/gempool/clipboard"
	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/selectors"
)

const maxPasteRetries = 3

// sendAndExtract is the full send protocol against one tab:
//
//  1. count existing response containers (baseline for new-response detection)
//  2. upload attachments, wait for upload completion
//  3. clear the editor, paste the message via clipboard, verify content
//  4. submit via Enter, with a guarded send-button fallback
//  5. hand off to the clipboard extractor
//
// The editor is a Quill.js contenteditable div; typing long text into it
// key by key is slow and lossy, so the message goes in through a clipboard
// paste and is verified by reading the editor back.
func sendAndExtract(ctx context.Context, page *rod.Page, message string, filePaths []string, responseTimeout time.Duration) (string, clip.Format, error) {
	existing, err := page.Elements(selectors.ModelResponse)
	if err != nil {
		return "", clip.FormatPlaintext, models.NewPoolError(models.KindDriverError,
			"counting existing responses failed", err)
	}
	previousCount := len(existing)

	if len(filePaths) > 0 {
		if err := uploadFiles(ctx, page, filePaths); err != nil {
			return "", clip.FormatPlaintext, err
		}
	}

	editor, err := page.Context(ctx).Timeout(10 * time.Second).
		Element(selectors.MustCombined("prompt_textarea"))
	if err != nil {
		return "", clip.FormatPlaintext, models.NewPoolError(models.KindDriverError,
			"prompt editor not found", err)
	}

	if err := clearPasteAndVerify(ctx, page, editor, message); err != nil {
		return "", clip.FormatPlaintext, err
	}

	// The send button only appears once text is entered.
	if err := sleep(ctx, 300*time.Millisecond); err != nil {
		return "", clip.FormatPlaintext, err
	}

	if err := page.Keyboard.Press(input.Enter); err != nil {
		return "", clip.FormatPlaintext, models.NewPoolError(models.KindDriverError,
			"pressing Enter failed", err)
	}
	if err := sleep(ctx, time.Second); err != nil {
		return "", clip.FormatPlaintext, err
	}

	// The editor is cleared on a successful submit. Leftover content means
	// Enter did not send; fall back to the send button, but only when no
	// stop button is visible (a visible stop button means the message went
	// out and generation is running).
	if leftover := editorText(editor); leftover != "" {
		slog.Warn("editor not empty after Enter, trying send button")
		trySendButtonFallback(page)
	}

	return clip.ExtractResponse(ctx, page, previousCount, responseTimeout)
}

func trySendButtonFallback(page *rod.Page) {
	stop, _, err := page.Has(selectors.MustCombined("stop_button"))
	if err == nil && stop {
		slog.Info("stop button visible, message was sent")
		return
	}
	has, btn, err := page.Has(selectors.MustCombined("send_button"))
	if err != nil || !has {
		return
	}
	if visible, verr := btn.Visible(); verr != nil || !visible {
		return
	}
	if _, cerr := btn.Eval(`() => this.click()`); cerr == nil {
		slog.Info("used send button fallback")
	}
}

// clearPasteAndVerify focuses the editor, clears it, pastes the message
// from the OS clipboard and verifies the editor content, retrying up to
// maxPasteRetries times.
func clearPasteAndVerify(ctx context.Context, page *rod.Page, editor *rod.Element, message string) error {
	expected := normalizeText(message)

	for attempt := 1; attempt <= maxPasteRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := editor.Eval(`() => { this.focus(); this.click(); }`); err != nil {
			return models.NewPoolError(models.KindDriverError, "focusing editor failed", err)
		}
		if err := sleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}

		if err := page.KeyActions().Press(input.ControlLeft).Type(input.KeyA).Do(); err != nil {
			return models.NewPoolError(models.KindDriverError, "select-all failed", err)
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
		if err := page.Keyboard.Press(input.Backspace); err != nil {
			return models.NewPoolError(models.KindDriverError, "clearing editor failed", err)
		}
		if err := sleep(ctx, 300*time.Millisecond); err != nil {
			return err
		}

		if err := osclip.WriteAll(message); err != nil {
			return models.NewPoolError(models.KindDriverError, "writing clipboard failed", err)
		}
		if err := page.KeyActions().Press(input.ControlLeft).Type(input.KeyV).Do(); err != nil {
			return models.NewPoolError(models.KindDriverError, "paste failed", err)
		}
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}

		actual := normalizeText(editorText(editor))
		if actual == expected {
			return nil
		}

		slog.Warn("editor verification failed",
			"attempt", attempt, "expected_len", len(expected), "actual_len", len(actual))
		if attempt < maxPasteRetries {
			if err := sleep(ctx, 500*time.Millisecond); err != nil {
				return err
			}
		}
	}

	return models.NewPoolError(models.KindPasteVerification,
		fmt.Sprintf("editor content mismatch after %d attempts", maxPasteRetries), nil)
}

func editorText(editor *rod.Element) string {
	text, err := editor.Text()
	if err != nil {
		return ""
	}
	return normalizeText(text)
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
