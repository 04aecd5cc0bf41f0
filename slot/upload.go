package slot

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/gempool/models"
	"github.com/use-agent/gempool/selectors"
)

const (
	uploadTimeout      = 60 * time.Second
	uploadPollInterval = 500 * time.Millisecond
)

// uploadFiles attaches local files to the next message. There is no
// always-present file input; the upload flyout injects a hidden
// input[type=file] on demand, and when it does not, the native file dialog
// has to be intercepted.
func uploadFiles(ctx context.Context, page *rod.Page, filePaths []string) error {
	has, fileInput, err := page.Has(selectors.MustCombined("file_input"))
	if err == nil && has {
		if serr := fileInput.SetFiles(filePaths); serr != nil {
			return models.NewPoolError(models.KindDriverError, "setting files failed", serr)
		}
		if werr := waitUploadComplete(ctx, page); werr != nil {
			return werr
		}
		slog.Info("files attached via direct input", "count", len(filePaths))
		return nil
	}

	// Open the upload flyout, then drive the native dialog.
	addBtn, err := page.Context(ctx).Timeout(5 * time.Second).
		Element(selectors.MustCombined("add_button"))
	if err != nil {
		return models.NewPoolError(models.KindDriverError, "upload button not found", err)
	}
	if _, cerr := addBtn.Eval(`() => this.click()`); cerr != nil {
		return models.NewPoolError(models.KindDriverError, "opening upload menu failed", cerr)
	}
	if serr := sleep(ctx, 500*time.Millisecond); serr != nil {
		return serr
	}

	// The menu may have injected the hidden input now.
	if has, fileInput, herr := page.Has(selectors.MustCombined("file_input")); herr == nil && has {
		if serr := fileInput.SetFiles(filePaths); serr != nil {
			return models.NewPoolError(models.KindDriverError, "setting files failed", serr)
		}
	} else {
		setFiles, derr := page.HandleFileDialog()
		if derr != nil {
			return models.NewPoolError(models.KindDriverError, "intercepting file dialog failed", derr)
		}
		uploadBtn, uerr := page.Context(ctx).Timeout(5 * time.Second).
			Element(selectors.MustCombined("file_upload_button"))
		if uerr != nil {
			return models.NewPoolError(models.KindDriverError, "file uploader button not found", uerr)
		}
		if _, cerr := uploadBtn.Eval(`() => this.click()`); cerr != nil {
			return models.NewPoolError(models.KindDriverError, "opening file dialog failed", cerr)
		}
		if ferr := setFiles(filePaths); ferr != nil {
			return models.NewPoolError(models.KindDriverError, "setting dialog files failed", ferr)
		}
	}

	if werr := waitUploadComplete(ctx, page); werr != nil {
		return werr
	}
	slog.Info("files attached via upload dialog", "count", len(filePaths))
	return nil
}

// waitUploadComplete polls until the send button leaves its disabled
// (upload in progress) state. A timeout is logged, not fatal: sending
// anyway lets the UI surface whatever went wrong.
func waitUploadComplete(ctx context.Context, page *rod.Page) error {
	if err := sleep(ctx, time.Second); err != nil {
		return err
	}

	deadline := time.Now().Add(uploadTimeout)
	for time.Now().Before(deadline) {
		disabled, _, err := page.Has(selectors.MustCombined("send_button_disabled"))
		if err != nil {
			return models.NewPoolError(models.KindDriverError, "upload progress probe failed", err)
		}
		if !disabled {
			return nil
		}
		if err := sleep(ctx, uploadPollInterval); err != nil {
			return err
		}
	}
	slog.Warn("upload completion timeout, sending anyway")
	return nil
}
