// Package selectors is the central catalog of Gemini web UI locators.
//
// Each role maps to an ordered list of CSS selector candidates, tried as a
// union via comma-join. When Gemini changes its frontend, editing this
// catalog is the only upgrade knob.
//
// Verified against the live Gemini UI (gemini.google.com):
//   - Angular SPA with custom elements (model-response, rich-textarea, ...)
//   - Quill.js editor (.ql-editor) for the input textarea
//   - data-test-id attributes (hyphenated, NOT data-testid like ChatGPT)
//   - Send button hidden until text is entered
//   - Copy button always visible in the response footer (no hover needed)
package selectors

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
)

// BaseURL is the main Gemini app. The login flow is more reliable here than
// on a Gem URL, so startup navigates to it first.
const BaseURL = "https://gemini.google.com/app"

// Origin is the expected host for every logged-in probe.
const Origin = "gemini.google.com"

// roles maps a logical UI role to its ordered CSS candidates.
var roles = map[string][]string{
	// The Quill.js editor inside rich-textarea. Target the inner .ql-editor
	// div for actual text interaction.
	"prompt_textarea": {
		".ql-editor.textarea",
		`div[role="textbox"][contenteditable="true"]`,
		".ql-editor",
		"rich-textarea",
	},
	// Send button. Hidden when the textarea is empty.
	"send_button": {
		"button.send-button",
		`button[aria-label="Nachricht senden"]`,
		`button[aria-label="Send message"]`,
	},
	// Send button in its upload-in-progress disabled state.
	"send_button_disabled": {
		"button.send-button[disabled]",
		"button.send-button.disabled",
		`button[aria-label="Nachricht senden"][disabled]`,
		`button[aria-label="Send message"][disabled]`,
	},
	// Stop/cancel button during generation. The icon attribute is the most
	// reliable signal; aria-labels vary by UI language.
	"stop_button": {
		`[data-mat-icon-name="stop"]`,
		`button[aria-label="Stop generating"]`,
		`button[aria-label="Generierung stoppen"]`,
		`button[aria-label="Antwort stoppen"]`,
		"button.stop-button",
	},
	// Copy button in the response footer. Stable data-test-id first.
	"copy_button": {
		`button[data-test-id="copy-button"]`,
		`button[aria-label="Kopieren"]`,
		`button[aria-label="Copy"]`,
	},
	// File upload step 1: the button opening the upload flyout menu.
	"add_button": {
		`[aria-controls="upload-file-menu"]`,
		"div.file-uploader button",
		"button.upload-card-button",
	},
	// File upload step 2: the local file uploader inside the flyout.
	"file_upload_button": {
		`[data-test-id="local-images-files-uploader-button"]`,
		`button[data-test-id="local-images-files-uploader-button"]`,
	},
	// Hidden file input that may be injected once the upload menu exists.
	"file_input": {
		`input[type="file"]`,
	},
	// Model selector button (shows the current model: "Pro", "Flash", ...).
	"model_selector": {
		`button[data-test-id="bard-mode-menu-button"]`,
		`button[aria-label="Modusauswahl öffnen"]`,
	},
	// Model menu items, rendered after clicking model_selector. Angular
	// Material menus use mat-menu-item or role="menuitem".
	"model_menu_item": {
		"button.mat-mdc-menu-item",
		"mat-option",
		`div[role="menuitem"]`,
		`button[role="menuitem"]`,
	},
	// New chat link (sidebar button or logo).
	"new_chat": {
		`a[aria-label="Neuer Chat"]`,
		`a[aria-label="New chat"]`,
		`side-nav-action-button[data-test-id="new-chat-button"] a`,
	},
	// Google account avatar link; strong logged-in signal.
	"account_link": {
		`a[aria-label*="Google-Konto:"]`,
		`a[aria-label*="Google Account:"]`,
	},
	// Enterprise/premium account indicators. Telemetry only; nothing
	// downstream branches on this signal.
	"enterprise": {
		"rich-textarea.enterprise",
		".enterprise-indicator-logo-container",
		".enterprise-display",
	},
	// Elements present only when the app is fully loaded with a session.
	"logged_in": {
		`a[aria-label*="Google-Konto:"]`,
		`a[aria-label*="Google Account:"]`,
		"rich-textarea",
		`.ql-editor[contenteditable="true"]`,
	},
	// Session expired: the sign-in button reappears.
	"session_expired": {
		"button.sign-in-button",
	},
}

// Response structure selectors, used directly rather than via the role table.
const (
	// ModelResponse is the custom element wrapping each model answer; the
	// primary selector for counting and iterating responses.
	ModelResponse = "model-response"

	// ResponseText is the rendered markdown panel within a response.
	ResponseText = ".markdown.markdown-main-panel"

	// GenerationBusy matches the markdown panel while generation is in
	// progress (aria-busy flips to "false" when done).
	GenerationBusy = `.markdown.markdown-main-panel[aria-busy="true"]`
)

// ZeroStateBodyClass marks the unauthenticated / freshly loaded SPA state.
const ZeroStateBodyClass = "zero-state-theme"

// TextPattern pairs an element selector with a JS-style regex for locators
// that need text matching (rod's ElementR).
type TextPattern struct {
	Selector string
	Regex    string
}

// Text-matched locators. The consent banner and error dialogs carry no
// stable attributes, only localized labels.
var (
	CookieAccept = TextPattern{"button", "Alle akzeptieren|Accept all|Alle annehmen"}
	ErrorRetry   = TextPattern{"button", "Try again|Erneut versuchen|Retry"}
	BotDetection = TextPattern{"div", "unusual traffic|ungewöhnlichen Datenverkehr"}
	SignIn       = TextPattern{"button", "Sign in|Anmelden"}
)

// StoppedPhrases are the localized "you stopped this response" indicators,
// matched case-insensitively against the last response text.
var StoppedPhrases = []string{
	"antwort angehalten",
	"response stopped",
	"you stopped this response",
}

// Combined returns the comma-joined CSS union for a role.
func Combined(role string) (string, error) {
	candidates, ok := roles[role]
	if !ok {
		return "", fmt.Errorf("unknown selector role: %s", role)
	}
	return strings.Join(candidates, ", "), nil
}

// MustCombined is Combined for roles known at compile time.
func MustCombined(role string) string {
	combined, err := Combined(role)
	if err != nil {
		panic(err)
	}
	return combined
}

// Roles lists every role in the catalog.
func Roles() []string {
	out := make([]string, 0, len(roles))
	for role := range roles {
		out = append(out, role)
	}
	return out
}

// Candidates returns the ordered candidate list for a role.
func Candidates(role string) []string {
	return roles[role]
}

// Validate parses every candidate in the catalog as a CSS selector group.
// Run from tests and the analyze tool so a catalog edit cannot ship a
// selector the engine will reject at runtime.
func Validate() error {
	for role, candidates := range roles {
		for _, sel := range candidates {
			if _, err := cascadia.ParseGroup(sel); err != nil {
				return fmt.Errorf("role %s: invalid selector %q: %w", role, sel, err)
			}
		}
	}
	for _, sel := range []string{ModelResponse, ResponseText, GenerationBusy} {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return fmt.Errorf("invalid selector %q: %w", sel, err)
		}
	}
	return nil
}
