// Package detector classifies the login flow state from a page URL and its
// HTML. The pool logs the classification while waiting for an operator to
// finish authentication, so progress is visible even over SSH.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// State is one stage of the Google authentication flow or the app itself.
type State string

const (
	StateAlreadyLoggedIn  State = "already_logged_in"
	StateEmailEntry       State = "google_email_entry"
	StatePasswordEntry    State = "google_password_entry"
	State2FAPhonePrompt   State = "google_2fa_phone_prompt"
	State2FAAuthenticator State = "google_2fa_authenticator"
	State2FASMS           State = "google_2fa_sms"
	State2FASecurityKey   State = "google_2fa_security_key"
	State2FABackupCodes   State = "google_2fa_backup_codes"
	State2FAUnknown       State = "google_2fa_unknown"
	StateConsentScreen    State = "google_consent_screen"
	StateCaptcha          State = "google_captcha"
	StateAccountChooser   State = "google_account_chooser"
	StateAppLoading       State = "gemini_loading"
	StateAppReady         State = "gemini_ready"
	StateTermsAcceptance  State = "gemini_terms_acceptance"
	StateUnknown          State = "unknown"
)

// appInputSelectors mark a fully loaded chat UI.
var appInputSelectors = []string{
	"rich-textarea",
	`div[contenteditable="true"]`,
	".input-area-container",
	`div[role="textbox"]`,
	"textarea",
}

// termsButtonLabels are the welcome/terms screen buttons, DE and EN.
var termsButtonLabels = []string{
	"I agree", "Ich stimme zu",
	"Accept", "Akzeptieren",
	"Try Gemini", "Gemini ausprobieren",
}

// Classify maps a page URL and HTML snapshot to a login flow state. The
// ordering of the 2FA checks matters: most specific indicators first, the
// generic challenge attribute last.
func Classify(pageURL, html string) State {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return StateUnknown
	}

	if strings.Contains(pageURL, "gemini.google.com") {
		return classifyApp(doc)
	}
	if strings.Contains(pageURL, "accounts.google.com") {
		return classifyAccounts(doc)
	}
	return StateUnknown
}

func classifyApp(doc *goquery.Document) State {
	terms := false
	doc.Find("button").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.TrimSpace(s.Text())
		for _, want := range termsButtonLabels {
			if strings.Contains(label, want) {
				terms = true
				return false
			}
		}
		return true
	})
	if terms {
		return StateTermsAcceptance
	}

	for _, sel := range appInputSelectors {
		if doc.Find(sel).Length() > 0 {
			return StateAppReady
		}
	}
	return StateAppLoading
}

func classifyAccounts(doc *goquery.Document) State {
	text := doc.Find("body").Text()
	contains := func(needles ...string) bool {
		for _, n := range needles {
			if strings.Contains(text, n) {
				return true
			}
		}
		return false
	}

	if contains("Konto auswählen", "Choose an account") || doc.Find("[data-identifier]").Length() > 0 {
		return StateAccountChooser
	}

	hasEmail := doc.Find(`input[type="email"]`).Length() > 0
	hasPassword := doc.Find(`input[type="password"]`).Length() > 0
	if hasEmail && !hasPassword {
		return StateEmailEntry
	}
	if hasPassword {
		return StatePasswordEntry
	}

	if doc.Find(`iframe[src*="recaptcha"]`).Length() > 0 ||
		doc.Find("#captchaimg").Length() > 0 ||
		contains("Captcha") {
		return StateCaptcha
	}

	if contains("Sicherheitsschlüssel", "Security key", "security key") {
		return State2FASecurityKey
	}
	if contains("Authenticator", "Bestätigungscode", "verification code") {
		return State2FAAuthenticator
	}
	if contains("SMS", "code we sent") {
		return State2FASMS
	}
	if contains("Tippen Sie auf", "Tap yes", "Auf dem Smartphone bestätigen", "Confirm on your phone") {
		return State2FAPhonePrompt
	}
	if contains("Ersatzcode", "Backup code", "backup codes") {
		return State2FABackupCodes
	}
	if doc.Find("[data-challengetype]").Length() > 0 {
		return State2FAUnknown
	}

	if contains("hat Zugriff", "wants access") ||
		(strings.Contains(text, "Allow") && strings.Contains(text, "permission")) {
		return StateConsentScreen
	}
	return StateUnknown
}
