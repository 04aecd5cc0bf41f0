package detector

import "testing"

const appURL = "https://gemini.google.com/app"
const accountsURL = "https://accounts.google.com/v3/signin/identifier"

func TestClassify_AppStates(t *testing.T) {
	cases := []struct {
		name string
		html string
		want State
	}{
		{
			"ready with editor",
			`<html><body><rich-textarea><div class="ql-editor"></div></rich-textarea></body></html>`,
			StateAppReady,
		},
		{
			"ready with textbox role",
			`<html><body><div role="textbox" contenteditable="true"></div></body></html>`,
			StateAppReady,
		},
		{
			"terms screen wins over input",
			`<html><body><button>I agree</button><textarea></textarea></body></html>`,
			StateTermsAcceptance,
		},
		{
			"terms screen german",
			`<html><body><button>Gemini ausprobieren</button></body></html>`,
			StateTermsAcceptance,
		},
		{
			"still loading",
			`<html><body><div class="spinner"></div></body></html>`,
			StateAppLoading,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(appURL, tc.html); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_AccountsStates(t *testing.T) {
	cases := []struct {
		name string
		html string
		want State
	}{
		{
			"email entry",
			`<html><body><input type="email" name="identifier"></body></html>`,
			StateEmailEntry,
		},
		{
			"password entry",
			`<html><body><input type="password" name="Passwd"></body></html>`,
			StatePasswordEntry,
		},
		{
			"password beats email when both present",
			`<html><body><input type="email"><input type="password"></body></html>`,
			StatePasswordEntry,
		},
		{
			"account chooser by attribute",
			`<html><body><div data-identifier="user@example.com">user</div></body></html>`,
			StateAccountChooser,
		},
		{
			"account chooser by text",
			`<html><body><h1>Choose an account</h1></body></html>`,
			StateAccountChooser,
		},
		{
			"captcha iframe",
			`<html><body><iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe></body></html>`,
			StateCaptcha,
		},
		{
			"security key before authenticator",
			`<html><body><p>Use your security key. Or enter a verification code.</p></body></html>`,
			State2FASecurityKey,
		},
		{
			"authenticator code",
			`<html><body><p>Enter the verification code from the Google Authenticator app</p></body></html>`,
			State2FAAuthenticator,
		},
		{
			"sms code",
			`<html><body><p>Enter the code we sent to your phone</p></body></html>`,
			State2FASMS,
		},
		{
			"phone tap prompt",
			`<html><body><p>Confirm on your phone to continue</p></body></html>`,
			State2FAPhonePrompt,
		},
		{
			"backup codes",
			`<html><body><p>Enter one of your backup codes</p></body></html>`,
			State2FABackupCodes,
		},
		{
			"generic challenge attribute",
			`<html><body><div data-challengetype="39"></div></body></html>`,
			State2FAUnknown,
		},
		{
			"consent screen",
			`<html><body><p>This app wants access to your account</p></body></html>`,
			StateConsentScreen,
		},
		{
			"blank interstitial",
			`<html><body><div></div></body></html>`,
			StateUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(accountsURL, tc.html); got != tc.want {
				t.Errorf("Classify = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestClassify_UnknownHost(t *testing.T) {
	if got := Classify("https://example.com/", "<html><body></body></html>"); got != StateUnknown {
		t.Errorf("Classify = %q, want %q", got, StateUnknown)
	}
}
