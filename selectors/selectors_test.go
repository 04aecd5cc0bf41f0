package selectors

import (
	"strings"
	"testing"
)

func TestValidate_AllCandidatesParse(t *testing.T) {
	if err := Validate(); err != nil {
		t.Fatalf("catalog contains invalid CSS: %v", err)
	}
}

func TestCombined_KnownRole(t *testing.T) {
	combined, err := Combined("prompt_textarea")
	if err != nil {
		t.Fatalf("Combined: %v", err)
	}
	if !strings.Contains(combined, ".ql-editor") {
		t.Errorf("prompt_textarea union missing editor candidate: %q", combined)
	}
	if !strings.Contains(combined, ", ") {
		t.Errorf("expected comma-joined union, got %q", combined)
	}
}

func TestCombined_UnknownRole(t *testing.T) {
	if _, err := Combined("no-such-role"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestMustCombined_PanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown role")
		}
	}()
	MustCombined("no-such-role")
}

// Every role the send protocol and driver reference must exist.
func TestReferencedRolesExist(t *testing.T) {
	referenced := []string{
		"prompt_textarea", "send_button", "send_button_disabled",
		"stop_button", "copy_button", "add_button", "file_upload_button",
		"file_input", "model_selector", "model_menu_item", "new_chat",
		"account_link", "enterprise", "logged_in", "session_expired",
	}
	for _, role := range referenced {
		if _, err := Combined(role); err != nil {
			t.Errorf("role %q missing from catalog", role)
		}
	}
}

func TestStoppedPhrases_Lowercase(t *testing.T) {
	for _, p := range StoppedPhrases {
		if p != strings.ToLower(p) {
			t.Errorf("stopped phrase %q must be lowercase (matching lowercases the haystack)", p)
		}
	}
}
