package shared

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("sess_")
	b := NewID("sess_")
	if !strings.HasPrefix(a, "sess_") {
		t.Errorf("expected prefix, got %s", a)
	}
	if len(a) != len("sess_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %d", len(a)-len("sess_"))
	}
	if a == b {
		t.Error("expected unique ids")
	}
}

func TestPurpose_String(t *testing.T) {
	if PurposeTranscription.String() != "rtasr" {
		t.Errorf("unexpected purpose %s", PurposeTranscription)
	}
}
