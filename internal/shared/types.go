package shared

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Purpose tags a session type. It selects the signed URL returned by the
// signature service.
type Purpose string

const (
	PurposeRecognition   Purpose = "iat"
	PurposeTranscription Purpose = "rtasr"
	PurposeSynthesis     Purpose = "tts"
)

func (p Purpose) String() string {
	return string(p)
}
