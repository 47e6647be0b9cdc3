package transcription

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"

	"autorec/internal/services"
)

// NormalizeLanguage reduces a BCP 47 tag such as "en-US" or "ja_JP" to the
// base language code the transcription API expects. Empty and "auto" return
// the empty string, which lets the service detect the language.
func NormalizeLanguage(tag string) (string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "auto") {
		return "", nil
	}
	parsed, err := language.Parse(strings.ReplaceAll(tag, "_", "-"))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "transcription", "language",
			fmt.Sprintf("unrecognized language %q", tag), err)
	}
	base, confidence := parsed.Base()
	if confidence == language.No {
		return "", services.Wrap(services.ErrConfiguration, "transcription", "language",
			fmt.Sprintf("language %q has no base language", tag), nil)
	}
	return base.String(), nil
}
