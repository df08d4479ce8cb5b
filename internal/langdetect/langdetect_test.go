package langdetect_test

import (
	"testing"

	"github.com/dropshiptriage/triage/internal/langdetect"
	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestDetect_German(t *testing.T) {
	tag := langdetect.Detect("Bitte haben Sie Verständnis, wir haben die Bestellung nicht erhalten, danke")
	assert.Equal(t, language.German, tag)
}

func TestDetect_FallsBackToEnglishOnEmpty(t *testing.T) {
	assert.Equal(t, langdetect.Fallback, langdetect.Detect(""))
}

func TestDetect_FallsBackOnNoSignal(t *testing.T) {
	assert.Equal(t, langdetect.Fallback, langdetect.Detect("12345 67890"))
}

func TestResolve_OverrideWinsOverDetection(t *testing.T) {
	overrides := map[string]string{"customer@example.com": "fr"}
	tag := langdetect.Resolve(overrides, "customer@example.com", "Bitte haben Sie Verständnis")
	assert.Equal(t, language.French, tag)
}

func TestResolve_FallsBackToDetectionWithoutOverride(t *testing.T) {
	tag := langdetect.Resolve(nil, "customer@example.com", "Merci beaucoup, je vous remercie")
	assert.Equal(t, language.French, tag)
}
