package models

import "strings"

// ParseDraft turns a raw LLM draft string into a DraftResult, recognizing
// the "NO_DRAFT — <reason>" convention from §4.4/§6. Both an em dash and a
// plain hyphen separator are accepted since the contract only fixes the
// leading token.
func ParseDraft(raw string) DraftResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == NoDraftPrefix {
		return DraftResult{NoDraft: true, Reason: "no reason given"}
	}
	if !strings.HasPrefix(trimmed, NoDraftPrefix) {
		return DraftResult{Body: trimmed}
	}

	rest := strings.TrimPrefix(trimmed, NoDraftPrefix)
	rest = strings.TrimLeft(rest, " \t")
	for _, sep := range []string{"—", "-", ":"} {
		if strings.HasPrefix(rest, sep) {
			rest = strings.TrimSpace(strings.TrimPrefix(rest, sep))
			break
		}
	}
	if rest == "" {
		rest = "no reason given"
	}
	return DraftResult{NoDraft: true, Reason: rest}
}

// NoDraft formats a DraftResult reason back into the wire convention, used
// when a component must emit a NO_DRAFT marker itself (policy-block path).
func NoDraft(reason string) string {
	return NoDraftPrefix + " — " + reason
}
