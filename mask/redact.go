package mask

import "regexp"

// Raw SIP2 frames reaching the dashboard stream carry credentials and patron
// identifiers as tag runs. Secrets (CN login, CO password, AD PIN) are
// blanked; identifiers (AA, AE, AB) get the deterministic mask so operators
// can still correlate a patron across log lines.
var (
	secretTagRe     = regexp.MustCompile(`(CN|CO|AD)[^|\r]*`)
	identifierTagRe = regexp.MustCompile(`(AA|AE|AB)([^|\r]*)`)
)

// RedactFrame rewrites the sensitive tag runs of a raw SIP2 frame. When m has
// no master key the identifier tags fall back to asterisks instead of the
// deterministic mask.
func RedactFrame(frame string, m *Masker) string {
	out := secretTagRe.ReplaceAllString(frame, "${1}"+Redacted)
	return identifierTagRe.ReplaceAllStringFunc(out, func(run string) string {
		tag, value := run[:2], run[2:]
		masked, err := m.Mask(value)
		if err != nil {
			return tag + Redacted
		}
		return tag + masked
	})
}
