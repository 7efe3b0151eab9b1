package mutation

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKind trims, NFC-normalizes and lower-cases a kind tag so that
// diagnostic lookups match regardless of how call sites spell it.
// The empty kind becomes KindGeneral. A Caser holds state, so one is built
// per call.
func NormalizeKind(s string) Kind {
	s = strings.TrimSpace(s)
	if s == "" {
		return KindGeneral
	}
	return Kind(cases.Lower(language.Und).String(norm.NFC.String(s)))
}
