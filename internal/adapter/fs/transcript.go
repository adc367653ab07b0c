package fs

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// TranscriptName is the identity encoded in a transcript file name.
type TranscriptName struct {
	Company    string
	Quarter    string
	FiscalYear string
}

// ParseTranscriptName parses names of the form company_quarter_fy.txt, for
// example salesforce_q2_fy26.txt. Parts after the third are ignored.
func ParseTranscriptName(path string) (TranscriptName, error) {
	base := filepath.Base(path)
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))

	parts := strings.Split(stem, "_")
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TranscriptName{}, fmt.Errorf("cannot parse %q: expected company_quarter_fy", base)
	}

	return TranscriptName{
		Company:    titleCase(parts[0]),
		Quarter:    strings.ToUpper(parts[1]),
		FiscalYear: strings.ToUpper(parts[2]),
	}, nil
}

// titleCase upper-cases the first letter of every run of letters.
func titleCase(s string) string {
	var sb strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		sb.WriteRune(r)
		prevLetter = false
	}
	return sb.String()
}
