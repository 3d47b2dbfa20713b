package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// StatusLabel renders an enum value such as PENDING_APPROVAL as "Pending Approval".
// Labels are derived for display only and never parsed back.
func StatusLabel[S ~string](status S) string {
	words := strings.ReplaceAll(strings.ToLower(string(status)), "_", " ")
	return titleCaser.String(words)
}
