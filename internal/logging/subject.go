package logging

import "strings"

// FormatSubject builds the item/term subject string used in console output.
func FormatSubject(itemIndex, term string) string {
	itemIndex = strings.TrimSpace(itemIndex)
	term = strings.TrimSpace(term)
	switch {
	case itemIndex != "" && term != "":
		return "Item #" + itemIndex + " (" + term + ")"
	case itemIndex != "":
		return "Item #" + itemIndex
	default:
		return term
	}
}
