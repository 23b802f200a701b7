package orders

import (
	"strings"
)

// RenderAddressCopy renders the immutable delivery snapshot stored on an order:
//
//	line 1
//	line 2 (omitted when empty)
//	City, Country
//	Zip
//	phone
func RenderAddressCopy(a Address, phone string) string {
	lines := make([]string, 0, 5)
	lines = append(lines, strings.TrimSpace(a.Line1))
	if l2 := strings.TrimSpace(a.Line2); l2 != "" {
		lines = append(lines, l2)
	}
	lines = append(lines,
		strings.TrimSpace(a.City)+", "+strings.TrimSpace(a.Country),
		strings.TrimSpace(a.Zip),
		strings.TrimSpace(phone),
	)
	return strings.Join(lines, "\n")
}
