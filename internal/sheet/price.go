package sheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var nonPriceChars = regexp.MustCompile(`[^\d,-]`)

// ParsePrice interprets a cell value as a price. Currency symbols and
// thousands separators are stripped, a comma is treated as the decimal
// separator, and anything unparseable yields nil.
func ParsePrice(val any) *float64 {
	switch v := val.(type) {
	case nil:
		return nil
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	case int64:
		f := float64(v)
		return &f
	}

	s := strings.TrimSpace(fmt.Sprint(val))
	if s == "" {
		return nil
	}
	clean := strings.Replace(nonPriceChars.ReplaceAllString(s, ""), ",", ".", 1)
	parsed, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return nil
	}
	return &parsed
}
