package sheet

import (
	"fmt"
	"strings"
)

// Column name aliases recognized during pre-flight validation. These mirror
// the headings price-list uploads arrive with in practice.
var (
	codeAliases  = []string{"CODE", "KODE", "ITEM CODE", "KODE ITEM"}
	nameAliases  = []string{"NAME", "NAMA", "ITEM NAME", "NAMA PEMERIKSAAN"}
	classAliases = []string{"CLASS", "KELAS"}
	priceAliases = []string{"PRICE UPLOAD", "PRICE", "HARGA", "TARIF"}
)

// validationSampleRows bounds how many data rows the pre-flight scan reads.
const validationSampleRows = 50

// ValidationResult reports pre-flight problems with an uploaded sheet.
// Errors make the sheet unusable; warnings describe rows or classes that
// will be skipped.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateSheet checks that the required columns exist, that price cells in
// the first rows parse as numbers, and that every class value is known to
// the provided class map.
func ValidateSheet(src Source, knownClasses map[string]string) ValidationResult {
	res := ValidationResult{}

	upper := make(map[string]int)
	for text, col := range HeaderMap(src) {
		upper[strings.ToUpper(text)] = col
	}

	colCode := findColumn(upper, codeAliases)
	colName := findColumn(upper, nameAliases)
	colClass := findColumn(upper, classAliases)
	colPrice := findColumn(upper, priceAliases)

	if colCode == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("code column not found; expected one of: %s", strings.Join(codeAliases, ", ")))
	}
	if colName == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("name column not found; expected one of: %s", strings.Join(nameAliases, ", ")))
	}
	if colClass == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("class column not found; expected one of: %s", strings.Join(classAliases, ", ")))
	}
	if colPrice == 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("price column not found; expected one of: %s", strings.Join(priceAliases, ", ")))
	}
	if len(res.Errors) > 0 {
		return res
	}

	seenClasses := map[string]bool{}
	limit := src.RowCount()
	if limit > validationSampleRows+1 {
		limit = validationSampleRows + 1
	}
	for row := 2; row <= limit; row++ {
		code := strings.TrimSpace(src.Text(row, colCode))
		name := strings.TrimSpace(src.Text(row, colName))
		if code == "" || name == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row %d: empty code or name; the row will be skipped", row))
		}

		priceText := strings.TrimSpace(src.Text(row, colPrice))
		if priceText != "" && ParsePrice(src.Value(row, colPrice)) == nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: price cell contains text (%q) that cannot be read as a number", row, priceText))
		}

		if class := strings.ToUpper(strings.TrimSpace(src.Text(row, colClass))); class != "" {
			seenClasses[class] = true
		}
	}

	for class := range seenClasses {
		if _, known := knownClasses[class]; !known {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown class %q; prices for this class will not be processed", class))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func findColumn(headers map[string]int, aliases []string) int {
	for _, alias := range aliases {
		if col, ok := headers[alias]; ok {
			return col
		}
	}
	return 0
}
