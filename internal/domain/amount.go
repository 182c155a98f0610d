package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// AmountTolerance is the relative tolerance for amount matching (1%).
const AmountTolerance = 0.01

// minAmountTolerance is the absolute floor for the tolerance window, so small
// amounts still match within a cent.
const minAmountTolerance = 0.01

var (
	currencyRunes = regexp.MustCompile(`[$,\s€£¥₹]`)
	numberRegex   = regexp.MustCompile(`-?\d+\.?\d*`)

	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\$\s*[\d,]+\.?\d*`),
		regexp.MustCompile(`(?i)[\d,]+\.?\d*\s*(?:USD|EUR|GBP|dollars?)`),
		regexp.MustCompile(`(?i)(?:total|amount|sum|price|cost|invoice)[\s:]+\$?\s*[\d,]+\.?\d*`),
	}
)

// NormalizeAmount parses a monetary string ("$1,234.56", "120 USD") into a
// float. Returns false when no numeric value can be recovered.
func NormalizeAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	cleaned := currencyRunes.ReplaceAllString(s, "")
	m := numberRegex.FindString(cleaned)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractAmounts pulls monetary values out of free text. Only values that
// look like money (currency symbol, currency word, or an amount-ish label)
// are returned, in order of appearance per pattern.
func ExtractAmounts(text string) []float64 {
	var amounts []float64
	for _, p := range amountPatterns {
		for _, m := range p.FindAllString(text, -1) {
			if v, ok := NormalizeAmount(m); ok && v != 0 {
				amounts = append(amounts, v)
			}
		}
	}
	return amounts
}

// AmountsMatch reports whether any candidate is within the relative tolerance
// window of target. The window never shrinks below a cent.
func AmountsMatch(target float64, candidates []float64, tolerance float64) bool {
	if len(candidates) == 0 {
		return false
	}
	threshold := target * tolerance
	if threshold < minAmountTolerance {
		threshold = minAmountTolerance
	}
	for _, c := range candidates {
		diff := target - c
		if diff < 0 {
			diff = -diff
		}
		if diff <= threshold {
			return true
		}
	}
	return false
}

// Tokenize lower-cases and whitespace-splits text into lexical query tokens.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
