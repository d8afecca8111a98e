package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateFormats lists the layouts accepted by NormalizeDate, tried in order
var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02.01.2006",
}

var plantCodePattern = regexp.MustCompile(`^\s*(\d+)`)

// ParseAmount parses an amount written in either Italian (1.234,56) or
// English (1,234.56) notation. A lone comma is read as the decimal separator.
// An empty value is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "€", "")
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, nil
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.ReplaceAll(s, ",", ".")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format '%s': %w", s, err)
	}
	return RoundAmount(d), nil
}

// NormalizeDate converts one of the accepted date layouts to YYYY-MM-DD.
// Timestamps are accepted when the time follows the date after a space or 'T'.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("date cannot be empty")
	}
	head := datePart(s)
	var lastErr error
	for _, layout := range dateFormats {
		t, err := time.Parse(layout, head)
		if err == nil {
			return FormatDate(t), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}

// ParsePlantCode extracts the numeric plant code from values such as
// "43809 - OPT1".
func ParsePlantCode(s string) (int, error) {
	m := plantCodePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no plant code in '%s'", s)
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("invalid plant code '%s': %w", m[1], err)
	}
	if code <= 0 {
		return 0, fmt.Errorf("plant code must be positive, got %d", code)
	}
	return code, nil
}
