package dashboard

import (
	"fmt"
	"strings"

	"weinstein/internal/domain"
)

// NotAvailable is rendered in place of any absent value.
const NotAvailable = "N/A"

// DefaultCurrency is appended to prices when no other suffix is configured.
const DefaultCurrency = "$"

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatVolume abbreviates a share volume with B/M/K suffixes at one
// decimal place.
func FormatVolume(v *int64) string {
	if v == nil {
		return NotAvailable
	}
	f := float64(*v)
	switch {
	case f >= 1e9:
		return fmt.Sprintf("%.1fB", f/1e9)
	case f >= 1e6:
		return fmt.Sprintf("%.1fM", f/1e6)
	case f >= 1e3:
		return fmt.Sprintf("%.1fK", f/1e3)
	default:
		return fmt.Sprintf("%d", *v)
	}
}

// FormatPrice renders a price with two decimals and a currency suffix.
func FormatPrice(p *float64, currency string) string {
	if p == nil {
		return NotAvailable
	}
	if currency == "" {
		return fmt.Sprintf("%.2f", *p)
	}
	return fmt.Sprintf("%.2f %s", *p, currency)
}

// FormatPercent renders a percentage with two decimals, an explicit plus for
// non-negative values and a bare minus otherwise.
func FormatPercent(p *float64) string {
	if p == nil {
		return NotAvailable
	}
	if *p >= 0 {
		return fmt.Sprintf("+%.2f%%", *p)
	}
	return fmt.Sprintf("%.2f%%", *p)
}

// FormatRatio renders a fractional ratio (0.0123) as a percentage.
func FormatRatio(r *float64) string {
	if r == nil {
		return NotAvailable
	}
	pct := *r * 100
	return FormatPercent(&pct)
}

// FormatStage renders a stage as "Stage N", or the unavailable marker.
func FormatStage(s domain.Stage) string {
	if !s.Valid() {
		return NotAvailable
	}
	return fmt.Sprintf("Stage %d", s)
}
