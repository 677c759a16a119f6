package notification

import (
	"fmt"
	"html"
	"strings"

	"crypto-screenerv1/internal/model"
	"crypto-screenerv1/internal/timeutil"
)

// FormatTrigger renders a trigger as a Telegram HTML message.
func FormatTrigger(t *model.Trigger) string {
	var b strings.Builder

	b.WriteString("🚨 <b>Filter Triggered!</b>\n\n")
	fmt.Fprintf(&b, "<b>Filter:</b> %s\n", html.EscapeString(t.FilterName))
	fmt.Fprintf(&b, "<b>Market:</b> %s\n", strings.ToUpper(string(t.Market)))
	fmt.Fprintf(&b, "<b>Pair:</b> %s\n\n", html.EscapeString(t.Symbol))

	d := &t.Data
	switch t.FilterType {
	case model.FilterPriceChange:
		if d.PriceChangePercent != nil {
			fmt.Fprintf(&b, "📈 <b>Price change:</b> %s%%\n", signedPercent(*d.PriceChangePercent))
		}
		if d.PriceFrom != nil && d.PriceTo != nil {
			fmt.Fprintf(&b, "💰 <b>Price:</b> %s → %s\n", formatPrice(*d.PriceFrom), formatPrice(*d.PriceTo))
		}
	case model.FilterVolumeSpike:
		if d.SpikeCoefficient != nil {
			fmt.Fprintf(&b, "📊 <b>Volume spike:</b> %.2fx\n", *d.SpikeCoefficient)
		}
		if d.AverageVolume != nil {
			fmt.Fprintf(&b, "📉 <b>Avg volume/min:</b> %s\n", formatVolume(*d.AverageVolume))
		}
		if d.PriceChangePercent != nil {
			fmt.Fprintf(&b, "📈 <b>Price change:</b> %s%%\n", signedPercent(*d.PriceChangePercent))
		}
	}

	if d.VolumePeriod != nil {
		fmt.Fprintf(&b, "📊 <b>Volume (period):</b> %s\n", formatVolume(*d.VolumePeriod))
	}
	if d.Volume24h != nil {
		fmt.Fprintf(&b, "💵 <b>Volume 24h:</b> %s\n", formatVolume(*d.Volume24h))
	}
	if d.FirstCandleTS != nil && d.LastCandleTS != nil {
		fmt.Fprintf(&b, "🕐 <b>Period:</b> %s - %s UTC\n",
			timeutil.HHMM(*d.FirstCandleTS), timeutil.HHMM(*d.LastCandleTS))
	}
	if d.URL != "" {
		fmt.Fprintf(&b, "\n🔗 <a href=\"%s\">Open on Bybit</a>", d.URL)
	}
	return b.String()
}

// signedPercent formats a percentage with an explicit sign: "+7.50", "-3.20".
func signedPercent(v float64) string {
	return fmt.Sprintf("%+.2f", v)
}

// formatPrice keeps enough precision for sub-cent pairs.
func formatPrice(v float64) string {
	switch {
	case v >= 1000:
		return fmt.Sprintf("%.2f", v)
	case v >= 1:
		return fmt.Sprintf("%.4f", v)
	default:
		return fmt.Sprintf("%.8f", v)
	}
}

// formatVolume renders quote volume in compact USD form.
func formatVolume(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.2fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
