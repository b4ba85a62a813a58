package config

import "github.com/arch-linux-gui/alg-welcome/internal/model"

// DefaultCountries returns the countries offered in the mirror selection screen
func DefaultCountries() []string {
	return []string{
		"Australia",
		"Brazil",
		"Canada",
		"China",
		"France",
		"Germany",
		"India",
		"Japan",
		"Netherlands",
		"Norway",
		"Russia",
		"Sweden",
		"United Kingdom",
		"United States",
		"Worldwide",
	}
}

// IsAllowedCountry reports whether country is in the configured allow-list
func (m MirrorConfig) IsAllowedCountry(country string) bool {
	for _, c := range m.Countries {
		if c == country {
			return true
		}
	}
	return false
}

// Defaults returns the form defaults and choices the frontend renders
func (m MirrorConfig) Defaults() model.MirrorDefaults {
	sortKey, ok := model.ParseSortKey(m.DefaultSort)
	if !ok {
		sortKey = model.SortRate
	}
	return model.MirrorDefaults{
		IncludeHTTPS:   m.DefaultHTTPS,
		IncludeHTTP:    m.DefaultHTTP,
		SortBy:         sortKey,
		MaxMirrors:     m.DefaultMaxMirrors,
		TimeoutSeconds: m.DefaultTimeoutSeconds,
		Countries:      append([]string(nil), m.Countries...),
		SortKeys:       model.SortKeys(),
	}
}
