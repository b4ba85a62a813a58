package service

import (
	"fmt"
	"sync"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// Form holds the user's pending mirror selection between runs
type Form struct {
	mu         sync.Mutex
	defaults   model.MirrorDefaults
	countries  []string
	https      bool
	http       bool
	sortKey    model.SortKey
	maxMirrors int
	timeout    int
}

// NewForm creates a form initialised to defaults
func NewForm(defaults model.MirrorDefaults) *Form {
	f := &Form{defaults: defaults}
	f.Reset()
	return f
}

// Reset clears the country selection and restores every default
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countries = nil
	f.https = f.defaults.IncludeHTTPS
	f.http = f.defaults.IncludeHTTP
	f.sortKey = f.defaults.SortBy
	f.maxMirrors = max(f.defaults.MaxMirrors, 1)
	f.timeout = max(f.defaults.TimeoutSeconds, 1)
}

// ToggleCountry selects or deselects country and reports whether it is now selected.
func (f *Form) ToggleCountry(country string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.defaults.Countries) > 0 && !contains(f.defaults.Countries, country) {
		return false, fmt.Errorf("unknown country %q", country)
	}
	for i, c := range f.countries {
		if c == country {
			f.countries = append(f.countries[:i:i], f.countries[i+1:]...)
			return false, nil
		}
	}
	f.countries = append(f.countries, country)
	return true, nil
}

func (f *Form) SetProtocol(https, http bool) {
	f.mu.Lock()
	f.https, f.http = https, http
	f.mu.Unlock()
}

func (f *Form) SetSort(key string) error {
	k, ok := model.ParseSortKey(key)
	if !ok {
		return fmt.Errorf("unknown sort key %q", key)
	}
	f.mu.Lock()
	f.sortKey = k
	f.mu.Unlock()
	return nil
}

func (f *Form) IncrementMaxMirrors() int { return f.step(&f.maxMirrors, 1) }
func (f *Form) DecrementMaxMirrors() int { return f.step(&f.maxMirrors, -1) }
func (f *Form) IncrementTimeout() int    { return f.step(&f.timeout, 1) }
func (f *Form) DecrementTimeout() int    { return f.step(&f.timeout, -1) }

// step never lets a counter go below 1.
func (f *Form) step(v *int, delta int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	*v = max(*v+delta, 1)
	return *v
}

// CanSubmit reports whether Update should be enabled
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.countries) > 0 && (f.https || f.http)
}

// Params returns the form in the shape the frontend binds to
func (f *Form) Params() model.MirrorListParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.MirrorListParams{
		Countries:      append([]string(nil), f.countries...),
		IncludeHTTPS:   f.https,
		IncludeHTTP:    f.http,
		SortBy:         string(f.sortKey),
		MaxMirrors:     f.maxMirrors,
		TimeoutSeconds: f.timeout,
	}
}

// Request returns the selection as an update request
func (f *Form) Request() model.MirrorUpdateRequest {
	return f.Params().Request()
}
