package model

import "strings"

// Protocol is a mirror transport accepted by reflector
type Protocol string

const (
	ProtocolHTTPS Protocol = "https"
	ProtocolHTTP  Protocol = "http"
)

// SortKey orders the mirrors reflector writes to the mirror list
type SortKey string

const (
	SortRate    SortKey = "rate"
	SortAge     SortKey = "age"
	SortCountry SortKey = "country"
	SortScore   SortKey = "score"
	SortDelay   SortKey = "delay"
)

// SortKeys returns every supported sort key in display order
func SortKeys() []SortKey {
	return []SortKey{SortRate, SortAge, SortScore, SortDelay, SortCountry}
}

// ParseSortKey matches a sort key case-insensitively ("Rate" from a combo box works).
func ParseSortKey(s string) (SortKey, bool) {
	key := SortKey(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range SortKeys() {
		if k == key {
			return k, true
		}
	}
	return "", false
}

// MirrorUpdateRequest is the parameter set for one mirror-list update run
type MirrorUpdateRequest struct {
	Countries              []string   `json:"countries"`
	Protocols              []Protocol `json:"protocols"`
	SortKey                SortKey    `json:"sortKey"`
	MaxMirrors             int        `json:"maxMirrors"`
	DownloadTimeoutSeconds int        `json:"downloadTimeoutSeconds"`
}

// MirrorListParams is the shape the frontend sends when the user presses Update
type MirrorListParams struct {
	Countries      []string `json:"countries"`
	IncludeHTTPS   bool     `json:"includeHttps"`
	IncludeHTTP    bool     `json:"includeHttp"`
	SortBy         string   `json:"sortBy"`
	MaxMirrors     int      `json:"maxMirrors"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// Request converts frontend params into a MirrorUpdateRequest.
// Protocols are always ordered https before http.
func (p MirrorListParams) Request() MirrorUpdateRequest {
	var protocols []Protocol
	if p.IncludeHTTPS {
		protocols = append(protocols, ProtocolHTTPS)
	}
	if p.IncludeHTTP {
		protocols = append(protocols, ProtocolHTTP)
	}
	sortKey, ok := ParseSortKey(p.SortBy)
	if !ok {
		sortKey = SortKey(p.SortBy)
	}
	return MirrorUpdateRequest{
		Countries:              append([]string(nil), p.Countries...),
		Protocols:              protocols,
		SortKey:                sortKey,
		MaxMirrors:             p.MaxMirrors,
		DownloadTimeoutSeconds: p.TimeoutSeconds,
	}
}

// MirrorDefaults are the values the form is reset to after every run
type MirrorDefaults struct {
	IncludeHTTPS   bool      `json:"includeHttps"`
	IncludeHTTP    bool      `json:"includeHttp"`
	SortBy         SortKey   `json:"sortBy"`
	MaxMirrors     int       `json:"maxMirrors"`
	TimeoutSeconds int       `json:"timeoutSeconds"`
	Countries      []string  `json:"countries"` // allow-list offered to the user
	SortKeys       []SortKey `json:"sortKeys"`
}

// MirrorSample is a reflector verbose line broken into columns for display
type MirrorSample struct {
	Server string `json:"server"`
	Rate   string `json:"rate,omitempty"`
	Time   string `json:"time,omitempty"`
	Level  string `json:"level,omitempty"` // "INFO", "WARNING", "ERROR"
}
