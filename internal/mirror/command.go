// Package mirror turns a mirror-list update request into the reflector
// invocation that rewrites the pacman mirror list, and reads reflector's
// verbose output back into display columns.
package mirror

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
)

// ErrInvalidParameter is matched by every *InvalidParameterError.
var ErrInvalidParameter = errors.New("invalid parameter")

// InvalidParameterError reports which request field was rejected
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// BuildOptions carries the fixed parts of the command line
type BuildOptions struct {
	Elevation string   // e.g. "pkexec"
	Reflector string   // e.g. "reflector"
	SavePath  string   // e.g. "/etc/pacman.d/mirrorlist"
	Countries []string // allow-list; empty allows any country
}

// Command is a fully materialized reflector invocation.
// Argv is executed directly; String renders the equivalent shell line.
type Command struct {
	argv []string
	line string
}

// Argv returns a copy of the argument vector, elevation binary first.
func (c Command) Argv() []string {
	return append([]string(nil), c.argv...)
}

// String renders the command line, with the country list double-quoted.
func (c Command) String() string {
	return c.line
}

// IsZero reports whether c was never built
func (c Command) IsZero() bool {
	return len(c.argv) == 0
}

// Build validates req and returns the command that applies it. It never
// mutates req.
func Build(req model.MirrorUpdateRequest, opts BuildOptions) (Command, error) {
	countries, err := validateCountries(req.Countries, opts.Countries)
	if err != nil {
		return Command{}, err
	}
	protocols, err := orderProtocols(req.Protocols)
	if err != nil {
		return Command{}, err
	}
	sortKey, ok := model.ParseSortKey(string(req.SortKey))
	if !ok {
		return Command{}, &InvalidParameterError{Field: "sortKey", Reason: fmt.Sprintf("unknown sort key %q", req.SortKey)}
	}
	if req.MaxMirrors < 1 {
		return Command{}, &InvalidParameterError{Field: "maxMirrors", Reason: "must be at least 1"}
	}
	if req.DownloadTimeoutSeconds < 1 {
		return Command{}, &InvalidParameterError{Field: "downloadTimeoutSeconds", Reason: "must be at least 1"}
	}
	if opts.Elevation == "" || opts.Reflector == "" || opts.SavePath == "" {
		return Command{}, fmt.Errorf("mirror: build options are incomplete")
	}

	countryArg := strings.Join(countries, ",")
	protocolArg := strings.Join(protocols, ",")
	latest := strconv.Itoa(req.MaxMirrors)
	timeout := strconv.Itoa(req.DownloadTimeoutSeconds)

	argv := []string{
		opts.Elevation, opts.Reflector,
		"--country", countryArg,
		"--protocol", protocolArg,
		"--sort", string(sortKey),
		"--latest", latest,
		"--download-timeout", timeout,
		"--save", opts.SavePath,
		"--verbose",
	}

	line := fmt.Sprintf(`%s %s --country "%s" --protocol %s --sort %s --latest %s --download-timeout %s --save %s --verbose`,
		opts.Elevation, opts.Reflector, countryArg, protocolArg, sortKey, latest, timeout, opts.SavePath)

	return Command{argv: argv, line: line}, nil
}

func validateCountries(countries, allowed []string) ([]string, error) {
	if len(countries) == 0 {
		return nil, &InvalidParameterError{Field: "countries", Reason: "at least one country must be selected"}
	}
	allow := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		allow[c] = true
	}
	seen := make(map[string]bool, len(countries))
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		if len(allow) > 0 && !allow[c] {
			return nil, &InvalidParameterError{Field: "countries", Reason: fmt.Sprintf("%q is not an offered country", c)}
		}
		if c == "" || strings.ContainsAny(c, "\",\n") {
			return nil, &InvalidParameterError{Field: "countries", Reason: fmt.Sprintf("%q is not a valid country", c)}
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// orderProtocols returns the selected protocols with https before http.
func orderProtocols(protocols []model.Protocol) ([]string, error) {
	var https, http bool
	for _, p := range protocols {
		switch p {
		case model.ProtocolHTTPS:
			https = true
		case model.ProtocolHTTP:
			http = true
		default:
			return nil, &InvalidParameterError{Field: "protocols", Reason: fmt.Sprintf("unknown protocol %q", p)}
		}
	}
	var out []string
	if https {
		out = append(out, string(model.ProtocolHTTPS))
	}
	if http {
		out = append(out, string(model.ProtocolHTTP))
	}
	if len(out) == 0 {
		return nil, &InvalidParameterError{Field: "protocols", Reason: "at least one protocol must be selected"}
	}
	return out, nil
}
