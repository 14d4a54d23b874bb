// Package uri parses request and service URLs and validates OData system query options.
package uri

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// System query option names understood by the service.
const (
	OptionFilter      = "$filter"
	OptionExpand      = "$expand"
	OptionInlineCount = "$inlinecount"
	OptionOrderBy     = "$orderby"
	OptionSelect      = "$select"
	OptionSkip        = "$skip"
	OptionSkipToken   = "$skiptoken"
	OptionTop         = "$top"
	OptionFormat      = "$format"
)

var (
	absoluteURLPattern = regexp.MustCompile(`^(ftp|http|https)://(\w+:?\w*@)?(\S+)(:[0-9]+)?(/|/([\w#!:.?+=&%@!\-/]))?`)
	relativeURLPattern = regexp.MustCompile(`^(/|/([\w#!:.?+=&%@!\-/]))?`)
)

// QueryOption is a single decoded name/value pair from a query string, in request order.
type QueryOption struct {
	Name     string
	Value    string
	HasValue bool
}

// URL is a parsed request or service URL.
type URL struct {
	raw      string
	parts    *url.URL
	segments []string
	options  []QueryOption
}

// Parse parses raw as an absolute URL, or as a relative one when absolute is false.
// Path segments are URL-decoded; an empty segment makes the URL malformed.
func Parse(raw string, absolute bool) (*URL, error) {
	pattern := relativeURLPattern
	if absolute {
		pattern = absoluteURLPattern
	}
	if !pattern.MatchString(raw) {
		return nil, malformed(raw)
	}

	parts, err := url.Parse(raw)
	if err != nil {
		return nil, malformed(raw)
	}
	if absolute && parts.Host == "" {
		return nil, malformed(raw)
	}

	u := &URL{raw: raw, parts: parts}

	path, err := url.PathUnescape(parts.EscapedPath())
	if err != nil {
		return nil, malformed(raw)
	}
	if trimmed := strings.Trim(path, "/"); trimmed != "" {
		for _, segment := range strings.Split(trimmed, "/") {
			if strings.TrimSpace(segment) == "" {
				return nil, malformed(raw)
			}
			u.segments = append(u.segments, segment)
		}
	}

	options, err := parseQuery(parts.RawQuery)
	if err != nil {
		return nil, malformed(raw)
	}
	u.options = options
	return u, nil
}

// MustParse is like Parse for absolute URLs but panics on error. Intended for tests and constants.
func MustParse(raw string) *URL {
	u, err := Parse(raw, true)
	if err != nil {
		panic(err)
	}
	return u
}

func malformed(raw string) error {
	return odataerr.BadRequest("Bad Request - The url '%s' is malformed.", raw)
}

func parseQuery(raw string) ([]QueryOption, error) {
	var options []QueryOption
	if raw == "" {
		return options, nil
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		name, value, hasValue := strings.Cut(pair, "=")
		decodedName, err := url.QueryUnescape(name)
		if err != nil {
			return nil, err
		}
		decodedValue, err := url.QueryUnescape(value)
		if err != nil {
			return nil, err
		}
		options = append(options, QueryOption{Name: decodedName, Value: decodedValue, HasValue: hasValue})
	}
	return options, nil
}

// String returns the URL as given to Parse.
func (u *URL) String() string {
	return u.raw
}

// Scheme returns the URL scheme, empty for relative URLs.
func (u *URL) Scheme() string {
	return u.parts.Scheme
}

// Host returns the host name without port.
func (u *URL) Host() string {
	return u.parts.Hostname()
}

// Port returns the explicit port or the scheme default (80 for http, 443 for https).
func (u *URL) Port() int {
	if p := u.parts.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	switch u.parts.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	}
	return 0
}

// Path returns the decoded path.
func (u *URL) Path() string {
	return u.parts.Path
}

// RawQuery returns the undecoded query string.
func (u *URL) RawQuery() string {
	return u.parts.RawQuery
}

// Fragment returns the fragment.
func (u *URL) Fragment() string {
	return u.parts.Fragment
}

// HasQuery reports whether the URL carries a query string.
func (u *URL) HasQuery() bool {
	return u.parts.RawQuery != "" || u.parts.ForceQuery
}

// Segments returns the decoded path segments.
func (u *URL) Segments() []string {
	return u.segments
}

// SegmentCount returns the number of path segments.
func (u *URL) SegmentCount() int {
	return len(u.segments)
}

// IsAbsolute reports whether the URL has a scheme.
func (u *URL) IsAbsolute() bool {
	return u.parts.Scheme != ""
}

// QueryOptions returns every decoded query option in request order.
func (u *URL) QueryOptions() []QueryOption {
	return u.options
}

// IsBaseOf reports whether u is a base of target: same scheme, host and port,
// and u's segments form a prefix of target's segments.
func (u *URL) IsBaseOf(target *URL) bool {
	if u.Scheme() != target.Scheme() || u.Host() != target.Host() || u.Port() != target.Port() {
		return false
	}
	if len(u.segments) > len(target.segments) {
		return false
	}
	for i, segment := range u.segments {
		if segment != target.segments[i] {
			return false
		}
	}
	return true
}

// QueryStringItem returns the value of the first query option with the given name.
func (u *URL) QueryStringItem(name string) (string, bool) {
	for _, opt := range u.options {
		if opt.Name == name {
			return opt.Value, true
		}
	}
	return "", false
}

// ValidateQueryParameters rejects value-less system options, unknown $-prefixed
// options, duplicate system options and system options with empty values.
func (u *URL) ValidateQueryParameters() error {
	seen := make(map[string]bool)
	for _, opt := range u.options {
		if opt.Name == "" {
			if strings.HasPrefix(opt.Value, "$") {
				if IsSystemQueryOption(opt.Value) {
					return odataerr.BadRequest("Query option '%s' was found without a value.", opt.Value)
				}
				return odataerr.BadRequest("The query parameter '%s' begins with a system-reserved '$' character but is not recognized.", opt.Value)
			}
			continue
		}
		if !strings.HasPrefix(opt.Name, "$") {
			continue
		}
		if !IsSystemQueryOption(opt.Name) {
			return odataerr.BadRequest("The query parameter '%s' begins with a system-reserved '$' character but is not recognized.", opt.Name)
		}
		if seen[opt.Name] {
			return odataerr.BadRequest("Query option '%s' cannot be specified more than once.", opt.Name)
		}
		if opt.Value == "" {
			return odataerr.BadRequest("Query option '%s' was found without a value.", opt.Name)
		}
		seen[opt.Name] = true
	}
	return nil
}

// IsSystemQueryOption reports whether name is one of the supported system query options.
func IsSystemQueryOption(name string) bool {
	switch name {
	case OptionFilter, OptionExpand, OptionInlineCount, OptionOrderBy, OptionSelect,
		OptionSkip, OptionSkipToken, OptionTop, OptionFormat:
		return true
	}
	return false
}
