// Package jenkinsurl normalizes Jenkins advisory URLs so that different
// spellings of the same advisory page compare equal.
package jenkinsurl

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	bareHost      = "jenkins.io"
	CanonicalHost = "www.jenkins.io"
)

var advisoryDateRegexp = regexp.MustCompile(`/security/advisory/(\d{4}-\d{2}-\d{2})/?$`)

// Canonicalize forces https, rewrites the bare jenkins.io host to the
// canonical www.jenkins.io form and keeps path/query/fragment intact.
// The host rewrite is an exact match, never a substring match, so hosts that
// merely contain "jenkins.io" pass through untouched.
//
// It returns "" when the input has no canonical form (e.g. an invalid
// bracketed address). It never panics, whatever bytes the caller decoded the
// input from.
func Canonicalize(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	// A scheme-less input like "jenkins.io/security" parses with the host in
	// Path. Re-parse with a scheme so the host rewrite below sees it and the
	// output round-trips unchanged.
	if u.Scheme == "" && u.Host == "" {
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}

	if u.Scheme == "" || u.Scheme == "http" {
		u.Scheme = "https"
	}

	if u.Host == bareHost {
		u.Host = CanonicalHost
	}

	return u.String()
}

// StripQueryFragment returns the URL without query/fragment
// (keeps scheme/host/path). Malformed input is returned unchanged.
func StripQueryFragment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Normalize canonicalizes an advisory URL and drops query/fragment for
// stable dedupe matching.
func Normalize(rawURL string) string {
	if c := Canonicalize(rawURL); c != "" {
		rawURL = c
	}
	return StripQueryFragment(rawURL)
}

// DateFromAdvisoryURL extracts the trailing date segment from URLs like
// .../security/advisory/2016-07-27/. It returns "" when the URL has no valid
// date tail.
func DateFromAdvisoryURL(rawURL string) string {
	m := advisoryDateRegexp.FindStringSubmatch(StripQueryFragment(rawURL))
	if m == nil {
		return ""
	}
	if _, err := time.Parse("2006-01-02", m[1]); err != nil {
		return ""
	}
	return m[1]
}
