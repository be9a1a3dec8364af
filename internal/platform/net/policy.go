// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package net holds the URL checks applied to sources pushed by control
// surfaces.
package net

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrNotDirectURL means the value is not a plain http(s) URL.
	ErrNotDirectURL = errors.New("not a direct http(s) url")
	// ErrHostNotAllowed means the URL host is not on the allowlist.
	ErrHostNotAllowed = errors.New("host not allowed")
)

// NormalizeHost validates and normalizes a host for comparison.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// HostPolicy restricts source URLs to a set of hosts. Subdomains of an
// allowed host are allowed too. The zero value allows every host.
type HostPolicy struct {
	hosts map[string]struct{}
}

// NewHostPolicy normalizes the allowlist.
func NewHostPolicy(hosts []string) (HostPolicy, error) {
	p := HostPolicy{}
	for _, h := range hosts {
		n, err := NormalizeHost(h)
		if err != nil {
			return HostPolicy{}, err
		}
		if p.hosts == nil {
			p.hosts = make(map[string]struct{})
		}
		p.hosts[n] = struct{}{}
	}
	return p, nil
}

// Check validates raw and returns it normalized.
func (p HostPolicy) Check(raw string) (string, error) {
	u, ok := ParseDirectHTTPURL(raw)
	if !ok {
		return "", ErrNotDirectURL
	}
	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return "", err
	}
	if len(p.hosts) > 0 && !p.allowed(host) {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	return u.String(), nil
}

func (p HostPolicy) allowed(host string) bool {
	if _, ok := p.hosts[host]; ok {
		return true
	}
	for net.ParseIP(host) == nil {
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			return false
		}
		host = host[dot+1:]
		if net.ParseIP(host) != nil {
			// never match IP literals by suffix
			return false
		}
		if _, ok := p.hosts[host]; ok {
			return true
		}
	}
	return false
}
