// Package auth carries the console session onto outbound requests and the
// push handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCredentials is returned by Validate when neither a cookie nor a token is set.
var ErrNoCredentials = errors.New("no session credentials")

// Credentials holds the session established by the console login.
type Credentials struct {
	Cookie string // Raw Cookie header value, e.g. "SESSION=abc"
	Token  string // Bearer token
}

// NewCredentials trims and returns credentials. Either value may be empty.
func NewCredentials(cookie, token string) Credentials {
	return Credentials{
		Cookie: strings.TrimSpace(cookie),
		Token:  strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")),
	}
}

// Empty reports whether no credential is set.
func (c Credentials) Empty() bool {
	return c.Cookie == "" && c.Token == ""
}

// Validate checks that at least one credential is set and that the cookie
// header parses.
func (c Credentials) Validate() error {
	if c.Empty() {
		return ErrNoCredentials
	}
	if c.Cookie != "" {
		if _, err := http.ParseCookie(c.Cookie); err != nil {
			return fmt.Errorf("parse session cookie: %w", err)
		}
	}
	return nil
}

// Header returns the headers that carry the session.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if c.Cookie != "" {
		h.Set("Cookie", c.Cookie)
	}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// Apply sets the session headers on req.
func (c Credentials) Apply(req *http.Request) {
	for k, vs := range c.Header() {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
}
