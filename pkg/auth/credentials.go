// Package auth logs in to the remote service and hands out session handles
package auth

import (
	"fmt"
	"strings"
)

// Credentials is one of SecurityToken, ConnectedApp or ClientCredentials
type Credentials interface {
	mode() string
	loginHost() string
}

// SecurityToken logs in with username, password and the user's security token
type SecurityToken struct {
	Username string
	Password string
	Token    string
	Domain   string
}

// ConnectedApp logs in with username and password through a connected app
type ConnectedApp struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	Domain       string
}

// ClientCredentials logs in machine-to-machine against a My Domain host
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	Domain       string
}

func (SecurityToken) mode() string     { return ModeSecurityToken }
func (ConnectedApp) mode() string      { return ModeConnectedApp }
func (ClientCredentials) mode() string { return ModeClientCredentials }

func (c SecurityToken) loginHost() string     { return hostFor(c.Domain) }
func (c ConnectedApp) loginHost() string      { return hostFor(c.Domain) }
func (c ClientCredentials) loginHost() string { return hostFor(c.Domain) }

// hostFor maps a domain such as "login", "test" or "acme.my" to its base URL
func hostFor(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		domain = "login"
	}

	if strings.HasPrefix(domain, "https://") || strings.HasPrefix(domain, "http://") {
		return strings.TrimRight(domain, "/")
	}

	return fmt.Sprintf("https://%s.salesforce.com", strings.TrimSuffix(domain, ".salesforce.com"))
}

// Session is an authenticated session. It is immutable once issued.
type Session struct {
	token       string
	instanceURL string
}

// NewSession creates a session handle
func NewSession(token, instanceURL string) Session {
	return Session{token: token, instanceURL: strings.TrimRight(instanceURL, "/")}
}

// Token returns the session token
func (s Session) Token() string { return s.token }

// InstanceURL returns the base URL of the instance serving this session
func (s Session) InstanceURL() string { return s.instanceURL }

// Valid reports whether the session carries a token and an instance
func (s Session) Valid() bool { return s.token != "" && s.instanceURL != "" }
