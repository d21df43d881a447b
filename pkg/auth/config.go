package auth

import (
	"errors"
	"time"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/retry"
)

// Login modes
const (
	ModeSecurityToken     = "securityToken"
	ModeConnectedApp      = "connectedApp"
	ModeClientCredentials = "clientCredentials"
)

// Static errors
var (
	ErrUnknownMode     = errors.New("unknown auth mode")
	ErrMissingUsername = errors.New("username is required")
	ErrMissingPassword = errors.New("password is required")
	ErrMissingClientID = errors.New("client id and client secret are required")
	ErrMissingDomain   = errors.New("domain is required for the client credentials flow")
)

// Config holds login settings. Only the fields of the selected mode are used.
type Config struct {
	Mode          string        `yaml:"mode" default:"securityToken"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	SecurityToken string        `yaml:"securityToken"`
	ClientID      string        `yaml:"clientId"`
	ClientSecret  string        `yaml:"clientSecret"`
	Domain        string        `yaml:"domain"`
	Sandbox       bool          `yaml:"sandbox"`
	LoginURL      string        `yaml:"loginUrl"`
	Timeout       time.Duration `yaml:"timeout" default:"30s"`
	Retry         retry.Policy  `yaml:"retry"`
}

// Validate checks that the selected mode has what it needs
func (c *Config) Validate() error {
	_, err := c.Credentials()
	if err != nil {
		return err
	}

	if err := c.Retry.Validate(); err != nil {
		return &failure.Error{Kind: failure.KindValidation, Op: "auth.retry", Err: err}
	}

	return nil
}

// Credentials resolves the configuration to exactly one credential variant
func (c *Config) Credentials() (Credentials, error) {
	domain := c.Domain
	if c.Sandbox && c.Mode != ModeClientCredentials {
		domain = "test"
	}

	switch c.Mode {
	case ModeSecurityToken:
		if err := c.requireUser(); err != nil {
			return nil, err
		}

		return SecurityToken{Username: c.Username, Password: c.Password, Token: c.SecurityToken, Domain: domain}, nil
	case ModeConnectedApp:
		if err := c.requireUser(); err != nil {
			return nil, err
		}

		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, invalid("auth.clientId", ErrMissingClientID)
		}

		return ConnectedApp{
			Username:     c.Username,
			Password:     c.Password,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Domain:       domain,
		}, nil
	case ModeClientCredentials:
		if c.ClientID == "" || c.ClientSecret == "" {
			return nil, invalid("auth.clientId", ErrMissingClientID)
		}

		if c.Domain == "" && c.LoginURL == "" {
			return nil, invalid("auth.domain", ErrMissingDomain)
		}

		return ClientCredentials{ClientID: c.ClientID, ClientSecret: c.ClientSecret, Domain: c.Domain}, nil
	default:
		return nil, invalid("auth.mode", ErrUnknownMode)
	}
}

func (c *Config) requireUser() error {
	if c.Username == "" {
		return invalid("auth.username", ErrMissingUsername)
	}

	if c.Password == "" {
		return invalid("auth.password", ErrMissingPassword)
	}

	return nil
}

func invalid(param string, err error) error {
	return &failure.Error{Kind: failure.KindValidation, Op: param, Err: err}
}
