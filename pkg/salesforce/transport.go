package salesforce

import (
	"net"
	"net/http"
)

// NewHTTPClient builds the one HTTP client used for a run. When a proxy is
// configured every request goes through it; the process environment is not
// consulted. There is no overall timeout because result streams can be
// large; only dialing and waiting for response headers are bounded.
func NewHTTPClient(cfg *Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout: cfg.DialTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   8,
		ForceAttemptHTTP2:     true,
	}

	if cfg.Proxy != "" {
		u, err := ProxyURL(cfg.Proxy)
		if err != nil {
			return nil, invalid("salesforce.proxy", err)
		}

		transport.Proxy = http.ProxyURL(u)
	}

	return &http.Client{Transport: transport}, nil
}
