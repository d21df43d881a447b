package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethpandaops/sfbulk/pkg/failure"
	"github.com/ethpandaops/sfbulk/pkg/retry"
	"github.com/sirupsen/logrus"
)

const (
	opLogin = "auth.login"

	rejectedMessage = "Authentication Failed: recheck your username, password, and security token"
	maxErrorBody    = 4096
)

// ErrNoSession is returned when a login response carries no usable session
var ErrNoSession = errors.New("login response did not contain a session")

// Provider exchanges credentials for a session
type Provider struct {
	log        logrus.FieldLogger
	creds      Credentials
	baseURL    string
	apiVersion string
	httpClient *http.Client
	policy     retry.Policy
}

// NewProvider creates a provider for the configured credentials. httpClient
// carries the run's proxy and timeout settings.
func NewProvider(log logrus.FieldLogger, cfg *Config, apiVersion string, httpClient *http.Client) (*Provider, error) {
	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}

	baseURL := creds.loginHost()
	if cfg.LoginURL != "" {
		baseURL = strings.TrimRight(cfg.LoginURL, "/")
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Provider{
		log:        log.WithField("component", "auth"),
		creds:      creds,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		policy:     cfg.Retry,
	}, nil
}

// Login authenticates, retrying transient failures. Rejected credentials
// fail with failure.KindAuth and are never retried.
func (p *Provider) Login(ctx context.Context) (Session, error) {
	var session Session

	err := retry.Do(ctx, p.policy, opLogin, func(ctx context.Context) error {
		s, err := p.login(ctx)
		if err != nil {
			return err
		}

		session = s

		return nil
	}, func(attempt int, err error) {
		p.log.WithError(err).WithField("attempt", attempt).Warn("Login failed, retrying")
	})
	if err != nil {
		return Session{}, err
	}

	p.log.WithFields(logrus.Fields{
		"mode":     p.creds.mode(),
		"instance": session.InstanceURL(),
	}).Info("Logged in")

	return session, nil
}

func (p *Provider) login(ctx context.Context) (Session, error) {
	switch c := p.creds.(type) {
	case SecurityToken:
		return p.soapLogin(ctx, c)
	case ConnectedApp:
		return p.oauthLogin(ctx, url.Values{
			"grant_type":    {"password"},
			"client_id":     {c.ClientID},
			"client_secret": {c.ClientSecret},
			"username":      {c.Username},
			"password":      {c.Password},
		})
	case ClientCredentials:
		return p.oauthLogin(ctx, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {c.ClientID},
			"client_secret": {c.ClientSecret},
		})
	default:
		return Session{}, failure.New(failure.KindInternal, opLogin, fmt.Sprintf("unsupported credentials %T", c))
	}
}

type soapEnvelope struct {
	Body struct {
		LoginResponse struct {
			Result struct {
				ServerURL       string `xml:"serverUrl"`
				SessionID       string `xml:"sessionId"`
				PasswordExpired bool   `xml:"passwordExpired"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

const soapLoginTemplate = `<?xml version="1.0" encoding="utf-8" ?>
<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema"
    xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
    xmlns:env="http://schemas.xmlsoap.org/soap/envelope/"
    xmlns:urn="urn:partner.soap.sforce.com">
  <env:Body>
    <n1:login xmlns:n1="urn:partner.soap.sforce.com">
      <n1:username>%s</n1:username>
      <n1:password>%s</n1:password>
    </n1:login>
  </env:Body>
</env:Envelope>`

func (p *Provider) soapLogin(ctx context.Context, c SecurityToken) (Session, error) {
	body := fmt.Sprintf(soapLoginTemplate, escape(c.Username), escape(c.Password+c.Token))
	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", p.baseURL, p.apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return Session{}, failure.Wrap(failure.KindInternal, opLogin, err)
	}

	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	status, payload, err := p.send(req)
	if err != nil {
		return Session{}, err
	}

	var env soapEnvelope
	if xerr := xml.Unmarshal(payload, &env); xerr != nil {
		if status >= http.StatusInternalServerError {
			return Session{}, transient(status, payload)
		}

		return Session{}, failure.Wrap(failure.KindInternal, opLogin, fmt.Errorf("failed to decode login response: %w", xerr))
	}

	// SOAP faults arrive as HTTP 500
	if f := env.Body.Fault; f != nil {
		code := f.Code
		if i := strings.LastIndex(code, ":"); i >= 0 {
			code = code[i+1:]
		}

		kind := failure.KindAuth
		if code == "SERVER_UNAVAILABLE" || code == "REQUEST_LIMIT_EXCEEDED" {
			kind = failure.KindTransient
		}

		return Session{}, &failure.Error{Kind: kind, Op: opLogin, Code: code, Message: rejectedMessage, Err: errors.New(f.String)}
	}

	if status >= http.StatusBadRequest {
		return Session{}, classifyStatus(status, payload)
	}

	result := env.Body.LoginResponse.Result
	if result.PasswordExpired {
		return Session{}, &failure.Error{Kind: failure.KindAuth, Op: opLogin, Message: "password has expired, reset it before logging in"}
	}

	instance, err := instanceFromServerURL(result.ServerURL)
	if err != nil || result.SessionID == "" {
		return Session{}, failure.Wrap(failure.KindInternal, opLogin, ErrNoSession)
	}

	return NewSession(result.SessionID, instance), nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	InstanceURL      string `json:"instance_url"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (p *Provider) oauthLogin(ctx context.Context, form url.Values) (Session, error) {
	endpoint := p.baseURL + "/services/oauth2/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, failure.Wrap(failure.KindInternal, opLogin, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	status, payload, err := p.send(req)
	if err != nil {
		return Session{}, err
	}

	var tr tokenResponse
	_ = json.Unmarshal(payload, &tr)

	if status >= http.StatusBadRequest {
		if tr.Error != "" && status < http.StatusInternalServerError {
			return Session{}, &failure.Error{
				Kind:    failure.KindAuth,
				Op:      opLogin,
				Code:    tr.Error,
				Message: rejectedMessage,
				Err:     errors.New(tr.ErrorDescription),
			}
		}

		return Session{}, classifyStatus(status, payload)
	}

	if tr.AccessToken == "" || tr.InstanceURL == "" {
		return Session{}, failure.Wrap(failure.KindInternal, opLogin, ErrNoSession)
	}

	return NewSession(tr.AccessToken, tr.InstanceURL), nil
}

// send performs one request and returns status and body. Only transport
// failures are returned as errors.
func (p *Provider) send(req *http.Request) (int, []byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}

		return 0, nil, failure.Wrap(failure.KindTransient, opLogin, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, failure.Wrap(failure.KindTransient, opLogin, err)
	}

	return resp.StatusCode, payload, nil
}

func classifyStatus(status int, payload []byte) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return transient(status, payload)
	}

	return &failure.Error{
		Kind:    failure.KindAuth,
		Op:      opLogin,
		Code:    http.StatusText(status),
		Message: rejectedMessage,
		Err:     errors.New(truncate(payload)),
	}
}

func transient(status int, payload []byte) error {
	return &failure.Error{
		Kind:    failure.KindTransient,
		Op:      opLogin,
		Message: fmt.Sprintf("login endpoint returned %d", status),
		Err:     errors.New(truncate(payload)),
	}
}

func instanceFromServerURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}

	if u.Scheme == "" || u.Host == "" {
		return "", ErrNoSession
	}

	return u.Scheme + "://" + u.Host, nil
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))

	return buf.String()
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}

	return strings.TrimSpace(string(b))
}
