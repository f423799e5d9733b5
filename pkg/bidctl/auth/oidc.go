package auth

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/telekom/bidctl/pkg/version"
)

const (
	GrantTypeDeviceCode   = "urn:ietf:params:oauth:grant-type:device_code"
	GrantTypeRefreshToken = "refresh_token"

	defaultHTTPTimeout = 30 * time.Second
)

// OIDCClient is the SSO-OIDC wire protocol used by the login flow.
type OIDCClient interface {
	RegisterClient(ctx context.Context, in *RegisterClientInput) (*RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, in *StartDeviceAuthorizationInput) (*StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, in *CreateTokenInput) (*CreateTokenOutput, error)
}

type RegisterClientInput struct {
	ClientName string   `json:"clientName"`
	ClientType string   `json:"clientType"`
	Scopes     []string `json:"scopes,omitempty"`
}

type RegisterClientOutput struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret"`
	ClientIDIssuedAt      int64  `json:"clientIdIssuedAt,omitempty"`
	ClientSecretExpiresAt int64  `json:"clientSecretExpiresAt"`
}

type StartDeviceAuthorizationInput struct {
	ClientID            string `json:"clientId"`
	ClientSecret        string `json:"clientSecret"`
	StartURL            string `json:"startUrl"`
	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`
}

type StartDeviceAuthorizationOutput struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete,omitempty"`
	ExpiresIn               int    `json:"expiresIn"`
	Interval                int    `json:"interval,omitempty"`
}

type CreateTokenInput struct {
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	GrantType    string   `json:"grantType"`
	DeviceCode   string   `json:"deviceCode,omitempty"`
	CodeVerifier string   `json:"codeVerifier,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	Scopes       []string `json:"scope,omitempty"`
}

type CreateTokenOutput struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Endpoints are the absolute URLs of the three SSO-OIDC operations.
type Endpoints struct {
	Registration        string
	DeviceAuthorization string
	Token               string
}

// SSOOIDCConfig selects the endpoint and transport of an SSOOIDCClient.
// Issuer takes precedence over BaseURL; BaseURL over Region.
type SSOOIDCConfig struct {
	Region          string
	BaseURL         string
	Issuer          string
	CAFile          string
	InsecureSkipTLS bool
	HTTPClient      *http.Client
}

// SSOOIDCClient speaks the JSON dialect of the AWS SSO-OIDC service.
type SSOOIDCClient struct {
	httpClient *http.Client
	endpoints  Endpoints
}

var _ OIDCClient = (*SSOOIDCClient)(nil)

// OIDCBaseURL returns the SSO-OIDC endpoint for region.
func OIDCBaseURL(region string) string {
	return fmt.Sprintf("https://oidc.%s.amazonaws.com", region)
}

func NewSSOOIDCClient(ctx context.Context, cfg SSOOIDCConfig) (*SSOOIDCClient, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Issuer != "" {
		endpoints, err := discoverEndpoints(ctx, httpClient, cfg.Issuer)
		if err != nil {
			return nil, err
		}
		return &SSOOIDCClient{httpClient: httpClient, endpoints: *endpoints}, nil
	}

	base := cfg.BaseURL
	if base == "" {
		if cfg.Region == "" {
			return nil, errors.New("region, base url or issuer is required")
		}
		base = OIDCBaseURL(cfg.Region)
	}
	base = strings.TrimRight(base, "/")
	return &SSOOIDCClient{
		httpClient: httpClient,
		endpoints: Endpoints{
			Registration:        base + "/client/register",
			DeviceAuthorization: base + "/device_authorization",
			Token:               base + "/token",
		},
	}, nil
}

func (c *SSOOIDCClient) Endpoints() Endpoints {
	return c.endpoints
}

func (c *SSOOIDCClient) RegisterClient(ctx context.Context, in *RegisterClientInput) (*RegisterClientOutput, error) {
	var out RegisterClientOutput
	if err := c.post(ctx, c.endpoints.Registration, in, &out); err != nil {
		return nil, err
	}
	if out.ClientID == "" {
		return nil, errors.New("registration response is missing clientId")
	}
	return &out, nil
}

func (c *SSOOIDCClient) StartDeviceAuthorization(ctx context.Context, in *StartDeviceAuthorizationInput) (*StartDeviceAuthorizationOutput, error) {
	var out StartDeviceAuthorizationOutput
	if err := c.post(ctx, c.endpoints.DeviceAuthorization, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SSOOIDCClient) CreateToken(ctx context.Context, in *CreateTokenInput) (*CreateTokenOutput, error) {
	var out CreateTokenOutput
	if err := c.post(ctx, c.endpoints.Token, in, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, errors.New("token response is missing accessToken")
	}
	return &out, nil
}

type oidcErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *SSOOIDCClient) post(ctx context.Context, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var e oidcErrorBody
		if jsonErr := json.Unmarshal(body, &e); jsonErr != nil || e.Error == "" {
			return &OIDCError{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Description: strings.TrimSpace(string(body))}
		}
		return &OIDCError{StatusCode: resp.StatusCode, Code: e.Error, Description: e.ErrorDescription}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type discoveryClaims struct {
	RegistrationEndpoint        string `json:"registration_endpoint"`
	DeviceAuthorizationEndpoint string `json:"device_authorization_endpoint"`
}

func discoverEndpoints(ctx context.Context, httpClient *http.Client, issuer string) (*Endpoints, error) {
	ctx = oidc.ClientContext(ctx, httpClient)
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	var claims discoveryClaims
	if err := provider.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	endpoints := &Endpoints{
		Registration:        claims.RegistrationEndpoint,
		DeviceAuthorization: claims.DeviceAuthorizationEndpoint,
		Token:               provider.Endpoint().TokenURL,
	}
	if endpoints.DeviceAuthorization == "" {
		return nil, errors.New("device authorization endpoint not advertised")
	}
	if endpoints.Registration == "" {
		return nil, errors.New("registration endpoint not advertised")
	}
	if endpoints.Token == "" {
		return nil, errors.New("token endpoint not advertised")
	}
	return endpoints, nil
}

func newHTTPClient(caFile string, insecure bool) (*http.Client, error) {
	transport, err := buildTransport(caFile, insecure)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: defaultHTTPTimeout}, nil
}

func buildTransport(caFile string, insecure bool) (http.RoundTripper, error) {
	tlsConfig, err := loadTLSConfig(caFile, insecure)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	if caFile == "" && !insecure {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	certPool, err := loadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in via insecure-skip-tls-verify
		RootCAs:            certPool,
	}, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	return pool, nil
}
