package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"krakenBot/internal/ports"
)

const (
	// Base URL
	baseURLProduction = "https://api.kraken.com"

	publicPrefix  = "/0/public/"
	privatePrefix = "/0/private/"

	defaultRequestTimeout = 10 * time.Second
	defaultMaxRetries     = 3
	defaultRetryMinDelay  = 250 * time.Millisecond
	defaultRetryMaxDelay  = 4 * time.Second

	maxResponseBytes = 8 << 20
	userAgent        = "krakenBot/1.0"

	codeMalformed = "EMalformed"
)

// Client implements ports.ExchangeGateway over the Kraken REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer // nil when the client is public-only
	nonces     *NonceSource
	nonceStore ports.NonceStore
	logger     ports.Logger
	clock      func() time.Time

	requestTimeout time.Duration
	maxRetries     int
	retryMinDelay  time.Duration
	retryMaxDelay  time.Duration
}

// Config holds configuration specific to the Kraken gateway.
type Config struct {
	APIKey         string
	APISecret      string // Base64 encoded
	BaseURL        string // Defaults to the production API
	RequestTimeout time.Duration
	MaxRetries     int // Retries after the first attempt on transport failure
	RetryMinDelay  time.Duration
	RetryMaxDelay  time.Duration
	Logger         ports.Logger
	NonceStore     ports.NonceStore // Optional; persists the nonce floor across restarts
	HTTPClient     *http.Client
	Clock          func() time.Time
}

// New creates a Kraken gateway. Empty credentials produce a public-only client;
// malformed credentials are a ConfigurationError.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, ports.NewConfigurationError("kraken.New", errors.New("logger is required for Kraken client"))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     cfg.HTTPClient,
		nonces:         NewNonceSource(clock),
		nonceStore:     cfg.NonceStore,
		logger:         cfg.Logger,
		clock:          clock,
		requestTimeout: cfg.RequestTimeout,
		maxRetries:     cfg.MaxRetries,
		retryMinDelay:  cfg.RetryMinDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}
	if c.baseURL == "" {
		c.baseURL = baseURLProduction
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if cfg.MaxRetries == 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryMinDelay <= 0 {
		c.retryMinDelay = defaultRetryMinDelay
	}
	if c.retryMaxDelay < c.retryMinDelay {
		c.retryMaxDelay = defaultRetryMaxDelay
	}

	if cfg.APIKey == "" && cfg.APISecret == "" {
		cfg.Logger.Warn(context.Background(), "APIKey and APISecret are empty. Client will only work for public endpoints.")
		return c, nil
	}

	signer, err := NewSigner(cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, err
	}
	c.signer = signer

	if c.nonceStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		defer cancel()
		floor, err := c.nonceStore.LoadNonce(ctx, signer.KeyID())
		if err != nil {
			return nil, ports.NewConfigurationError("kraken.New", fmt.Errorf("loading nonce floor: %w", err))
		}
		c.nonces.Raise(floor)
		cfg.Logger.Info(context.Background(), "Nonce floor restored", map[string]interface{}{"floor": floor})
	}

	cfg.Logger.Info(context.Background(), "Kraken client configured", map[string]interface{}{"baseURL": c.baseURL, "maxRetries": c.maxRetries})
	return c, nil
}

// envelope is the response wrapper shared by every API method.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// authErrorPrefixes are rejections of the signature, key or nonce. They are
// fatal: replaying a request with a bad nonce only burns more nonces.
var authErrorPrefixes = []string{
	"EAPI:Invalid key",
	"EAPI:Invalid signature",
	"EAPI:Invalid nonce",
	"EGeneral:Permission denied",
}

// classifyErrors turns a non-empty envelope error list into a typed error.
func classifyErrors(op string, messages []string) error {
	code := messages[0]
	if i := strings.IndexByte(code, ':'); i > 0 {
		code = code[:i]
	}
	for _, m := range messages {
		for _, prefix := range authErrorPrefixes {
			if strings.HasPrefix(m, prefix) {
				return ports.NewAuthError(op, code, messages...)
			}
		}
	}
	return ports.NewExchangeError(op, code, messages...)
}

func hasMessagePrefix(err error, prefix string) bool {
	var e *ports.Error
	if !errors.As(err, &e) {
		return false
	}
	for _, m := range e.Messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// call executes an API method, retrying transport failures with exponential
// backoff. Every attempt of a private call is signed with a fresh nonce.
func (c *Client) call(ctx context.Context, op string, private bool, method string, params url.Values, result interface{}) error {
	if private && c.signer == nil {
		return ports.NewConfigurationError(op, errors.New("API credentials are required for private endpoints"))
	}

	b := &backoff.Backoff{Min: c.retryMinDelay, Max: c.retryMaxDelay, Factor: 2, Jitter: true}
	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, op, private, method, params, result)
		if err == nil {
			return nil
		}
		if !ports.IsRetryable(err) || attempt >= c.maxRetries || ctx.Err() != nil {
			return err
		}

		delay := b.Duration()
		c.logger.Warn(ctx, op+": transport failure, retrying", map[string]interface{}{"attempt": attempt + 1, "delay": delay.String(), "error": err.Error()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ports.NewTransportError(op, ctx.Err())
		}
	}
}

func (c *Client) attempt(ctx context.Context, op string, private bool, method string, params url.Values, result interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var req *http.Request
	var err error
	if private {
		path := privatePrefix + method
		form := url.Values{}
		for k, v := range params {
			form[k] = v
		}
		nonce := c.nextNonce(ctx)
		form.Set("nonce", strconv.FormatInt(nonce, 10))
		body := form.Encode()

		req, err = http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
		if err != nil {
			return ports.NewValidationError(op, "building request: %v", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
		req.Header.Set("API-Key", c.signer.APIKey())
		req.Header.Set("API-Sign", c.signer.Sign(path, body, nonce))
	} else {
		u := c.baseURL + publicPrefix + method
		if len(params) > 0 {
			u += "?" + params.Encode()
		}
		req, err = http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
		if err != nil {
			return ports.NewValidationError(op, "building request: %v", err)
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ports.NewTransportError(op, fmt.Errorf("reading response: %w", err))
	}
	return decodeEnvelope(op, resp.StatusCode, raw, result)
}

// decodeEnvelope applies the envelope rules: a non-empty error list fails the
// call whatever the HTTP status; an unreadable body is transient only for 5xx/429.
func decodeEnvelope(op string, status int, raw []byte, result interface{}) error {
	transientStatus := status >= http.StatusInternalServerError || status == http.StatusTooManyRequests

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if transientStatus {
			return ports.NewTransportError(op, fmt.Errorf("HTTP %d with unreadable body: %w", status, err))
		}
		return ports.NewExchangeError(op, codeMalformed, fmt.Sprintf("HTTP %d: malformed response: %v", status, err))
	}
	if len(env.Error) > 0 {
		return classifyErrors(op, env.Error)
	}
	if status < 200 || status >= 300 {
		if transientStatus {
			return ports.NewTransportError(op, fmt.Errorf("HTTP %d", status))
		}
		return ports.NewExchangeError(op, codeMalformed, fmt.Sprintf("HTTP %d without error details", status))
	}
	if result == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return ports.NewExchangeError(op, codeMalformed, "response has no result")
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return ports.NewExchangeError(op, codeMalformed, fmt.Sprintf("decoding result: %v", err))
	}
	return nil
}

func (c *Client) nextNonce(ctx context.Context) int64 {
	nonce := c.nonces.Next()
	if c.nonceStore != nil {
		if err := c.nonceStore.StoreNonce(ctx, c.signer.KeyID(), nonce); err != nil {
			c.logger.Warn(ctx, "Failed to persist nonce floor", map[string]interface{}{"nonce": nonce, "error": err.Error()})
		}
	}
	return nonce
}

// LastNonce returns the most recently issued nonce.
func (c *Client) LastNonce() int64 {
	return c.nonces.Last()
}

// Close wipes the credentials held by the client.
func (c *Client) Close() {
	c.signer.Wipe()
}
