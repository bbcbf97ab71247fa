package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
	"github.com/MoonshotLab/carmen/internal/integrations/paramstore"
)

const defaultBaseURL = "https://api.twilio.com"

// messageResponse is the minimal response shape of the Messages resource.
type messageResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// apiError is the error body Twilio returns on non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Code       int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: unexpected status %d (code %d) from %s: %s", e.StatusCode, e.Code, e.URL, e.Body)
	}
	return fmt.Sprintf("twilio: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends SMS and MMS messages through the Twilio REST API.
type Client struct {
	accountSID string
	from       string
	baseURL    string
	httpClient *http.Client

	authToken  string
	getter     paramstore.Getter
	tokenParam string

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

// WithAuthToken sets the auth token directly.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithParamStore reads the auth token from a {"token":"..."} parameter on
// first use. An explicit WithAuthToken wins.
func WithParamStore(getter paramstore.Getter, name string) Option {
	return func(c *Client) {
		c.getter = getter
		c.tokenParam = strings.TrimSpace(name)
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client that sends from the given number.
func NewClient(accountSID, from string, opts ...Option) (*Client, error) {
	accountSID = strings.TrimSpace(accountSID)
	if accountSID == "" {
		return nil, errors.New("twilio: account SID must not be empty")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("twilio: from number must not be empty")
	}
	c := &Client{
		accountSID: accountSID,
		from:       from,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.authToken == "" && (c.getter == nil || c.tokenParam == "") {
		return nil, errors.New("twilio: an auth token or a parameter store source is required")
	}
	return c, nil
}

// resolveAuthToken returns the configured token, fetching it from the
// parameter store once per process lifetime.
func (c *Client) resolveAuthToken(ctx context.Context) (string, error) {
	if c.authToken != "" {
		return c.authToken, nil
	}
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = paramstore.Token(ctx, c.getter, c.tokenParam)
		if c.tokenErr != nil {
			c.tokenErr = fmt.Errorf("twilio: resolve auth token: %w", c.tokenErr)
		}
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func messagesURL(baseURL, accountSID string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/2010-04-01/Accounts/" + url.PathEscape(accountSID) + "/Messages.json"
}

// Send delivers one reply. Replies with a MediaURL go out as MMS.
func (c *Client) Send(ctx context.Context, reply domain.Reply) error {
	if strings.TrimSpace(reply.To) == "" {
		return errors.New("twilio: recipient must not be empty")
	}
	if reply.Text == "" && reply.MediaURL == "" {
		return errors.New("twilio: reply has neither text nor media")
	}

	token, err := c.resolveAuthToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("To", reply.To)
	form.Set("From", c.from)
	if reply.Text != "" {
		form.Set("Body", reply.Text)
	}
	if reply.MediaURL != "" {
		form.Set("MediaUrl", reply.MediaURL)
	}

	endpoint := messagesURL(c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, token)

	raw, err := c.do(req, endpoint)
	if err != nil {
		return fmt.Errorf("twilio: send failed: %w", err)
	}

	var payload messageResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("twilio: decode response: %w", err)
	}
	slog.Debug("message queued", "sid", payload.SID, "status", payload.Status, "media", reply.MediaURL != "")
	return nil
}

func (c *Client) do(req *http.Request, endpoint string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
		var apiErr apiError
		if json.Unmarshal(buf, &apiErr) == nil && apiErr.Code != 0 {
			statusErr.Code = apiErr.Code
			statusErr.Body = apiErr.Message
		}
		return nil, statusErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// ValidateSignature checks an X-Twilio-Signature header against the full
// webhook URL and the POSTed form parameters.
func (c *Client) ValidateSignature(ctx context.Context, webhookURL string, params url.Values, signature string) (bool, error) {
	token, err := c.resolveAuthToken(ctx)
	if err != nil {
		return false, err
	}
	if signature == "" {
		return false, nil
	}
	expected := Signature(token, webhookURL, params)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// Signature computes the request signature: the URL followed by every
// parameter name and value in name order, HMAC-SHA1 keyed by the auth token,
// base64 encoded.
func Signature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
