package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	restPathPrefix        = "/rest/v1/"
	userPath              = "/auth/v1/user"
	realtimePath          = "/realtime/v1"
	defaultRequestTimeout = 15 * time.Second
	defaultReconnectBase  = 500 * time.Millisecond
	defaultReconnectCap   = 30 * time.Second
	maxErrorBodyBytes     = 4096
)

var errMissingBaseURL = errors.New("remote: base url is required")

// HTTPConfig configures the HTTP and websocket client for the hosted backend.
type HTTPConfig struct {
	BaseURL       string
	AccessToken   string
	HTTPClient    *http.Client
	Logger        *zap.Logger
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
}

// HTTPBackend talks to the hosted backend over REST with a websocket change feed.
type HTTPBackend struct {
	baseURL       *url.URL
	accessToken   string
	httpClient    *http.Client
	logger        *zap.Logger
	reconnectBase time.Duration
	reconnectCap  time.Duration

	mu       sync.Mutex
	channels map[*feedChannel]struct{}
}

// NewHTTPBackend validates the configuration and returns a client.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("remote: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reconnectBase := cfg.ReconnectBase
	if reconnectBase <= 0 {
		reconnectBase = defaultReconnectBase
	}
	reconnectCap := cfg.ReconnectCap
	if reconnectCap <= 0 {
		reconnectCap = defaultReconnectCap
	}
	return &HTTPBackend{
		baseURL:       baseURL,
		accessToken:   strings.TrimSpace(cfg.AccessToken),
		httpClient:    httpClient,
		logger:        logger,
		reconnectBase: reconnectBase,
		reconnectCap:  reconnectCap,
		channels:      make(map[*feedChannel]struct{}),
	}, nil
}

type userResponse struct {
	ID string `json:"id"`
}

// CurrentUser resolves the user id bound to the access token.
func (b *HTTPBackend) CurrentUser(ctx context.Context) (string, error) {
	var response userResponse
	if err := b.do(ctx, http.MethodGet, userPath, nil, nil, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.ID) == "" {
		return "", ErrUnauthorized
	}
	return response.ID, nil
}

// Upsert inserts or replaces a row.
func (b *HTTPBackend) Upsert(ctx context.Context, table string, row Row) error {
	return b.do(ctx, http.MethodPost, restPathPrefix+url.PathEscape(table), nil, row, nil)
}

// Delete removes every row matching the filter.
func (b *HTTPBackend) Delete(ctx context.Context, table string, filter Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	return b.do(ctx, http.MethodDelete, restPathPrefix+url.PathEscape(table), filterQuery(filter), nil, nil)
}

// Select returns the rows matching the filter.
func (b *HTTPBackend) Select(ctx context.Context, table string, filter Filter) ([]Row, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	var rows []Row
	if err := b.do(ctx, http.MethodGet, restPathPrefix+url.PathEscape(table), filterQuery(filter), nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func filterQuery(filter Filter) url.Values {
	return url.Values{filter.Column: []string{"eq." + filter.Value}}
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := b.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if b.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+b.accessToken)
	}

	response, err := b.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if err := statusError(response); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

func statusError(response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	detail := strings.TrimSpace(string(body))
	switch response.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidFilter, detail)
	default:
		return fmt.Errorf("remote: unexpected status %d: %s", response.StatusCode, detail)
	}
}

type feedChannel struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *feedChannel) Name() string {
	return c.name
}

func (c *feedChannel) Done() <-chan struct{} {
	return c.done
}

// Subscribe opens a change-feed channel. The connection is established in the background and
// re-established with capped exponential backoff until the channel is removed.
func (b *HTTPBackend) Subscribe(ctx context.Context, subscription Subscription, handler Handler) (Channel, error) {
	if strings.TrimSpace(subscription.Table) == "" {
		return nil, fmt.Errorf("remote: subscription table is required")
	}
	if err := subscription.Filter.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("remote: subscription handler is required")
	}

	channelCtx, cancel := context.WithCancel(ctx)
	channel := &feedChannel{
		name:   subscription.Channel,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.channels[channel] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(channel.done)
		b.runFeed(channelCtx, subscription, handler)
	}()
	return channel, nil
}

// RemoveChannel closes a channel opened by Subscribe and waits for its delivery goroutine.
func (b *HTTPBackend) RemoveChannel(channel Channel) error {
	feed, ok := channel.(*feedChannel)
	if !ok {
		return fmt.Errorf("%w: foreign channel", ErrChannelClosed)
	}
	b.mu.Lock()
	_, registered := b.channels[feed]
	delete(b.channels, feed)
	b.mu.Unlock()
	if !registered {
		return ErrChannelClosed
	}
	feed.cancel()
	<-feed.done
	return nil
}

func (b *HTTPBackend) runFeed(ctx context.Context, subscription Subscription, handler Handler) {
	logger := b.logger.With(zap.String("channel", subscription.Channel), zap.String("table", subscription.Table))
	for ctx.Err() == nil {
		conn, err := b.dialFeed(ctx, subscription)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("change feed stopped", zap.Error(err))
			}
			return
		}
		logger.Debug("change feed connected")
		readErr := readFeed(ctx, conn, handler)
		conn.CloseNow() //nolint:errcheck
		if ctx.Err() != nil {
			return
		}
		logger.Warn("change feed disconnected", zap.Error(readErr))
	}
}

func (b *HTTPBackend) dialFeed(ctx context.Context, subscription Subscription) (*websocket.Conn, error) {
	endpoint := b.baseURL.JoinPath(realtimePath)
	endpoint.RawQuery = url.Values{
		"table":  []string{subscription.Table},
		"filter": []string{subscription.Filter.String()},
	}.Encode()
	switch endpoint.Scheme {
	case "https":
		endpoint.Scheme = "wss"
	default:
		endpoint.Scheme = "ws"
	}

	header := http.Header{}
	if b.accessToken != "" {
		header.Set("Authorization", "Bearer "+b.accessToken)
	}

	backoff := retry.WithCappedDuration(b.reconnectCap, retry.NewExponential(b.reconnectBase))
	var conn *websocket.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialed, response, dialErr := websocket.Dial(ctx, endpoint.String(), &websocket.DialOptions{HTTPHeader: header})
		if dialErr != nil {
			if response != nil && (response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden) {
				return fmt.Errorf("%w: change feed status %d", ErrUnauthorized, response.StatusCode)
			}
			b.logger.Debug("change feed dial failed", zap.String("table", subscription.Table), zap.Error(dialErr))
			return retry.RetryableError(dialErr)
		}
		conn = dialed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func readFeed(ctx context.Context, conn *websocket.Conn, handler Handler) error {
	for {
		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			return err
		}
		handler(ctx, event)
	}
}
