// Package fbclient is the FeatBit SDK for server-side Go applications. The
// entry point is MakeClient; see FBClient for the evaluation API.
package fbclient

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/featbit/go-server-sdk/insight"
	"github.com/featbit/go-server-sdk/interfaces"
)

const (
	streamingPath = "/streaming"
	eventsPath    = "/api/public/insight/track"

	userAgent = "fb-go-server-sdk"

	defaultStreamingFirstRetryDelay = time.Second
	maxStreamingFirstRetryDelay     = 60 * time.Second

	minEventsMaxInQueue = 10000

	defaultEventsFlushInterval = time.Second
	maxEventsFlushInterval     = 3 * time.Second

	defaultEventsRetryInterval = 100 * time.Millisecond
	maxEventsRetryInterval     = time.Second

	defaultEventsMaxRetries = 1
	maxEventsMaxRetries     = 3

	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 10 * time.Second

	defaultWebSocketTimeout = 5 * time.Second
	maxWebSocketTimeout     = 10 * time.Second
)

// HTTPConfig holds the HTTP transport options shared by the insight sender
// and the streaming handshake.
type HTTPConfig struct {
	// ConnectTimeout is the TCP connect timeout. Zero or negative means 5s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds a whole request/response exchange. Zero or negative
	// means 10s.
	ReadTimeout time.Duration

	// ProxyURL optionally routes all traffic through an HTTP proxy. When
	// empty, the standard environment proxy settings apply.
	ProxyURL string

	// CACertFile optionally adds a PEM CA bundle to the trusted roots.
	CACertFile string

	// ClientCertFile and ClientKeyFile optionally enable mutual TLS.
	ClientCertFile string
	ClientKeyFile  string

	// DisableSSLVerification skips server certificate checks. For test
	// environments only.
	DisableSSLVerification bool
}

// WebSocketConfig holds the options of the streaming connection.
type WebSocketConfig struct {
	// ConnectTimeout bounds the WebSocket handshake. Zero or negative means
	// 5s; values above 10s are clamped.
	ConnectTimeout time.Duration
}

// UpdateProcessorFactory builds a custom update processor in place of the
// default streaming one.
type UpdateProcessorFactory func(config Config, provider interfaces.DataUpdateStatusProvider) (interfaces.UpdateProcessor, error)

// EventProcessorFactory builds a custom event processor in place of the
// default one.
type EventProcessorFactory func(config Config, sender insight.Sender) (insight.EventProcessor, error)

// Config is the SDK configuration passed to MakeClient. EnvSecret, EventURL
// and StreamingURL are required unless Offline is set; everything else has a
// usable default.
type Config struct {
	// EnvSecret is the secret of your FeatBit environment. It must be ASCII.
	EnvSecret string

	// EventURL is the base URL events are posted to, e.g.
	// "http://localhost:5100". A trailing slash is ignored.
	EventURL string

	// StreamingURL is the base URL of the streaming channel, e.g.
	// "ws://localhost:5100". A trailing slash is ignored.
	StreamingURL string

	// StreamingFirstRetryDelay seeds the reconnect backoff. Zero or negative
	// means 1s; values above 60s are clamped.
	StreamingFirstRetryDelay time.Duration

	// EventsMaxInQueue is the capacity of the event inbox. Values below 10000
	// are raised to 10000.
	EventsMaxInQueue int

	// EventsFlushInterval is the period of the automatic event delivery. Zero
	// or negative means 1s; values above 3s are clamped.
	EventsFlushInterval time.Duration

	// EventsRetryInterval is the pause between delivery retries. Zero or
	// negative means 100ms; values above 1s are clamped.
	EventsRetryInterval time.Duration

	// EventsMaxRetries is how many times a failed delivery is retried. Zero
	// or negative means 1; values above 3 are clamped.
	EventsMaxRetries int

	// Offline disables all networking; evaluations use data loaded through
	// FBClient.InitializeFromExternalJson.
	Offline bool

	// DataStorage overrides the default in-memory storage.
	DataStorage interfaces.DataStorage

	// UpdateProcessorFactory overrides the default streaming processor.
	UpdateProcessorFactory UpdateProcessorFactory

	// EventProcessorFactory overrides the default event processor.
	EventProcessorFactory EventProcessorFactory

	// HTTP configures the HTTP transport.
	HTTP HTTPConfig

	// WebSocket configures the streaming connection.
	WebSocket WebSocketConfig

	// Loggers receives the SDK's log output. The zero value logs to stderr
	// at Info level.
	Loggers ldlog.Loggers

	// Defaults maps flag keys to fallback values that take precedence over
	// the per-call default when evaluation cannot produce a variation.
	Defaults map[string]ldvalue.Value
}

// normalize applies the documented defaults and clamps, returning a copy.
func (c Config) normalize() Config {
	c.EventURL = strings.TrimRight(c.EventURL, "/")
	c.StreamingURL = strings.TrimRight(c.StreamingURL, "/")
	c.StreamingFirstRetryDelay = clampDuration(c.StreamingFirstRetryDelay,
		defaultStreamingFirstRetryDelay, maxStreamingFirstRetryDelay)
	if c.EventsMaxInQueue < minEventsMaxInQueue {
		c.EventsMaxInQueue = minEventsMaxInQueue
	}
	c.EventsFlushInterval = clampDuration(c.EventsFlushInterval,
		defaultEventsFlushInterval, maxEventsFlushInterval)
	c.EventsRetryInterval = clampDuration(c.EventsRetryInterval,
		defaultEventsRetryInterval, maxEventsRetryInterval)
	if c.EventsMaxRetries <= 0 {
		c.EventsMaxRetries = defaultEventsMaxRetries
	} else if c.EventsMaxRetries > maxEventsMaxRetries {
		c.EventsMaxRetries = maxEventsMaxRetries
	}
	c.HTTP.ConnectTimeout = clampDuration(c.HTTP.ConnectTimeout, defaultConnectTimeout, 0)
	c.HTTP.ReadTimeout = clampDuration(c.HTTP.ReadTimeout, defaultReadTimeout, 0)
	c.WebSocket.ConnectTimeout = clampDuration(c.WebSocket.ConnectTimeout,
		defaultWebSocketTimeout, maxWebSocketTimeout)
	return c
}

func clampDuration(d, def, max time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// validate checks the parts of the configuration that have no usable default.
// Offline mode makes no network requests, so the secret and URLs are not
// required there.
func (c Config) validate() error {
	if c.Offline {
		return nil
	}
	if !isASCII(c.EnvSecret) {
		return errors.New("env secret is invalid")
	}
	if !isValidURL(c.StreamingURL) || !isValidURL(c.EventURL) {
		return errors.New("streaming or event url is invalid")
	}
	return nil
}

func isASCII(value string) bool {
	if value == "" {
		return false
	}
	for _, ch := range value {
		if ch > 127 {
			return false
		}
	}
	return true
}

func isValidURL(value string) bool {
	u, err := url.Parse(value)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func (c Config) eventsURI() string {
	return c.EventURL + eventsPath
}

func (c Config) streamingURI() string {
	return c.StreamingURL + streamingPath
}

// buildHeaders returns the headers sent on every request to the feature flag
// center.
func buildHeaders(envSecret string) http.Header {
	headers := http.Header{}
	headers.Set("Authorization", envSecret)
	headers.Set("User-Agent", userAgent)
	headers.Set("Content-Type", "application/json")
	return headers
}

// buildHTTPClient assembles the HTTP client used by the insight sender.
func buildHTTPClient(config HTTPConfig) (*http.Client, error) {
	tlsConfig, err := buildTLSConfig(config)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: config.ConnectTimeout,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		MaxIdleConnsPerHost: 10,
	}
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url is invalid: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{
		Transport: transport,
		Timeout:   config.ReadTimeout,
	}, nil
}

// buildWebSocketDialer assembles the dialer for the streaming connection,
// sharing the proxy and TLS settings of the HTTP transport.
func buildWebSocketDialer(ws WebSocketConfig, httpConfig HTTPConfig) (*websocket.Dialer, error) {
	tlsConfig, err := buildTLSConfig(httpConfig)
	if err != nil {
		return nil, err
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: ws.ConnectTimeout,
		TLSClientConfig:  tlsConfig,
	}
	if httpConfig.ProxyURL != "" {
		proxyURL, err := url.Parse(httpConfig.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url is invalid: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}
	return dialer, nil
}

func buildTLSConfig(config HTTPConfig) (*tls.Config, error) {
	if !config.DisableSSLVerification && config.CACertFile == "" && config.ClientCertFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		InsecureSkipVerify: config.DisableSSLVerification, //nolint:gosec // explicit opt-in
		MinVersion:         tls.VersionTLS12,
	}
	if config.CACertFile != "" {
		pem, err := os.ReadFile(config.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("cannot read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("cannot parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if config.ClientCertFile != "" {
		cert, err := tls.LoadX509KeyPair(config.ClientCertFile, config.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("cannot load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
