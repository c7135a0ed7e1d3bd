package insight

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// Sender delivers a JSON payload to the feature flag center.
type Sender interface {
	// PostJSON posts the payload to the given URI and returns the response
	// body on success.
	PostJSON(uri string, payload []byte) ([]byte, error)

	// Close releases the sender's resources.
	Close()
}

// DefaultSender posts payloads over HTTP, retrying failed deliveries a fixed
// number of times with a pause in between. Only a 200 response counts as
// success.
type DefaultSender struct {
	name          string
	client        *http.Client
	headers       http.Header
	retryInterval time.Duration
	maxRetries    int
	loggers       ldlog.Loggers
}

// NewDefaultSender creates a sender. The headers are attached to every
// request; the client carries the timeout, proxy and TLS settings.
func NewDefaultSender(
	name string,
	client *http.Client,
	headers http.Header,
	retryInterval time.Duration,
	maxRetries int,
	loggers ldlog.Loggers,
) *DefaultSender {
	return &DefaultSender{
		name:          name,
		client:        client,
		headers:       headers,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		loggers:       loggers,
	}
}

func (s *DefaultSender) PostJSON(uri string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryInterval)
		}
		body, err := s.postOnce(uri, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		s.loggers.Errorf("%s sender: %s", s.name, err)
	}
	return nil, lastErr
}

func (s *DefaultSender) postOnce(uri string, payload []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, uri, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header = s.headers.Clone()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *DefaultSender) Close() {
	s.loggers.Debugf("%s sender is stopping", s.name)
	s.client.CloseIdleConnections()
}
