package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"market-data-coordinator/internal/model"
)

// HTTPSink POSTs one bar per request to an HTTP endpoint. Retries belong
// to the coordinator's RetryPolicy, not the sink, so unlike the sink this
// was grounded on, HTTPSink itself makes a single attempt per Write and
// returns a non-2xx response or request error to the caller, whose
// RetryPolicy classifies it. Both are wrapped with %v, so a classifier
// sees only the message text; a non-2xx status error matches none of the
// default classifier's transient substrings.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a new HTTP sink.
func NewHTTPSink(url string) (*HTTPSink, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: URL required for HTTP sink", ErrOpenSink)
	}
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Write sends bar to the HTTP endpoint in a single POST request.
func (hs *HTTPSink) Write(bar model.Bar) error {
	data, err := json.Marshal(bar)
	if err != nil {
		return fmt.Errorf("%w: marshal error: %v", ErrWriteSink, err)
	}

	req, err := http.NewRequest(http.MethodPost, hs.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrWriteSink, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hs.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http request failed: %v", ErrWriteSink, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: http error status %d", ErrWriteSink, resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (hs *HTTPSink) Close() error {
	hs.client.CloseIdleConnections()
	return nil
}
