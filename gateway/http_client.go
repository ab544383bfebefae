package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client wraps the HTTP plumbing shared by all adapters: form and XML
// posts with the merchant-configured timeout, and failure synthesis so
// transport errors surface as normalized responses.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client for a gateway config. Test environments
// skip TLS verification because several banks run their sandboxes with
// self-signed certificates.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.IsProduction(),
		},
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// PostForm sends payload as application/x-www-form-urlencoded and
// returns the raw response body.
func (c *Client) PostForm(ctx context.Context, endpoint string, payload map[string]string) ([]byte, error) {
	form := url.Values{}
	for key, value := range payload {
		form.Set(key, value)
	}
	return c.post(ctx, endpoint, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

// PostXML sends a raw XML document and returns the raw response body.
func (c *Client) PostXML(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	return c.post(ctx, endpoint, bytes.NewReader(body), "application/xml")
}

func (c *Client) post(ctx context.Context, endpoint string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, &httpStatusError{status: resp.StatusCode}
	}

	return respBody, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.status)
}

// TransportFailure maps a transport error to the normalized failure
// response. Timeouts get their own code so reconciliation can pick them
// up; everything else is a generic network failure.
func TransportFailure(err error) *Response {
	if IsTimeout(err) {
		return FailureResponse(CodeTimeout, "gateway request timed out")
	}
	return FailureResponse(CodeNetworkError, "gateway request failed: "+err.Error())
}

// IsTimeout reports whether err represents a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
