package httpclient

import (
	"net"
	"net/http"
	"time"

	"chatgem/internal/logging"
)

// New builds an HTTP client with bounded dial, TLS and overall timeouts.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingRoundTripper{base: transport, logger: logging.OrNop(logger)},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	logger := logging.FromContext(req.Context(), t.logger)
	if err != nil {
		logger.Warn("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), time.Since(started), err)
		return nil, err
	}
	logger.Debug("%s %s -> %d in %v", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(started))
	return resp, nil
}
