package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

const statusExcerptBytes = 256

// ErrResponseTooLarge reports a response body over the caller's limit.
var ErrResponseTooLarge = errors.New("response body too large")

// StatusError reports an unexpected upstream HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus exposes the status for retry classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// ReadBody reads at most limit bytes of resp.Body and closes it. A status
// other than 200 yields a *StatusError holding an excerpt of the body.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > statusExcerptBytes {
			data = data[:statusExcerptBytes]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, limit)
	}
	return data, nil
}
