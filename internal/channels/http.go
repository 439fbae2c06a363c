package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
)

const maxResponseBody = 64 << 10

// providerError keeps the response of a rejected provider call.
type providerError struct {
	Status int
	Body   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Status, e.Body)
}

// doRequest runs req through the breaker and returns the response body.
// Any non-2xx answer counts as a breaker failure.
func doRequest(ctx context.Context, cb *gobreaker.CircuitBreaker, client *http.Client, req *http.Request) ([]byte, error) {
	out, err := cb.Execute(func() (interface{}, error) {
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, fmt.Errorf("failed to read provider response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &providerError{Status: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}
