package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// readAll drains an upstream auth response body, surfacing non-2xx statuses
// as errors since broker callers only care about the extracted token.
func readAll(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("auth server returned status %d", resp.StatusCode)
	}
	return body, nil
}

func decodeJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
