package overlay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPContentLoader fetches a rectangle's image over HTTP(S), the
// default content-loader transport named in spec §1's out-of-scope
// collaborators list (content-loader fetch mechanics themselves are
// ours to implement; the loader's HTTP client is not a session concern).
type HTTPContentLoader struct {
	Client *http.Client
}

// NewHTTPContentLoader returns a loader with a sane request timeout.
func NewHTTPContentLoader() HTTPContentLoader {
	return HTTPContentLoader{Client: &http.Client{Timeout: 10 * time.Second}}
}

// Load fetches rectURL and returns the response body.
func (l HTTPContentLoader) Load(ctx context.Context, rectURL string) ([]byte, error) {
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rectURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("overlay: content loader got status %d for %s", resp.StatusCode, rectURL)
	}
	return io.ReadAll(resp.Body)
}
