package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTPOptions configures an HTTPStore.
type HTTPOptions struct {
	// Username and Password enable basic auth when non-empty.
	Username string
	Password string

	// Timeout bounds a whole request. Zero means 5 minutes, sized for
	// large streamed bodies rather than quick API calls.
	Timeout time.Duration

	// Client overrides the underlying HTTP client (tests).
	Client *http.Client
}

// HTTPStore uploads by plain HTTP PUT, the protocol both artifact
// repositories in scope speak. Destinations are full URLs.
type HTTPStore struct {
	opts   HTTPOptions
	client *http.Client
}

// NewHTTPStore creates a store with the given options.
func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPStore{opts: opts, client: client}
}

// Put streams body to dest with a single PUT. 200 and 201 are success;
// everything else comes back as *StatusError.
func (s *HTTPStore) Put(ctx context.Context, dest string, body io.Reader, size int64, hdr http.Header) (*PutResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("put %s: %w", dest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return &PutResult{StatusCode: resp.StatusCode}, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// Stat HEADs dest and reports Content-Length plus the checksum header when
// the store echoes one.
func (s *HTTPStore) Stat(ctx context.Context, dest string) (*StatResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, dest, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", dest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	res := &StatResult{Size: -1, MD5: resp.Header.Get(HeaderChecksumMD5)}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse Content-Length %q: %w", cl, err)
		}
		res.Size = n
	}
	return res, nil
}
