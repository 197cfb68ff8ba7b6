package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"
)

// HTTPStore proxies Store operations to the Key-Value-Store middleware
// (spec.md §6.3: GET/POST/DELETE /db/{key}, POST /db, OPTIONS /db,
// GET /db?pop). Requests are retried with jittered backoff, grounded on
// the teacher worker's certificate-request retry shape
// (worker.requestCertificate), generalized from a one-shot mTLS dial to
// a reusable retry wrapper around any HTTP round trip.
type HTTPStore struct {
	baseURL       string
	client        *http.Client
	maxRetries    int
	retryInterval time.Duration
}

// NewHTTPStore creates a client for the KV-Store middleware at baseURL.
func NewHTTPStore(baseURL string, timeout time.Duration, maxRetries int, retryInterval time.Duration) *HTTPStore {
	return &HTTPStore{
		baseURL:       baseURL,
		client:        &http.Client{Timeout: timeout},
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}
}

type httpEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (s *HTTPStore) do(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(s.retryInterval)))
			time.Sleep(s.retryInterval/2 + jitter)
		}
		resp, err := s.client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("http store: request failed after %d retries: %w", s.maxRetries, lastErr)
}

func (s *HTTPStore) Write(key string, value []byte, ttl time.Duration) error {
	body, _ := json.Marshal(httpEntry{Key: key, Value: value})
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/db/"+url.PathEscape(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if ttl > 0 {
		q := req.URL.Query()
		q.Set("ttl", ttl.String())
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http store: write %s: status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) Read(key string, pop bool) ([]byte, error) {
	target := s.baseURL + "/db/" + url.PathEscape(key)
	if pop {
		target += "?pop=true"
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http store: read %s: status %d", key, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *HTTPStore) Delete(key string) error {
	req, err := http.NewRequest(http.MethodDelete, s.baseURL+"/db/"+url.PathEscape(key), nil)
	if err != nil {
		return err
	}
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("http store: delete %s: status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) Keys() ([]string, error) {
	req, err := http.NewRequest(http.MethodOptions, s.baseURL+"/db", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http store: keys: status %d", resp.StatusCode)
	}
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *HTTPStore) Next(pop bool) (Entry, error) {
	target := s.baseURL + "/db?next=true"
	if pop {
		target += "&pop=true"
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return Entry{}, err
	}
	resp, err := s.do(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Entry{}, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return Entry{}, fmt.Errorf("http store: next: status %d", resp.StatusCode)
	}
	var e httpEntry
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		return Entry{}, err
	}
	return Entry{Key: e.Key, Value: e.Value}, nil
}

// CompareAndSwap is not exercised by this module's lease path (Queue
// only ever wraps MemoryStore or SQLStore, per cmd/orchestra/setup.go),
// since the KV-Store middleware's wire contract (spec.md §6.3) exposes
// no compare-and-swap verb. It degrades to a best-effort read-then-write
// against the existing GET/POST routes: correct against a single
// in-process caller, not linearizable against a second remote writer.
func (s *HTTPStore) CompareAndSwap(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	current, err := s.Read(key, false)
	if err != nil && err != ErrNotFound {
		return false, err
	}
	if !bytes.Equal(current, oldValue) {
		return false, nil
	}
	if err := s.Write(key, newValue, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
