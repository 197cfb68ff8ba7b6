package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/cuemby/orchestra/pkg/metrics"
	"github.com/cuemby/orchestra/pkg/orcherr"
	"github.com/cuemby/orchestra/pkg/storage"
	"github.com/cuemby/orchestra/pkg/types"
)

// messageEntry is one row of the §6.6 "messages" table: a persisted
// topic subscription, distinct from the subscriber registration itself
// so a subscriber may (re-)subscribe to several topics independently.
// It is written with no TTL, so it stays until Unregister removes it.
type messageEntry struct {
	Topic string `json:"topic"`
	Token string `json:"token"`
}

// Request describes one broadcast: the body, query string, and headers
// to send to every subscriber of a topic, plus subscriber tokens to
// skip (e.g. the replica that originated the event).
type Request struct {
	Method  string
	JSON    json.RawMessage
	Query   map[string]string
	Headers map[string]string
	Skip    []string
}

// Result is one subscriber's delivery outcome.
type Result struct {
	Token string
	Err   error
}

// Service is the Notification service: a registry of subscriber base
// URLs (C.f. warren/pkg/events.Broker's subscriber map) plus a
// persisted topic-subscription table, broadcasting synchronously
// instead of Broker's async buffered channel — spec.md §6.4 requires
// the caller to observe per-subscriber delivery failure, which an
// in-process fire-and-forget channel cannot report.
type Service struct {
	subscribers storage.Store
	messages    storage.Store
	client      *http.Client
}

// New wraps a subscribers store (token -> Subscriber) and a messages
// store (subscription id -> messageEntry) as a notification Service.
// client's own Timeout, if set, bounds each delivery request; no
// environment variable configures it.
func New(subscribers, messages storage.Store, client *http.Client) *Service {
	return &Service{subscribers: subscribers, messages: messages, client: client}
}

// Register creates a new subscriber token bound to baseURL.
func (s *Service) Register(baseURL string) (types.Subscriber, error) {
	sub := types.Subscriber{Token: uuid.NewString(), BaseURL: baseURL}
	data, err := json.Marshal(sub)
	if err != nil {
		return types.Subscriber{}, fmt.Errorf("notify: marshal subscriber: %w", err)
	}
	if err := s.subscribers.Write(sub.Token, data, 0); err != nil {
		return types.Subscriber{}, orcherr.New(orcherr.BackendUnavailable, err)
	}
	return sub, nil
}

// Unregister removes a subscriber and every topic subscription it
// holds.
func (s *Service) Unregister(token string) error {
	if err := s.subscribers.Delete(token); err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	keys, err := s.messages.Keys()
	if err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	for _, id := range keys {
		entry, ok := s.readMessage(id)
		if ok && entry.Token == token {
			_ = s.messages.Delete(id)
		}
	}
	return nil
}

// Subscribe records that token wants to receive notify broadcasts on
// topic. token must already be registered.
func (s *Service) Subscribe(token, topic string) error {
	if _, err := s.getSubscriber(token); err != nil {
		return err
	}
	entry := messageEntry{Topic: topic, Token: token}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("notify: marshal subscription: %w", err)
	}
	return s.writeMessage(uuid.NewString(), data)
}

func (s *Service) writeMessage(id string, data []byte) error {
	if err := s.messages.Write(id, data, 0); err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	return nil
}

func (s *Service) readMessage(id string) (messageEntry, bool) {
	raw, err := s.messages.Read(id, false)
	if err != nil {
		return messageEntry{}, false
	}
	var entry messageEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return messageEntry{}, false
	}
	return entry, true
}

func (s *Service) getSubscriber(token string) (types.Subscriber, error) {
	raw, err := s.subscribers.Read(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return types.Subscriber{}, orcherr.New(orcherr.UnknownToken, err)
		}
		return types.Subscriber{}, orcherr.New(orcherr.BackendUnavailable, err)
	}
	var sub types.Subscriber
	if err := json.Unmarshal(raw, &sub); err != nil {
		return types.Subscriber{}, fmt.Errorf("notify: unmarshal subscriber: %w", err)
	}
	return sub, nil
}

// subscribersOf returns the de-duplicated set of tokens subscribed to
// topic.
func (s *Service) subscribersOf(topic string) ([]string, error) {
	keys, err := s.messages.Keys()
	if err != nil {
		return nil, orcherr.New(orcherr.BackendUnavailable, err)
	}
	seen := make(map[string]bool)
	var tokens []string
	for _, id := range keys {
		entry, ok := s.readMessage(id)
		if !ok || entry.Topic != topic || seen[entry.Token] {
			continue
		}
		seen[entry.Token] = true
		tokens = append(tokens, entry.Token)
	}
	return tokens, nil
}

// Notify broadcasts req to every subscriber of topic not listed in
// req.Skip. Delivery is synchronous and sequential; any subscriber
// whose request errors or returns a non-2xx status is unregistered
// (spec.md §6.4: "non-success responses revoke the failing
// subscription").
func (s *Service) Notify(ctx context.Context, topic string, req Request) ([]Result, error) {
	tokens, err := s.subscribersOf(topic)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(req.Skip))
	for _, t := range req.Skip {
		skip[t] = true
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	var results []Result
	for _, token := range tokens {
		if skip[token] {
			continue
		}
		sub, err := s.getSubscriber(token)
		if err != nil {
			continue // already unregistered independently
		}

		deliverErr := s.deliver(ctx, method, sub.BaseURL, req)
		outcome := "ok"
		if deliverErr != nil {
			outcome = "error"
			_ = s.Unregister(token)
		}
		metrics.NotificationsTotal.WithLabelValues(topic, outcome).Inc()
		results = append(results, Result{Token: token, Err: deliverErr})
	}
	return results, nil
}

func (s *Service) deliver(ctx context.Context, method, baseURL string, req Request) error {
	target, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("notify: invalid subscriber base URL: %w", err)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.JSON))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return orcherr.New(orcherr.BackendUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return orcherr.New(orcherr.BackendUnavailable, fmt.Errorf("subscriber returned status %d", resp.StatusCode))
	}
	return nil
}
