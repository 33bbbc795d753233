package history

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/platformbuilds/alertcorr/internal/cache"
)

type stubCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newStubCache() *stubCache {
	return &stubCache{store: make(map[string][]byte)}
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.store[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return append([]byte(nil), value...), nil
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[key] = append([]byte(nil), value...)
	return nil
}

func (s *stubCache) SetNX(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.store[key]; exists {
		return false, nil
	}
	s.store[key] = append([]byte(nil), value...)
	return true, nil
}

func (s *stubCache) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}

func (s *stubCache) Close() error { return nil }

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

func TestStoreSignaturesNoEndpoint(t *testing.T) {
	s := NewHTTPStore("", "", time.Second, cache.NoopProvider{}, 0)
	err := s.StoreSignatures([]FailureSignature{{EntityKey: "checkout", Fingerprint: "fp-1", Count: 1}})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRecentSignaturesNoEndpoint(t *testing.T) {
	s := NewHTTPStore("", "", time.Second, cache.NoopProvider{}, time.Minute)
	sigs, err := s.RecentSignatures(context.Background(), "checkout", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sigs != nil {
		t.Fatalf("expected nil signatures without an endpoint, got %+v", sigs)
	}
}

func TestRecentSignaturesCachesResults(t *testing.T) {
	var hits int
	cacheStub := newStubCache()
	s := NewHTTPStore("https://history.test", "", time.Second, cacheStub, time.Minute)
	s.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		hits++
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		body := []byte(`{"data":{"Get":{"FailureSignature":[{"entityKey":"checkout","fingerprint":"fp-db-timeout","count":3,"lastSeenMs":5000}]}}}`)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Header:     make(http.Header),
		}, nil
	}))

	ctx := context.Background()
	first, err := s.RecentSignatures(ctx, "checkout", 5)
	if err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one upstream call, got %d", hits)
	}
	if len(first) != 1 || first[0].Count != 3 {
		t.Fatalf("unexpected signature payload: %+v", first)
	}

	second, err := s.RecentSignatures(ctx, "checkout", 5)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(second) != 1 || second[0].Fingerprint != "fp-db-timeout" {
		t.Fatalf("unexpected cached payload: %+v", second)
	}
}
