package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platformbuilds/alertcorr/internal/cache"
)

// Store abstracts persistence for mined failure signatures.
type Store interface {
	StoreSignatures(signatures []FailureSignature) error
}

// SignatureLookup is implemented by stores that can answer "what has
// recurred against this entity before", fronted by a cache so repeated
// lookups for a hot entity don't round-trip to the object store every time.
type SignatureLookup interface {
	RecentSignatures(ctx context.Context, entityKey string, limit int) ([]FailureSignature, error)
}

// NoopStore discards every signature; it is the default when no history
// endpoint is configured.
type NoopStore struct{}

// StoreSignatures implements Store by doing nothing.
func (NoopStore) StoreSignatures([]FailureSignature) error { return nil }

// HTTPStore persists failure signatures to an HTTP object store such as
// Weaviate, one object per signature, and fronts RecentSignatures reads with
// a Provider cache so repeated lookups for an entity looked up recently don't
// hit the object store every time.
type HTTPStore struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	lookupTTL  time.Duration
}

// NewHTTPStore constructs an HTTPStore. An empty endpoint yields a store
// whose StoreSignatures is a no-op, so callers never need to branch on
// configuration. A nil cacheProvider disables the RecentSignatures cache
// front without disabling lookups themselves.
func NewHTTPStore(endpoint, apiKey string, timeout time.Duration, cacheProvider cache.Provider, lookupTTL time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if lookupTTL < 0 {
		lookupTTL = 0
	}
	return &HTTPStore{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		lookupTTL:  lookupTTL,
	}
}

// StoreSignatures posts each signature as a FailureSignature object.
func (s *HTTPStore) StoreSignatures(signatures []FailureSignature) error {
	if s == nil || s.endpoint == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	defer cancel()

	for _, sig := range signatures {
		payload := map[string]interface{}{
			"class": "FailureSignature",
			"properties": map[string]interface{}{
				"entityKey":   sig.EntityKey,
				"fingerprint": sig.Fingerprint,
				"count":       sig.Count,
				"lastSeenMs":  sig.LastSeenMs,
			},
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/objects", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("store failure signature failed: %s", strings.TrimSpace(string(data)))
		}
		resp.Body.Close()
	}

	return nil
}

// RecentSignatures returns the most recently stored failure signatures for
// entityKey, serving from the Provider cache when possible before falling
// back to a GraphQL query against the object store.
func (s *HTTPStore) RecentSignatures(ctx context.Context, entityKey string, limit int) ([]FailureSignature, error) {
	if s == nil || s.endpoint == "" {
		return nil, nil
	}

	cacheKey := fmt.Sprintf("history:signatures:%s:%d", entityKey, limit)
	if s.lookupTTL > 0 {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var cached []FailureSignature
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            FailureSignature(
              limit: %d
              where: {
                operator: Equal
                path: ["entityKey"]
                valueString: "%s"
              }
              sort: [{path: ["lastSeenMs"], order: desc}]
            ) {
              entityKey
              fingerprint
              count
              lastSeenMs
            }
          }
        }`, limit, entityKey),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("lookup recent signatures failed: %s", strings.TrimSpace(string(data)))
	}

	var response struct {
		Data struct {
			Get struct {
				FailureSignature []struct {
					EntityKey   string `json:"entityKey"`
					Fingerprint string `json:"fingerprint"`
					Count       int    `json:"count"`
					LastSeenMs  int64  `json:"lastSeenMs"`
				} `json:"FailureSignature"`
			} `json:"Get"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}

	out := make([]FailureSignature, 0, len(response.Data.Get.FailureSignature))
	for _, rec := range response.Data.Get.FailureSignature {
		out = append(out, FailureSignature{
			EntityKey:   rec.EntityKey,
			Fingerprint: rec.Fingerprint,
			Count:       rec.Count,
			LastSeenMs:  rec.LastSeenMs,
		})
	}

	if s.lookupTTL > 0 && len(out) > 0 {
		if data, err := json.Marshal(out); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.lookupTTL)
		}
	}

	return out, nil
}
