package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
)

// HTTPDirectory fetches listings from the catalogue service.
type HTTPDirectory struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewHTTPDirectory constructs a client with baseURL, API key and extra header.
func NewHTTPDirectory(baseURL, apiKey, apiExtra string, timeout time.Duration) *HTTPDirectory {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache configures optional Redis caching of listing lookups.
func (d *HTTPDirectory) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	d.redis = redisClient
	d.cacheTTL = ttl
}

// Lookup returns the listing or an error wrapping ErrNotFound / ErrUpstream.
func (d *HTTPDirectory) Lookup(ctx context.Context, propertyID string) (*models.Listing, error) {
	cacheKey := "listing:" + propertyID
	var l models.Listing
	if d.readCache(ctx, cacheKey, &l) {
		return &l, nil
	}

	endpoint := fmt.Sprintf("%s/properties/%s", d.baseURL, url.PathEscape(propertyID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", propertyID, err)
	}
	d.addHeaders(req)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %v: %w", propertyID, err, models.ErrUpstream)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("listing %s: %w", propertyID, models.ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("listing %s: http %d: %w", propertyID, resp.StatusCode, models.ErrUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, fmt.Errorf("listing %s: decode: %v: %w", propertyID, err, models.ErrUpstream)
	}
	if l.PropertyID == "" {
		l.PropertyID = propertyID
	}
	l.Currency = strings.ToUpper(l.Currency)

	d.writeCache(ctx, cacheKey, l)
	return &l, nil
}

func (d *HTTPDirectory) readCache(ctx context.Context, key string, out any) bool {
	if d.redis == nil || d.cacheTTL <= 0 {
		return false
	}
	val, err := d.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (d *HTTPDirectory) writeCache(ctx context.Context, key string, val any) {
	if d.redis == nil || d.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = d.redis.Set(ctx, key, data, d.cacheTTL).Err()
}

func (d *HTTPDirectory) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if d.apiKey != "" {
		req.Header.Set("x-api-key", d.apiKey)
	}
	if d.apiExtra != "" {
		req.Header.Set("x-api-extra", d.apiExtra)
	}
}
