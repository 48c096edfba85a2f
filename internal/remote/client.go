// Package remote talks to the artifact service over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Ning0612/addonsync/internal/domain"
	"github.com/Ning0612/addonsync/internal/logger"
)

const listCacheKey = "files"

// URLSigner produces one-time download URLs without a round trip to the service
type URLSigner interface {
	SignGet(ctx context.Context, d domain.ArtifactDescriptor) (string, error)
}

// Options configures the client
type Options struct {
	BaseURL string
	APIKey  string

	// ListTTL caches the listing; 0 disables caching
	ListTTL time.Duration

	HTTPClient *http.Client
	Signer     URLSigner
}

// Client is the artifact service client
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	signer URLSigner
	ttl    time.Duration
	cache  *ttlcache.Cache[string, []domain.ArtifactDescriptor]
	log    logger.Logger
}

// New creates a client for opts.BaseURL
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", domain.ErrConfigInvalid, opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		base:   base,
		apiKey: opts.APIKey,
		http:   httpClient,
		signer: opts.Signer,
		ttl:    opts.ListTTL,
		cache: ttlcache.New[string, []domain.ArtifactDescriptor](
			ttlcache.WithTTL[string, []domain.ArtifactDescriptor](opts.ListTTL),
			ttlcache.WithDisableTouchOnHit[string, []domain.ArtifactDescriptor](),
		),
		log: logger.With("component", "remote"),
	}, nil
}

// Authorize sets the bearer header on req
func (c *Client) Authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	c.Authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrRemote, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", domain.ErrRemote, req.URL.Path, err)
	}
	return nil
}

// List returns the published artifacts, served from cache within ListTTL
func (c *Client) List(ctx context.Context) ([]domain.ArtifactDescriptor, error) {
	if c.ttl > 0 {
		if item := c.cache.Get(listCacheKey); item != nil {
			return item.Value(), nil
		}
	}

	var list domain.ArtifactList
	if err := c.getJSON(ctx, c.endpoint("/api/files", nil), &list); err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.cache.Set(listCacheKey, list.Files, ttlcache.DefaultTTL)
	}
	c.log.Debug("listed artifacts", "count", len(list.Files))
	return list.Files, nil
}

// Invalidate drops the cached listing
func (c *Client) Invalidate() {
	c.cache.Delete(listCacheKey)
}

// Find returns the artifact whose file name, local name or display name is name
func (c *Client) Find(ctx context.Context, name string) (domain.ArtifactDescriptor, error) {
	files, err := c.List(ctx)
	if err != nil {
		return domain.ArtifactDescriptor{}, err
	}

	for _, d := range files {
		if d.FileName == name || d.LocalName() == name || d.DisplayName == name {
			return d, nil
		}
	}
	return domain.ArtifactDescriptor{}, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, name)
}

func artifactQuery(d domain.ArtifactDescriptor) url.Values {
	q := url.Values{}
	q.Set("name", d.FileName)
	q.Set("hash", d.Hash)
	return q
}

// DirectURL is the authenticated download-by-name-and-hash endpoint
func (c *Client) DirectURL(d domain.ArtifactDescriptor) string {
	return c.endpoint("/api/files/download", artifactQuery(d))
}

// DownloadURL obtains a one-time pre-signed URL, locally when a signer is set
func (c *Client) DownloadURL(ctx context.Context, d domain.ArtifactDescriptor) (string, error) {
	if c.signer != nil {
		return c.signer.SignGet(ctx, d)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, c.endpoint("/api/files/url", artifactQuery(d)), &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty download url for %s", domain.ErrRemote, d.FileName)
	}
	return out.URL, nil
}
