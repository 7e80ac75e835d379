package embedclient

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marrowdepot/memoryd/internal/store"
)

// CachedClient wraps Client with content-hash caching, so re-embedding
// identical (structured_text, domain) inputs (e.g. during a Curator
// embedding rebuild) skips the network round trip. Keyed on the exact
// build_embedding_input string rather than raw content, so a domain
// change invalidates the cache entry too.
type CachedClient struct {
	inner *Client
	cache *store.DB
}

func NewCachedClient(inner *Client, db *store.DB) *CachedClient {
	return &CachedClient{inner: inner, cache: db}
}

// Embed returns the embedding for (body, domain), using the cache when
// available.
func (c *CachedClient) Embed(ctx context.Context, body, domain string) ([]float32, error) {
	input := BuildEmbeddingInput(body, domain)
	hash := ContentHash(input)

	if cached, ok, err := c.lookup(hash); err != nil {
		return nil, fmt.Errorf("embedding cache lookup: %w", err)
	} else if ok {
		return cached, nil
	}

	vec, err := c.inner.Embed(ctx, input)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return nil, nil
	}
	if err := c.store(hash, vec); err != nil {
		// Non-fatal: the embedding is still usable even if caching it fails.
		_ = err
	}
	return vec, nil
}

func (c *CachedClient) lookup(hash string) ([]float32, bool, error) {
	var blob []byte
	err := c.cache.QueryRow(`SELECT embedding FROM embedding_cache WHERE content_hash = ?`, hash).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return store.BytesToFloat32(blob), true, nil
}

func (c *CachedClient) store(hash string, vec []float32) error {
	_, err := c.cache.Exec(`INSERT INTO embedding_cache (content_hash, embedding) VALUES (?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET embedding = excluded.embedding`,
		hash, store.Float32ToBytes(vec))
	return err
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
