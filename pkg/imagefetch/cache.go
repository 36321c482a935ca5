package imagefetch

import (
	"bytes"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ImageCache holds validated image bytes keyed by the literal URL string.
// Entries are evicted by capacity or age, whichever comes first. The MIME type
// is not stored; callers re-sniff on every hit.
type ImageCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewImageCache creates a cache holding at most size entries for at most ttl.
func NewImageCache(size int, ttl time.Duration) *ImageCache {
	return &ImageCache{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get returns a copy of the bytes cached for url.
func (c *ImageCache) Get(url string) ([]byte, bool) {
	data, ok := c.lru.Get(url)
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

// Put stores a copy of data under url. Concurrent writers for the same url
// race and the last one wins.
func (c *ImageCache) Put(url string, data []byte) {
	c.lru.Add(url, bytes.Clone(data))
}

// Remove drops url from the cache.
func (c *ImageCache) Remove(url string) {
	c.lru.Remove(url)
}

// Len reports the number of live entries.
func (c *ImageCache) Len() int {
	return c.lru.Len()
}
