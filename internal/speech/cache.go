package speech

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry is one cached synthesis result. The provider that produced
// the audio is kept so cache hits can still report an origin.
type cacheEntry struct {
	audio     []byte
	provider  string
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// phraseCache memoises synthesis results for repeated short phrases
// (prompts, confirmations) so they cost neither latency nor cloud credits
// the second time around. Entries are keyed by provider-independent request
// parameters; a phrase synthesised via the fallback provider is still a hit
// for the next request.
type phraseCache struct {
	entries *lru.Cache[string, *cacheEntry]
	ttl     time.Duration
}

// newPhraseCache creates a phrase cache. Returns nil (cache disabled) when
// maxEntries is zero or negative.
func newPhraseCache(maxEntries int, ttl time.Duration) (*phraseCache, error) {
	if maxEntries <= 0 {
		return nil, nil
	}
	entries, err := lru.New[string, *cacheEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &phraseCache{entries: entries, ttl: ttl}, nil
}

// cacheKey derives the lookup key from the synthesis parameters.
func cacheKey(model, voice, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// get returns the cached audio and originating provider for a key, or
// nil audio on miss or expiry.
func (c *phraseCache) get(key string) ([]byte, string) {
	if c == nil {
		return nil, ""
	}
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, ""
	}
	if entry.expired() {
		c.entries.Remove(key)
		return nil, ""
	}
	return entry.audio, entry.provider
}

// put stores audio under a key along with the provider that produced it.
func (c *phraseCache) put(key string, audio []byte, providerName string) {
	if c == nil {
		return
	}
	c.entries.Add(key, &cacheEntry{
		audio:     audio,
		provider:  providerName,
		expiresAt: time.Now().Add(c.ttl),
	})
}
