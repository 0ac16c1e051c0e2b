package extract

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"telegram_news/internal/domain"
)

// Merge concatenates the batches of a feed's list URLs, drops records that
// are identical to an earlier one and reverses the result, so the oldest
// entry of a newest-first feed comes first.
func Merge(batches ...[]domain.NewsItem) []domain.NewsItem {
	var merged []domain.NewsItem
	for _, batch := range batches {
	next:
		for _, item := range batch {
			for _, seen := range merged {
				if seen.Equal(item) {
					continue next
				}
			}
			merged = append(merged, item)
		}
	}
	for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
		merged[i], merged[j] = merged[j], merged[i]
	}
	return merged
}

// Cap keeps the newest limit items of a merged batch. limit <= 0 keeps all.
func Cap(items []domain.NewsItem, limit int) []domain.NewsItem {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}

// FingerprintOf digests the set of item ids, ignoring order and repeats.
func FingerprintOf(items []domain.NewsItem) string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		ids = append(ids, item.ID)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint remembers the digest of the last fully processed list batch
// of one feed. It is process-local and starts empty.
type Fingerprint struct {
	mu   sync.Mutex
	last string
}

// Matches reports whether digest equals the stored value.
func (f *Fingerprint) Matches(digest string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last != "" && f.last == digest
}

// Store records digest as the last processed batch.
func (f *Fingerprint) Store(digest string) {
	f.mu.Lock()
	f.last = digest
	f.mu.Unlock()
}

// Invalidate replaces the stored value with one no real batch can produce,
// forcing the next cycle to reprocess.
func (f *Fingerprint) Invalidate() {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	f.mu.Lock()
	f.last = "invalidated:" + hex.EncodeToString(nonce)
	f.mu.Unlock()
}
