package staging

import (
	"sync"

	"github.com/google/uuid"
)

// Preview is an owned, revocable reference to a renderable view of an
// image's raw bytes. It stays resolvable through its registry from
// creation until Release; Release is idempotent and revokes exactly once.
type Preview struct {
	token    string
	registry *PreviewRegistry
	release  sync.Once
}

// Token returns the registry token used to resolve the preview over HTTP.
func (p *Preview) Token() string {
	return p.token
}

// Release revokes the preview. Safe to call more than once; only the
// first call takes effect.
func (p *Preview) Release() {
	p.release.Do(func() {
		p.registry.drop(p.token)
	})
}

type previewEntry struct {
	data      []byte
	mediaType string
}

// PreviewRegistry resolves preview tokens to renderable bytes. Entries are
// registered by ingestion and dropped when the owning staged image releases
// its preview handle.
type PreviewRegistry struct {
	mu      sync.RWMutex
	entries map[string]previewEntry
}

// NewPreviewRegistry creates an empty registry.
func NewPreviewRegistry() *PreviewRegistry {
	return &PreviewRegistry{entries: make(map[string]previewEntry)}
}

// Register stores a renderable view and returns the owning handle.
func (r *PreviewRegistry) Register(data []byte, mediaType string) *Preview {
	token := uuid.NewString()
	r.mu.Lock()
	r.entries[token] = previewEntry{data: data, mediaType: mediaType}
	r.mu.Unlock()
	return &Preview{token: token, registry: r}
}

// Resolve returns the bytes and media type for a live token.
func (r *PreviewRegistry) Resolve(token string) ([]byte, string, bool) {
	r.mu.RLock()
	entry, ok := r.entries[token]
	r.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return entry.data, entry.mediaType, true
}

// Len reports the number of live previews.
func (r *PreviewRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *PreviewRegistry) drop(token string) {
	r.mu.Lock()
	delete(r.entries, token)
	r.mu.Unlock()
}
