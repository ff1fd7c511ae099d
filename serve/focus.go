package serve

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Paranoid-AF/evocaition/document"
)

// DefaultFocusTTL is how long a session's reported focus is trusted without
// a refresh. An expired entry means the focus is unknown.
const DefaultFocusTTL = 30 * time.Minute

// focusRegistry records the active document of every editor session.
// An empty document id means the session has no active editor.
type focusRegistry struct {
	cache *ttlcache.Cache[string, string]
}

func newFocusRegistry(ttl time.Duration) *focusRegistry {
	c := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
	)
	go c.Start()
	return &focusRegistry{cache: c}
}

func (f *focusRegistry) set(session, documentID string) {
	f.cache.Set(session, documentID, ttlcache.DefaultTTL)
}

// lookup returns the active document of session, or ok=false if unknown.
func (f *focusRegistry) lookup(session string) (documentID string, ok bool) {
	item := f.cache.Get(session)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (f *focusRegistry) close() {
	f.cache.Stop()
}

// requestHost is the document.Host for one predict request. The document is
// the text the editor sent; Insert only checks that the session still reports
// that document as active, the editor applies the edit from the response.
type requestHost struct {
	focus   *focusRegistry
	session string
	doc     *document.Buffer
}

func (h *requestHost) Active() (document.Document, error) {
	return h.doc, nil
}

func (h *requestHost) Insert(ctx context.Context, ref document.Ref, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ref.DocumentID != h.doc.ID() {
		return document.ErrDocumentChanged
	}
	if h.session != "" {
		if active, ok := h.focus.lookup(h.session); ok {
			if active == "" {
				return document.ErrNoActiveDocument
			}
			if active != ref.DocumentID {
				return document.ErrDocumentChanged
			}
		}
	}
	return nil
}

var _ document.Host = (*requestHost)(nil)
