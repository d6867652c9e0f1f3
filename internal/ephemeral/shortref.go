package ephemeral

// Ephemeral key namespaces and their TTLs. Every value is a full JSON
// snapshot of the corresponding state object.
const (
	NamespaceBrief     = "brief"     // 48h
	NamespaceCarousel  = "carousel"  // 24h
	NamespaceApproval  = "approval"  // 2m
	NamespaceDigestRef = "digestref" // 24h
)

// ShortRefStore maps a batch of long identifiers to one short token.
//
// Button payloads have a hard byte budget (64 bytes on Telegram), far too
// small for several full event ids. The payload carries only
// "<action>:<token>"; the token is resolved server-side to the id list.
// Lifecycle is write-once, read-many, then delete or TTL expiry.
type ShortRefStore struct {
	store *Store
}

func NewShortRefStore(store *Store) *ShortRefStore {
	return &ShortRefStore{store: store}
}

// Put stores ids and returns a short token for them.
func (s *ShortRefStore) Put(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	return s.store.Put(NamespaceDigestRef, ids)
}

// Get resolves a token back to the original id list, preserving order.
// Returns ErrNotFound after expiry or explicit delete.
func (s *ShortRefStore) Get(token string) ([]string, error) {
	var ids []string
	if err := s.store.Get(NamespaceDigestRef, token, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete drops the token. Deleting an unknown token is a no-op.
func (s *ShortRefStore) Delete(token string) {
	s.store.Delete(NamespaceDigestRef, token)
}
