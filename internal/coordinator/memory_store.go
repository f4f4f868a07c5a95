package coordinator

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// MemoryStore keeps documents in process memory. It exists for tests and
// single-worker development; semantics match the Redis backend, including
// the JSON round-trip of every read and write so numeric types normalise
// the same way.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Document, error) {
	s.mu.Lock()
	raw, ok := s.docs[key]
	s.mu.Unlock()
	if !ok {
		return Document{}, nil
	}
	return decodeDoc(raw)
}

// ConditionalUpdate implements Store.
func (s *MemoryStore) ConditionalUpdate(_ context.Context, key string, conds []Condition, muts []Mutation) (Document, error) {
	// Round-trip conditions and mutations through JSON so value types
	// behave exactly as they do against the Redis backend.
	conds, muts, err := normalize(conds, muts)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode update")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{}
	if raw, ok := s.docs[key]; ok {
		if doc, err = decodeDoc(raw); err != nil {
			return nil, err
		}
	}
	for _, c := range conds {
		ok, err := evalCondition(doc, c)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "evaluate condition")
		}
		if !ok {
			return nil, ErrConditionFailed
		}
	}
	for _, m := range muts {
		if err := applyMutation(doc, m); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "apply mutation")
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode document")
	}
	s.docs[key] = raw
	return decodeDoc(raw)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func decodeDoc(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode document")
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

func normalize(conds []Condition, muts []Mutation) ([]Condition, []Mutation, error) {
	rawC, err := json.Marshal(conds)
	if err != nil {
		return nil, nil, err
	}
	rawM, err := json.Marshal(muts)
	if err != nil {
		return nil, nil, err
	}
	var outC []Condition
	var outM []Mutation
	if err := json.Unmarshal(rawC, &outC); err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(rawM, &outM); err != nil {
		return nil, nil, err
	}
	return outC, outM, nil
}
