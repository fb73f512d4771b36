package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/till-ledger/internal/domain/record"
)

// RemoteStore is an in-process record.Remote with the same idempotency and
// uniqueness rules as the database backends. It supports injected failures.
type RemoteStore struct {
	mu       sync.Mutex
	docs     map[string]map[int64]map[string]any
	keys     map[string]int64
	nextID   int64
	unique   map[string]string
	failures []injectedFailure
	down     error
	calls    map[string]int
}

type injectedFailure struct {
	op         string
	collection string
	skip       int
	err        error
}

// NewRemoteStore creates an empty store
func NewRemoteStore() *RemoteStore {
	return &RemoteStore{
		docs:   map[string]map[int64]map[string]any{},
		keys:   map[string]int64{},
		unique: map[string]string{},
		calls:  map[string]int{},
	}
}

// WithUnique rejects a second document in collection with the same non-empty field value
func (s *RemoteStore) WithUnique(collection, field string) *RemoteStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unique[collection] = field
	return s
}

// SetDown makes every call fail with err until called again with nil
func (s *RemoteStore) SetDown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = err
}

// FailNext makes the next matching call fail with err. An empty collection matches any.
func (s *RemoteStore) FailNext(op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, injectedFailure{op: op, collection: collection, err: err})
}

// FailNth lets n-1 matching calls through and fails the nth with err
func (s *RemoteStore) FailNth(op, collection string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, injectedFailure{op: op, collection: collection, skip: n - 1, err: err})
}

// Calls returns how many times op was invoked
func (s *RemoteStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Count returns the number of documents in a collection
func (s *RemoteStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[collection])
}

// Seed stores a document under an explicit id, bypassing idempotency keys
func (s *RemoteStore) Seed(collection string, id int64, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields["id"] = float64(id)
	s.collection(collection)[id] = fields
	if id > s.nextID {
		s.nextID = id
	}
	return nil
}

func (s *RemoteStore) Insert(ctx context.Context, collection, key string, doc json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "insert", collection); err != nil {
		return 0, err
	}

	if id, ok := s.keys[key]; ok {
		return id, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return 0, fmt.Errorf("failed to decode document: %w", err)
	}
	if err := s.checkUnique(collection, 0, fields); err != nil {
		return 0, err
	}

	s.nextID++
	id := s.nextID
	fields["id"] = float64(id)
	s.collection(collection)[id] = fields
	s.keys[key] = id
	return id, nil
}

func (s *RemoteStore) Update(ctx context.Context, collection string, id int64, patch json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "update", collection); err != nil {
		return err
	}

	current, ok := s.collection(collection)[id]
	if !ok {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("failed to decode patch: %w", err)
	}
	merged := make(map[string]any, len(current)+len(fields))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	merged["id"] = float64(id)
	if err := s.checkUnique(collection, id, merged); err != nil {
		return err
	}
	s.collection(collection)[id] = merged
	return nil
}

func (s *RemoteStore) Delete(ctx context.Context, collection string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "delete", collection); err != nil {
		return err
	}

	docs := s.collection(collection)
	if _, ok := docs[id]; !ok {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	delete(docs, id)
	return nil
}

func (s *RemoteStore) Find(ctx context.Context, collection string, q record.Query) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "find", collection); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs := s.collection(collection)
	ids := make([]int64, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	all := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		all = append(all, docs[id])
	}
	if q.OrderBy == "" && q.Desc {
		q.OrderBy = "id"
	}

	out := []json.RawMessage{}
	for _, d := range q.Apply(all) {
		b, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *RemoteStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enter(ctx, "ping", "")
}

func (s *RemoteStore) enter(ctx context.Context, op, collection string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.down != nil {
		return s.down
	}
	for i, f := range s.failures {
		if f.op != op || (f.collection != "" && f.collection != collection) {
			continue
		}
		if f.skip > 0 {
			s.failures[i].skip--
			continue
		}
		s.failures = append(s.failures[:i], s.failures[i+1:]...)
		return f.err
	}
	return nil
}

func (s *RemoteStore) collection(name string) map[int64]map[string]any {
	docs, ok := s.docs[name]
	if !ok {
		docs = map[int64]map[string]any{}
		s.docs[name] = docs
	}
	return docs
}

func (s *RemoteStore) checkUnique(collection string, self int64, fields map[string]any) error {
	field, ok := s.unique[collection]
	if !ok {
		return nil
	}
	value, ok := fields[field]
	if !ok || value == nil || value == "" {
		return nil
	}
	for id, other := range s.collection(collection) {
		if id != self && other[field] == value {
			return record.ErrConstraint{Collection: collection, Constraint: "unique " + field}
		}
	}
	return nil
}

var _ record.Remote = (*RemoteStore)(nil)
