package entity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/domain/record"
	"github.com/till-ledger/internal/domain/shared"
	"github.com/till-ledger/internal/platform/metrics"
)

// tempIDRange bounds temporary identifiers to values exactly representable as JSON numbers
const tempIDRange = 1 << 52

// Record is implemented by every cached entity
type Record[T any] interface {
	RecordID() int64
	WithID(id int64) T
}

// Schema describes one collection
type Schema struct {
	Collection string
	// Refs maps JSON fields holding identifiers to the collection they point at
	Refs map[string]string
}

// Connectivity is the online/offline signal used for write routing
type Connectivity interface {
	IsOnline() bool
}

// Deps are the shared process-wide collaborators of every repository
type Deps struct {
	Cache    record.Cache
	Remote   record.Remote
	Queue    pending.Queue
	Remaps   pending.Remaps
	Online   Connectivity
	Registry *Registry
	Validate *validator.Validate
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Repository is the per-collection facade over the local cache, the pending
// queue and the remote store. Writes go straight to the remote store only when
// online with an empty queue and no temporary identifiers involved; otherwise
// they are queued so no direct write can overtake a queued one.
type Repository[T Record[T]] struct {
	schema Schema
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	view   []T
	loaded bool
}

// NewRepository creates a repository and registers it for identifier remaps
func NewRepository[T Record[T]](schema Schema, deps Deps) *Repository[T] {
	r := &Repository[T]{
		schema: schema,
		deps:   deps,
		logger: deps.Logger.With("component", "repository", "collection", schema.Collection),
	}
	if deps.Registry != nil {
		deps.Registry.Register(r)
	}
	return r
}

func (r *Repository[T]) Collection() string {
	return r.schema.Collection
}

// List returns the whole collection. Online it fetches the remote set, keeps
// the local version of records with queued operations and overwrites the
// cached snapshot; offline it returns the snapshot unmodified.
func (r *Repository[T]) List(ctx context.Context) ([]T, error) {
	if r.deps.Online.IsOnline() {
		remote, err := r.fetch(ctx, record.Query{})
		if err == nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			if err := r.ensureLoadedLocked(ctx); err != nil {
				return nil, err
			}
			merged, err := r.overlayLocked(ctx, remote, record.Query{})
			if err != nil {
				return nil, err
			}
			sortRecords(merged)
			r.view = merged
			if err := r.persistLocked(ctx); err != nil {
				return nil, err
			}
			return cloneAll(r.view)
		}
		if r.deps.Online.IsOnline() {
			return nil, r.remoteErr("list", err)
		}
		r.logger.Warn("Remote list failed after connectivity loss, serving cached snapshot", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return cloneAll(r.view)
}

// Find returns the records matching q, ordered and limited as q asks
func (r *Repository[T]) Find(ctx context.Context, q record.Query) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, ErrSchema{Collection: r.schema.Collection, Reason: err.Error()}
	}

	if r.deps.Online.IsOnline() {
		remote, err := r.fetch(ctx, q)
		if err == nil {
			r.mu.Lock()
			if err := r.ensureLoadedLocked(ctx); err != nil {
				r.mu.Unlock()
				return nil, err
			}
			merged, err := r.overlayLocked(ctx, remote, q)
			r.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return cloneAll(applyQuery(q, merged))
		}
		if r.deps.Online.IsOnline() {
			return nil, r.remoteErr("find", err)
		}
		r.logger.Warn("Remote find failed after connectivity loss, serving cached snapshot", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return cloneAll(applyQuery(q, append([]T(nil), r.view...)))
}

// Get returns one record by identifier. A temporary identifier keeps working
// after the sync engine has confirmed the record under its server identifier.
func (r *Repository[T]) Get(ctx context.Context, id int64) (T, error) {
	var zero T
	id, err := r.Resolve(ctx, id)
	if err != nil {
		return zero, err
	}
	found, err := r.Find(ctx, record.Query{}.Where("id", id))
	if err != nil {
		return zero, err
	}
	if len(found) == 0 {
		return zero, ErrRecordNotFound{Collection: r.schema.Collection, ID: id}
	}
	return found[0], nil
}

// Create assigns a temporary identifier, shows the record immediately and then
// confirms it remotely or queues it. Offline it cannot fail for connectivity.
func (r *Repository[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := r.validate(rec); err != nil {
		return zero, err
	}

	r.mu.Lock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		r.mu.Unlock()
		return zero, err
	}
	tempID, err := r.newTempIDLocked()
	if err != nil {
		r.mu.Unlock()
		return zero, err
	}
	rec = rec.WithID(tempID)
	r.view = append(r.view, rec)
	r.mu.Unlock()

	fields, err := toFields(rec)
	if err != nil {
		r.removeLocal(tempID)
		return zero, fmt.Errorf("failed to encode %s record: %w", r.schema.Collection, err)
	}
	delete(fields, "id")
	doc, err := json.Marshal(fields)
	if err != nil {
		r.removeLocal(tempID)
		return zero, fmt.Errorf("failed to encode %s record: %w", r.schema.Collection, err)
	}

	if r.direct(ctx, 0, fields) {
		callCtx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
		realID, err := r.deps.Remote.Insert(callCtx, r.schema.Collection, uuid.New().String(), doc)
		cancel()
		if err == nil {
			saved := rec.WithID(realID)
			r.replaceLocal(ctx, tempID, saved)
			r.count(metrics.PathDirect, metrics.OutcomeOK)
			return saved, nil
		}
		if !r.degrade(err) {
			r.removeLocal(tempID)
			r.count(metrics.PathDirect, metrics.OutcomeRolledBack)
			return zero, r.remoteErr("insert", err)
		}
		r.logger.Warn("Remote insert failed after connectivity loss, queueing", "temp_id", tempID, "error", err)
		r.count(metrics.PathDirect, metrics.OutcomeDegraded)
	}

	op, err := pending.NewOperation(pending.KindInsert, r.schema.Collection, tempID, json.RawMessage(doc), r.schema.Refs)
	if err == nil {
		err = r.deps.Queue.Enqueue(ctx, op)
	}
	if err != nil {
		r.removeLocal(tempID)
		return zero, fmt.Errorf("failed to queue %s insert: %w", r.schema.Collection, err)
	}
	r.afterQueued(ctx)
	return rec, nil
}

// Update merges a partial record. Unknown fields and identifier changes are rejected.
func (r *Repository[T]) Update(ctx context.Context, id int64, patch map[string]any) error {
	if len(patch) == 0 {
		return ErrSchema{Collection: r.schema.Collection, Reason: "empty patch"}
	}
	if _, ok := patch["id"]; ok {
		return ErrSchema{Collection: r.schema.Collection, Reason: "id cannot be changed"}
	}

	id, err := r.Resolve(ctx, id)
	if err != nil {
		return err
	}
	current, err := r.current(ctx, id)
	if err != nil {
		return err
	}
	fields, err := toFields(current)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", r.schema.Collection, err)
	}
	patchDoc, err := json.Marshal(patch)
	if err != nil {
		return ErrSchema{Collection: r.schema.Collection, Reason: err.Error()}
	}
	patchFields, err := decodeFields(patchDoc)
	if err != nil {
		return ErrSchema{Collection: r.schema.Collection, Reason: err.Error()}
	}
	for k, v := range patchFields {
		fields[k] = v
	}
	mergedDoc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", r.schema.Collection, err)
	}
	updated, err := strictDecode[T](mergedDoc)
	if err != nil {
		return ErrSchema{Collection: r.schema.Collection, Reason: err.Error()}
	}
	if err := r.validate(updated); err != nil {
		return err
	}

	prev, ok := r.swapLocal(id, updated)
	if !ok {
		return ErrRecordNotFound{Collection: r.schema.Collection, ID: id}
	}

	if r.direct(ctx, id, patchFields) {
		callCtx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
		err := r.deps.Remote.Update(callCtx, r.schema.Collection, id, patchDoc)
		cancel()
		if err == nil {
			r.persist(ctx)
			r.count(metrics.PathDirect, metrics.OutcomeOK)
			return nil
		}
		if !r.degrade(err) {
			r.swapLocal(id, prev)
			r.count(metrics.PathDirect, metrics.OutcomeRolledBack)
			return r.remoteErr("update", err)
		}
		r.logger.Warn("Remote update failed after connectivity loss, queueing", "id", id, "error", err)
		r.count(metrics.PathDirect, metrics.OutcomeDegraded)
	}

	op, err := pending.NewOperation(pending.KindUpdate, r.schema.Collection, id, json.RawMessage(patchDoc), r.schema.Refs)
	if err == nil {
		err = r.deps.Queue.Enqueue(ctx, op)
	}
	if err != nil {
		r.swapLocal(id, prev)
		return fmt.Errorf("failed to queue %s update: %w", r.schema.Collection, err)
	}
	r.afterQueued(ctx)
	return nil
}

// Delete removes a record. Deleting a record the remote store no longer has succeeds.
func (r *Repository[T]) Delete(ctx context.Context, id int64) error {
	id, err := r.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if _, err := r.current(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	idx := r.indexLocked(id)
	if idx < 0 {
		r.mu.Unlock()
		return ErrRecordNotFound{Collection: r.schema.Collection, ID: id}
	}
	prev := r.view[idx]
	r.view = append(r.view[:idx], r.view[idx+1:]...)
	r.mu.Unlock()

	restore := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx > len(r.view) {
			idx = len(r.view)
		}
		r.view = append(r.view[:idx], append([]T{prev}, r.view[idx:]...)...)
	}

	if r.direct(ctx, id, nil) {
		callCtx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
		err := r.deps.Remote.Delete(callCtx, r.schema.Collection, id)
		cancel()
		if err == nil || errors.As(err, &record.ErrDocumentNotFound{}) {
			r.persist(ctx)
			r.count(metrics.PathDirect, metrics.OutcomeOK)
			return nil
		}
		if !r.degrade(err) {
			restore()
			r.count(metrics.PathDirect, metrics.OutcomeRolledBack)
			return r.remoteErr("delete", err)
		}
		r.logger.Warn("Remote delete failed after connectivity loss, queueing", "id", id, "error", err)
		r.count(metrics.PathDirect, metrics.OutcomeDegraded)
	}

	op, err := pending.NewOperation(pending.KindDelete, r.schema.Collection, id, nil, nil)
	if err == nil {
		err = r.deps.Queue.Enqueue(ctx, op)
	}
	if err != nil {
		restore()
		return fmt.Errorf("failed to queue %s delete: %w", r.schema.Collection, err)
	}
	r.afterQueued(ctx)
	return nil
}

// Resolve returns the server identifier of a temporary one that has been
// confirmed. Any other identifier is returned unchanged.
func (r *Repository[T]) Resolve(ctx context.Context, id int64) (int64, error) {
	if !record.IsTemporary(id) || r.deps.Remaps == nil {
		return id, nil
	}
	realID, ok, err := r.deps.Remaps.Resolve(ctx, r.schema.Collection, id)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %s identifier %d: %w", r.schema.Collection, id, err)
	}
	if !ok {
		return id, nil
	}
	return realID, nil
}

// ApplyRemap rewrites a confirmed identifier in record ids and reference fields
func (r *Repository[T]) ApplyRemap(ctx context.Context, collection string, tempID, realID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	changed := false
	for i, rec := range r.view {
		if collection == r.schema.Collection && rec.RecordID() == tempID {
			rec = rec.WithID(realID)
			changed = true
		}
		rewritten, ok, err := r.rewriteRefs(rec, collection, tempID, realID)
		if err != nil {
			return err
		}
		if ok {
			rec = rewritten
			changed = true
		}
		r.view[i] = rec
	}
	if !changed {
		return nil
	}
	r.logger.Debug("Applied identifier remap", "target", collection, "temp_id", tempID, "real_id", realID)
	return r.persistLocked(ctx)
}

// Refresh reloads the collection from the remote store when online
func (r *Repository[T]) Refresh(ctx context.Context) error {
	if !r.deps.Online.IsOnline() {
		return nil
	}
	_, err := r.List(ctx)
	return err
}

func (r *Repository[T]) rewriteRefs(rec T, collection string, tempID, realID int64) (T, bool, error) {
	touched := false
	var fields map[string]any
	for field, target := range r.schema.Refs {
		if target != collection {
			continue
		}
		if fields == nil {
			f, err := toFields(rec)
			if err != nil {
				return rec, false, err
			}
			fields = f
		}
		if id, ok := refID(fields[field]); ok && id == tempID {
			fields[field] = realID
			touched = true
		}
	}
	if !touched {
		return rec, false, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return rec, false, err
	}
	out, err := decode[T](b)
	if err != nil {
		return rec, false, err
	}
	return out, true, nil
}

// direct decides the write path
func (r *Repository[T]) direct(ctx context.Context, ownID int64, fields map[string]any) bool {
	if !r.deps.Online.IsOnline() || record.IsTemporary(ownID) {
		return false
	}
	for field := range r.schema.Refs {
		if id, ok := refID(fields[field]); ok && record.IsTemporary(id) {
			return false
		}
	}
	n, err := r.deps.Queue.Count(ctx)
	if err != nil {
		r.logger.Warn("Failed to read queue depth, queueing write", "error", err)
		return false
	}
	return n == 0
}

// degrade reports whether a failed direct write may fall back to the queue.
// Remote rejections never do; other failures only when connectivity has
// independently been detected as lost.
func (r *Repository[T]) degrade(err error) bool {
	if errors.As(err, &record.ErrConstraint{}) || errors.As(err, &record.ErrDocumentNotFound{}) {
		return false
	}
	return !r.deps.Online.IsOnline()
}

func (r *Repository[T]) remoteErr(op string, err error) error {
	r.logger.Error("Remote call failed", "op", op, "error", err)
	return shared.ErrRemote{Op: op, Collection: r.schema.Collection, Err: err}
}

func (r *Repository[T]) afterQueued(ctx context.Context) {
	r.persist(ctx)
	r.count(metrics.PathQueued, metrics.OutcomeOK)
	if r.deps.Registry != nil {
		r.deps.Registry.Nudge()
	}
}

func (r *Repository[T]) count(path, outcome string) {
	metrics.RepositoryWrites.WithLabelValues(r.schema.Collection, path, outcome).Inc()
}

func (r *Repository[T]) validate(rec T) error {
	if r.deps.Validate == nil {
		return nil
	}
	if err := r.deps.Validate.Struct(rec); err != nil {
		return ErrSchema{Collection: r.schema.Collection, Reason: err.Error()}
	}
	return nil
}

// current returns the local version of a record, fetching it when online and absent
func (r *Repository[T]) current(ctx context.Context, id int64) (T, error) {
	var zero T
	r.mu.Lock()
	if err := r.ensureLoadedLocked(ctx); err != nil {
		r.mu.Unlock()
		return zero, err
	}
	if idx := r.indexLocked(id); idx >= 0 {
		rec := r.view[idx]
		r.mu.Unlock()
		return rec, nil
	}
	r.mu.Unlock()

	if r.deps.Online.IsOnline() && !record.IsTemporary(id) {
		// Find folds fetched records into the view
		if rec, err := r.Get(ctx, id); err == nil {
			return rec, nil
		} else if !errors.Is(err, shared.ErrNotFound) {
			return zero, err
		}
	}
	return zero, ErrRecordNotFound{Collection: r.schema.Collection, ID: id}
}

func (r *Repository[T]) fetch(ctx context.Context, q record.Query) ([]T, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.deps.Timeout)
	defer cancel()

	docs, err := r.deps.Remote.Find(callCtx, r.schema.Collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode remote %s record: %w", r.schema.Collection, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// overlayLocked merges remote records with the local view: records with queued
// operations keep their local version (or stay deleted), everything else comes
// from the remote store and is folded back into the view.
func (r *Repository[T]) overlayLocked(ctx context.Context, remote []T, q record.Query) ([]T, error) {
	touched, err := r.touchedLocked(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(remote))
	for _, rec := range remote {
		if touched[rec.RecordID()] {
			continue
		}
		out = append(out, rec)
		if idx := r.indexLocked(rec.RecordID()); idx >= 0 {
			r.view[idx] = rec
		} else {
			r.view = append(r.view, rec)
		}
	}
	for _, rec := range r.view {
		if !touched[rec.RecordID()] {
			continue
		}
		fields, err := plainFields(rec)
		if err != nil {
			return nil, err
		}
		if q.Match(fields) {
			out = append(out, rec)
		}
	}
	if len(remote) > 0 {
		if err := r.persistLocked(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// touchedLocked returns the identifiers of this collection with queued operations
func (r *Repository[T]) touchedLocked(ctx context.Context) (map[int64]bool, error) {
	ops, err := r.deps.Queue.Pending(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}
	touched := map[int64]bool{}
	for _, op := range ops {
		if op.Collection != r.schema.Collection {
			continue
		}
		id := op.RecordID
		touched[id] = true
		if record.IsTemporary(id) && r.deps.Remaps != nil {
			realID, ok, err := r.deps.Remaps.Resolve(ctx, op.Collection, id)
			if err != nil {
				return nil, err
			}
			if ok {
				touched[realID] = true
			}
		}
	}
	return touched, nil
}

func (r *Repository[T]) ensureLoadedLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	raws, err := r.deps.Cache.Get(ctx, r.schema.Collection)
	if err != nil {
		return err
	}
	view := make([]T, 0, len(raws))
	for _, raw := range raws {
		rec, err := decode[T](raw)
		if err != nil {
			return fmt.Errorf("failed to decode cached %s record: %w", r.schema.Collection, err)
		}
		view = append(view, rec)
	}
	r.view = view
	r.loaded = true
	return nil
}

func (r *Repository[T]) persistLocked(ctx context.Context) error {
	raws := make([]json.RawMessage, 0, len(r.view))
	for _, rec := range r.view {
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode %s record: %w", r.schema.Collection, err)
		}
		raws = append(raws, b)
	}
	return r.deps.Cache.Put(ctx, r.schema.Collection, raws)
}

// persist writes the snapshot after a confirmed or queued write. The queue and
// remote store already hold the write, so a failure here is only logged.
func (r *Repository[T]) persist(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.persistLocked(ctx); err != nil {
		r.logger.Error("Failed to persist cached snapshot", "error", err)
	}
}

func (r *Repository[T]) indexLocked(id int64) int {
	for i, rec := range r.view {
		if rec.RecordID() == id {
			return i
		}
	}
	return -1
}

func (r *Repository[T]) newTempIDLocked() (int64, error) {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(tempIDRange))
		if err != nil {
			return 0, fmt.Errorf("failed to draw temporary identifier: %w", err)
		}
		id := -(n.Int64() + 1)
		if r.indexLocked(id) < 0 {
			return id, nil
		}
	}
}

func (r *Repository[T]) removeLocal(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.view = append(r.view[:idx], r.view[idx+1:]...)
	}
}

func (r *Repository[T]) replaceLocal(ctx context.Context, id int64, rec T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.indexLocked(id); idx >= 0 {
		r.view[idx] = rec
	} else {
		r.view = append(r.view, rec)
	}
	if err := r.persistLocked(ctx); err != nil {
		r.logger.Error("Failed to persist cached snapshot", "error", err)
	}
}

func (r *Repository[T]) swapLocal(id int64, rec T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexLocked(id)
	if idx < 0 {
		var zero T
		return zero, false
	}
	prev := r.view[idx]
	r.view[idx] = rec
	return prev, true
}

// sortRecords puts server identifiers first in ascending order, then
// temporary ones in creation order
func sortRecords[T Record[T]](recs []T) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].RecordID(), recs[j].RecordID()
		switch {
		case record.IsTemporary(a) && record.IsTemporary(b):
			return false
		case record.IsTemporary(a):
			return false
		case record.IsTemporary(b):
			return true
		}
		return a < b
	})
}

func applyQuery[T Record[T]](q record.Query, recs []T) []T {
	type row struct {
		rec    T
		fields map[string]any
	}
	rows := make([]row, 0, len(recs))
	for _, rec := range recs {
		fields, err := plainFields(rec)
		if err != nil || !q.Match(fields) {
			continue
		}
		rows = append(rows, row{rec: rec, fields: fields})
	}
	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool { return q.Less(rows[i].fields, rows[j].fields) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i].rec.RecordID(), rows[j].rec.RecordID()
			if record.IsTemporary(a) || record.IsTemporary(b) {
				return !record.IsTemporary(a) && record.IsTemporary(b)
			}
			if q.Desc {
				return a > b
			}
			return a < b
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]T, len(rows))
	for i, row := range rows {
		out[i] = row.rec
	}
	return out
}

func plainFields(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// cloneAll deep-copies records so callers cannot alias maps held by the view
func cloneAll[T Record[T]](recs []T) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		c, err := decode[T](b)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
