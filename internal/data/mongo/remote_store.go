package mongo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/till-ledger/internal/domain/record"
)

const (
	// CountersCollectionName holds one sequence per document collection
	CountersCollectionName = "counters"

	opKeyField = "op_key"
)

// RemoteStore implements record.Remote with one MongoDB collection per record collection.
// Identifiers come from a counters collection so they stay integers like the
// PostgreSQL backend.
type RemoteStore struct {
	db     *mongo.Database
	pinger func(ctx context.Context) error
	logger *slog.Logger
}

// NewRemoteStore creates a MongoDB-backed remote store
func NewRemoteStore(logger *slog.Logger, db *mongo.Database) *RemoteStore {
	return &RemoteStore{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the operation key index on every collection and the
// sale id uniqueness index on movement collections.
func (r *RemoteStore) EnsureIndexes(ctx context.Context, collections []string, saleLinked []string) error {
	for _, name := range collections {
		_, err := r.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: opKeyField, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uq_op_key"),
		})
		if err != nil {
			return fmt.Errorf("failed to create op_key index on %s: %w", name, err)
		}
	}
	for _, name := range saleLinked {
		_, err := r.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "sale_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("uq_sale_id").
				SetPartialFilterExpression(bson.M{"sale_id": bson.M{"$exists": true}}),
		})
		if err != nil {
			return fmt.Errorf("failed to create sale_id index on %s: %w", name, err)
		}
	}
	return nil
}

// Insert stores doc under a new id. Replaying the same key returns the original id.
func (r *RemoteStore) Insert(ctx context.Context, collection, key string, doc json.RawMessage) (int64, error) {
	coll := r.db.Collection(collection)

	if id, found, err := r.idForKey(ctx, coll, key); err != nil || found {
		return id, err
	}

	fields, err := decodeDocument(doc)
	if err != nil {
		return 0, err
	}
	id, err := r.nextID(ctx, collection)
	if err != nil {
		return 0, err
	}
	delete(fields, "id")
	fields["_id"] = id
	fields[opKeyField] = key

	if _, err := coll.InsertOne(ctx, fields); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// A concurrent replay of the same key won the race
			if existing, found, lookupErr := r.idForKey(ctx, coll, key); lookupErr == nil && found {
				return existing, nil
			}
			r.logger.Warn("Remote write violates a unique index", "collection", collection, "error", err)
			return 0, record.ErrConstraint{Collection: collection, Constraint: "unique index"}
		}
		r.logger.Error("Failed to insert document", "collection", collection, "op_key", key, "error", err)
		return 0, fmt.Errorf("failed to insert %s document: %w", collection, err)
	}
	return id, nil
}

// Update merges patch into the stored document
func (r *RemoteStore) Update(ctx context.Context, collection string, id int64, patch json.RawMessage) error {
	fields, err := decodeDocument(patch)
	if err != nil {
		return err
	}
	delete(fields, "id")
	delete(fields, "_id")
	if len(fields) == 0 {
		return nil
	}

	result, err := r.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return record.ErrConstraint{Collection: collection, Constraint: "unique index"}
		}
		r.logger.Error("Failed to update document", "collection", collection, "id", id, "error", err)
		return fmt.Errorf("failed to update %s document: %w", collection, err)
	}
	if result.MatchedCount == 0 {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	return nil
}

// Delete removes a document
func (r *RemoteStore) Delete(ctx context.Context, collection string, id int64) error {
	result, err := r.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		r.logger.Error("Failed to delete document", "collection", collection, "id", id, "error", err)
		return fmt.Errorf("failed to delete %s document: %w", collection, err)
	}
	if result.DeletedCount == 0 {
		return record.ErrDocumentNotFound{Collection: collection, ID: id}
	}
	return nil
}

// Find returns the documents of a collection matching q, each with its id field set
func (r *RemoteStore) Find(ctx context.Context, collection string, q record.Query) ([]json.RawMessage, error) {
	filter, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	cursor, err := r.db.Collection(collection).Find(ctx, filter, findOptions(q))
	if err != nil {
		r.logger.Error("Failed to find documents", "collection", collection, "error", err)
		return nil, fmt.Errorf("failed to find %s documents: %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := []json.RawMessage{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
		}
		doc, err := encodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error for %s documents: %w", collection, err)
	}
	return docs, nil
}

// WithPinger replaces the plain primary ping, typically with one that also
// prepares indexes on first contact
func (r *RemoteStore) WithPinger(ping func(ctx context.Context) error) *RemoteStore {
	r.pinger = ping
	return r
}

// Ping checks the connection
func (r *RemoteStore) Ping(ctx context.Context) error {
	if r.pinger != nil {
		return r.pinger(ctx)
	}
	return r.db.Client().Ping(ctx, readpref.Primary())
}

func (r *RemoteStore) idForKey(ctx context.Context, coll *mongo.Collection, key string) (int64, bool, error) {
	var existing struct {
		ID int64 `bson:"_id"`
	}
	err := coll.FindOne(ctx, bson.M{opKeyField: key}, options.FindOne().SetProjection(bson.M{"_id": 1})).Decode(&existing)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to look up operation key in %s: %w", coll.Name(), err)
	}
	return existing.ID, true, nil
}

func (r *RemoteStore) nextID(ctx context.Context, collection string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.db.Collection(CountersCollectionName).FindOneAndUpdate(ctx,
		bson.M{"_id": collection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id for %s: %w", collection, err)
	}
	return counter.Seq, nil
}

var mongoOperators = map[record.Operator]string{
	record.OpGt:  "$gt",
	record.OpGte: "$gte",
	record.OpLt:  "$lt",
	record.OpLte: "$lte",
}

func buildFilter(q record.Query) (bson.M, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter := bson.M{}
	for _, f := range q.Filters {
		field := f.Field
		if field == "id" {
			field = "_id"
		}
		value := normalizeValue(f.Value)
		if f.Op == record.OpEq {
			filter[field] = mergeCondition(filter[field], bson.M{"$eq": value})
			continue
		}
		filter[field] = mergeCondition(filter[field], bson.M{mongoOperators[f.Op]: value})
	}
	return filter, nil
}

func mergeCondition(existing any, cond bson.M) bson.M {
	current, ok := existing.(bson.M)
	if !ok {
		return cond
	}
	for k, v := range cond {
		current[k] = v
	}
	return current
}

func findOptions(q record.Query) *options.FindOptions {
	dir := 1
	if q.Desc {
		dir = -1
	}
	sort := bson.D{}
	switch q.OrderBy {
	case "", "id":
		sort = append(sort, bson.E{Key: "_id", Value: dir})
	default:
		sort = append(sort, bson.E{Key: q.OrderBy, Value: dir}, bson.E{Key: "_id", Value: 1})
	}
	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

// decodeDocument converts JSON into a bson document keeping integers as int64
func decodeDocument(raw json.RawMessage) (bson.M, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	out := bson.M{}
	for k, v := range fields {
		out[k] = normalizeValue(v)
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		f, _ := n.Float64()
		return f
	case int:
		return int64(n)
	case map[string]any:
		out := bson.M{}
		for k, inner := range n {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, inner := range n {
			out[i] = normalizeValue(inner)
		}
		return out
	}
	return v
}

// encodeDocument renders a stored document as JSON with id in place of _id
func encodeDocument(raw bson.M) (json.RawMessage, error) {
	raw["id"] = raw["_id"]
	delete(raw, "_id")
	delete(raw, opKeyField)
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return b, nil
}

var _ record.Remote = (*RemoteStore)(nil)
