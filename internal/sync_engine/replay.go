package sync_engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/till-ledger/internal/domain/pending"
	"github.com/till-ledger/internal/domain/record"
)

// replay sends one operation to the remote store and removes it from the queue
func (e *Engine) replay(ctx context.Context, op *pending.Operation) error {
	id, err := e.resolveID(ctx, op)
	if err != nil {
		return err
	}
	payload, err := e.resolvePayload(ctx, op)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch op.Kind {
	case pending.KindInsert:
		realID, err := e.deps.Remote.Insert(callCtx, op.Collection, op.Key.String(), payload)
		if err != nil {
			return fmt.Errorf("insert into %s: %w", op.Collection, err)
		}
		if record.IsTemporary(op.RecordID) {
			if err := e.remap(ctx, op, realID); err != nil {
				return err
			}
		}
		id = realID
	case pending.KindUpdate:
		if err := e.deps.Remote.Update(callCtx, op.Collection, id, payload); err != nil {
			return fmt.Errorf("update %s %d: %w", op.Collection, id, err)
		}
	case pending.KindDelete:
		err := e.deps.Remote.Delete(callCtx, op.Collection, id)
		if err != nil && !errors.As(err, &record.ErrDocumentNotFound{}) {
			return fmt.Errorf("delete %s %d: %w", op.Collection, id, err)
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if err := e.deps.Queue.Remove(ctx, op.Seq); err != nil {
		return fmt.Errorf("remove replayed operation %d: %w", op.Seq, err)
	}
	e.announce(ctx, op, id)
	return nil
}

// remap persists the confirmed identifier before anything else can observe it
func (e *Engine) remap(ctx context.Context, op *pending.Operation, realID int64) error {
	if err := e.deps.Remaps.Save(ctx, op.Collection, op.RecordID, realID); err != nil {
		return fmt.Errorf("save remap %s %d: %w", op.Collection, op.RecordID, err)
	}
	if e.deps.Registry == nil {
		return nil
	}
	if err := e.deps.Registry.BroadcastRemap(ctx, op.Collection, op.RecordID, realID); err != nil {
		// the remap table is authoritative; views catch up on the next refresh
		e.logger.Error("Failed to apply remap to cached views",
			"collection", op.Collection,
			"temp_id", op.RecordID,
			"real_id", realID,
			"error", err,
		)
	}
	return nil
}

func (e *Engine) resolveID(ctx context.Context, op *pending.Operation) (int64, error) {
	if op.Kind == pending.KindInsert || !record.IsTemporary(op.RecordID) {
		return op.RecordID, nil
	}
	realID, ok, err := e.deps.Remaps.Resolve(ctx, op.Collection, op.RecordID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, pending.ErrUnresolvedReference{Collection: op.Collection, Field: "id", TempID: op.RecordID}
	}
	return realID, nil
}

// resolvePayload rewrites every declared reference field holding a temporary
// identifier with the confirmed one
func (e *Engine) resolvePayload(ctx context.Context, op *pending.Operation) (json.RawMessage, error) {
	if len(op.Payload) == 0 || len(op.Refs) == 0 {
		return op.Payload, nil
	}

	dec := json.NewDecoder(bytes.NewReader(op.Payload))
	dec.UseNumber()
	fields := map[string]any{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode payload of operation %d: %w", op.Seq, err)
	}

	changed := false
	for field, target := range op.Refs {
		n, ok := fields[field].(json.Number)
		if !ok {
			continue
		}
		tempID, err := n.Int64()
		if err != nil || !record.IsTemporary(tempID) {
			continue
		}
		realID, found, err := e.deps.Remaps.Resolve(ctx, target, tempID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, pending.ErrUnresolvedReference{Collection: target, Field: field, TempID: tempID}
		}
		fields[field] = realID
		changed = true
	}
	if !changed {
		return op.Payload, nil
	}
	return json.Marshal(fields)
}

// announce publishes the confirmed operation for other terminals. Best effort.
func (e *Engine) announce(ctx context.Context, op *pending.Operation, id int64) {
	if e.deps.Events == nil {
		return
	}
	event := pending.SyncEvent{
		Type:       pending.EventReplayed,
		TerminalID: e.terminalID,
		OpKey:      op.Key.String(),
		Kind:       op.Kind,
		Collection: op.Collection,
		RecordID:   id,
		At:         time.Now().UTC(),
	}
	if op.Kind == pending.KindInsert && record.IsTemporary(op.RecordID) {
		event.Type = pending.EventRemapped
		event.TempID = op.RecordID
	}
	if err := e.deps.Events.PublishSyncEvent(ctx, event); err != nil {
		e.logger.Warn("Failed to publish sync event", "op_key", event.OpKey, "error", err)
	}
}
