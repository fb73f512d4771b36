package sync_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/till-ledger/internal/domain/pending"
)

// RefreshHandler handles sync events published by other terminals
type RefreshHandler struct {
	refresher  *Refresher
	terminalID string
	logger     *slog.Logger
}

func NewRefreshHandler(logger *slog.Logger, terminalID string, refresher *Refresher) *RefreshHandler {
	return &RefreshHandler{
		refresher:  refresher,
		terminalID: terminalID,
		logger:     logger.With("component", "refresh_handler"),
	}
}

// HandleMessage refreshes the collection named by the event. Malformed events
// are dropped so they cannot block the partition.
func (h *RefreshHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event pending.SyncEvent
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error("Dropping malformed sync event", "message_key", string(key), "error", err)
		return nil
	}
	if event.TerminalID == h.terminalID {
		return nil
	}

	logger := h.logger.With("collection", event.Collection, "origin", event.TerminalID, "op_key", event.OpKey)
	if err := h.refresher.Refresh(ctx, event.Collection); err != nil {
		logger.Error("Failed to refresh collection after remote change", "error", err)
		return fmt.Errorf("refresh %s after sync event %s: %w", event.Collection, event.OpKey, err)
	}
	logger.Debug("Refreshed collection after remote change", "type", event.Type)
	return nil
}
