package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbright/teller/internal/fsm"
	"github.com/rbright/teller/internal/logging"
	"github.com/rbright/teller/internal/sessionstore"
)

// StaleStore is the part of sessionstore.Store used at boot.
type StaleStore interface {
	Load(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// DiscardStale ends a session id left behind by a previous run: the bank is asked to log it out
// on a best-effort basis and the stored id is removed, so the next customer must authenticate.
// It reports whether a stale id was found.
func DiscardStale(ctx context.Context, stored StaleStore, logout func(ctx context.Context, sessionID string) error, logger *slog.Logger) (bool, error) {
	logger = logging.OrDiscard(logger)

	id, err := stored.Load(ctx)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load stored session: %w", err)
	}

	if logout != nil {
		if err := logout(ctx, id); err != nil {
			logger.Info("stale session logout failed", "error", err)
		}
	}
	if err := stored.Clear(ctx); err != nil {
		return true, fmt.Errorf("clear stale session: %w", err)
	}
	logger.Info("discarded stale session")
	return true, nil
}

// SessionHolder is a remote client that attaches a session id to its calls.
type SessionHolder interface {
	SetSessionID(id string)
}

// ForgetEndedSession returns an observer that drops the client's session id whenever a
// transition ends the session, so later calls never carry it.
func ForgetEndedSession(client SessionHolder) Observer {
	return func(prev, next fsm.State, _ fsm.Event) {
		if fsm.SessionEnded(prev, next) {
			client.SetSessionID("")
		}
	}
}
