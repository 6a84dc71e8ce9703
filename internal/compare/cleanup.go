package compare

import (
	"fmt"

	"go.uber.org/zap"

	"document-portal/internal/apperr"
)

// CleanOldSessions keeps the keep most recently created comparison sessions and
// removes the rest. The session named current is never removed.
func (e *Engine) CleanOldSessions(keep int, current string) ([]string, error) {
	if keep < 0 {
		return nil, apperr.Validation("clean sessions", fmt.Sprintf("keep must not be negative, got %d", keep))
	}
	sessions, err := e.sessions.List()
	if err != nil {
		return nil, err
	}
	if len(sessions) <= keep {
		return nil, nil
	}

	var removed []string
	for _, s := range sessions[:len(sessions)-keep] {
		if s.ID == current {
			continue
		}
		if err := e.sessions.Remove(s.ID); err != nil {
			return removed, err
		}
		removed = append(removed, s.ID)
	}
	if len(removed) > 0 {
		e.log.Info("old comparison sessions removed", zap.Int("removed", len(removed)), zap.Int("kept", len(sessions)-len(removed)))
	}
	return removed, nil
}
