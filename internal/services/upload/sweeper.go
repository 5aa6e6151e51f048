package upload

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
)

const expiredMessage = "expired"

// Sweep marks every non-terminal session idle for longer than the idle
// timeout as failed and removes its staged chunks. It returns the number of
// sessions expired.
func (t *Tracker) Sweep(ctx context.Context, now time.Time) int {
	if t.idleTimeout <= 0 {
		return 0
	}

	t.mu.RLock()
	candidates := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		candidates = append(candidates, s)
	}
	t.mu.RUnlock()

	var expired []uuid.UUID
	for _, s := range candidates {
		s.mu.Lock()
		if s.status.Terminal() || now.Sub(s.lastActivity()) < t.idleTimeout {
			s.mu.Unlock()
			continue
		}
		s.status = models.UploadStatusFailed
		s.errMessage = expiredMessage
		if err := t.disk.RemoveStaging(s.id.String()); err != nil {
			logging.Warn().Err(err).Str("upload_id", s.id.String()).Msg("failed to remove staging area")
		}
		expired = append(expired, s.id)
		s.mu.Unlock()
	}

	for _, id := range expired {
		logging.Info().Str("upload_id", id.String()).Dur("idle_timeout", t.idleTimeout).Msg("upload expired")
		t.publish(ctx, notification.EventUploadExpired, id.String(), map[string]string{"error": expiredMessage})
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	if t.idleTimeout <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep(ctx, t.now())
			}
		}
	}()
}
