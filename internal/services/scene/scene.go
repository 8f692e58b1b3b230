// Package scene hands frames to the external scene-analysis service: the
// frame goes to object storage and a request referencing it goes to Kafka.
package scene

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, sessionID, name string, image []byte) (string, error)
}

type RequestPublisher interface {
	PublishSceneRequest(ctx context.Context, req models.SceneRequest) error
}

type Analyzer struct {
	store     SnapshotStore
	publisher RequestPublisher
	clock     clock.Clock
}

func NewAnalyzer(store SnapshotStore, publisher RequestPublisher, clk clock.Clock) *Analyzer {
	if clk == nil {
		clk = clock.New()
	}
	return &Analyzer{store: store, publisher: publisher, clock: clk}
}

// AnalyzeScene is one-way: the assessment is produced elsewhere.
func (a *Analyzer) AnalyzeScene(ctx context.Context, sessionID string, frame []byte, reason string) error {
	req := models.SceneRequest{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Reason:      reason,
		RequestedAt: a.clock.Now().UTC(),
	}

	ref, err := a.store.SaveSnapshot(ctx, sessionID, "scene-"+req.ID, frame)
	if err != nil {
		return errors.Wrap(err, "store scene frame")
	}
	req.SnapshotRef = ref

	return errors.Wrap(a.publisher.PublishSceneRequest(ctx, req), "publish scene request")
}
