package service

import (
	"context"

	"datalake/internal/mq"

	"go.uber.org/zap"
)

// publish reports a created or updated blob. Failures are logged and
// returned so the caller can undo optimistic side effects.
func (d *Datalake) publish(ctx context.Context, kind mq.EventKind, workspace string, head *BlobHead) error {
	size := head.Size
	event := mq.Event{
		Kind:        kind,
		Workspace:   workspace,
		Name:        head.Name,
		Size:        &size,
		ContentType: head.ContentType,
		ETag:        head.ETag,
	}
	if !head.LastModified.IsZero() {
		event.LastModified = head.LastModified.UnixMilli()
	}
	if err := d.events.Publish(ctx, event); err != nil {
		d.log.Warn("failed to publish blob event",
			zap.String("kind", string(kind)),
			zap.String("workspace", workspace),
			zap.String("name", head.Name),
			zap.Error(err))
		return err
	}
	return nil
}

func (d *Datalake) publishDeleted(ctx context.Context, workspace string, names []string) {
	for _, name := range names {
		err := d.events.Publish(ctx, mq.Event{Kind: mq.EventDeleted, Workspace: workspace, Name: name})
		if err != nil {
			d.log.Warn("failed to publish blob event",
				zap.String("kind", string(mq.EventDeleted)),
				zap.String("workspace", workspace),
				zap.String("name", name),
				zap.Error(err))
		}
	}
}
