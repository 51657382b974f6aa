package storage

import (
	"context"

	"pendingScope/internal/model"
)

// Storage defines a sink for received frames.
type Storage interface {
	PutFrames(ctx context.Context, frames []model.Frame) error
}
