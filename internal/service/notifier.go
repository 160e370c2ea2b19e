package service

import (
	"context"

	"github.com/onlyif/messaging/internal/models"
)

// Notifier fans committed events out to realtime subscribers
type Notifier interface {
	Publish(ctx context.Context, event models.WSMessage) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, models.WSMessage) error { return nil }
