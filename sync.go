package offlinecache

import (
	"context"
	"log/slog"
)

type onlineStatusPayload struct {
	IsOnline bool `json:"isOnline"`
}

// HandleSync reacts to a reconnection signal. The configured sync tag makes
// every connected client hear that the network is back; resubmitting work
// is up to them. It returns how many clients were told.
func (w *Worker) HandleSync(_ context.Context, tag string) int {
	if tag != w.cfg.SyncTag {
		w.logger.Debug("Ignored sync tag", slog.String("tag", tag))
		return 0
	}
	notified := w.clients.Broadcast(Message{
		Type:    MessageOnlineStatus,
		Payload: mustJSON(onlineStatusPayload{IsOnline: true}),
	}, true)
	w.logger.Info("Broadcast online status", slog.String("tag", tag), slog.Int("clients", notified))
	return notified
}
