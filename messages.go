package offlinecache

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Message types exchanged with foreground clients.
const (
	// MessageSkipWaiting activates an installed worker that is waiting.
	MessageSkipWaiting = "SKIP_WAITING"
	// MessageCacheURLs adds {urls} to the current namespace.
	MessageCacheURLs = "CACHE_URLS"
	// MessageClearCache deletes the current namespace.
	MessageClearCache = "CLEAR_CACHE"

	MessageOnlineStatus     = "ONLINE_STATUS"
	MessageNotification     = "NOTIFICATION"
	MessageOpenWindow       = "OPEN_WINDOW"
	MessageControllerChange = "CONTROLLER_CHANGE"
	MessageClient           = "CLIENT"
)

// Message is the {type, payload} envelope of the foreground protocol.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type cacheURLsPayload struct {
	URLs []string `json:"urls"`
}

// HandleMessage applies a message sent by a foreground client. Unknown types
// are ignored.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) error {
	switch msg.Type {
	case MessageSkipWaiting:
		return w.SkipWaiting(ctx)

	case MessageCacheURLs:
		var payload cacheURLsPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				return invalidInput(err, "decode CACHE_URLS payload")
			}
		}
		urls := make([]string, 0, len(payload.URLs))
		for _, target := range payload.URLs {
			if !w.sameOrigin(target) {
				w.logger.Warn("Skipped cross-origin url", slog.String("url", target))
				continue
			}
			urls = append(urls, target)
		}
		if len(urls) == 0 {
			return nil
		}
		if err := w.precache(ctx, urls); err != nil {
			w.logger.Error("Failed to cache urls", slog.Any("urls", urls), slog.Any("error", err))
			return err
		}
		return nil

	case MessageClearCache:
		if _, err := w.store.Delete(ctx, w.cfg.CacheName); err != nil {
			return storageFailure(err, "delete")
		}
		w.logger.Info("Cleared namespace", slog.String("cacheName", w.cfg.CacheName))
		return nil

	default:
		w.logger.Debug("Ignored message", slog.String("type", msg.Type))
		return nil
	}
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
