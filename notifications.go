package offlinecache

import (
	"context"
	"encoding/json"
	"log/slog"
)

const (
	defaultNotificationTitle = "PAVI"
	defaultNotificationBody  = "Your alignment job has completed"
	defaultNotificationTag   = "pavi-notification"

	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// NotificationAction is a button shown on a notification.
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what the worker asks the Notifier to display.
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	Icon    string               `json:"icon,omitempty"`
	Badge   string               `json:"badge,omitempty"`
	Tag     string               `json:"tag"`
	Data    any                  `json:"data,omitempty"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// URL returns data.url when data is an object holding a string url.
func (n Notification) URL() string {
	data, ok := n.Data.(map[string]any)
	if !ok {
		return ""
	}
	if url, ok := data["url"].(string); ok {
		return url
	}
	return ""
}

// Notifier displays notifications.
type Notifier interface {
	ShowNotification(ctx context.Context, notification Notification) error
}

// ClientNotifier shows notifications by posting them to every connected client.
type ClientNotifier struct {
	Clients *Clients
}

func (n ClientNotifier) ShowNotification(_ context.Context, notification Notification) error {
	n.Clients.Broadcast(Message{Type: MessageNotification, Payload: mustJSON(notification)}, true)
	return nil
}

// HandlePush turns a push message into a notification. Empty, null or
// unparsable payloads are dropped without a notification; data is passed
// through as is. It reports whether a notification was shown.
func (w *Worker) HandlePush(ctx context.Context, data []byte) bool {
	if len(data) == 0 {
		return false
	}

	// any JSON value is accepted; fields of the wrong type take their defaults
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		w.logger.Error("Error showing notification", slog.Any("error", invalidInput(err, "decode push payload")))
		return false
	}
	fields, _ := payload.(map[string]any)

	notification := Notification{
		Title: orDefault(stringField(fields, "title"), defaultNotificationTitle),
		Body:  orDefault(stringField(fields, "body"), defaultNotificationBody),
		Icon:  "/icons/icon-192x192.png",
		Badge: "/icons/badge-72x72.png",
		Tag:   orDefault(stringField(fields, "tag"), defaultNotificationTag),
		Data:  fields["data"],
		Actions: []NotificationAction{
			{Action: ActionView, Title: "View Results"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
	}
	if err := w.cfg.Notifier.ShowNotification(ctx, notification); err != nil {
		w.logger.Error("Error showing notification", slog.String("tag", notification.Tag), slog.Any("error", err))
		return false
	}
	return true
}

// HandleNotificationClick opens the page a click leads to and returns its
// URL, or "" for a dismissal.
func (w *Worker) HandleNotificationClick(_ context.Context, action string, notification Notification) string {
	var target string
	switch {
	case action == ActionView && notification.URL() != "":
		target = notification.URL()
	case action != ActionDismiss:
		target = "/"
	default:
		return ""
	}
	w.clients.Broadcast(Message{Type: MessageOpenWindow, Payload: mustJSON(map[string]string{"url": target})}, true)
	return target
}

func stringField(fields map[string]any, name string) string {
	value, _ := fields[name].(string)
	return value
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
