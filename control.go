package offlinecache

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ControlPrefix is where the foreground protocol endpoints are mounted.
const ControlPrefix = "/__offline"

// maxControlBody caps control request bodies.
const maxControlBody = 64 << 10

type syncRequest struct {
	Tag string `json:"tag"`
}

type notificationClickRequest struct {
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
}

type notificationClickResponse struct {
	URL string `json:"url"`
}

// Handler mounts the control endpoints next to the intercepting middleware
// wrapped around next.
func (w *Worker) Handler(next http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ControlPrefix+"/events", w.serveEvents)
	mux.HandleFunc("POST "+ControlPrefix+"/message", w.serveMessage)
	mux.HandleFunc("POST "+ControlPrefix+"/sync", w.serveSync)
	mux.HandleFunc("POST "+ControlPrefix+"/push", w.servePush)
	mux.HandleFunc("POST "+ControlPrefix+"/notificationclick", w.serveNotificationClick)
	mux.Handle("/", w.Middleware(next))
	return mux
}

// serveEvents streams messages for one client as server-sent events until
// the client goes away.
func (w *Worker) serveEvents(responseWriter http.ResponseWriter, request *http.Request) {
	controller := http.NewResponseController(responseWriter)
	client := w.clients.Connect()
	defer w.clients.Disconnect(client.ID)
	if w.State() == StateActivated {
		// pages opened after activation start out controlled
		client.controlled.Store(true)
	}

	responseWriter.Header().Set("Content-Type", "text/event-stream")
	responseWriter.Header().Set("Cache-Control", "no-cache")
	responseWriter.WriteHeader(http.StatusOK)

	hello := Message{Type: MessageClient, Payload: mustJSON(map[string]any{
		"id":         client.ID,
		"controlled": client.Controlled(),
	})}
	if err := writeEvent(responseWriter, controller, hello); err != nil {
		return
	}

	for {
		select {
		case <-request.Context().Done():
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			if err := writeEvent(responseWriter, controller, msg); err != nil {
				w.logger.Debug("Client stream closed", slog.String("clientID", client.ID), slog.Any("error", err))
				return
			}
		}
	}
}

func writeEvent(responseWriter http.ResponseWriter, controller *http.ResponseController, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(responseWriter, "data: %s\n\n", raw); err != nil {
		return err
	}
	return controller.Flush()
}

func (w *Worker) serveMessage(responseWriter http.ResponseWriter, request *http.Request) {
	var msg Message
	if !decodeControlBody(responseWriter, request, &msg) {
		return
	}
	if err := w.HandleMessage(request.Context(), msg); err != nil {
		w.logger.Error("Failed to handle message", slog.String("type", msg.Type), slog.Any("error", err))
	}
	responseWriter.WriteHeader(http.StatusAccepted)
}

func (w *Worker) serveSync(responseWriter http.ResponseWriter, request *http.Request) {
	var body syncRequest
	if !decodeControlBody(responseWriter, request, &body) {
		return
	}
	w.HandleSync(request.Context(), body.Tag)
	responseWriter.WriteHeader(http.StatusAccepted)
}

func (w *Worker) servePush(responseWriter http.ResponseWriter, request *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(responseWriter, request.Body, maxControlBody))
	if err != nil {
		http.Error(responseWriter, "push payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	w.HandlePush(request.Context(), data)
	responseWriter.WriteHeader(http.StatusAccepted)
}

func (w *Worker) serveNotificationClick(responseWriter http.ResponseWriter, request *http.Request) {
	var body notificationClickRequest
	if !decodeControlBody(responseWriter, request, &body) {
		return
	}
	target := w.HandleNotificationClick(request.Context(), body.Action, body.Notification)

	responseWriter.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(responseWriter).Encode(notificationClickResponse{URL: target})
}

func decodeControlBody(responseWriter http.ResponseWriter, request *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(responseWriter, request.Body, maxControlBody))
	if err := decoder.Decode(target); err != nil {
		http.Error(responseWriter, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
