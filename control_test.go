package offlinecache

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func readEvent(t *testing.T, reader *bufio.Reader) Message {
	t.Helper()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		return msg
	}
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestEventStreamDeliversMessages(t *testing.T) {
	worker, _ := newActiveWorker(t, newFakeNetwork(), nil)
	server := httptest.NewServer(worker.Handler(passthrough))
	defer server.Close()

	resp, err := http.Get(server.URL + ControlPrefix + "/events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}
	reader := bufio.NewReader(resp.Body)

	hello := readEvent(t, reader)
	if hello.Type != MessageClient {
		t.Fatalf("type = %s, want %s", hello.Type, MessageClient)
	}
	var info struct {
		ID         string `json:"id"`
		Controlled bool   `json:"controlled"`
	}
	if err := json.Unmarshal(hello.Payload, &info); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if info.ID == "" || !info.Controlled {
		t.Fatalf("unexpected hello: %+v", info)
	}

	if r := post(t, server.URL+ControlPrefix+"/sync", `{"tag":"job-sync"}`); r.StatusCode != http.StatusAccepted {
		t.Fatalf("sync status = %d", r.StatusCode)
	}
	if msg := readEvent(t, reader); msg.Type != MessageOnlineStatus {
		t.Fatalf("type = %s, want %s", msg.Type, MessageOnlineStatus)
	}

	if r := post(t, server.URL+ControlPrefix+"/push", `{"title":"Done"}`); r.StatusCode != http.StatusAccepted {
		t.Fatalf("push status = %d", r.StatusCode)
	}
	if msg := readEvent(t, reader); msg.Type != MessageNotification {
		t.Fatalf("type = %s, want %s", msg.Type, MessageNotification)
	}
}

func TestControlMessageEndpoint(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/help", http.StatusOK, "help")
	worker, _ := newActiveWorker(t, network, nil)
	server := httptest.NewServer(worker.Handler(passthrough))
	defer server.Close()

	if r := post(t, server.URL+ControlPrefix+"/message", `{"type":"CACHE_URLS","payload":{"urls":["/help"]}}`); r.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", r.StatusCode)
	}
	network.setOffline(true)

	resp, err := http.Get(server.URL + "/help")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("X-Cache-Status") != "HIT" {
		t.Fatalf("expected HIT, got %s", resp.Header.Get("X-Cache-Status"))
	}

	if r := post(t, server.URL+ControlPrefix+"/message", `{"type":`); r.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", r.StatusCode)
	}
}

func TestNotificationClickEndpoint(t *testing.T) {
	worker, _ := newActiveWorker(t, newFakeNetwork(), nil)
	server := httptest.NewServer(worker.Handler(passthrough))
	defer server.Close()

	resp := post(t, server.URL+ControlPrefix+"/notificationclick",
		`{"action":"view","notification":{"title":"PAVI","data":{"url":"/result/9"}}}`)
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.URL != "/result/9" {
		t.Fatalf("url = %q, want %q", body.URL, "/result/9")
	}
}
