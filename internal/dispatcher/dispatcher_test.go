package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/corvid-core/internal/corvidlog"
	"github.com/corvidlabs/corvid-core/internal/eventbus"
	"github.com/corvidlabs/corvid-core/internal/idgen"
	"github.com/corvidlabs/corvid-core/internal/pagehost"
	"github.com/corvidlabs/corvid-core/internal/pagemanager"
	"github.com/corvidlabs/corvid-core/internal/windowpool"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	bus := eventbus.New()
	log := corvidlog.Nop()
	pool := windowpool.New(windowpool.Config{
		MinPoolSize: 0, MaxPoolSize: 20, WarmupDelay: time.Millisecond,
		HealthCheckInterval: time.Minute, MaxIdleTime: time.Hour,
	}, func() (pagehost.Host, error) {
		return pagehost.NewFakeHost(idgen.Prefixed("host")), nil
	}, bus, log)
	pool.Warmup(5)
	time.Sleep(25 * time.Millisecond)

	pages := pagemanager.New(pool, "balanced", bus, log)
	t.Cleanup(pages.Shutdown)

	components := &Components{
		Pages:     pages,
		Recorders: NewRecorderRegistry(bus, log),
		Bus:       bus,
		Log:       log,
	}
	return New(components)
}

func frame(t *testing.T, m map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return raw
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestHandleMessageUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "x", "command": "nonexistent_verb",
	})))
	require.Equal(t, "x", resp["id"])
	require.Equal(t, false, resp["success"])
	require.Contains(t, resp["error"], "Unknown command")
	require.Equal(t, "UnknownCommand", resp["kind"])
}

func TestHandleMessageEmptyCommand(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{"id": "x"})))
	require.Equal(t, false, resp["success"])
	require.Equal(t, "ArgumentMissing", resp["kind"])
}

func TestHandleMessageMalformedFrame(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", []byte("not json")))
	require.Equal(t, "", resp["id"])
	require.Equal(t, false, resp["success"])
	require.Equal(t, "ArgumentInvalid", resp["kind"])
}

func TestHandleMessageMissingRequiredArg(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "x", "command": "navigate",
	})))
	require.Equal(t, false, resp["success"])
	require.Equal(t, "ArgumentMissing", resp["kind"])
}

func TestHandleMessagePingSucceeds(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "ping",
	})))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "pong", resp["message"])
}

func TestHandleMessageNavigateCreatesActivePage(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "2", "command": "navigate", "url": "https://example.com",
	})))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "https://example.com", resp["url"])
	require.NotEmpty(t, resp["pageId"])
}

func TestHandleMessageGetCookiesRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	navResp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "navigate", "url": "https://example.com",
	})))
	pageID := navResp["pageId"].(string)

	setResp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "2", "command": "set_cookies", "pageId": pageID,
		"cookies": []any{map[string]any{"name": "sid", "value": "abc", "domain": "example.com"}},
	})))
	require.Equal(t, true, setResp["success"])

	getResp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "3", "command": "get_cookies", "pageId": pageID,
	})))
	require.Equal(t, true, getResp["success"])
	cookies, _ := getResp["cookies"].([]any)
	require.Len(t, cookies, 1)
}

func TestHandleMessageBrowserAliasResolves(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "browser_ping",
	})))
	require.Equal(t, true, resp["success"])
	require.Equal(t, "pong", resp["message"])
}

func TestHandleMessageListTabs(t *testing.T) {
	d := newTestDispatcher(t)
	_ = decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "navigate", "url": "https://a.example",
	})))
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "2", "command": "list_tabs",
	})))
	require.Equal(t, true, resp["success"])
	tabs, _ := resp["tabs"].([]any)
	require.Len(t, tabs, 1)
}

func TestHandleMessageRecordingLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	start := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "recording_start",
	})))
	require.Equal(t, true, start["success"])
	recordingID := start["recordingId"].(string)

	stop := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "2", "command": "recording_stop", "recordingId": recordingID,
	})))
	require.Equal(t, true, stop["success"])

	export := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "3", "command": "recording_export", "recordingId": recordingID, "dialect": "json",
	})))
	require.Equal(t, true, export["success"])
	require.NotEmpty(t, export["export"])
}

func TestHandleMessageKeyboardLayoutsAndSpecialKeys(t *testing.T) {
	d := newTestDispatcher(t)
	resp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "1", "command": "keyboard_layouts",
	})))
	require.Equal(t, true, resp["success"])
	layouts, _ := resp["layouts"].([]any)
	require.NotEmpty(t, layouts)

	keysResp := decode(t, d.HandleMessage(context.Background(), "c1", frame(t, map[string]any{
		"id": "2", "command": "special_keys",
	})))
	require.Equal(t, true, keysResp["success"])
	keys, _ := keysResp["keys"].([]any)
	require.NotEmpty(t, keys)
}
