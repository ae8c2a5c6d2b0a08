//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestSessionLifecycleOverMessages(t *testing.T) {
	id := tabID(t)

	res := env.message(t, map[string]any{"action": "getState", "tabId": id})
	if !res.Success || res.State == nil || res.State.TabID != id {
		t.Fatalf("getState = %+v", res)
	}
	if res.State.IsActive || res.State.IsLoading {
		t.Fatalf("new session = %+v; want idle", res.State)
	}

	res = env.message(t, map[string]any{"action": "setState", "tabId": id, "state": map[string]any{"isLoading": true}})
	if !res.Success || res.State == nil || !res.State.IsLoading {
		t.Fatalf("setState loading = %+v", res)
	}
	res = env.message(t, map[string]any{"action": "setState", "tabId": id, "state": map[string]any{"isActive": true}})
	if res.State == nil || res.State.IsLoading || !res.State.IsActive {
		t.Fatalf("setState active = %+v; loading and active must not coexist", res.State)
	}

	resp := env.GET(t, "/api/v1/tabs/"+id)
	requireStatus(t, resp, http.StatusOK)
	info := decodeJSON[struct {
		tabState
		Connected bool `json:"connected"`
	}](t, resp)
	requireField(t, info.IsActive, true, "isActive")
	requireField(t, info.Connected, false, "connected")

	resp = env.DELETE(t, "/api/v1/tabs/"+id)
	requireStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = env.GET(t, "/api/v1/tabs/"+id)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestTabScopedActionsNeedTab(t *testing.T) {
	res := env.message(t, map[string]any{"action": "translate", "videoUrl": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"})
	requireField(t, res.Success, false, "success")
	requireField(t, res.Code, "VALIDATION", "code")
}

func TestUnknownAction(t *testing.T) {
	res := env.message(t, map[string]any{"action": "launchRockets"})
	requireField(t, res.Code, "UNKNOWN_ACTION", "code")
}

func TestCancelIdleTab(t *testing.T) {
	id := tabID(t)
	resp := env.POST(t, "/api/v1/tabs/"+id+"/cancel", nil)
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[struct {
		Message string `json:"message"`
	}](t, resp)
	requireField(t, res.Message, "not loading", "message")
}

func TestToggleWithoutPage(t *testing.T) {
	id := tabID(t)
	resp := env.POST(t, "/api/v1/tabs/"+id+"/toggle", nil)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

// TestTranslateLive runs a real translation. It needs a reachable backend
// and SUBTITLED_IT_VIDEO_URL.
func TestTranslateLive(t *testing.T) {
	if env.VideoURL == "" || !env.BackendReady {
		t.Skip("set SUBTITLED_IT_VIDEO_URL with a connected backend to run")
	}
	id := tabID(t)
	res := env.message(t, map[string]any{"action": "translate", "tabId": id, "videoUrl": env.VideoURL})
	if !res.Success || res.Data == nil || res.Data.TotalSegments == 0 {
		t.Fatalf("translate = %+v", res)
	}

	state := env.message(t, map[string]any{"action": "getState", "tabId": id}).State
	if state == nil || !state.IsActive || state.TotalSegments != res.Data.TotalSegments {
		t.Fatalf("state after translate = %+v", state)
	}
}
