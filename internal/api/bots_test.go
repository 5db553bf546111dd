package api

import (
	"net/http"
	"testing"
)

func TestCreateAndListBots(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var createResp struct {
		Bot struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"bot"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots", token, map[string]any{
		"strategy_id":   "strat-1",
		"connection_id": "conn-1",
		"symbol":        "BTCUSDT",
		"base_qty":      0.01,
	}, &createResp)
	if status != http.StatusCreated {
		t.Fatalf("create bot status=%d", status)
	}
	if createResp.Bot.ID == "" {
		t.Fatalf("expected created bot id")
	}
	if createResp.Bot.Status != "PAUSED" {
		t.Fatalf("expected new bot to start PAUSED, got %s", createResp.Bot.Status)
	}

	var listResp struct {
		Bots []struct {
			ID string `json:"id"`
		} `json:"bots"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/bots", token, nil, &listResp)
	if status != http.StatusOK {
		t.Fatalf("list bots status=%d", status)
	}
	if len(listResp.Bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(listResp.Bots))
	}
}

func TestCreateBotValidation(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var resp struct {
		Code string `json:"code"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots", token, map[string]any{
		"strategy_id":   "strat-1",
		"connection_id": "conn-1",
		"symbol":        "BTCUSDT",
		"base_qty":      0,
	}, &resp)
	if status != http.StatusBadRequest || resp.Code != "INVALID_REQUEST" {
		t.Fatalf("expected validation error, got status=%d resp=%+v", status, resp)
	}
}

func TestStartBotWithoutManagerReturns503(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var createResp struct {
		Bot struct {
			ID string `json:"id"`
		} `json:"bot"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots", token, map[string]any{
		"strategy_id":   "strat-1",
		"connection_id": "conn-1",
		"symbol":        "BTCUSDT",
		"base_qty":      0.01,
	}, &createResp)
	if status != http.StatusCreated {
		t.Fatalf("create bot status=%d", status)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots/"+createResp.Bot.ID+"/start", token, nil, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no bot manager wired, got %d", status)
	}
}

func TestStartBotForeignBotIsForbidden(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	ownerToken := registerAndLogin(t, client, ts.URL)

	var createResp struct {
		Bot struct {
			ID string `json:"id"`
		} `json:"bot"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots", ownerToken, map[string]any{
		"strategy_id":   "strat-1",
		"connection_id": "conn-1",
		"symbol":        "BTCUSDT",
		"base_qty":      0.01,
	}, &createResp)
	if status != http.StatusCreated {
		t.Fatalf("create bot status=%d", status)
	}

	otherToken := registerSecondUserAndLogin(t, client, ts.URL)
	var resp struct {
		Code string `json:"code"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/bots/"+createResp.Bot.ID+"/stop", otherToken, nil, &resp)
	if status != http.StatusNotFound && status != http.StatusForbidden {
		t.Fatalf("expected not-found/forbidden for foreign bot, got %d", status)
	}
}

func TestCreateAndListRiskLimitsAndAlerts(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var createResp struct {
		Limit struct {
			ID string `json:"id"`
		} `json:"limit"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/risk/limits", token, map[string]any{
		"kind":               "DAILY_LOSS",
		"threshold_value":    500.0,
		"warning_threshold":  80.0,
		"critical_threshold": 95.0,
	}, &createResp)
	if status != http.StatusCreated {
		t.Fatalf("create risk limit status=%d", status)
	}
	if createResp.Limit.ID == "" {
		t.Fatalf("expected created limit id")
	}

	var listResp struct {
		Limits []struct {
			ID string `json:"id"`
		} `json:"limits"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/risk/limits", token, nil, &listResp)
	if status != http.StatusOK {
		t.Fatalf("list risk limits status=%d", status)
	}
	if len(listResp.Limits) != 1 {
		t.Fatalf("expected 1 limit, got %d", len(listResp.Limits))
	}

	var alertsResp struct {
		Alerts []any `json:"alerts"`
	}
	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/risk/alerts", token, nil, &alertsResp)
	if status != http.StatusOK {
		t.Fatalf("list risk alerts status=%d", status)
	}
	if len(alertsResp.Alerts) != 0 {
		t.Fatalf("expected no alerts yet, got %d", len(alertsResp.Alerts))
	}
}

func TestJobEndpointsWithoutQueueReturn503OrNotFound(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()

	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/jobs/dead-letter", token, nil, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no job queue wired, got %d", status)
	}

	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/jobs/queue-depth", token, nil, nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no job queue wired, got %d", status)
	}

	status = doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/v1/jobs/nonexistent-id", token, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job id, got %d", status)
	}
}
