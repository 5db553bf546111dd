package api

import (
	"net/http"
	"testing"
)

func TestLoginReturnsAccessAndRefreshTokens(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()

	var regResp struct {
		UserID string `json:"user_id"`
	}
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/register", "", map[string]string{
		"email":    "refresh-user@example.com",
		"password": "StrongPass123!",
	}, &regResp)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d", status)
	}

	var loginResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", "", map[string]string{
		"email":    "refresh-user@example.com",
		"password": "StrongPass123!",
	}, &loginResp)
	if status != http.StatusOK || loginResp.AccessToken == "" || loginResp.RefreshToken == "" {
		t.Fatalf("login status=%d resp=%+v", status, loginResp)
	}

	var refreshResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": loginResp.RefreshToken,
	}, &refreshResp)
	if status != http.StatusOK || refreshResp.AccessToken == "" || refreshResp.RefreshToken == "" {
		t.Fatalf("refresh status=%d resp=%+v", status, refreshResp)
	}
	if refreshResp.AccessToken == loginResp.AccessToken {
		t.Fatalf("expected rotated access token")
	}
}

func TestRefreshTokenCannotBeReplayed(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()

	var regResp struct {
		UserID string `json:"user_id"`
	}
	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/register", "", map[string]string{
		"email":    "replay-user@example.com",
		"password": "StrongPass123!",
	}, &regResp)

	var loginResp struct {
		RefreshToken string `json:"refresh_token"`
	}
	doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/login", "", map[string]string{
		"email":    "replay-user@example.com",
		"password": "StrongPass123!",
	}, &loginResp)

	var out map[string]any
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": loginResp.RefreshToken,
	}, &out)
	if status != http.StatusOK {
		t.Fatalf("first refresh status=%d", status)
	}

	status = doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": loginResp.RefreshToken,
	}, &out)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected replayed refresh token to be rejected, got status=%d", status)
	}
}

func TestAccessTokenRejectedAtRefreshEndpoint(t *testing.T) {
	ts, cleanup := newTestAPIServer(t)
	defer cleanup()
	client := ts.Client()
	token := registerAndLogin(t, client, ts.URL)

	var out map[string]any
	status := doJSONRequest(t, client, http.MethodPost, ts.URL+"/api/v1/auth/refresh", "", map[string]string{
		"refresh_token": token,
	}, &out)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected access token to be rejected at refresh endpoint, got status=%d", status)
	}
}
