package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crewboard/internal/config"
	"crewboard/internal/engine"
	"crewboard/internal/store"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	close  func()
}

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default("orion")
	ctx := context.Background()
	if _, err := engine.InitMission(ctx, dir, "orion", cfg); err != nil {
		t.Fatalf("init mission: %v", err)
	}
	e := engine.New(store.New(dir), cfg)
	e.Now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	if _, err := e.CreateItem(ctx, engine.CreateOptions{ID: "42", Title: "seed item"}); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		close: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func getJSON(t *testing.T, url, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("decode %s: %v (%s)", url, err, body)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var body map[string]string
	if status := getJSON(t, ts.URL+"/v0/health", "", &body); status != http.StatusOK {
		t.Fatalf("health status %d", status)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestListAndGetItems(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var list struct {
		Items []struct {
			ID    string `json:"id"`
			Stage string `json:"stage"`
		} `json:"items"`
	}
	if status := getJSON(t, ts.URL+"/v0/items", "", &list); status != http.StatusOK {
		t.Fatalf("list status %d", status)
	}
	if len(list.Items) != 1 || list.Items[0].ID != "42" || list.Items[0].Stage != "intake" {
		t.Fatalf("unexpected list: %+v", list)
	}

	var detail struct {
		Item struct {
			Title string `json:"title"`
		} `json:"item"`
		Content string `json:"content"`
	}
	if status := getJSON(t, ts.URL+"/v0/items/42", "", &detail); status != http.StatusOK {
		t.Fatalf("get status %d", status)
	}
	if detail.Item.Title != "seed item" || detail.Content == "" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestItemNotFoundEnvelope(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var envelope struct {
		Error struct {
			Code   string `json:"code"`
			ItemID string `json:"itemId"`
		} `json:"error"`
	}
	status := getJSON(t, ts.URL+"/v0/items/ghost", "", &envelope)
	if status != http.StatusNotFound {
		t.Fatalf("status %d", status)
	}
	if envelope.Error.Code != "ITEM_NOT_FOUND" || envelope.Error.ItemID != "ghost" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestStageFilterValidation(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	if status := getJSON(t, ts.URL+"/v0/items?stage=warp", "", nil); status == http.StatusOK {
		t.Fatal("expected rejection of unknown stage")
	}
}

func TestDepsEndpoint(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var body struct {
		Report struct {
			Valid bool `json:"valid"`
		} `json:"report"`
		Ready []string `json:"ready"`
	}
	if status := getJSON(t, ts.URL+"/v0/deps", "", &body); status != http.StatusOK {
		t.Fatalf("deps status %d", status)
	}
	if !body.Report.Valid {
		t.Fatalf("expected valid graph: %+v", body)
	}
	if len(body.Ready) != 1 || body.Ready[0] != "42" {
		t.Fatalf("expected ready [42], got %v", body.Ready)
	}
}

func TestActivityEndpoint(t *testing.T) {
	ts := newTestServer(t, AuthConfig{})
	var body struct {
		Lines []string `json:"lines"`
	}
	if status := getJSON(t, ts.URL+"/v0/activity", "", &body); status != http.StatusOK {
		t.Fatalf("activity status %d", status)
	}
	if len(body.Lines) == 0 {
		t.Fatal("expected at least the init line")
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	ts := newTestServer(t, AuthConfig{JWTSecret: secret})

	if status := getJSON(t, ts.URL+"/v0/items", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
	// health stays open
	if status := getJSON(t, ts.URL+"/v0/health", "", nil); status != http.StatusOK {
		t.Fatalf("health must bypass auth, got %d", status)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agentA",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	if status := getJSON(t, ts.URL+"/v0/items", token, nil); status != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", status)
	}
	if status := getJSON(t, ts.URL+"/v0/items", "not-a-token", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", status)
	}
}
