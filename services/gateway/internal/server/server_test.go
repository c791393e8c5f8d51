package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"farmassist/internal/metrics"
	"farmassist/pkg/ai"
	"farmassist/pkg/kv"
	"farmassist/pkg/market"
	"farmassist/pkg/store"
	"farmassist/services/gateway/internal/app"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details string          `json:"details"`
}

type captureGenerator struct {
	got ai.Prompt
}

func (g *captureGenerator) Generate(_ context.Context, p ai.Prompt) (string, error) {
	g.got = p
	return "Apply potash.", nil
}

func newTestServer(t *testing.T, appCfg func(*app.Config), srvCfg func(*Config)) *httptest.Server {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("gateway-test-secret-01", time.Hour, store.JWTOptions{})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	var tick int64
	start := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)
	ac := app.Config{
		Records:  kv.NewMemoryStore(),
		Sessions: sessions,
		Now: func() time.Time {
			return start.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Millisecond)
		},
	}
	if appCfg != nil {
		appCfg(&ac)
	}
	core, err := app.New(ac)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	sc := Config{App: core}
	if srvCfg != nil {
		srvCfg(&sc)
	}
	gw, err := New(sc)
	if err != nil {
		t.Fatalf("new gateway server: %v", err)
	}
	srv := httptest.NewServer(gw.Router())
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, header http.Header) (*http.Response, apiResponse) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("marshal body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out apiResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp, out
}

func decodeData(t *testing.T, raw json.RawMessage, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode data %s: %v", raw, err)
	}
}

func TestClaimLifecycleScenario(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, body := call(t, srv, http.MethodPost, "/claims", map[string]any{
		"userId": "u1", "crop": "Wheat", "event": "Frost", "amount": 45000,
	}, nil)
	if resp.StatusCode != http.StatusOK || !body.Success || body.Message != "Claim filed successfully" {
		t.Fatalf("file claim: status=%d body=%+v", resp.StatusCode, body)
	}
	var filed struct {
		ID       string  `json:"id"`
		Status   string  `json:"status"`
		Progress int     `json:"progress"`
		Amount   float64 `json:"amount"`
		HasProof bool    `json:"hasProof"`
	}
	decodeData(t, body.Data, &filed)
	if !regexp.MustCompile(`^CLM\d{4}-\d{6}$`).MatchString(filed.ID) {
		t.Fatalf("unexpected claim id %q", filed.ID)
	}
	if filed.Status != "verified" || filed.Progress != 30 || filed.Amount != 45000 || !filed.HasProof {
		t.Fatalf("unexpected filed claim: %+v", filed)
	}

	resp, body = call(t, srv, http.MethodPut, "/claims/u1/"+filed.ID, map[string]any{"status": "completed"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update claim: status=%d body=%+v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodGet, "/claims/u1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list claims: status=%d", resp.StatusCode)
	}
	var listed struct {
		Claims []struct {
			ID       string  `json:"id"`
			Status   string  `json:"status"`
			Progress int     `json:"progress"`
			Amount   float64 `json:"amount"`
		} `json:"claims"`
		Summary struct {
			Count         int     `json:"count"`
			TotalReceived float64 `json:"totalReceived"`
		} `json:"summary"`
	}
	decodeData(t, body.Data, &listed)
	if len(listed.Claims) != 1 {
		t.Fatalf("expected one claim, got %+v", listed.Claims)
	}
	got := listed.Claims[0]
	if got.ID != filed.ID || got.Status != "completed" || got.Amount != 45000 || got.Progress != 30 {
		t.Fatalf("merge must keep unpatched fields: %+v", got)
	}
	if listed.Summary.Count != 1 || listed.Summary.TotalReceived != 45000 {
		t.Fatalf("unexpected summary: %+v", listed.Summary)
	}

	resp, body = call(t, srv, http.MethodGet, "/claims/u1/"+filed.ID+"/proof", nil, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Data), `"status":"anchored"`) {
		t.Fatalf("claim proof: status=%d data=%s", resp.StatusCode, body.Data)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	cases := []struct {
		name    string
		method  string
		path    string
		body    any
		status  int
		message string
	}{
		{"unknown claim", http.MethodPut, "/claims/u1/CLM2025-000000", map[string]any{"status": "completed"}, http.StatusNotFound, "Claim not found"},
		{"invalid status", http.MethodPut, "/claims/u1/CLM2025-000000", map[string]any{"status": "paid"}, http.StatusBadRequest, "status must be one of submitted, verified, in-progress, completed, rejected"},
		{"empty claim patch", http.MethodPut, "/claims/u1/CLM2025-000000", map[string]any{"statuz": "completed"}, http.StatusBadRequest, "at least one of status, progress, amount, description, crop, event, hasProof is required"},
		{"missing crop", http.MethodPost, "/claims", map[string]any{"userId": "u1", "event": "Frost", "amount": 10}, http.StatusBadRequest, "crop is required"},
		{"malformed json", http.MethodPost, "/sensors", "{not json", http.StatusBadRequest, "invalid JSON body"},
		{"missing signup fields", http.MethodPost, "/auth/signup", map[string]any{"phone": "1"}, http.StatusBadRequest, "Name, phone, and password are required"},
		{"unknown route", http.MethodGet, "/nowhere", nil, http.StatusNotFound, "route not found"},
		{"advisor without model", http.MethodPost, "/chat/advisor", map[string]any{"prompt": "q"}, http.StatusServiceUnavailable, "answer generation not configured"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := call(t, srv, tc.method, tc.path, tc.body, nil)
			if resp.StatusCode != tc.status || body.Error != tc.message || body.Success {
				t.Fatalf("status=%d body=%+v, want %d %q", resp.StatusCode, body, tc.status, tc.message)
			}
		})
	}
}

func TestSignupLoginAndMe(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	signup := map[string]any{"name": "Ramesh", "phone": "9876543210", "email": "r@example.com", "password": "harvest1"}

	resp, body := call(t, srv, http.MethodPost, "/auth/signup", signup, nil)
	if resp.StatusCode != http.StatusOK || body.Message != "User registered successfully" {
		t.Fatalf("signup: status=%d body=%+v", resp.StatusCode, body)
	}
	if strings.Contains(string(body.Data), "passwordHash") {
		t.Fatalf("password hash leaked: %s", body.Data)
	}

	resp, body = call(t, srv, http.MethodPost, "/auth/signup", signup, nil)
	if resp.StatusCode != http.StatusConflict || body.Error != "User already exists with this phone number" {
		t.Fatalf("duplicate signup: status=%d body=%+v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodPost, "/auth/login", map[string]any{"phone": "9876543210", "password": "nope123"}, nil)
	if resp.StatusCode != http.StatusUnauthorized || body.Error != "Invalid credentials" {
		t.Fatalf("bad login: status=%d body=%+v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodPost, "/auth/login", map[string]any{"phone": "9876543210", "password": "harvest1"}, nil)
	if resp.StatusCode != http.StatusOK || body.Message != "Login successful" {
		t.Fatalf("login: status=%d body=%+v", resp.StatusCode, body)
	}
	var login struct {
		Token string `json:"token"`
		User  struct {
			Phone string `json:"phone"`
		} `json:"user"`
	}
	decodeData(t, body.Data, &login)
	if login.Token == "" || login.User.Phone != "9876543210" {
		t.Fatalf("unexpected login data: %+v", login)
	}

	resp, _ = call(t, srv, http.MethodGet, "/auth/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me without token expected 401, got %d", resp.StatusCode)
	}
	resp, body = call(t, srv, http.MethodGet, "/auth/me", nil, http.Header{"Authorization": {"Bearer " + login.Token}})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Data), `"phone":"9876543210"`) {
		t.Fatalf("me: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestSensorsAndAlerts(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, body := call(t, srv, http.MethodPost, "/sensors", map[string]any{"userId": "u1", "name": "North probe", "type": "moisture"}, nil)
	if resp.StatusCode != http.StatusOK || body.Message != "Sensor added" {
		t.Fatalf("add sensor: status=%d body=%+v", resp.StatusCode, body)
	}
	var sensor struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeData(t, body.Data, &sensor)
	if !strings.HasPrefix(sensor.ID, "SNS-") || sensor.Status != "connected" {
		t.Fatalf("unexpected sensor: %+v", sensor)
	}
	call(t, srv, http.MethodPost, "/sensors", map[string]any{"userId": "u2", "name": "Other", "type": "rain"}, nil)

	_, body = call(t, srv, http.MethodGet, "/sensors/u1", nil, nil)
	var list struct {
		Sensors []json.RawMessage `json:"sensors"`
	}
	decodeData(t, body.Data, &list)
	if len(list.Sensors) != 1 {
		t.Fatalf("sensors must be scoped per user, got %d", len(list.Sensors))
	}

	resp, body = call(t, srv, http.MethodDelete, "/sensors/u1/"+sensor.ID, nil, nil)
	if resp.StatusCode != http.StatusOK || body.Message != "Sensor removed" {
		t.Fatalf("remove sensor: status=%d body=%+v", resp.StatusCode, body)
	}

	resp, body = call(t, srv, http.MethodPost, "/alerts", map[string]any{"userId": "u1", "title": "Frost", "severity": "critical"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create alert: status=%d body=%+v", resp.StatusCode, body)
	}
	var alert struct {
		ID string `json:"id"`
	}
	decodeData(t, body.Data, &alert)
	for i := 0; i < 2; i++ {
		resp, body = call(t, srv, http.MethodDelete, "/alerts/u1/"+alert.ID, nil, nil)
		if resp.StatusCode != http.StatusOK || body.Message != "Alert dismissed" {
			t.Fatalf("dismiss #%d: status=%d body=%+v", i+1, resp.StatusCode, body)
		}
	}
}

func TestChatAndWeather(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	resp, body := call(t, srv, http.MethodPost, "/chat", map[string]any{"userId": "u1", "message": "Any aphid advice?"}, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Data), "neem oil") {
		t.Fatalf("chat: status=%d body=%+v", resp.StatusCode, body)
	}
	_, body = call(t, srv, http.MethodGet, "/chat/u1", nil, nil)
	var history struct {
		Chats []struct {
			UserMessage string `json:"userMessage"`
		} `json:"chats"`
	}
	decodeData(t, body.Data, &history)
	if len(history.Chats) != 1 || history.Chats[0].UserMessage != "Any aphid advice?" {
		t.Fatalf("unexpected history: %+v", history)
	}

	_, body = call(t, srv, http.MethodGet, "/weather/Kota", nil, nil)
	if !strings.Contains(string(body.Data), `"location":"Kota"`) {
		t.Fatalf("unexpected weather: %s", body.Data)
	}
}

func TestAdvisorMultipartUpload(t *testing.T) {
	gen := &captureGenerator{}
	srv := newTestServer(t, func(c *app.Config) { c.Generator = gen }, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("prompt", "Brown spots on leaves")
	_ = mw.WriteField("language", "kn")
	fw, err := mw.CreateFormFile("file", "leaf.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/chat/advisor", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("advisor request: %v", err)
	}
	defer resp.Body.Close()
	var body apiResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body.Data), "Apply potash.") {
		t.Fatalf("advisor: status=%d body=%+v", resp.StatusCode, body)
	}
	if gen.got.Image == nil || gen.got.Image.MIMEType != "image/png" {
		t.Fatalf("image not forwarded: %+v", gen.got.Image)
	}
	if !strings.Contains(gen.got.Text, "Question: Brown spots on leaves") {
		t.Fatalf("unexpected prompt: %q", gen.got.Text)
	}
}

func TestAdvisorJSONDataURL(t *testing.T) {
	gen := &captureGenerator{}
	srv := newTestServer(t, func(c *app.Config) { c.Generator = gen }, nil)

	resp, body := call(t, srv, http.MethodPost, "/chat/advisor", map[string]any{
		"prompt": "What is this?", "image": "data:image/jpeg;base64,AQID",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advisor: status=%d body=%+v", resp.StatusCode, body)
	}
	if gen.got.Image == nil || gen.got.Image.MIMEType != "image/jpeg" || !bytes.Equal(gen.got.Image.Data, []byte{1, 2, 3}) {
		t.Fatalf("unexpected image: %+v", gen.got.Image)
	}

	resp, body = call(t, srv, http.MethodPost, "/chat/advisor", map[string]any{"prompt": "q", "image": "%%%"}, nil)
	if resp.StatusCode != http.StatusBadRequest || body.Error != "image must be base64 encoded" {
		t.Fatalf("bad image: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestMarketEndpoints(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filters[state]") == "Down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"total":1,"count":1,"records":[{"state":"Rajasthan","market":"Kota","modal_price":"2450"}]}`))
	}))
	defer upstream.Close()
	client, err := market.NewClient(market.Config{BaseURL: upstream.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("market client: %v", err)
	}
	srv := newTestServer(t, func(c *app.Config) { c.Prices = client }, nil)

	resp, body := call(t, srv, http.MethodGet, "/market/prices?state=Rajasthan", nil, nil)
	if resp.StatusCode != http.StatusOK || body.Message != "Market prices fetched successfully" {
		t.Fatalf("prices: status=%d body=%+v", resp.StatusCode, body)
	}
	var prices struct {
		Records []struct {
			Market string `json:"market"`
		} `json:"records"`
		Total int `json:"total"`
	}
	decodeData(t, body.Data, &prices)
	if prices.Total != 1 || len(prices.Records) != 1 || prices.Records[0].Market != "Kota" {
		t.Fatalf("unexpected prices: %+v", prices)
	}

	resp, body = call(t, srv, http.MethodGet, "/market/prices?state=Down", nil, nil)
	if resp.StatusCode != http.StatusInternalServerError || body.Error != "Failed to fetch market prices" || body.Details != "API returned 503: Service Unavailable" {
		t.Fatalf("upstream failure: status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestMarketWithoutKey(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	resp, body := call(t, srv, http.MethodGet, "/market/states", nil, nil)
	if resp.StatusCode != http.StatusInternalServerError || body.Error != "Failed to fetch states" || body.Details != "price API key not configured" {
		t.Fatalf("status=%d body=%+v", resp.StatusCode, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/claims", nil)
	req.Header.Set("Origin", "https://farm.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestBasePathIsStripped(t *testing.T) {
	srv := newTestServer(t, nil, func(c *Config) { c.BasePath = "/make-server-37861144/" })

	resp, body := call(t, srv, http.MethodGet, "/make-server-37861144/health", nil, nil)
	if resp.StatusCode != http.StatusOK || string(body.Data) != `{"status":"ok"}` {
		t.Fatalf("health under base path: status=%d body=%+v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id on response")
	}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("health without base path: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	srv := newTestServer(t, nil, func(c *Config) {
		c.Redis = client
		c.LoginRateLimitPerMinute = 1
		c.SignupRateLimitPerMinute = 10
	})

	creds := map[string]any{"phone": "9876543210", "password": "harvest1"}
	resp, _ := call(t, srv, http.MethodPost, "/auth/login", creds, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp.StatusCode)
	}
	resp, body := call(t, srv, http.MethodPost, "/auth/login", creds, nil)
	if resp.StatusCode != http.StatusTooManyRequests || body.Error != "too many login attempts" {
		t.Fatalf("second request expected 429, got %d %+v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	core, err := app.New(app.Config{Records: kv.NewMemoryStore(), Sessions: &store.JWTSessionStore{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := New(Config{App: core, TrustedProxyCIDRs: []string{"not-a-cidr"}}); err == nil {
		t.Fatalf("expected error for invalid trusted proxy entry")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without app")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, nil, func(c *Config) { c.Metrics = m })

	call(t, srv, http.MethodGet, "/health", nil, nil)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(data), `farmassist_http_requests_total{method="GET",path="/health",status="200"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", data)
	}
}
