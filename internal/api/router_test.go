// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/reelguard/internal/auth"
	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/middleware"
	"github.com/tomtom215/reelguard/internal/playback"
	"github.com/tomtom215/reelguard/internal/ratelimit"
	"github.com/tomtom215/reelguard/internal/session"
)

const (
	testViewerSecret   = "viewer-secret-for-api-tests-0123456789"
	testPlaybackSecret = "playback-secret-for-api-tests-012345678"
	originURL          = "https://cdn.origin.example/lessons/7/master.m3u8"
	testUA             = "Mozilla/5.0 (X11; Linux x86_64) Firefox/140.0"
)

type testServer struct {
	router http.Handler
	jwt    *auth.JWTManager
	cookie string
}

type serverOptions struct {
	issueLimit int
	ready      func(context.Context) error
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	audit := logging.NewSecurityLoggerWithLogger(logging.NewTestLogger(io.Discard))
	store := session.NewMemoryStore()

	catalog, err := content.NewMemoryCatalog([]content.Content{
		{ID: "7", Title: "Closures", OriginPlaybackURL: originURL, OriginEmbedURL: "https://player.example/7", IsActive: true, WatermarkEnabled: true},
		{ID: "8", Title: "Generics", OriginPlaybackURL: originURL, AccessScope: "course-advanced", IsActive: true},
		{ID: "9", Title: "Retired", OriginPlaybackURL: originURL, IsActive: false},
	})
	if err != nil {
		t.Fatal(err)
	}

	engine := session.NewEngine(store, nil, session.DefaultPolicy(), session.WithAuditLogger(audit))
	gate := session.NewGate(engine, catalog, content.GroupEntitlements{})

	keys, err := playback.DeriveKeys(testPlaybackSecret)
	if err != nil {
		t.Fatal(err)
	}
	signer := playback.NewSigner(keys, time.Minute, time.Now)
	hasher := playback.NewHasher(keys)
	binding := playback.BindingPolicy{IP: true, UserAgent: true, Device: true}
	cookieCfg := playback.CookieConfig{Secure: true}

	issuer := playback.NewIssuer(store, signer, hasher, playback.IssuerConfig{
		PublicBaseURL: "https://watch.example",
		Binding:       binding,
		Cookie:        cookieCfg,
	}, audit)
	gateway := playback.NewGateway(store, catalog, signer, hasher, nil, playback.GatewayConfig{Binding: binding}, audit)

	resolver, err := middleware.NewClientIPResolver(nil)
	if err != nil {
		t.Fatal(err)
	}
	jwtManager, err := auth.NewJWTManager(auth.Config{Secret: testViewerSecret})
	if err != nil {
		t.Fatal(err)
	}

	issueLimit := opts.issueLimit
	if issueLimit == 0 {
		issueLimit = ratelimit.DefaultIssueLimit
	}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryCounter(), map[ratelimit.Class]int{
		ratelimit.ClassIssue:  issueLimit,
		ratelimit.ClassRedeem: ratelimit.DefaultRedeemLimit,
	})

	h := NewHandler(Deps{
		Gate:              gate,
		Engine:            engine,
		Issuer:            issuer,
		Gateway:           gateway,
		ClientIP:          resolver,
		DeviceCookie:      cookieCfg.EffectiveName(),
		HeartbeatInterval: 10 * time.Second,
		Ready:             opts.ready,
	})
	router := NewRouter(h, RouterConfig{
		Auth:    auth.NewMiddleware(jwtManager, UnauthorizedJSON),
		Limiter: limiter,
	})

	return &testServer{router: router, jwt: jwtManager, cookie: cookieCfg.EffectiveName()}
}

func (s *testServer) bearer(t *testing.T, viewerID string, groups ...string) string {
	t.Helper()
	token, err := s.jwt.GenerateToken(viewerID, groups, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("User-Agent", testUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for _, mod := range mods {
		mod(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string          `json:"code"`
		Message   string          `json:"message"`
		Details   json.RawMessage `json:"details"`
		RequestID string          `json:"request_id"`
	} `json:"error"`
	Meta *APIMeta `json:"meta"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return env
}

func wantError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) envelope {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	env := decode(t, rec, nil)
	if env.Success || env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want code %s", env.Error, code)
	}
	return env
}

func (s *testServer) startSession(t *testing.T, bearer, contentID string) startSessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/sessions", bearer, map[string]string{"content_id": contentID})
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp startSessionResponse
	decode(t, rec, &resp)
	return resp
}

// tamperSignature flips one character inside the signature segment.
func tamperSignature(path string) string {
	i := strings.LastIndex(path, ".") + 5
	b := []byte(path)
	if b[i] == 'A' {
		b[i] = 'Q'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func withCookie(name, value string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

func TestAPI_EndToEndPlayback(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	bearer := srv.bearer(t, "42")

	rec := srv.do(t, http.MethodPost, "/api/v1/sessions", bearer, map[string]string{"content_id": "7"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, want 201", rec.Code)
	}
	var started startSessionResponse
	env := decode(t, rec, &started)
	if env.Meta == nil || env.Meta.RequestID == "" {
		t.Error("response meta is missing the request ID")
	}
	if started.Status != session.StatusActive || started.RiskScore != 0 || started.RiskThreshold != 100 {
		t.Errorf("started = %+v", started)
	}
	if started.HeartbeatIntervalSeconds != 10 {
		t.Errorf("heartbeat_interval_seconds = %d, want 10", started.HeartbeatIntervalSeconds)
	}
	if started.Content.ID != "7" || started.Content.OriginEmbedURL != "https://player.example/7" || !started.Content.WatermarkEnabled {
		t.Errorf("content = %+v", started.Content)
	}
	if strings.Contains(rec.Body.String(), "cdn.origin.example") {
		t.Error("origin playback URL leaked in session response")
	}

	again := srv.startSession(t, bearer, "7")
	if again.SessionToken != started.SessionToken || !again.Resumed {
		t.Errorf("second start = %+v, want resumed session", again)
	}

	base := "/api/v1/sessions/" + started.SessionToken
	rec = srv.do(t, http.MethodPost, base+"/heartbeat", bearer, map[string]any{"is_visible": true})
	var hb riskResponse
	decode(t, rec, &hb)
	if rec.Code != http.StatusOK || hb.Action != session.ActionContinue || hb.RiskScore != 0 {
		t.Fatalf("heartbeat = %d %+v", rec.Code, hb)
	}

	rec = srv.do(t, http.MethodPost, base+"/playback-token", bearer, map[string]string{"device_id": "device-D"})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d, body %s", rec.Code, rec.Body.String())
	}
	var grant playback.Grant
	decode(t, rec, &grant)
	if grant.TTLSeconds != 60 || !grant.Bound.User || !grant.Bound.IP || !grant.Bound.Device || !grant.Bound.UserAgent {
		t.Errorf("grant = %+v", grant)
	}
	var deviceCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == srv.cookie {
			deviceCookie = c
		}
	}
	if deviceCookie == nil || !deviceCookie.HttpOnly || !deviceCookie.Secure {
		t.Fatalf("device cookie = %+v", deviceCookie)
	}

	u, err := url.Parse(grant.PlaybackURL)
	if err != nil || u.Host != "watch.example" || !strings.HasPrefix(u.Path, "/play/") {
		t.Fatalf("playback URL = %q", grant.PlaybackURL)
	}

	rec = srv.do(t, http.MethodGet, u.Path, "", nil, withCookie(srv.cookie, deviceCookie.Value))
	if rec.Code != http.StatusFound {
		t.Fatalf("redeem status = %d, body %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != originURL {
		t.Errorf("Location = %q, want %q", loc, originURL)
	}
	for header, want := range map[string]string{
		"Cache-Control":   "no-store",
		"Pragma":          "no-cache",
		"Referrer-Policy": "no-referrer",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}

	rec = srv.do(t, http.MethodGet, u.Path, "", nil, withCookie(srv.cookie, deviceCookie.Value))
	wantError(t, rec, http.StatusForbidden, "NONCE_ALREADY_USED")

	rec = srv.do(t, http.MethodGet, base+"/events", bearer, nil)
	var events []session.SecurityEvent
	env = decode(t, rec, &events)
	if len(events) != 1 || events[0].EventType != session.EventRedeemDenied || events[0].ScoreDelta != 0 {
		t.Fatalf("events = %+v", events)
	}
	if env.Meta == nil || env.Meta.Count == nil || *env.Meta.Count != 1 {
		t.Errorf("meta = %+v", env.Meta)
	}
}

func TestAPI_Redeem_Denials(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	bearer := srv.bearer(t, "42")
	started := srv.startSession(t, bearer, "7")

	issue := func(t *testing.T) (string, string) {
		t.Helper()
		rec := srv.do(t, http.MethodPost, "/api/v1/sessions/"+started.SessionToken+"/playback-token", bearer, map[string]string{"device_id": "device-D"})
		var grant playback.Grant
		decode(t, rec, &grant)
		u, err := url.Parse(grant.PlaybackURL)
		if err != nil {
			t.Fatal(err)
		}
		var cookie string
		for _, c := range rec.Result().Cookies() {
			if c.Name == srv.cookie {
				cookie = c.Value
			}
		}
		return u.Path, cookie
	}

	t.Run("missing_device_cookie", func(t *testing.T) {
		path, _ := issue(t)
		wantError(t, srv.do(t, http.MethodGet, path, "", nil), http.StatusForbidden, "BINDING_DEVICE_MISMATCH")
	})

	t.Run("different_network", func(t *testing.T) {
		path, cookie := issue(t)
		rec := srv.do(t, http.MethodGet, path, "", nil, withCookie(srv.cookie, cookie), func(r *http.Request) {
			r.RemoteAddr = "203.0.113.50:4444"
		})
		wantError(t, rec, http.StatusForbidden, "BINDING_IP_MISMATCH")
	})

	t.Run("different_user_agent", func(t *testing.T) {
		path, cookie := issue(t)
		rec := srv.do(t, http.MethodGet, path, "", nil, withCookie(srv.cookie, cookie), func(r *http.Request) {
			r.Header.Set("User-Agent", "curl/8.0")
		})
		wantError(t, rec, http.StatusForbidden, "BINDING_USER_AGENT_MISMATCH")
	})

	t.Run("tampered_token", func(t *testing.T) {
		path, cookie := issue(t)
		wantError(t, srv.do(t, http.MethodGet, tamperSignature(path), "", nil, withCookie(srv.cookie, cookie)),
			http.StatusForbidden, "TOKEN_SIGNATURE_INVALID")
	})

	t.Run("garbage_token", func(t *testing.T) {
		wantError(t, srv.do(t, http.MethodGet, "/play/not-a-token", "", nil), http.StatusForbidden, "TOKEN_MALFORMED")
	})
}

func TestAPI_Authentication(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	t.Run("missing_bearer", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/sessions", "", map[string]string{"content_id": "7"})
		wantError(t, rec, http.StatusUnauthorized, ErrCodeUnauthorized)
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Error("missing WWW-Authenticate header")
		}
	})

	t.Run("other_viewer_cannot_see_session", func(t *testing.T) {
		started := srv.startSession(t, srv.bearer(t, "42"), "7")
		other := srv.bearer(t, "99")
		base := "/api/v1/sessions/" + started.SessionToken

		wantError(t, srv.do(t, http.MethodGet, base, other, nil), http.StatusNotFound, "SESSION_NOT_FOUND")
		wantError(t, srv.do(t, http.MethodPost, base+"/heartbeat", other, map[string]any{}), http.StatusNotFound, "SESSION_NOT_FOUND")
		wantError(t, srv.do(t, http.MethodPost, base+"/end", other, nil), http.StatusNotFound, "SESSION_NOT_FOUND")
		wantError(t, srv.do(t, http.MethodGet, base+"/events", other, nil), http.StatusNotFound, "SESSION_NOT_FOUND")
		wantError(t, srv.do(t, http.MethodPost, base+"/playback-token", other, map[string]string{"device_id": "d"}),
			http.StatusNotFound, "SESSION_NOT_FOUND")
	})
}

func TestAPI_StartSession_Denials(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	tests := []struct {
		name      string
		groups    []string
		contentID string
		status    int
		code      string
	}{
		{"unknown_content", nil, "404", http.StatusNotFound, "CONTENT_NOT_FOUND"},
		{"inactive_content", nil, "9", http.StatusNotFound, "CONTENT_NOT_FOUND"},
		{"not_entitled", []string{"course-go"}, "8", http.StatusForbidden, "ACCESS_DENIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/v1/sessions", srv.bearer(t, "42", tt.groups...),
				map[string]string{"content_id": tt.contentID})
			wantError(t, rec, tt.status, tt.code)
		})
	}

	t.Run("entitled_by_group", func(t *testing.T) {
		started := srv.startSession(t, srv.bearer(t, "42", "course-advanced"), "8")
		if started.Content.ID != "8" {
			t.Errorf("content = %+v", started.Content)
		}
	})
}

func TestAPI_Validation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	bearer := srv.bearer(t, "42")
	base := "/api/v1/sessions/" + srv.startSession(t, bearer, "7").SessionToken

	t.Run("missing_content_id", func(t *testing.T) {
		env := wantError(t, srv.do(t, http.MethodPost, "/api/v1/sessions", bearer, map[string]string{}),
			http.StatusBadRequest, "VALIDATION_FAILED")
		if !strings.Contains(string(env.Error.Details), "content_id") {
			t.Errorf("details = %s", env.Error.Details)
		}
	})

	t.Run("empty_body", func(t *testing.T) {
		wantError(t, srv.do(t, http.MethodPost, "/api/v1/sessions", bearer, nil), http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("invalid_json", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/api/v1/sessions", bearer, nil, func(r *http.Request) {
			r.Body = io.NopCloser(strings.NewReader("{not json"))
		})
		wantError(t, rec, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("unknown_event_type", func(t *testing.T) {
		wantError(t, srv.do(t, http.MethodPost, base+"/events", bearer, map[string]string{"event_type": "sneeze"}),
			http.StatusBadRequest, "UNKNOWN_EVENT_TYPE")
	})

	t.Run("bad_severity", func(t *testing.T) {
		wantError(t, srv.do(t, http.MethodPost, base+"/events", bearer,
			map[string]string{"event_type": "tab_hidden", "severity": "apocalyptic"}),
			http.StatusBadRequest, "VALIDATION_FAILED")
	})

	t.Run("device_id_with_spaces", func(t *testing.T) {
		wantError(t, srv.do(t, http.MethodPost, base+"/playback-token", bearer, map[string]string{"device_id": "my device"}),
			http.StatusBadRequest, "VALIDATION_FAILED")
	})
}

func TestAPI_RiskLifecycle(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	bearer := srv.bearer(t, "42")
	base := "/api/v1/sessions/" + srv.startSession(t, bearer, "7").SessionToken

	for i := 1; i <= 4; i++ {
		rec := srv.do(t, http.MethodPost, base+"/heartbeat", bearer, map[string]any{"devtools_open": true})
		var out riskResponse
		decode(t, rec, &out)
		if out.RiskScore != 25*i {
			t.Fatalf("heartbeat %d risk = %d, want %d", i, out.RiskScore, 25*i)
		}
		wantAction := session.ActionContinue
		if i == 4 {
			wantAction = session.ActionBlock
		}
		if out.Action != wantAction {
			t.Fatalf("heartbeat %d action = %s, want %s", i, out.Action, wantAction)
		}
	}

	env := wantError(t, srv.do(t, http.MethodPost, base+"/events", bearer, map[string]string{"event_type": "tab_hidden"}),
		http.StatusConflict, "SESSION_NOT_ACTIVE")
	var details riskResponse
	if err := json.Unmarshal(env.Error.Details, &details); err != nil {
		t.Fatal(err)
	}
	if details.Action != session.ActionStop || details.Status != session.StatusBlocked || details.RiskScore != 100 {
		t.Errorf("details = %+v", details)
	}

	rec := srv.do(t, http.MethodGet, base, bearer, nil)
	var snap sessionResponse
	decode(t, rec, &snap)
	if snap.Status != session.StatusBlocked || snap.BlockedReason == "" || snap.LastHeartbeatAt == nil {
		t.Errorf("snapshot = %+v", snap)
	}

	wantError(t, srv.do(t, http.MethodPost, base+"/playback-token", bearer, map[string]string{"device_id": "device-D"}),
		http.StatusConflict, "SESSION_NOT_ACTIVE")
}

func TestAPI_EndSession(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	bearer := srv.bearer(t, "42")
	base := "/api/v1/sessions/" + srv.startSession(t, bearer, "7").SessionToken

	rec := srv.do(t, http.MethodPost, base+"/end", bearer, nil)
	var out endSessionResponse
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out.Status != session.StatusEnded {
		t.Fatalf("end = %d %+v", rec.Code, out)
	}

	// Ending twice is a no-op.
	rec = srv.do(t, http.MethodPost, base+"/end", bearer, nil)
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out.Status != session.StatusEnded {
		t.Fatalf("second end = %d %+v", rec.Code, out)
	}

	wantError(t, srv.do(t, http.MethodPost, base+"/heartbeat", bearer, map[string]any{}), http.StatusConflict, "SESSION_NOT_ACTIVE")

	// A new session can start once the old one ended.
	again := srv.startSession(t, bearer, "7")
	if "/api/v1/sessions/"+again.SessionToken == base || again.Resumed {
		t.Errorf("start after end = %+v, want a new session", again)
	}
}

func TestAPI_IssueRateLimit(t *testing.T) {
	srv := newTestServer(t, serverOptions{issueLimit: 2})
	bearer := srv.bearer(t, "42")
	path := "/api/v1/sessions/" + srv.startSession(t, bearer, "7").SessionToken + "/playback-token"
	body := map[string]string{"device_id": "device-D"}

	for i := 0; i < 2; i++ {
		if rec := srv.do(t, http.MethodPost, path, bearer, body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := srv.do(t, http.MethodPost, path, bearer, body)
	wantError(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Limit") != "2" {
		t.Errorf("headers = %v", rec.Header())
	}

	// Other clients have their own window.
	rec = srv.do(t, http.MethodPost, path, bearer, body, func(r *http.Request) { r.RemoteAddr = "198.51.100.99:1000" })
	if rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := newTestServer(t, serverOptions{})
		rec := srv.do(t, http.MethodGet, "/healthz", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("store_unavailable", func(t *testing.T) {
		srv := newTestServer(t, serverOptions{ready: func(context.Context) error { return errors.New("store closed") }})
		wantError(t, srv.do(t, http.MethodGet, "/healthz", "", nil), http.StatusServiceUnavailable, ErrCodeUnavailable)
	})

	t.Run("metrics", func(t *testing.T) {
		srv := newTestServer(t, serverOptions{})
		srv.do(t, http.MethodGet, "/healthz", "", nil)
		rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "reelguard_api_requests_total") {
			t.Errorf("metrics status = %d", rec.Code)
		}
	})

	t.Run("unknown_route", func(t *testing.T) {
		srv := newTestServer(t, serverOptions{})
		wantError(t, srv.do(t, http.MethodGet, "/nope", "", nil), http.StatusNotFound, ErrCodeNotFound)
	})
}
