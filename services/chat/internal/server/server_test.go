package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"copysensei/internal/ratelimit"
	"copysensei/internal/usertoken"
	"copysensei/pkg/domain"
	"copysensei/pkg/functions"
	"copysensei/pkg/localcache"
	"copysensei/pkg/storage"
	"copysensei/pkg/store"
	"copysensei/services/chat/internal/app"
)

const testSecret = "chat-server-test-secret-with-32-plus-bytes"

type testServer struct {
	url   string
	store *store.MemoryStore
}

func newTestServer(t *testing.T, limiter Limiter) *testServer {
	t.Helper()
	copySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req functions.CopyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1].Content
		if last == "Write something that breaks" {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "provider down"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"generatedCopy": "Fresh Bread, Fresh Smiles [1]"})
	}))
	t.Cleanup(copySrv.Close)

	mem := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:   mem,
		Cache:   localcache.New(localcache.NewMemoryBackend(), "test"),
		Copy:    functions.NewCopyClient(copySrv.URL, nil, time.Second),
		Objects: storage.NewMemoryStore("http://objects.test"),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := usertoken.NewVerifier(usertoken.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	srv := New(Config{App: core, TokenVerifier: verifier, SendLimiter: limiter})
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)
	return &testServer{url: httpSrv.URL, store: mem}
}

func userToken(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"email": userID + "@example.com",
		"aud":   "authenticated",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (ts *testServer) createProject(t *testing.T, token string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/projects", token, map[string]string{
		"name":        "Bakery",
		"websiteUrl":  "https://bakery.example",
		"toneOfVoice": "friendly",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project status = %d body=%v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, nil)
	cases := []struct {
		name  string
		token string
	}{
		{name: "missing"},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodGet, "/api/me", tc.token, nil)
			if resp.StatusCode != http.StatusUnauthorized || body["error"] != "unauthorized" {
				t.Fatalf("status = %d body = %v", resp.StatusCode, body)
			}
		})
	}
	resp, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestMeProvisionsUser(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, body := ts.do(t, http.MethodGet, "/api/me", userToken(t, "u1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	user := body["user"].(map[string]any)
	if user["id"] != "u1" || user["credits"].(float64) != 5 {
		t.Fatalf("user = %v", user)
	}
}

func TestSendMessageFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	token := userToken(t, "u1")
	projectID := ts.createProject(t, token)

	resp, body := ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/messages", token, map[string]string{"content": "Write a tagline for my bakery"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send status = %d body = %v", resp.StatusCode, body)
	}
	assistant := body["assistantMessage"].(map[string]any)
	if assistant["content"] != "Fresh Bread, Fresh Smiles" || assistant["creditsUsed"].(float64) != 1 {
		t.Fatalf("assistant = %v", assistant)
	}
	if body["credits"].(float64) != 4 {
		t.Fatalf("credits = %v, want 4", body["credits"])
	}

	resp, body = ts.do(t, http.MethodGet, "/api/projects/"+projectID+"/messages", token, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 3 {
		t.Fatalf("transcript status = %d body = %v", resp.StatusCode, body)
	}
}

func TestSendErrorStatuses(t *testing.T) {
	ts := newTestServer(t, nil)
	token := userToken(t, "u1")
	projectID := ts.createProject(t, token)
	otherProject := ts.createProject(t, userToken(t, "u2"))

	cases := []struct {
		name      string
		projectID string
		content   string
		want      int
	}{
		{name: "empty", projectID: projectID, content: "  ", want: http.StatusBadRequest},
		{name: "low value", projectID: projectID, content: "hello", want: http.StatusUnprocessableEntity},
		{name: "unknown project", projectID: "missing", content: "Write a headline", want: http.StatusNotFound},
		{name: "foreign project", projectID: otherProject, content: "Write a headline", want: http.StatusForbidden},
		{name: "generation failed", projectID: projectID, content: "Write something that breaks", want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/projects/"+tc.projectID+"/messages", token, map[string]string{"content": tc.content})
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tc.want, body)
			}
		})
	}

	if err := ts.store.SetCredits("u1", 0); err != nil {
		t.Fatalf("set credits: %v", err)
	}
	resp, body := ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/messages", token, map[string]string{"content": "Write a headline"})
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d body = %v, want 402", resp.StatusCode, body)
	}
}

func TestSendRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	t.Cleanup(func() { _ = limiter.Close() })
	ts := newTestServer(t, limiter)
	token := userToken(t, "u1")
	projectID := ts.createProject(t, token)

	resp, _ := ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/messages", token, map[string]string{"content": "Write a headline"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first send status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/messages", token, map[string]string{"content": "Write a headline"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second send status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestProjectRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := userToken(t, "u1")
	projectID := ts.createProject(t, token)

	resp, body := ts.do(t, http.MethodGet, "/api/projects/current", token, nil)
	if resp.StatusCode != http.StatusOK || body["id"] != projectID {
		t.Fatalf("current = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPatch, "/api/projects/"+projectID, token, map[string]string{"toneOfVoice": "playful", "customNotes": "no emojis"})
	if resp.StatusCode != http.StatusOK || body["toneOfVoice"] != string(domain.TonePlayful) || body["customNotes"] != "no emojis" {
		t.Fatalf("patch = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodPatch, "/api/projects/"+projectID, token, map[string]string{"toneOfVoice": "grumpy"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad tone status = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/projects", token, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/research", token, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("research without client status = %d, want 502", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodPost, "/api/projects/"+projectID+"/research?async=true", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("async research without queue status = %d, want 503", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPut, "/api/projects/"+projectID, token, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/projects/"+projectID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/api/projects/current", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("current after delete = %d, want 404", resp.StatusCode)
	}
}

func TestDocumentRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	token := userToken(t, "u1")
	projectID := ts.createProject(t, token)
	base := "/api/projects/" + projectID + "/documents"

	resp, body := ts.do(t, http.MethodPost, base, token, map[string]string{"filename": "notes.txt", "content": "We bake at 4am."})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d %v", resp.StatusCode, body)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "brief.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte("Audience: young parents"))
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, ts.url+base, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	uploadResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	uploaded := map[string]any{}
	_ = json.NewDecoder(uploadResp.Body).Decode(&uploaded)
	uploadResp.Body.Close()
	if uploadResp.StatusCode != http.StatusCreated || uploaded["filename"] != "brief.txt" {
		t.Fatalf("upload = %d %v", uploadResp.StatusCode, uploaded)
	}
	if _, leaked := uploaded["StorageKey"]; leaked {
		t.Fatalf("storage key leaked in response")
	}
	docID := uploaded["id"].(string)

	resp, body = ts.do(t, http.MethodGet, base+"/"+docID+"/download", token, nil)
	if resp.StatusCode != http.StatusOK || body["url"] == "" {
		t.Fatalf("download = %d %v", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, base, token, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodDelete, base+"/"+docID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodDelete, base+"/"+docID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}
