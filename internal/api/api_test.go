package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/guildsync/internal/assetservice"
	"github.com/starford/guildsync/internal/gallery"
	"github.com/starford/guildsync/internal/models"
	"github.com/starford/guildsync/internal/storage"
	"github.com/starford/guildsync/internal/testutil"
)

var damao = models.CharacterKey{Namespace: "guild", Name: "damao"}

// testEnv sets up temp intake and target dirs, a manifest, the service and
// the full router (/api and /assets).
func testEnv(t *testing.T, authToken string) (*assetservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*assetservice.Service, http.Handler) {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.TestDB(t)
	syncer := gallery.New(testutil.FakeCodec{}, gallery.WithLogger(logger), gallery.WithManifest(db))
	svc := assetservice.New(assetservice.Config{
		IntakePath: filepath.Join(root, "intake"),
		TargetRoot: filepath.Join(root, "assets"),
	}, []assetservice.Character{{Key: damao, Preserved: []string{"avatar.webp"}}}, syncer, db,
		assetservice.WithLogger(logger))

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(svc, authEnabled, token, sseHandler))
	r.Mount("/assets", NewAssetRouter(svc))
	return svc, r
}

func do(t *testing.T, router http.Handler, method, path string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadFile(t *testing.T, router http.Handler, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()
	return do(t, router, http.MethodPost, "/api/intake", &buf, "Content-Type", mw.FormDataContentType())
}

func TestListCharacters(t *testing.T) {
	_, router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/api/characters", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp CharacterListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Characters) != 1 || resp.Characters[0] != damao {
		t.Errorf("characters = %+v", resp.Characters)
	}
}

func TestUploadSyncAndList(t *testing.T) {
	svc, router := testEnv(t, "")

	w := uploadFile(t, router, "a.png", testutil.PNG(t, 1))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(svc.IntakePath(), "a.png")); err != nil {
		t.Fatalf("intake file missing: %v", err)
	}

	w = do(t, router, http.MethodPost, "/api/characters/guild/damao/sync", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync = %d, body = %s", w.Code, w.Body.String())
	}
	var rep gallery.Report
	_ = json.Unmarshal(w.Body.Bytes(), &rep)
	if len(rep.Added) != 1 || rep.Added[0] != "gallery_1.webp" {
		t.Errorf("added = %v", rep.Added)
	}

	w = do(t, router, http.MethodGet, "/api/characters/guild/damao/assets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("assets = %d", w.Code)
	}
	var assets AssetListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &assets)
	if len(assets.Assets) != 1 || assets.Assets[0].Role != models.RoleGallery || assets.Assets[0].SourceName != "a.png" {
		t.Errorf("assets = %+v", assets.Assets)
	}

	w = do(t, router, http.MethodGet, "/api/characters/guild/damao/runs", nil)
	var runs RunListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs.Runs) != 1 {
		t.Errorf("runs = %+v", runs.Runs)
	}

	w = do(t, router, http.MethodGet, "/assets/guild/damao/gallery_1.webp", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("serve asset = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/webp" {
		t.Errorf("content type = %q", ct)
	}
}

func TestUploadIntake_Rejections(t *testing.T) {
	_, router := testEnv(t, "")

	if w := uploadFile(t, router, "a.jpg", []byte("plain text, not an image")); w.Code != http.StatusBadRequest {
		t.Errorf("non-image = %d, want 400", w.Code)
	}
	if w := uploadFile(t, router, "a.txt", testutil.PNG(t, 1)); w.Code != http.StatusBadRequest {
		t.Errorf("bad extension = %d, want 400", w.Code)
	}
	if w := uploadFile(t, router, "a.png", testutil.PNG(t, 1)); w.Code != http.StatusCreated {
		t.Fatalf("first upload = %d", w.Code)
	}
	if w := uploadFile(t, router, "a.png", testutil.PNG(t, 2)); w.Code != http.StatusConflict {
		t.Errorf("duplicate name = %d, want 409", w.Code)
	}
}

func TestUploadIntake_MissingFileField(t *testing.T) {
	_, router := testEnv(t, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("wrong", "data")
	mw.Close()

	w := do(t, router, http.MethodPost, "/api/intake", &buf, "Content-Type", mw.FormDataContentType())
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing field = %d, want 400", w.Code)
	}
}

func TestRenumber(t *testing.T) {
	svc, router := testEnv(t, "")
	dir := svc.TargetDir(damao)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, dir, "gallery_4.webp", testutil.PNG(t, 4))

	w := do(t, router, http.MethodPost, "/api/characters/guild/damao/renumber", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("renumber = %d, body = %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "gallery_1.webp")); err != nil {
		t.Errorf("gallery_1.webp missing: %v", err)
	}
}

func TestUnknownCharacter(t *testing.T) {
	_, router := testEnv(t, "")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/characters/guild/nobody/assets"},
		{http.MethodPost, "/api/characters/guild/nobody/sync"},
		{http.MethodGet, "/assets/guild/nobody/gallery_1.webp"},
	} {
		if w := do(t, router, tc.method, tc.path, nil); w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestSyncLocked(t *testing.T) {
	svc, router := testEnv(t, "")
	target, err := storage.OpenOrCreate(svc.TargetDir(damao))
	if err != nil {
		t.Fatal(err)
	}
	unlock, err := target.Lock()
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if w := do(t, router, http.MethodPost, "/api/characters/guild/damao/sync", nil); w.Code != http.StatusConflict {
		t.Errorf("locked sync = %d, want 409", w.Code)
	}
}

func TestServeAsset_NotFoundAndTraversal(t *testing.T) {
	_, router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/assets/guild/damao/nope.webp", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing asset = %d, want 404", w.Code)
	}
	for _, p := range []string{"/assets/guild/damao/..%2F..%2Fsecret", "/assets/guild/damao/.guildsync.lock"} {
		if w := do(t, router, http.MethodGet, p, nil); w.Code == http.StatusOK {
			t.Errorf("%s should not return 200", p)
		}
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/api/characters", nil, "Authorization", "Bearer secret")
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	if w := do(t, router, http.MethodGet, "/api/characters", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/api/characters", nil, "Authorization", "Bearer wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_AssetsArePublic(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodGet, "/assets/guild/damao/nope.webp", nil)
	if w.Code == http.StatusUnauthorized {
		t.Error("asset files should not require auth")
	}
}

// sseStub writes headers and blocks until the request context is done.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", sseStub)
	if w := do(t, router, http.MethodGet, "/api/events", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with access_token query should not 401")
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := do(t, router, http.MethodPost, "/api/characters/guild/damao/sync?access_token=secret", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}
