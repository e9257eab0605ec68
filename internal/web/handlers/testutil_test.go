package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lakshay-lagyan/smart-attendance-cv/internal/auth"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/camera"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/config"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/database/mock"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/faceservice"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/imaging"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/mail"
	"github.com/lakshay-lagyan/smart-attendance-cv/internal/web/middleware"
)

const testPassword = "secret123"

// fixedNow is the clock every handler under test uses.
var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeExtractor returns embedding for every photo unless an error is queued
// for that call.
type fakeExtractor struct {
	mu        sync.Mutex
	embedding []float32
	errs      []error
	err       error
	calls     int
}

func (f *fakeExtractor) ExtractEmbedding(_ context.Context, data []byte, _ bool) (*faceservice.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.calls
	f.calls++
	if _, _, err := imaging.Decode(data); err != nil {
		return nil, err
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return nil, f.errs[n]
	}
	if f.err != nil {
		return nil, f.err
	}
	return &faceservice.Extraction{Embedding: append([]float32(nil), f.embedding...)}, nil
}

// testEnv wires handlers to mock stores, a real recognizer over the mock
// persons and a disabled mailer.
type testEnv struct {
	stores     database.Stores
	set        *mock.Set
	faces      *fakeExtractor
	recognizer *faceservice.Recognizer
	duplicates *faceservice.DuplicateChecker
	images     *ImageStore
	mailer     *mail.Mailer
	tokens     *auth.TokenManager
	audit      *Auditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stores, set := mock.NewStores()
	env := &testEnv{
		stores:     stores,
		set:        set,
		faces:      &fakeExtractor{embedding: []float32{1, 0, 0, 0}},
		recognizer: faceservice.NewRecognizer(set.Persons, nil, 0, 0),
		duplicates: faceservice.NewDuplicateChecker(set.Persons, faceservice.DefaultDuplicateK, faceservice.DefaultDuplicateMin),
		images:     NewImageStore(t.TempDir()),
		mailer:     mail.New(config.EmailConfig{}),
		tokens:     auth.NewTokenManager("test-secret", time.Hour),
		audit:      NewAuditor(set.Logs),
	}
	return env
}

func (e *testEnv) authHandler() *AuthHandler {
	h := NewAuthHandler(e.stores, e.tokens, e.mailer, e.audit)
	h.now = func() time.Time { return fixedNow }
	return h
}

func (e *testEnv) userHandler() *UserHandler {
	h := NewUserHandler(e.stores, e.faces, e.recognizer, e.duplicates, e.images, e.audit)
	h.now = func() time.Time { return fixedNow }
	return h
}

func (e *testEnv) adminHandler() *AdminHandler {
	h := NewAdminHandler(e.stores, e.faces, e.recognizer, e.duplicates, e.images, e.mailer, e.audit)
	h.now = func() time.Time { return fixedNow }
	return h
}

// addUser stores an active user whose password is testPassword.
func (e *testEnv) addUser(t *testing.T, email string, enrolled bool) *database.Account {
	t.Helper()
	return e.set.Accounts.AddAccount(database.Account{
		Role:         database.RoleUser,
		Name:         "User " + email,
		Email:        email,
		PasswordHash: hashPassword(t),
		IsEnrolled:   enrolled,
	})
}

// addAdmin stores an active admin or super admin.
func (e *testEnv) addAdmin(t *testing.T, role database.Role, email string) *database.Account {
	t.Helper()
	return e.set.Accounts.AddAccount(database.Account{
		Role:         role,
		Name:         "Admin " + email,
		Email:        email,
		PasswordHash: hashPassword(t),
		IsActive:     true,
	})
}

// hashPassword hashes testPassword once per test binary.
var hashPassword = func() func(t *testing.T) string {
	var once sync.Once
	var hash string
	var err error
	return func(t *testing.T) string {
		t.Helper()
		once.Do(func() { hash, err = auth.HashPassword(testPassword) })
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		return hash
	}
}()

func identityOf(acc *database.Account) *auth.Identity {
	return &auth.Identity{ID: acc.ID, Type: acc.Role, Email: acc.Email}
}

// jsonRequest builds a request with an optional JSON body and identity.
func jsonRequest(t *testing.T, method, path string, body any, id *auth.Identity) *http.Request {
	t.Helper()
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req = req.WithContext(middleware.SetIdentityInContext(req.Context(), id))
	}
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// testPhoto returns a JPEG data URL of a flat image with a lighter square,
// varying with shade so each call yields different bytes.
func testPhoto(t *testing.T, shade uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := range 64 {
		for x := range 64 {
			c := color.RGBA{R: shade, G: shade, B: shade, A: 255}
			if x > 16 && x < 48 && y > 16 && y < 48 {
				c = color.RGBA{R: 255 - shade, G: 200, B: 180, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	url, err := imaging.EncodeDataURL(img, 0.92)
	if err != nil {
		t.Fatalf("encode photo: %v", err)
	}
	return url
}

func testPhotos(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		out[i] = testPhoto(t, uint8(40+i*30))
	}
	return out
}

// staticCapturer opens readers that yield the same JPEG frame forever.
type staticCapturer struct {
	frame   []byte
	openErr error
}

func (c *staticCapturer) Open(_ context.Context, _ camera.Source, _ camera.Config) (camera.FrameReader, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &staticReader{frame: c.frame, closed: make(chan struct{})}, nil
}

type staticReader struct {
	frame  []byte
	once   sync.Once
	closed chan struct{}
}

func (r *staticReader) ReadFrame() ([]byte, error) {
	select {
	case <-r.closed:
		return nil, errors.New("reader closed")
	case <-time.After(5 * time.Millisecond):
		return r.frame, nil
	}
}

func (r *staticReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	data, _, err := imaging.DecodeDataURL(testPhoto(t, 90))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return data
}

// waitFor polls cond for up to three seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%v'", expectedMessage, result["error"])
	}
}

// lastAction returns the newest audit entry's action.
func lastAction(env *testEnv) string {
	entries := env.set.Logs.Entries()
	if len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].Action
}
