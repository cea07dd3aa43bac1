package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/versecatch/internal/app"
	"github.com/MrWong99/versecatch/internal/config"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/observe"
	"github.com/MrWong99/versecatch/internal/stream"
	"github.com/MrWong99/versecatch/pkg/provider/detect"
	"github.com/MrWong99/versecatch/pkg/provider/detect/mock"
)

const testKey = "versecatch-test-key"

// testConfig returns a defaulted in-memory config for tests.
func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.APIKeyHash = stream.HashAPIKey(testKey)
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Storage.Driver = config.DriverMemory
	cfg.Detector.Name = "mock"
	cfg.Identity.CacheTTL = -1
	config.ApplyDefaults(cfg)
	return cfg
}

func testOptions(t *testing.T, storage app.Storage) []app.Option {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return []app.Option{
		app.WithStorage(storage),
		app.WithMetrics(m),
		app.WithGatherer(prometheus.NewRegistry()),
	}
}

func testProviders(p detect.Provider) *app.Providers {
	return &app.Providers{Detector: app.Detector{Name: "mock", Provider: p}}
}

// downStorage fails its liveness probe.
type downStorage struct {
	*app.MemStorage
}

func (downStorage) Ping(context.Context) error { return errors.New("connection refused") }

func TestNew_RequiresDetector(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), &app.Providers{}, testOptions(t, app.NewMemStorage())...)
	if err == nil {
		t.Fatal("New without detector returned nil error")
	}
}

func TestNew_RejectsUnknownAchievementOverride(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Achievements = map[string]int64{"night_owl": 3}
	_, err := app.New(context.Background(), cfg, testProviders(&mock.Provider{}), testOptions(t, app.NewMemStorage())...)
	if err == nil {
		t.Fatal("New with unknown achievement returned nil error")
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		storage    app.Storage
		path       string
		wantStatus int
	}{
		{name: "healthz", storage: app.NewMemStorage(), path: "/healthz", wantStatus: http.StatusOK},
		{name: "readyz", storage: app.NewMemStorage(), path: "/readyz", wantStatus: http.StatusOK},
		{name: "readyz storage down", storage: downStorage{app.NewMemStorage()}, path: "/readyz", wantStatus: http.StatusServiceUnavailable},
		{name: "metrics", storage: app.NewMemStorage(), path: "/metrics", wantStatus: http.StatusOK},
		{name: "welcome", storage: app.NewMemStorage(), path: "/", wantStatus: http.StatusOK},
		{name: "unknown", storage: app.NewMemStorage(), path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, err := app.New(context.Background(), testConfig(), testProviders(&mock.Provider{}), testOptions(t, tc.storage)...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rec := httptest.NewRecorder()
			a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("GET %s = %d, want %d: %s", tc.path, rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestHandler_Welcome(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), testProviders(&mock.Provider{}), testOptions(t, app.NewMemStorage())...)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["stream"] != stream.Path || body["message"] == "" {
		t.Errorf("welcome = %v", body)
	}
}

func TestServe_StreamAndGracefulShutdown(t *testing.T) {
	t.Parallel()

	storage := app.NewMemStorage()
	storage.AddUser("Ann@Example.com", "u-ann")
	det := &mock.Provider{Responses: []mock.Response{
		mock.Match(detect.QuoteMatch{Version: "ASV_bible", Book: "John", Chapter: 3, VerseNumber: 16}),
	}}
	a, err := app.New(context.Background(), testConfig(), testProviders(det), testOptions(t, storage)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	u := "ws://" + ln.Addr().String() + stream.Path + "?" + url.Values{
		"api_key":    {testKey},
		"user_email": {"ann@example.com"},
	}.Encode()
	conn, _, err := websocket.Dial(dialCtx, u, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	if err := conn.Write(dialCtx, websocket.MessageBinary, []byte("audio")); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.Read(dialCtx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var quotes []detect.QuoteMatch
	if err := json.Unmarshal(data, &quotes); err != nil || len(quotes) != 1 || quotes[0].Book != "John" {
		t.Fatalf("reply = %s (%v)", data, err)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	c, found, err := storage.Counter(context.Background(), identity.Registered("u-ann"))
	if err != nil || !found || c.Count != 1 {
		t.Errorf("counter = %+v found=%v err=%v, want 1", c, found, err)
	}
	if acts := storage.Activities("u-ann"); len(acts) != 1 || acts[0].Data != "John" {
		t.Errorf("activities = %+v, want one John entry", acts)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestOpenStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StorageConfig{Driver: config.DriverMemory}},
		{name: "sqlite", cfg: config.StorageConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "vc.db")}},
		{name: "unknown", cfg: config.StorageConfig{Driver: "mongo"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, closeFn, err := app.OpenStorage(context.Background(), tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenStorage: %v", err)
			}
			defer func() {
				if err := closeFn(); err != nil {
					t.Errorf("close: %v", err)
				}
			}()
			if err := s.Ping(context.Background()); err != nil {
				t.Errorf("Ping: %v", err)
			}
			n, err := s.RecordCapture(context.Background(), identity.NewAnonymous())
			if err != nil || n != 1 {
				t.Errorf("RecordCapture = %d, %v", n, err)
			}
		})
	}
}

func TestMemStorage_Directory(t *testing.T) {
	t.Parallel()

	s := app.NewMemStorage()
	s.AddUser(" Bob@Example.com", "u-bob")
	if id, err := s.LookupUserByEmail(context.Background(), "bob@example.com"); err != nil || id != "u-bob" {
		t.Errorf("lookup = %q, %v", id, err)
	}
	if _, err := s.LookupUserByEmail(context.Background(), "eve@example.com"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("lookup unknown = %v, want ErrUserNotFound", err)
	}
}
