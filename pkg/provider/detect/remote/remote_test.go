package remote_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
	"github.com/MrWong99/versecatch/pkg/provider/detect/remote"
)

// ---- helpers ----------------------------------------------------------------

// newDetectServer serves POST /v1/detect with the given handler body.
func newDetectServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/detect" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- construction -----------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "empty", baseURL: "", wantErr: true},
		{name: "bad scheme", baseURL: "ftp://detector", wantErr: true},
		{name: "http", baseURL: "http://localhost:9000"},
		{name: "https with path", baseURL: "https://detector.example.com/api/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := remote.New(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

// ---- Detect -----------------------------------------------------------------

func TestDetect_SendsSegmentAndDecodesQuotes(t *testing.T) {
	t.Parallel()

	segment := []byte{0x01, 0x02, 0x03, 0x04}
	srv := newDetectServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("version"); got != "KJV" {
			t.Errorf("version = %q, want KJV", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/octet-stream" {
			t.Errorf("Content-Type = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, segment) {
			t.Errorf("body = %v, want %v", body, segment)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"matched": true,
			"quotes": []map[string]any{
				{"book": "John", "chapter": 3, "verse_number": 16, "text": "For God so loved the world"},
			},
		})
	})

	p, err := remote.New(srv.URL, remote.WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Detect(context.Background(), segment, "KJV")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Matched {
		t.Fatal("Matched = false, want true")
	}
	if len(res.Quotes) != 1 {
		t.Fatalf("len(Quotes) = %d, want 1", len(res.Quotes))
	}
	q := res.Quotes[0]
	if q.Book != "John" || q.Chapter != 3 || q.VerseNumber != 16 {
		t.Errorf("quote = %+v", q)
	}
	if q.Version != "KJV" {
		t.Errorf("Version = %q, want version filled from request", q.Version)
	}
}

func TestDetect_NoMatch(t *testing.T) {
	t.Parallel()

	srv := newDetectServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"matched": false, "quotes": []}`))
	})
	p, _ := remote.New(srv.URL)

	res, err := p.Detect(context.Background(), []byte("x"), "ASV_bible")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Matched || len(res.Quotes) != 0 {
		t.Errorf("res = %+v, want no match", res)
	}
}

func TestDetect_Non2xxReturnsStatusError(t *testing.T) {
	t.Parallel()

	srv := newDetectServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown version", http.StatusBadRequest)
	})
	p, _ := remote.New(srv.URL)

	_, err := p.Detect(context.Background(), []byte("x"), "nope")
	var se *remote.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", se.StatusCode)
	}
	if se.Body != "unknown version" {
		t.Errorf("Body = %q", se.Body)
	}
}

func TestDetect_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := newDetectServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	p, _ := remote.New(srv.URL)

	if _, err := p.Detect(context.Background(), []byte("x"), "ASV_bible"); err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestDetect_TimeoutMapsToErrTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := newDetectServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	p, _ := remote.New(srv.URL)
	_, err := detect.Detect(context.Background(), p, []byte("x"), "ASV_bible", 50*time.Millisecond)
	if !errors.Is(err, detect.ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
}

func TestDetect_BasePathIsPreserved(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"matched": false}`))
	}))
	defer srv.Close()

	p, _ := remote.New(srv.URL + "/api/")
	if _, err := p.Detect(context.Background(), []byte("x"), "ASV_bible"); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if gotPath != "/api/v1/detect" {
		t.Errorf("path = %q, want /api/v1/detect", gotPath)
	}
}
