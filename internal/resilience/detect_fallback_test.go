package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
	"github.com/MrWong99/versecatch/pkg/provider/detect/mock"
)

func TestDetectFallback(t *testing.T) {
	t.Parallel()

	want := detect.Result{Matched: true, Quotes: []detect.QuoteMatch{{Book: "John", Chapter: 3, VerseNumber: 16}}}
	primary := &mock.Provider{DetectFunc: func(context.Context, []byte, string) (detect.Result, error) {
		return detect.Result{}, errors.New("engine down")
	}}
	secondary := &mock.Provider{DefaultResult: want}

	f := NewDetectFallback(primary, "remote", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	f.AddFallback("backup", secondary)

	got, err := f.Detect(context.Background(), []byte{1, 2}, "ASV_bible")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got.Quotes) != 1 || got.Quotes[0].Book != "John" {
		t.Errorf("result = %+v", got)
	}
	if f.BreakerStates()["remote"] != StateOpen {
		t.Errorf("primary breaker = %v, want open", f.BreakerStates()["remote"])
	}

	// With the primary open the next call goes straight to the backup.
	if _, err := f.Detect(context.Background(), []byte{3}, "ASV_bible"); err != nil {
		t.Fatal(err)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 2 {
		t.Errorf("calls primary=%d secondary=%d, want 1 and 2", primary.CallCount(), secondary.CallCount())
	}
	if !f.Available() {
		t.Error("Available() = false")
	}
}

func TestDetectFallback_TimeoutSurfacesAsErrTimeout(t *testing.T) {
	t.Parallel()

	slow := &mock.Provider{Responses: []mock.Response{{Delay: time.Second}}}
	f := NewDetectFallback(slow, "slow", FallbackConfig{})

	_, err := detect.Detect(context.Background(), f, []byte{1}, "ASV_bible", 10*time.Millisecond)
	if !errors.Is(err, detect.ErrTimeout) {
		t.Fatalf("err = %v, want detect.ErrTimeout", err)
	}
}
