// Package mock provides a scriptable test double for detect.Provider.
//
// Results are served from a queue of Responses in call order; once the queue is
// exhausted DefaultResult is returned. A Response may carry a Delay to simulate
// a slow backend (the delay honours context cancellation) or an Err to
// simulate a failing one.
//
// Example:
//
//	p := &mock.Provider{Responses: []mock.Response{
//	    {Result: detect.Result{Matched: true, Quotes: quotes}},
//	    {Delay: time.Second}, // times out under a short deadline
//	    {},                   // no match
//	}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// Ensure Provider implements detect.Provider at compile time.
var _ detect.Provider = (*Provider)(nil)

// Response is one scripted answer.
type Response struct {
	Result detect.Result
	Err    error
	Delay  time.Duration
}

// Call records a single invocation of Provider.Detect.
type Call struct {
	// Segment is a copy of the audio bytes passed to Detect.
	Segment []byte
	// Version is the scripture version passed to Detect.
	Version string
}

// Provider is a mock implementation of detect.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are consumed in order, one per call.
	Responses []Response

	// DefaultResult is returned once Responses is exhausted.
	DefaultResult detect.Result

	// DetectFunc, if set, overrides Responses and DefaultResult entirely.
	DetectFunc func(ctx context.Context, segment []byte, version string) (detect.Result, error)

	// Calls records every call to Detect.
	Calls []Call
}

// Detect records the call and returns the next scripted Response.
func (p *Provider) Detect(ctx context.Context, segment []byte, version string) (detect.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(segment))
	copy(cp, segment)
	p.Calls = append(p.Calls, Call{Segment: cp, Version: version})

	if fn := p.DetectFunc; fn != nil {
		p.mu.Unlock()
		return fn(ctx, segment, version)
	}

	resp := Response{Result: p.DefaultResult}
	if len(p.Responses) > 0 {
		resp = p.Responses[0]
		p.Responses = p.Responses[1:]
	}
	p.mu.Unlock()

	if resp.Delay > 0 {
		t := time.NewTimer(resp.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return detect.Result{}, ctx.Err()
		}
	}
	if resp.Err != nil {
		return detect.Result{}, resp.Err
	}
	return resp.Result, nil
}

// CallCount returns the number of Detect calls so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Segments returns copies of the segments passed to Detect, in call order.
// Thread-safe.
func (p *Provider) Segments() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Segment
	}
	return out
}

// Match is a convenience constructor for a matching Response.
func Match(quotes ...detect.QuoteMatch) Response {
	return Response{Result: detect.Result{Matched: true, Quotes: quotes}}
}
