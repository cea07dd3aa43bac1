// Package stream implements the real-time detection pipeline behind
// /ws/detect-quotes.
//
// Every accepted connection becomes a [Session]: the network loop reads
// binary messages into a bounded [Queue], and exactly one worker pops them
// in arrival order, runs scripture detection, records matches in the usage
// ledger, evaluates achievements, and writes one reply frame per result.
// Sessions share nothing with each other except the detector and the
// storage pool.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/versecatch/internal/achievement"
	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
	"github.com/MrWong99/versecatch/internal/observe"
	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	Reader(ctx context.Context) (websocket.MessageType, io.Reader, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// Config holds the collaborators and limits shared by every session.
type Config struct {
	// Detector is required.
	Detector detect.Provider

	// Resolver maps claimed identities. Required.
	Resolver *identity.Resolver

	// Ledger records captures and activities. Required.
	Ledger ledger.Store

	// Achievements is evaluated after every registered capture. Optional.
	Achievements *achievement.Engine

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// QueueSize bounds each session's segment queue. Default: 64.
	QueueSize int

	// DetectTimeout bounds one detection call. 0 disables the deadline.
	DetectTimeout time.Duration

	// DrainTimeout bounds how long a closing session waits for its worker.
	// 0 waits until the queue is drained.
	DrainTimeout time.Duration

	// ReplyOnNoMatch sends "[]" for segments without a match.
	ReplyOnNoMatch bool

	// DefaultVersion is used when the client omits the version parameter.
	DefaultVersion string

	// MaxMessageBytes is the largest segment accepted. Larger messages are
	// discarded and skipped. Default: 1 MiB.
	MaxMessageBytes int64

	// OriginPatterns are passed to websocket.AcceptOptions.
	OriginPatterns []string
}

func (c *Config) validate() error {
	var errs []error
	if c.Detector == nil {
		errs = append(errs, errors.New("detector is required"))
	}
	if c.Resolver == nil {
		errs = append(errs, errors.New("resolver is required"))
	}
	if c.Ledger == nil {
		errs = append(errs, errors.New("ledger is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("stream: invalid config: %w", err)
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DefaultVersion == "" {
		c.DefaultVersion = "ASV_bible"
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1 << 20
	}
	return nil
}

// Session is one live connection. Create it with [NewSession] and call
// [Session.Run] exactly once.
type Session struct {
	id       string
	conn     Conn
	cfg      *Config
	version  string
	identity identity.Identity
	queue    *Queue
	log      *slog.Logger
}

// SessionParams describe one accepted connection.
type SessionParams struct {
	ID       string
	Version  string
	Identity identity.Identity
	Remote   string
}

// NewSession wires a session for an accepted connection.
func NewSession(conn Conn, cfg *Config, p SessionParams) *Session {
	version := p.Version
	if version == "" {
		version = cfg.DefaultVersion
	}
	return &Session{
		id:       p.ID,
		conn:     conn,
		cfg:      cfg,
		version:  version,
		identity: p.Identity,
		queue:    NewQueue(cfg.QueueSize, cfg.Metrics),
		log: slog.With(
			"session_id", p.ID,
			"remote", p.Remote,
			"identity", p.Identity.Kind.String(),
			"version", version,
		),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Run reads segments until the peer goes away or ctx ends, then drains the
// worker and closes the connection with a normal closure. Every read
// termination takes this path; Run only returns the read error for the
// caller's information.
func (s *Session) Run(ctx context.Context) error {
	m := s.cfg.Metrics
	m.ActiveSessions.Add(ctx, 1)
	defer m.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	s.log.Info("session opened")
	start := time.Now()

	// Already-issued ledger writes must survive a disconnect, so the worker
	// only stops early when the drain deadline passes.
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()

	w := &worker{
		sessionID: s.id,
		conn:      s.conn,
		cfg:       s.cfg,
		queue:     s.queue,
		version:   s.version,
		identity:  s.identity,
		log:       s.log,
	}

	var g errgroup.Group
	g.Go(func() error {
		w.run(workerCtx)
		return nil
	})

	readErr := s.readLoop(ctx)
	s.queue.Close()

	drained := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if s.cfg.DrainTimeout > 0 {
		t := time.NewTimer(s.cfg.DrainTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-drained:
	case <-timeout:
		s.log.Warn("drain timeout exceeded; abandoning queued segments",
			"drain_timeout", s.cfg.DrainTimeout,
			"queued", s.queue.Len())
		cancelWorker()
		<-drained
	}

	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("session closed",
		"segments", w.processed.Load(),
		"duration", time.Since(start).Round(time.Millisecond))
	return readErr
}

// readLoop forwards binary messages to the queue in arrival order. Messages
// that are not binary, empty, or over MaxMessageBytes are skipped and the
// connection stays open.
func (s *Session) readLoop(ctx context.Context) error {
	var seq uint64
	for {
		typ, r, err := s.conn.Reader(ctx)
		if err != nil {
			s.logReadEnd(ctx, err)
			return err
		}
		data, oversize, err := readMessage(r, s.cfg.MaxMessageBytes)
		if err != nil {
			s.logReadEnd(ctx, err)
			return err
		}

		switch {
		case typ != websocket.MessageBinary:
			s.log.Warn("skipping non-binary frame", "type", typ.String(), "bytes", len(data))
			s.cfg.Metrics.RecordSkippedSegment(ctx, "text")
			continue
		case oversize:
			s.log.Warn("skipping oversize frame", "limit", s.cfg.MaxMessageBytes)
			s.cfg.Metrics.RecordSkippedSegment(ctx, "oversize")
			continue
		case len(data) == 0:
			s.log.Warn("skipping empty frame")
			s.cfg.Metrics.RecordSkippedSegment(ctx, "empty")
			continue
		}

		seq++
		seg := Segment{Seq: seq, Data: data, ReceivedAt: time.Now()}
		if err := s.queue.Push(ctx, seg); err != nil {
			s.log.Info("stopped accepting segments", "err", err)
			return err
		}
		s.cfg.Metrics.SegmentsReceived.Add(ctx, 1)
	}
}

// readMessage buffers at most limit bytes of one message. The remainder of a
// larger message is drained so the next message can be read.
func readMessage(r io.Reader, limit int64) (data []byte, oversize bool, err error) {
	data, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) <= limit {
		return data, false, nil
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, true, err
	}
	return nil, true, nil
}

func (s *Session) logReadEnd(ctx context.Context, err error) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		s.log.Info("peer closed the stream", "status", status.String())
	case ctx.Err() != nil:
		s.log.Info("stream cancelled", "err", ctx.Err())
	default:
		s.log.Warn("stream ended abnormally", "status", status.String(), "err", err)
	}
}
