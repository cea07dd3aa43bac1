package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/versecatch/internal/identity"
	"github.com/MrWong99/versecatch/internal/ledger"
	"github.com/MrWong99/versecatch/internal/observe"
	"github.com/MrWong99/versecatch/internal/resilience"
	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// writeTimeout bounds a single outbound frame.
const writeTimeout = 10 * time.Second

// worker is the single consumer of a session's queue. It is the only
// goroutine that writes frames and the only one that touches storage.
type worker struct {
	sessionID string
	conn      Conn
	cfg       *Config
	queue     *Queue
	version   string
	identity  identity.Identity
	log       *slog.Logger

	processed atomic.Int64
}

func (w *worker) run(ctx context.Context) {
	for ctx.Err() == nil {
		seg, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		w.process(ctx, seg)
		w.processed.Add(1)
	}
}

// process handles one segment end to end. Failures are reported to the peer
// and never stop the worker.
func (w *worker) process(ctx context.Context, seg Segment) {
	ctx, span := observe.StartSpan(ctx, "stream.segment", trace.WithAttributes(
		attribute.String("session_id", w.sessionID),
		attribute.Int64("segment", int64(seg.Seq)),
		attribute.Int("bytes", len(seg.Data)),
	))
	defer span.End()
	log := observe.LoggerFrom(ctx, w.log).With("segment", seg.Seq)

	res, err := w.detect(ctx, seg)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		code := errorCode(err)
		span.SetStatus(codes.Error, code)
		if code == CodeDetectionTimeout {
			log.Warn("detection timed out", "timeout", w.cfg.DetectTimeout)
		} else {
			log.Error("detection failed", "code", code, "err", err)
		}
		w.sendError(ctx, code, seg.Seq)
		return
	}

	if !res.Matched {
		if w.cfg.ReplyOnNoMatch {
			w.sendQuotes(ctx, nil)
		}
		return
	}

	span.SetAttributes(attribute.Int("quotes", len(res.Quotes)))
	ledgerErr := w.record(ctx, log, res.Quotes)
	w.sendQuotes(ctx, res.Quotes)
	if ledgerErr != nil {
		span.SetStatus(codes.Error, CodeLedgerFailed)
		log.Error("recording match failed", "err", ledgerErr)
		w.sendError(ctx, CodeLedgerFailed, seg.Seq)
	}
}

func (w *worker) detect(ctx context.Context, seg Segment) (detect.Result, error) {
	ctx, span := observe.StartSpan(ctx, "detect")
	defer span.End()

	start := time.Now()
	res, err := detect.Detect(ctx, w.cfg.Detector, seg.Data, w.version, w.cfg.DetectTimeout)
	elapsed := time.Since(start)

	status := observe.DetectNoMatch
	switch {
	case err != nil && errors.Is(err, detect.ErrTimeout):
		status = observe.DetectTimeout
	case err != nil && resilience.IsUnavailable(err):
		status = observe.DetectUnavailable
	case err != nil:
		status = observe.DetectError
	case res.Matched:
		status = observe.DetectMatch
	}
	if err == nil || ctx.Err() == nil {
		w.cfg.Metrics.RecordDetection(ctx, status, elapsed)
	}
	span.SetAttributes(attribute.String("status", status))
	return res, err
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, detect.ErrTimeout):
		return CodeDetectionTimeout
	case resilience.IsUnavailable(err):
		return CodeDetectorUnavailable
	default:
		return CodeDetectionFailed
	}
}

// record updates the usage ledger for one matched segment: one capture for
// the credited identity, and for registered users one verse_caught activity
// per quote followed by achievement evaluation.
func (w *worker) record(ctx context.Context, log *slog.Logger, quotes []detect.QuoteMatch) error {
	ctx, span := observe.StartSpan(ctx, "ledger.record")
	defer span.End()

	id := w.cfg.Resolver.ForMatch(w.identity)
	m := w.cfg.Metrics

	start := time.Now()
	count, err := w.cfg.Ledger.RecordCapture(ctx, id)
	m.RecordLedgerOp(ctx, "record_capture", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("stream: record capture: %w", err)
	}
	log.Debug("capture recorded", "count", count)

	if !id.IsRegistered() {
		return nil
	}

	for _, q := range quotes {
		start = time.Now()
		err = w.cfg.Ledger.AppendActivity(ctx, id.ID, ledger.ActivityVerseCaught, q.Book)
		m.RecordLedgerOp(ctx, "append_activity", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("stream: append activity: %w", err)
		}
	}

	if w.cfg.Achievements == nil {
		return nil
	}
	start = time.Now()
	unlocked, err := w.cfg.Achievements.OnVerseCaught(ctx, id.ID)
	m.RecordLedgerOp(ctx, "achievements", time.Since(start), err)
	for _, a := range unlocked {
		log.Info("achievement unlocked", "tag", string(a.Tag), "name", a.Name)
	}
	if err != nil {
		return fmt.Errorf("stream: evaluate achievements: %w", err)
	}
	return nil
}

func (w *worker) sendQuotes(ctx context.Context, quotes []detect.QuoteMatch) {
	data, err := encodeQuotes(quotes)
	if err != nil {
		w.log.Error("encode quotes frame", "err", err)
		return
	}
	if w.write(ctx, data) {
		w.cfg.Metrics.RecordFrame(ctx, "quotes")
		w.cfg.Metrics.QuotesCaught.Add(ctx, int64(len(quotes)))
	}
}

func (w *worker) sendError(ctx context.Context, code string, seq uint64) {
	data, err := json.Marshal(newErrorFrame(code, seq))
	if err != nil {
		w.log.Error("encode error frame", "err", err)
		return
	}
	if w.write(ctx, data) {
		w.cfg.Metrics.RecordFrame(ctx, "error")
	}
}

// write sends one text frame. A peer that already left is not an error worth
// more than a debug line; the worker keeps draining so ledger state stays
// complete.
func (w *worker) write(ctx context.Context, data []byte) bool {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		w.log.Debug("write frame failed", "err", err)
		return false
	}
	return true
}
