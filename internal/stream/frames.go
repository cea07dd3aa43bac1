package stream

import (
	"encoding/json"

	"github.com/MrWong99/versecatch/pkg/provider/detect"
)

// Subprotocol is the WebSocket subprotocol negotiated when the client offers
// it. Its suffix tracks [detect.SchemaVersion].
const Subprotocol = "versecatch.v1"

// Error codes carried by [ErrorFrame].
const (
	CodeDetectionFailed     = "detection_failed"
	CodeDetectionTimeout    = "detection_timeout"
	CodeDetectorUnavailable = "detector_unavailable"
	CodeLedgerFailed        = "ledger_failed"
)

var errorMessages = map[string]string{
	CodeDetectionFailed:     "scripture detection failed",
	CodeDetectionTimeout:    "scripture detection timed out",
	CodeDetectorUnavailable: "scripture detection is temporarily unavailable",
	CodeLedgerFailed:        "the match could not be recorded",
}

// ErrorFrame is the outbound JSON object reporting a per-segment failure.
// The session stays open after an error frame.
type ErrorFrame struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Segment uint64 `json:"segment,omitempty"`
}

func newErrorFrame(code string, seq uint64) ErrorFrame {
	return ErrorFrame{Error: errorMessages[code], Code: code, Segment: seq}
}

// encodeQuotes renders a quotes frame: a JSON array of matches, "[]" for none.
func encodeQuotes(quotes []detect.QuoteMatch) ([]byte, error) {
	if quotes == nil {
		quotes = []detect.QuoteMatch{}
	}
	return json.Marshal(quotes)
}
