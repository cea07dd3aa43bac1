package detect

// SchemaVersion is the version of the QuoteMatch wire schema. It is bumped
// whenever a field is renamed or removed.
const SchemaVersion = 1

// QuoteMatch identifies one detected scripture citation.
type QuoteMatch struct {
	// Version is the scripture version the text was matched in (e.g. "ASV_bible").
	Version string `json:"version"`

	// Book is the canonical book name (e.g. "John").
	Book string `json:"book"`

	// Chapter is the 1-based chapter number.
	Chapter int `json:"chapter"`

	// VerseNumber is the 1-based verse number within Chapter.
	VerseNumber int `json:"verse_number"`

	// Text is the verse text as stored by the detection backend.
	Text string `json:"text"`
}

// Result is the outcome of a single detection call.
type Result struct {
	// Matched reports whether any quotation was found.
	Matched bool `json:"matched"`

	// Quotes lists the detected citations in the order the backend reported
	// them. Empty when Matched is false.
	Quotes []QuoteMatch `json:"quotes"`
}

// normalise makes Matched and Quotes agree: a result that claims a match but
// carries no quotes is treated as no match, and quotes imply a match.
func (r Result) normalise() Result {
	if len(r.Quotes) == 0 {
		return Result{}
	}
	r.Matched = true
	return r
}
