package achievement

import "fmt"

// Rule describes an achievement and the aggregate value that unlocks it.
type Rule struct {
	Tag         Tag
	Name        string
	Requirement string
	Threshold   int64
}

// Qualifies reports whether value meets the rule's threshold.
func (r Rule) Qualifies(value int64) bool {
	return value >= r.Threshold
}

// Rules is the set of rules an [Engine] evaluates, keyed by tag.
type Rules map[Tag]Rule

// DefaultRules returns the built-in achievement catalogue.
func DefaultRules() Rules {
	return Rules{
		TagVerseCatcher: {
			Tag:         TagVerseCatcher,
			Name:        "Verse Catcher",
			Requirement: "Catch 100 verses",
			Threshold:   100,
		},
		TagBibleExplorer: {
			Tag:         TagBibleExplorer,
			Name:        "Bible Explorer",
			Requirement: "Catch verses from 60 different books",
			Threshold:   60,
		},
		TagSharingSaint: {
			Tag:         TagSharingSaint,
			Name:        "Sharing Saint",
			Requirement: "Share 50 verses",
			Threshold:   50,
		},
		TagDailyDevotee: {
			Tag:         TagDailyDevotee,
			Name:        "Daily Devotee",
			Requirement: "Log in 7 days in a row",
			Threshold:   7,
		},
		TagSupporter: {
			Tag:         TagSupporter,
			Name:        "Supporter",
			Requirement: "Support VerseCatch",
			Threshold:   1,
		},
	}
}

// WithThresholds returns a copy of rs with the given thresholds replaced.
// Unknown tags and non-positive thresholds are rejected.
func (rs Rules) WithThresholds(overrides map[string]int64) (Rules, error) {
	out := make(Rules, len(rs))
	for k, v := range rs {
		out[k] = v
	}
	for tag, threshold := range overrides {
		r, ok := out[Tag(tag)]
		if !ok {
			return nil, fmt.Errorf("achievement: unknown achievement %q", tag)
		}
		if threshold <= 0 {
			return nil, fmt.Errorf("achievement: threshold for %q must be positive, got %d", tag, threshold)
		}
		r.Threshold = threshold
		out[r.Tag] = r
	}
	return out, nil
}
