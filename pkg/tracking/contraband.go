package tracking

import (
	"strings"
	"time"

	"github.com/teslashibe/go-proctor/pkg/integrity"
)

// contrabandRule maps label substrings to a violation kind
type contrabandRule struct {
	substrings []string
	kind       integrity.ViolationKind
}

// Rules are checked in order and the first match wins. "notebook" has to be
// tested before "book".
var contrabandRules = []contrabandRule{
	{substrings: []string{"cell phone", "phone"}, kind: integrity.PhoneDetected},
	{substrings: []string{"notebook", "paper"}, kind: integrity.NotesDetected},
	{substrings: []string{"book"}, kind: integrity.BookDetected},
}

// ClassifyLabel maps an object label to a violation kind.
// Matching is case-insensitive substring matching.
func ClassifyLabel(label string) (integrity.ViolationKind, bool) {
	l := strings.ToLower(label)
	for _, rule := range contrabandRules {
		for _, sub := range rule.substrings {
			if strings.Contains(l, sub) {
				return rule.kind, true
			}
		}
	}
	return "", false
}

// ContrabandTracker turns forbidden objects into violations. There is no
// debounce: every qualifying object in every tick is its own event.
type ContrabandTracker struct {
	minConfidence float64
}

// NewContrabandTracker creates a contraband tracker from config
func NewContrabandTracker(cfg Config) *ContrabandTracker {
	return &ContrabandTracker{minConfidence: cfg.MinObjectConfidence}
}

// Observe returns one event per qualifying object, in input order
func (c *ContrabandTracker) Observe(objects []ObjectObservation, now time.Time) []integrity.ViolationEvent {
	var events []integrity.ViolationEvent
	for _, obj := range objects {
		kind, ok := ClassifyLabel(obj.Label)
		if !ok {
			continue
		}
		conf := integrity.ClampConfidence(obj.Confidence)
		if conf < c.minConfidence {
			continue
		}
		events = append(events, integrity.NewEvent(kind, now, conf))
	}
	return events
}
