// Package assistant turns chat messages into planner actions and replies.
package assistant

import (
	"time"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/entity"
	"github.com/ashureev/study-planner/internal/intent"
)

// Analysis is everything the classification pipeline learned about a message.
type Analysis struct {
	Intent      intent.Intent           `json:"intent"`
	Subject     string                  `json:"subject,omitempty"`
	Date        *time.Time              `json:"date,omitempty"`
	DateContext datecontext.DateContext `json:"date_context"`
}

// Pipeline runs date resolution, entity extraction and intent classification.
type Pipeline struct {
	resolver  datecontext.Resolver
	extractor *entity.Extractor
}

// NewPipeline builds a pipeline over a subject table. A nil location resolves
// dates in the reference instant's own location; nil subjects use the
// default table.
func NewPipeline(subjects []string, loc *time.Location) *Pipeline {
	resolver := datecontext.Resolver{Location: loc}
	return &Pipeline{
		resolver:  resolver,
		extractor: entity.NewExtractor(subjects, resolver),
	}
}

// Analyze classifies message as of now.
func (p *Pipeline) Analyze(message string, now time.Time) Analysis {
	dc := p.resolver.Resolve(message, now)
	ents := p.extractor.Extract(message, now)
	return Analysis{
		Intent:      intent.Classify(message, !dc.IsZero()),
		Subject:     ents.Subject,
		Date:        ents.Date,
		DateContext: dc,
	}
}

// Subjects returns the subject table in priority order.
func (p *Pipeline) Subjects() []string {
	return p.extractor.Subjects()
}
