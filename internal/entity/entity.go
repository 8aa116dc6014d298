// Package entity extracts the subject and target day a message refers to.
package entity

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/study-planner/internal/datecontext"
	"github.com/ashureev/study-planner/internal/textnorm"
)

// DefaultSubjects is the built-in subject table. Multi-word subjects come
// before the single words they end with, since the first match wins.
var DefaultSubjects = []string{
	"Educação Física",
	"Matemática",
	"Física",
	"Química",
	"Biologia",
	"História",
	"Geografia",
	"Português",
	"Literatura",
	"Redação",
	"Inglês",
	"Espanhol",
	"Filosofia",
	"Sociologia",
	"Artes",
	"Programação",
}

// Entities holds what was found in a message. Subject is empty and Date is
// nil when absent.
type Entities struct {
	Subject string     `json:"subject,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
}

type subjectKey struct {
	canonical string
	folded    string
}

// Extractor matches messages against an ordered subject table.
type Extractor struct {
	subjects []subjectKey
	resolver datecontext.Resolver
}

// NewExtractor builds an extractor over subjects, in priority order. A nil or
// empty list falls back to DefaultSubjects.
func NewExtractor(subjects []string, resolver datecontext.Resolver) *Extractor {
	if len(subjects) == 0 {
		subjects = DefaultSubjects
	}
	keys := make([]subjectKey, 0, len(subjects))
	for _, s := range subjects {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		keys = append(keys, subjectKey{canonical: s, folded: textnorm.Fold(s)})
	}
	return &Extractor{subjects: keys, resolver: resolver}
}

var defaultExtractor = NewExtractor(nil, datecontext.Resolver{})

// Extract runs the default extractor.
func Extract(message string, ref time.Time) Entities {
	return defaultExtractor.Extract(message, ref)
}

// Extract returns the subject and single target day named in message. Week
// and month ranges are not surfaced here.
func (e *Extractor) Extract(message string, ref time.Time) Entities {
	var out Entities
	out.Subject = e.Subject(message)
	if dc := e.resolver.Resolve(message, ref); dc.Target != nil {
		d := *dc.Target
		out.Date = &d
	}
	return out
}

// Subject returns the canonical spelling of the first subject contained in
// message, or "".
func (e *Extractor) Subject(message string) string {
	folded := textnorm.Fold(message)
	for _, s := range e.subjects {
		if strings.Contains(folded, s.folded) {
			return s.canonical
		}
	}
	return ""
}

// Subjects returns the canonical subject names in priority order.
func (e *Extractor) Subjects() []string {
	out := make([]string, len(e.subjects))
	for i, s := range e.subjects {
		out[i] = s.canonical
	}
	return out
}

type subjectsFile struct {
	Subjects []string `yaml:"subjects"`
}

// LoadSubjects reads a YAML file with a top-level "subjects" list.
func LoadSubjects(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("subjects path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subjects file: %w", err)
	}
	var f subjectsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subjects file: %w", err)
	}
	if len(f.Subjects) == 0 {
		return nil, fmt.Errorf("subjects file %s lists no subjects", path)
	}
	return f.Subjects, nil
}
