// Package extractor finds candidate entity mentions in free text when no
// LanguageModel is available to do the job properly. It runs two paths: a
// stateful, threshold-promoted scan over capitalized phrase runs (the
// NLP-preferred path, since it resists one-off capitalization noise), and a
// single-pass regex scan used as a degraded fallback.
package extractor

import (
	"regexp"
	"strings"

	"github.com/orsinium-labs/stopwords"

	"github.com/localmemory/memcore/internal/gazetteer"
	"github.com/localmemory/memcore/internal/store"
)

// candidateStatus tracks a token run's promotion lifecycle.
type candidateStatus int

const (
	statusWatching candidateStatus = iota
	statusPromoted
)

type candidateStats struct {
	count   int
	status  candidateStatus
	display string
}

// Candidate is a proposed, not-yet-persisted entity mention.
type Candidate struct {
	Name  string
	Type  store.EntityType
	Count int
}

// Extractor accumulates capitalized-phrase occurrence counts across calls
// to ExtractCandidates and promotes a phrase once it crosses threshold.
type Extractor struct {
	threshold       int
	stats           map[string]*candidateStats
	stopwordChecker *stopwords.Stopwords
	customStop      map[string]bool
}

// New builds an Extractor. threshold is the number of distinct mentions a
// phrase needs before it is returned as a promoted candidate; 2 is a
// reasonable default (a single capitalized word at a sentence start is too
// common a false positive to promote on one sighting).
func New(threshold int) *Extractor {
	if threshold < 1 {
		threshold = 1
	}
	return &Extractor{
		threshold:       threshold,
		stats:           make(map[string]*candidateStats),
		stopwordChecker: stopwords.MustGet("en"),
		customStop:      make(map[string]bool),
	}
}

// AddStopWord excludes a word from ever being registered as a candidate
// token, on top of the builtin English stopword list.
func (e *Extractor) AddStopWord(word string) {
	e.customStop[gazetteer.Canonicalize(word)] = true
}

var capitalizedRun = regexp.MustCompile(`\b[A-Z][a-zA-Z'.-]*(?:\s+[A-Z][a-zA-Z'.-]*)*\b`)

var orgSuffixes = []string{"inc", "corp", "llc", "ltd", "co", "company", "technologies", "labs", "studio", "studios"}
var locationHints = []string{"street", "st", "avenue", "ave", "road", "rd", "city", "county", "university", "island", "mountain", "lake", "river"}

// ExtractCandidates runs the NLP-preferred path: it scans every text for
// capitalized phrase runs, skips phrases already known to the caller's
// gazetteer or on the stopword list, accumulates occurrence counts across
// all calls made on this Extractor, and returns every phrase that has just
// crossed the promotion threshold on this call.
func (e *Extractor) ExtractCandidates(text string, isKnown func(name string) bool) []Candidate {
	var promoted []Candidate

	for _, phrase := range capitalizedRun.FindAllString(text, -1) {
		phrase = strings.TrimSpace(phrase)
		if phrase == "" {
			continue
		}
		key := gazetteer.Canonicalize(phrase)
		if key == "" || e.isStopPhrase(key) {
			continue
		}
		if isKnown != nil && isKnown(phrase) {
			continue
		}

		stats, ok := e.stats[key]
		if !ok {
			stats = &candidateStats{display: phrase}
			e.stats[key] = stats
		}
		if len(phrase) > len(stats.display) {
			stats.display = phrase
		}
		stats.count++

		if stats.status == statusPromoted {
			continue
		}
		if stats.count >= e.threshold {
			stats.status = statusPromoted
			promoted = append(promoted, Candidate{
				Name:  stats.display,
				Type:  inferType(stats.display),
				Count: stats.count,
			})
		}
	}

	return promoted
}

// isStopPhrase drops single common words; multiword phrases are never
// stopwords regardless of their first token.
func (e *Extractor) isStopPhrase(key string) bool {
	if strings.Contains(key, " ") {
		return false
	}
	if e.customStop[key] {
		return true
	}
	return e.stopwordChecker != nil && e.stopwordChecker.Contains(key)
}

// ExtractRegex is the degraded fallback: a single-pass scan with no
// cross-call state or threshold, for callers extracting from one isolated
// document (a filed source document, for instance) where accumulating
// counts across unrelated texts would be meaningless.
func ExtractRegex(text string) []Candidate {
	seen := make(map[string]*Candidate)
	var order []string
	checker := stopwords.MustGet("en")

	for _, phrase := range capitalizedRun.FindAllString(text, -1) {
		phrase = strings.TrimSpace(phrase)
		key := gazetteer.Canonicalize(phrase)
		if key == "" {
			continue
		}
		if !strings.Contains(key, " ") && checker != nil && checker.Contains(key) {
			continue
		}
		if c, ok := seen[key]; ok {
			c.Count++
			continue
		}
		seen[key] = &Candidate{Name: phrase, Type: inferType(phrase), Count: 1}
		order = append(order, key)
	}

	out := make([]Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, *seen[key])
	}
	return out
}

// inferType applies surface heuristics to a capitalized phrase, the same
// spirit as inferring a narrative role from a verb's object in the teacher's
// relational scanner, adapted to this system's five-type entity vocabulary.
func inferType(phrase string) store.EntityType {
	lower := strings.ToLower(phrase)
	tokens := strings.Fields(lower)
	if len(tokens) == 0 {
		return store.EntityConcept
	}
	last := strings.Trim(tokens[len(tokens)-1], ".,")

	for _, s := range orgSuffixes {
		if last == s {
			return store.EntityOrganization
		}
	}
	for _, s := range locationHints {
		if last == s {
			return store.EntityLocation
		}
	}
	if len(tokens) >= 2 {
		return store.EntityPerson
	}
	return store.EntityConcept
}
