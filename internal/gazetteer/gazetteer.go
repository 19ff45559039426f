// Package gazetteer maintains an Aho-Corasick dictionary of known entity
// names and aliases, used for both exact name resolution and scanning raw
// transcript text for entity mentions. One automaton serves both purposes,
// rebuilt whenever an entity is created or aliased.
package gazetteer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/localmemory/memcore/internal/store"
)

// isJoiner reports punctuation kept inside a name so multiword entities
// stay coherent ("Ada Lovelace", "O'Brien", "Jean-Luc", "AT&T").
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || isJoiner(r) {
		return false
	}
	return true
}

// Canonicalize lowercases, normalizes punctuation variants, and collapses
// runs of separators into single spaces. Used for both pattern compilation
// and document scanning so the two stay consistent.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	lastWasSpace := true

	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}
	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// tokenize splits canonicalized text into space-separated words.
func tokenize(s string) []string {
	return strings.Fields(Canonicalize(s))
}

// Entry is one known entity fed into Compile.
type Entry struct {
	EntityID int64
	Name     string
	Type     store.EntityType
	Aliases  []string
}

// Info is the resolved record for a matched entity.
type Info struct {
	EntityID int64
	Name     string
	Type     store.EntityType
}

// priority orders which entity wins when two overlapping names share an
// exact surface form (rare, but two distinct entities can collide on an
// auto-generated alias). Higher wins.
func priority(t store.EntityType) int {
	switch t {
	case store.EntityPerson:
		return 10
	case store.EntityOrganization, store.EntityProject:
		return 7
	case store.EntityLocation:
		return 5
	case store.EntityConcept:
		return 3
	default:
		return 1
	}
}

// Match is one detected mention in scanned text.
type Match struct {
	Start       int
	End         int
	MatchedText string
	Entities    []Info
}

// Dictionary is a compiled Aho-Corasick automaton over known entity surface
// forms (canonical names, manual aliases, and generated auto-aliases).
type Dictionary struct {
	ac           *ahocorasick.Automaton
	patterns     []string
	patternIndex map[string]int
	patternToIDs [][]int64
	idToInfo     map[int64]Info
}

// Compile builds a Dictionary from a snapshot of known entities. Callers
// recompile after any entity create/alias operation; compilation is cheap
// relative to typical gazetteer sizes (hundreds to low thousands of names).
func Compile(entries []Entry) (*Dictionary, error) {
	d := &Dictionary{
		patternIndex: make(map[string]int),
		idToInfo:     make(map[int64]Info),
	}

	for _, e := range entries {
		d.idToInfo[e.EntityID] = Info{EntityID: e.EntityID, Name: e.Name, Type: e.Type}

		surfaces := make([]string, 0, len(e.Aliases)+4)
		surfaces = append(surfaces, e.Name)
		surfaces = append(surfaces, e.Aliases...)
		surfaces = append(surfaces, autoAliases(e.Name, e.Type)...)

		for _, surface := range surfaces {
			key := Canonicalize(surface)
			if key == "" {
				continue
			}
			if idx, ok := d.patternIndex[key]; ok {
				d.patternToIDs[idx] = appendUnique(d.patternToIDs[idx], e.EntityID)
				continue
			}
			idx := len(d.patterns)
			d.patterns = append(d.patterns, key)
			d.patternIndex[key] = idx
			d.patternToIDs = append(d.patternToIDs, []int64{e.EntityID})
		}
	}

	if len(d.patterns) == 0 {
		return d, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(d.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	d.ac = automaton
	return d, nil
}

// Lookup finds entities registered under an exact surface form.
func (d *Dictionary) Lookup(surface string) []Info {
	key := Canonicalize(surface)
	idx, ok := d.patternIndex[key]
	if !ok {
		return nil
	}
	return d.infosFor(d.patternToIDs[idx])
}

// IsKnownEntity reports whether surface matches any registered name.
func (d *Dictionary) IsKnownEntity(surface string) bool {
	_, ok := d.patternIndex[Canonicalize(surface)]
	return ok
}

// Scan finds every entity mention in text, mapping canonicalized match
// offsets back onto the original byte positions so callers can quote the
// source text verbatim.
func (d *Dictionary) Scan(text string) []Match {
	if d.ac == nil {
		return nil
	}
	canon := Canonicalize(text)
	offsets := buildOffsetMap(text)

	hits := d.ac.FindAllOverlapping([]byte(canon))
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		start := mapOffset(h.Start, offsets, len(text))
		end := mapOffset(h.End, offsets, len(text))
		if start >= len(text) || end > len(text) || start >= end {
			continue
		}
		out = append(out, Match{
			Start:       start,
			End:         end,
			MatchedText: text[start:end],
			Entities:    d.infosFor(d.patternToIDs[h.PatternID]),
		})
	}
	return out
}

// SelectBest picks the highest-priority entity among candidates sharing a
// surface form.
func (d *Dictionary) SelectBest(candidates []Info) *Info {
	var best *Info
	for i := range candidates {
		c := candidates[i]
		if best == nil || priority(c.Type) > priority(best.Type) {
			best = &c
		}
	}
	return best
}

func (d *Dictionary) infosFor(ids []int64) []Info {
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		if info, ok := d.idToInfo[id]; ok {
			out = append(out, info)
		}
	}
	return out
}

func buildOffsetMap(original string) []int {
	mapping := make([]int, 0, len(original)+1)
	lastWasSpace := true
	origPos := 0

	for _, ch := range original {
		runeLen := utf8.RuneLen(ch)
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}
		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			canonLen := utf8.RuneLen(c)
			for i := 0; i < canonLen; i++ {
				mapping = append(mapping, origPos)
			}
			lastWasSpace = false
		} else if !lastWasSpace {
			mapping = append(mapping, origPos)
			lastWasSpace = true
		}
		origPos += runeLen
	}
	mapping = append(mapping, origPos)
	return mapping
}

func mapOffset(canonOffset int, mapping []int, originalLen int) int {
	if canonOffset >= len(mapping) {
		return originalLen
	}
	if canonOffset < 0 {
		return 0
	}
	return mapping[canonOffset]
}

// autoAliases derives obvious shorthand forms from a canonical name so
// "Ada Lovelace" also resolves under "Lovelace", and "Acme Robotics, Inc."
// resolves under "Acme Robotics" or its initialism.
func autoAliases(name string, t store.EntityType) []string {
	tokens := tokenize(name)
	if len(tokens) <= 1 {
		return nil
	}
	first := tokens[0]
	last := tokens[len(tokens)-1]
	var out []string

	switch t {
	case store.EntityPerson:
		if len(last) >= 3 {
			out = append(out, last)
		}
		if len(first) >= 3 && first != last {
			out = append(out, first)
		}
	case store.EntityOrganization, store.EntityProject:
		var acronym strings.Builder
		for _, tok := range tokens {
			if len(tok) > 0 {
				acronym.WriteByte(tok[0])
			}
		}
		if acronym.Len() >= 2 && acronym.Len() <= 6 {
			out = append(out, acronym.String())
		}
		suffixes := []string{"inc", "corp", "llc", "ltd", "co"}
		for _, suffix := range suffixes {
			if strings.Trim(last, ".,") == suffix && len(tokens) >= 2 {
				out = append(out, strings.Join(tokens[:len(tokens)-1], " "))
				break
			}
		}
	case store.EntityLocation:
		if len(first) >= 4 {
			out = append(out, first)
		}
	}
	return out
}

func appendUnique(s []int64, id int64) []int64 {
	for _, v := range s {
		if v == id {
			return s
		}
	}
	return append(s, id)
}
