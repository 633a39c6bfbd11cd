package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/brunobiangulo/medreason/knowledge"
)

const (
	recognizedConfidence = 0.8

	// Tokens shorter than minTokenRunes only match a name or synonym
	// exactly; a substring search on them would match most of the graph.
	minTokenRunes = 3
)

var recognizerStopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "was": true, "are": true,
	"not": true, "per": true, "has": true, "had": true, "her": true, "his": true,
	"from": true, "this": true, "that": true, "were": true, "been": true, "into": true,
	"ten": true, "one": true, "two": true, "all": true, "any": true, "can": true,
}

var lookupKinds = []struct {
	t    knowledge.EntityType
	kind Kind
}{
	{knowledge.TypeDrug, KindMedication},
	{knowledge.TypeCondition, KindCondition},
	{knowledge.TypeLabTest, KindLabTest},
}

// Recognizer tags report tokens that resolve against the knowledge graph.
type Recognizer struct {
	kb Lookup
}

func NewRecognizer(kb Lookup) *Recognizer {
	return &Recognizer{kb: kb}
}

type token struct {
	text       string
	start, end int
}

// Recognize splits text on whitespace and looks every token up as a drug,
// a condition and a lab test. A token matching several types yields one
// entity per type.
func (r *Recognizer) Recognize(text string) []ExtractedEntity {
	if r.kb == nil {
		return nil
	}

	type hit struct {
		kind Kind
		name string
	}
	cache := make(map[string][]hit)

	var out []ExtractedEntity
	for _, tok := range tokenize(text) {
		folded := strings.ToLower(tok.text)
		if folded == "" || recognizerStopWords[folded] || isNumeric(folded) {
			continue
		}
		short := utf8.RuneCountInString(folded) < minTokenRunes

		hits, ok := cache[folded]
		if !ok {
			for _, lk := range lookupKinds {
				for _, e := range r.kb.SearchEntities(folded, lk.t) {
					if short && !namedExactly(e.Common(), folded) {
						continue
					}
					hits = append(hits, hit{kind: lk.kind, name: e.Common().Name})
					break
				}
			}
			cache[folded] = hits
		}

		for _, h := range hits {
			out = append(out, ExtractedEntity{
				Text:           tok.text,
				Type:           h.kind,
				Confidence:     recognizedConfidence,
				Position:       Position{Start: tok.start, End: tok.end},
				NormalizedForm: h.name,
			})
		}
	}
	return out
}

func namedExactly(b *knowledge.Base, folded string) bool {
	if strings.EqualFold(b.Name, folded) {
		return true
	}
	for _, s := range b.Synonyms {
		if strings.EqualFold(s, folded) {
			return true
		}
	}
	return false
}

// tokenize returns whitespace-separated tokens with edge punctuation
// trimmed and byte offsets into text.
func tokenize(text string) []token {
	var toks []token
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		s, e := start, end
		for s < e {
			r, size := utf8.DecodeRuneInString(text[s:e])
			if !isEdgePunct(r) {
				break
			}
			s += size
		}
		for e > s {
			r, size := utf8.DecodeLastRuneInString(text[s:e])
			if !isEdgePunct(r) {
				break
			}
			e -= size
		}
		if s < e {
			toks = append(toks, token{text: text[s:e], start: s, end: e})
		}
		start = -1
	}

	for i, r := range text {
		if unicode.IsSpace(r) {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	flush(len(text))
	return toks
}

func isEdgePunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' && r != '-' && r != '/' {
			return false
		}
	}
	return true
}
