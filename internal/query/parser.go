// Package query implements the Search Query Parser: it turns free-text
// search input into a structured ParsedQuery, then renders that structure
// two different ways — GenerateFTSQuery's literal boost-annotated dialect
// (round-trip testable on its own) and the actual SQLite FTS5 MATCH
// expression the search engine executes. The two are deliberately not the
// same string: FTS5's MATCH grammar has no boost syntax, so per-term boosts
// are dropped from the executed expression and ranking relies on bm25()
// column weighting instead.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Term is one ranked positive term, carrying the boost weight used by
// generate_fts_query's "term[weight]" dialect.
type Term struct {
	Text  string
	Boost float64
}

// Clause is one AND-joined group of constraints. A ParsedQuery's clauses
// are OR'ed together, giving "a b OR c" the reading "(a AND b) OR c".
type Clause struct {
	Terms    []Term
	Phrases  []string
	Fields   map[string]string
	Excluded []string
}

// ParsedQuery is the parser's output.
type ParsedQuery struct {
	Clauses []Clause
	Fuzzy   bool
	Raw     string
}

// Parse tokenizes raw into a ParsedQuery. NOT (and a leading "-") binds
// to the single term or phrase that follows it — higher precedence than
// AND/OR, making exclusion a per-token modifier rather than a
// clause-level one. Boolean operators are recognized case-insensitively,
// so "or"/"Or"/"OR" are all the same operator.
func Parse(raw string) ParsedQuery {
	tokens := tokenize(raw)
	segments := splitOnToken(tokens, "OR")

	pq := ParsedQuery{Raw: raw}
	for _, seg := range segments {
		pq.Clauses = append(pq.Clauses, parseClause(seg, &pq))
	}

	if len(pq.Clauses) == 0 {
		pq.Clauses = []Clause{{Fields: map[string]string{}}}
	}

	if !pq.Fuzzy {
		for _, c := range pq.Clauses {
			for _, t := range c.Terms {
				if len(t.Text) < 4 || isMisspelling(t.Text) {
					pq.Fuzzy = true
					break
				}
			}
			if pq.Fuzzy {
				break
			}
		}
	}
	return pq
}

func parseClause(tokens []string, pq *ParsedQuery) Clause {
	clause := Clause{Fields: make(map[string]string)}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch {
		case strings.EqualFold(tok, "AND"):
			// explicit AND is the default join; nothing to record
		case strings.EqualFold(tok, "NOT"):
			if i+1 < len(tokens) {
				i++
				addExcluded(&clause, tokens[i])
			}
		case strings.HasPrefix(tok, "-") && len(tok) > 1:
			addExcluded(&clause, tok[1:])
		case strings.HasPrefix(tok, `"`):
			clause.Phrases = append(clause.Phrases, strings.Trim(tok, `"`))
		case isFieldFilter(tok):
			field, value, _ := strings.Cut(tok, ":")
			clause.Fields[field] = strings.Trim(value, `"`)
		default:
			text := tok
			fuzzyMarker := strings.HasSuffix(text, "~")
			if fuzzyMarker {
				text = strings.TrimSuffix(text, "~")
				pq.Fuzzy = true
			}
			if text == "" || isStopWord(strings.ToLower(text)) {
				continue
			}
			clause.Terms = append(clause.Terms, Term{Text: text, Boost: 1.0})
		}
	}
	return clause
}

// commonMisspellings maps a small set of frequently mistyped technical
// terms to their corrected spelling. It drives both the fuzzy-query
// heuristic (a misspelled term should search fuzzily even if it isn't
// short) and SuggestCorrections' spelling-correction suggestions.
var commonMisspellings = map[string]string{
	"naiming":       "naming",
	"interace":      "interface",
	"funtion":       "function",
	"fucntion":      "function",
	"seperate":      "separate",
	"recieve":       "receive",
	"occured":       "occurred",
	"definately":    "definitely",
	"dependancy":    "dependency",
	"compatability": "compatibility",
}

func isMisspelling(term string) bool {
	_, ok := commonMisspellings[strings.ToLower(term)]
	return ok
}

func addExcluded(clause *Clause, tok string) {
	clause.Excluded = append(clause.Excluded, strings.Trim(tok, `"`))
}

func isFieldFilter(tok string) bool {
	if strings.HasPrefix(tok, `"`) {
		return false
	}
	field, value, found := strings.Cut(tok, ":")
	if !found || field == "" || value == "" {
		return false
	}
	for _, r := range field {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return false
		}
	}
	return true
}

// tokenize splits on whitespace outside double-quoted spans, keeping
// phrase tokens quoted so downstream stages can recognize them.
func tokenize(s string) []string {
	var tokens []string
	var b strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case r == ' ' && !inQuotes:
			if b.Len() > 0 {
				tokens = append(tokens, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// splitOnToken splits tokens on every standalone occurrence of sep,
// matched case-insensitively, dropping empty segments (e.g. a trailing
// "or").
func splitOnToken(tokens []string, sep string) [][]string {
	var segments [][]string
	var current []string
	for _, tok := range tokens {
		if strings.EqualFold(tok, sep) {
			if len(current) > 0 {
				segments = append(segments, current)
				current = nil
			}
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return segments
}

// DefaultMaxTerms bounds the number of terms Optimize keeps per clause
// when the caller has no more specific limit of its own.
const DefaultMaxTerms = 25

// Optimize deduplicates and canonicalizes a ParsedQuery: repeated terms,
// phrases and exclusions collapse to one, terms resolve in favor of
// exclusion when a term is both required and excluded, any stopword
// that slipped past Parse (e.g. via an explicit field value re-used as
// a bare term) is dropped, every list sorts into a deterministic order
// so generate_fts_query is stable regardless of input token order, and
// each clause's term list is trimmed to maxTerms (DefaultMaxTerms if
// maxTerms <= 0) so a pathological query can't blow up the compiled
// MATCH expression.
func Optimize(pq ParsedQuery, maxTerms int) ParsedQuery {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	out := ParsedQuery{Fuzzy: pq.Fuzzy, Raw: pq.Raw}
	for _, c := range pq.Clauses {
		excluded := dedupeStrings(c.Excluded)
		excludedSet := make(map[string]struct{}, len(excluded))
		for _, e := range excluded {
			excludedSet[e] = struct{}{}
		}

		seenTerms := make(map[string]struct{})
		var terms []Term
		for _, t := range c.Terms {
			if isStopWord(strings.ToLower(t.Text)) {
				continue
			}
			if _, excl := excludedSet[t.Text]; excl {
				continue
			}
			if _, dup := seenTerms[t.Text]; dup {
				continue
			}
			seenTerms[t.Text] = struct{}{}
			terms = append(terms, t)
		}
		sort.Slice(terms, func(i, j int) bool { return terms[i].Text < terms[j].Text })
		if len(terms) > maxTerms {
			terms = terms[:maxTerms]
		}

		phrases := dedupeStrings(c.Phrases)
		sort.Strings(phrases)
		sort.Strings(excluded)

		out.Clauses = append(out.Clauses, Clause{
			Terms:    terms,
			Phrases:  phrases,
			Fields:   c.Fields,
			Excluded: excluded,
		})
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// GenerateFTSQuery renders pq in a literal "term[boost]" textual dialect,
// with fuzzy clauses suffixing each term with "*" and joining them with
// NEAR/3 instead of AND, and exclusions appended as trailing "NOT term"
// clauses. This string is never executed directly — see
// ToMatchExpression for what actually runs against SQLite.
func GenerateFTSQuery(pq ParsedQuery) string {
	var clauseStrs []string
	for _, c := range pq.Clauses {
		var parts []string

		var termStrs []string
		for _, t := range c.Terms {
			text := t.Text
			if pq.Fuzzy {
				text += "*"
			}
			termStrs = append(termStrs, fmt.Sprintf("%s[%s]", text, strconv.FormatFloat(t.Boost, 'f', 1, 64)))
		}
		if pq.Fuzzy && len(termStrs) > 1 {
			parts = append(parts, strings.Join(termStrs, " NEAR/3 "))
		} else {
			parts = append(parts, termStrs...)
		}

		for _, p := range c.Phrases {
			parts = append(parts, fmt.Sprintf(`"%s"[1.0]`, p))
		}

		fieldKeys := make([]string, 0, len(c.Fields))
		for f := range c.Fields {
			fieldKeys = append(fieldKeys, f)
		}
		sort.Strings(fieldKeys)
		for _, f := range fieldKeys {
			parts = append(parts, fmt.Sprintf("%s:%s[1.0]", f, c.Fields[f]))
		}

		body := strings.Join(parts, " AND ")
		for _, e := range c.Excluded {
			if body == "" {
				body = "NOT " + e
			} else {
				body += " NOT " + e
			}
		}
		if body != "" {
			clauseStrs = append(clauseStrs, body)
		}
	}
	return strings.Join(clauseStrs, " OR ")
}

// ToMatchExpression renders pq as a SQLite FTS5 MATCH expression: bare
// space-separated terms (implicit AND, each suffixed with "*" as a prefix
// query when pq.Fuzzy is set), quoted phrases, "column:value" field
// filters, "NOT term" exclusions, and "OR" between clauses. Boost weights
// are not representable here and are dropped; ranking relies on the
// search engine's fixed bm25() column weights instead.
func ToMatchExpression(pq ParsedQuery) (string, error) {
	var clauseStrs []string
	for _, c := range pq.Clauses {
		var parts []string
		for _, t := range c.Terms {
			text := t.Text
			if pq.Fuzzy {
				text += "*"
			}
			parts = append(parts, text)
		}
		for _, p := range c.Phrases {
			parts = append(parts, fmt.Sprintf(`"%s"`, p))
		}

		fieldKeys := make([]string, 0, len(c.Fields))
		for f := range c.Fields {
			fieldKeys = append(fieldKeys, f)
		}
		sort.Strings(fieldKeys)
		for _, f := range fieldKeys {
			parts = append(parts, fmt.Sprintf(`%s:"%s"`, f, c.Fields[f]))
		}

		if len(parts) == 0 && len(c.Excluded) == 0 {
			continue
		}
		body := strings.Join(parts, " ")
		for _, e := range c.Excluded {
			if body == "" {
				body = "NOT " + e
			} else {
				body = body + " NOT " + e
			}
		}
		if body != "" {
			clauseStrs = append(clauseStrs, body)
		}
	}
	if len(clauseStrs) == 0 {
		return "", fmt.Errorf("query: empty query produces no MATCH expression")
	}
	return strings.Join(clauseStrs, " OR "), nil
}

// GetSuggestions returns up to limit entries of vocabulary sharing a
// case-insensitive prefix with the first term of pq's first clause. Used
// by the FTS engine's get_suggestions to offer completions as the user
// types, independent of actually running a search.
func GetSuggestions(pq ParsedQuery, vocabulary []string, limit int) []string {
	if limit <= 0 || len(pq.Clauses) == 0 || len(pq.Clauses[0].Terms) == 0 {
		return nil
	}
	prefix := strings.ToLower(pq.Clauses[0].Terms[0].Text)
	if prefix == "" {
		return nil
	}

	var matches []string
	for _, v := range vocabulary {
		if strings.HasPrefix(strings.ToLower(v), prefix) {
			matches = append(matches, v)
		}
	}
	sort.Strings(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SuggestCorrections returns a corrected spelling for every term across
// pq that matches the fixed misspellings lookup table, in first-seen
// order with duplicates removed. Unlike GetSuggestions (prefix
// completion against an indexed vocabulary), this never touches the
// index — it only corrects likely typos in the query itself.
func SuggestCorrections(pq ParsedQuery) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range pq.Clauses {
		for _, t := range c.Terms {
			corrected, ok := commonMisspellings[strings.ToLower(t.Text)]
			if !ok {
				continue
			}
			if _, dup := seen[corrected]; dup {
				continue
			}
			seen[corrected] = struct{}{}
			out = append(out, corrected)
		}
	}
	return out
}
