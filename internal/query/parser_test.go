package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PlainTerms(t *testing.T) {
	pq := Parse("interface naming")
	require.Len(t, pq.Clauses, 1)
	assert.Len(t, pq.Clauses[0].Terms, 2)
}

func TestParse_QuotedPhrasePreserved(t *testing.T) {
	pq := Parse(`"interface naming" typescript`)
	require.Len(t, pq.Clauses, 1)
	assert.Equal(t, []string{"interface naming"}, pq.Clauses[0].Phrases)
	assert.Len(t, pq.Clauses[0].Terms, 1)
}

func TestParse_FieldFilter(t *testing.T) {
	pq := Parse("technology:typescript naming")
	require.Len(t, pq.Clauses, 1)
	assert.Equal(t, "typescript", pq.Clauses[0].Fields["technology"])
	assert.Len(t, pq.Clauses[0].Terms, 1)
}

func TestParse_LeadingDashExcludesTerm(t *testing.T) {
	pq := Parse("naming -deprecated")
	require.Len(t, pq.Clauses, 1)
	assert.Equal(t, []string{"deprecated"}, pq.Clauses[0].Excluded)
}

func TestParse_NotBindsToSingleFollowingTerm(t *testing.T) {
	pq := Parse("naming NOT deprecated OR interfaces")
	require.Len(t, pq.Clauses, 2)
	assert.Equal(t, []string{"deprecated"}, pq.Clauses[0].Excluded)
	assert.Len(t, pq.Clauses[1].Terms, 1)
	assert.Equal(t, "interfaces", pq.Clauses[1].Terms[0].Text)
}

func TestParse_StopWordsDropped(t *testing.T) {
	pq := Parse("the naming of interfaces")
	var terms []string
	for _, t := range pq.Clauses[0].Terms {
		terms = append(terms, t.Text)
	}
	assert.NotContains(t, terms, "the")
	assert.NotContains(t, terms, "of")
	assert.Contains(t, terms, "naming")
	assert.Contains(t, terms, "interfaces")
}

func TestParse_FuzzyMarker(t *testing.T) {
	pq := Parse("namign~")
	assert.True(t, pq.Fuzzy)
	assert.Equal(t, "namign", pq.Clauses[0].Terms[0].Text)
}

func TestParse_FuzzyHeuristicShortTerm(t *testing.T) {
	pq := Parse("api gateway")
	assert.True(t, pq.Fuzzy, "a term under 4 characters should trigger the fuzzy heuristic")
}

func TestParse_NoFuzzyHeuristicForLongerTerms(t *testing.T) {
	pq := Parse("names")
	assert.False(t, pq.Fuzzy, "a 5-character term is not short enough to trigger fuzzy on its own")
}

func TestParse_FuzzyHeuristicMisspelling(t *testing.T) {
	pq := Parse("seperate concerns")
	assert.True(t, pq.Fuzzy, "a known misspelling should trigger the fuzzy heuristic regardless of length")
}

func TestParse_NoFuzzyHeuristicWhenFiltered(t *testing.T) {
	pq := Parse("technology:go naming")
	assert.False(t, pq.Fuzzy)
}

func TestOptimize_DedupesAndSorts(t *testing.T) {
	pq := Parse("naming naming interfaces")
	opt := Optimize(pq, DefaultMaxTerms)
	require.Len(t, opt.Clauses[0].Terms, 2)
	assert.Equal(t, "interfaces", opt.Clauses[0].Terms[0].Text)
	assert.Equal(t, "naming", opt.Clauses[0].Terms[1].Text)
}

func TestOptimize_ExclusionWinsOverRequiredTerm(t *testing.T) {
	pq := ParsedQuery{Clauses: []Clause{{
		Terms:    []Term{{Text: "naming", Boost: 1.0}},
		Excluded: []string{"naming"},
		Fields:   map[string]string{},
	}}}
	opt := Optimize(pq, DefaultMaxTerms)
	assert.Empty(t, opt.Clauses[0].Terms)
}

func TestOptimize_TrimsToMaxTerms(t *testing.T) {
	pq := Parse("alpha bravo charlie delta echo")
	opt := Optimize(pq, 3)
	assert.Len(t, opt.Clauses[0].Terms, 3)
}

func TestOptimize_DropsStopwordsThatSlippedThrough(t *testing.T) {
	pq := ParsedQuery{Clauses: []Clause{{
		Terms:  []Term{{Text: "the", Boost: 1.0}, {Text: "naming", Boost: 1.0}},
		Fields: map[string]string{},
	}}}
	opt := Optimize(pq, DefaultMaxTerms)
	require.Len(t, opt.Clauses[0].Terms, 1)
	assert.Equal(t, "naming", opt.Clauses[0].Terms[0].Text)
}

func TestGenerateFTSQuery_BoostDialect(t *testing.T) {
	pq := Parse("interface naming")
	fts := GenerateFTSQuery(pq)
	assert.Equal(t, "interface[1.0] AND naming[1.0]", fts)
}

func TestGenerateFTSQuery_FuzzyUsesNear(t *testing.T) {
	pq := Parse("interface naming")
	pq.Fuzzy = true
	fts := GenerateFTSQuery(pq)
	assert.Equal(t, "interface*[1.0] NEAR/3 naming*[1.0]", fts)
}

func TestGenerateFTSQuery_RoundTripDeterministic(t *testing.T) {
	a := GenerateFTSQuery(Optimize(Parse("naming interfaces"), DefaultMaxTerms))
	b := GenerateFTSQuery(Optimize(Parse("interfaces naming"), DefaultMaxTerms))
	assert.Equal(t, a, b, "optimize must make term order canonical regardless of input order")
}

func TestParse_BooleanOperatorsCaseInsensitive(t *testing.T) {
	pq := Parse("naming or interfaces")
	require.Len(t, pq.Clauses, 2, "lowercase 'or' must split clauses just like 'OR'")
	assert.Equal(t, "naming", pq.Clauses[0].Terms[0].Text)
	assert.Equal(t, "interfaces", pq.Clauses[1].Terms[0].Text)

	pq = Parse("naming and interfaces")
	require.Len(t, pq.Clauses, 1, "lowercase 'and' must not become a literal term")
	assert.Len(t, pq.Clauses[0].Terms, 2)

	pq = Parse("naming not deprecated")
	assert.Equal(t, []string{"deprecated"}, pq.Clauses[0].Excluded, "lowercase 'not' must still bind as exclusion")
}

func TestSuggestCorrections_MatchesMisspellingsTable(t *testing.T) {
	pq := Parse("seperate naming")
	assert.Equal(t, []string{"separate"}, SuggestCorrections(pq))
}

func TestSuggestCorrections_NoMatchesReturnsNil(t *testing.T) {
	pq := Parse("naming interfaces")
	assert.Nil(t, SuggestCorrections(pq))
}

func TestToMatchExpression_PlainTerms(t *testing.T) {
	match, err := ToMatchExpression(Parse("interface naming"))
	require.NoError(t, err)
	assert.Equal(t, "interface naming", match)
}

func TestToMatchExpression_ExclusionUsesNotKeyword(t *testing.T) {
	match, err := ToMatchExpression(Parse("naming -deprecated"))
	require.NoError(t, err)
	assert.Equal(t, "naming NOT deprecated", match)
}

func TestToMatchExpression_FieldFilterQuoted(t *testing.T) {
	match, err := ToMatchExpression(Parse("technology:typescript"))
	require.NoError(t, err)
	assert.Equal(t, `technology:"typescript"`, match)
}

func TestGetSuggestions_PrefixMatch(t *testing.T) {
	pq := Parse("nam")
	suggestions := GetSuggestions(pq, []string{"naming", "namespace", "other"}, 5)
	assert.Equal(t, []string{"namespace", "naming"}, suggestions)
}

func TestGetSuggestions_NoTermsReturnsNil(t *testing.T) {
	pq := Parse("technology:go")
	assert.Nil(t, GetSuggestions(pq, []string{"naming"}, 5))
}
