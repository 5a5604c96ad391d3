package query

// stopWords are dropped from free-text terms before ranking as low-signal
// tokens. Field values and quoted phrases are never filtered — a user who
// quotes "the quick fox" or filters technology:the clearly means it
// literally.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {},
	"by": {}, "be": {}, "this": {}, "that": {}, "it": {}, "as": {},
}

func isStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}
