package search

import "github.com/pkg/errors"

// Sentinel errors for the FTS Search Engine's error taxonomy.
var (
	ErrQueryTooLong  = errors.New("search: query exceeds maximum length")
	ErrInvalidFilter = errors.New("search: invalid filter")
)

// maxQueryLength bounds raw query input before it ever reaches the parser.
const maxQueryLength = 512
