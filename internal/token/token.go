package token

import "time"

// Token is a single upstream bearer credential tracked by the pool.
// Index is the position assigned at load time and is used for diagnostics
// and admin operations only.
type Token struct {
	Value       string
	Index       int
	Failures    int
	Active      bool
	LastUsed    time.Time
	LastFailure time.Time
}

func (t *Token) clone() *Token {
	c := *t
	return &c
}
