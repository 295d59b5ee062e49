// Package search parses the project search box into terms that both
// backends evaluate the same way: every term must hit, and the last one
// may be a prefix.
package search

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	MinLength = 3
	MaxLength = 200
)

// Query is a parsed search. Terms are lowercased, distinct and in the order
// the user typed them.
type Query struct {
	Terms []string
}

type Parser struct {
	minLength int
	maxLength int
}

func NewParser() *Parser {
	return &Parser{
		minLength: MinLength,
		maxLength: MaxLength,
	}
}

// Parse validates the raw query and splits it into terms. tsquery
// operators and quotes in the input are treated as spaces.
func (p *Parser) Parse(query string) (Query, error) {
	query = strings.TrimSpace(query)
	switch {
	case len(query) < p.minLength:
		return Query{}, fmt.Errorf("search query must be at least %d characters", p.minLength)
	case len(query) > p.maxLength:
		return Query{}, fmt.Errorf("search query too long (max %d characters)", p.maxLength)
	}

	words := strings.Fields(sanitize(query))
	if len(words) == 0 {
		return Query{}, fmt.Errorf("search query is empty")
	}

	terms := filterValidWords(words)
	if len(terms) == 0 {
		return Query{}, fmt.Errorf("no valid search terms")
	}
	return Query{Terms: terms}, nil
}

// TSQuery renders q for to_tsquery:
//
//	"Mangrove Restoration" → "mangrove & restoration:*"
//	"rhizophora mucro"     → "rhizophora & mucro:*"
func (q Query) TSQuery() string {
	if len(q.Terms) == 0 {
		return ""
	}
	terms := append([]string(nil), q.Terms...)
	terms[len(terms)-1] += ":*"
	return strings.Join(terms, " & ")
}

// Matches reports whether every term appears as a word in fields, the last
// term as a word prefix. Unlike PostgreSQL there is no stemming, so
// "forests" does not find "forest".
func (q Query) Matches(fields ...string) bool {
	if len(q.Terms) == 0 {
		return true
	}
	var words []string
	for _, f := range fields {
		words = append(words, strings.FieldsFunc(strings.ToLower(f), notWordRune)...)
	}

	last := len(q.Terms) - 1
	for i, term := range q.Terms {
		if !containsWord(words, term, i == last) {
			return false
		}
	}
	return true
}

func containsWord(words []string, term string, prefix bool) bool {
	for _, w := range words {
		if w == term || (prefix && strings.HasPrefix(w, term)) {
			return true
		}
	}
	return false
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func sanitize(query string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`"'()&|!:*<>\`, r) {
			return ' '
		}
		return r
	}, query)
}

// filterValidWords lowercases, drops one-letter words and removes repeats
// while keeping first-seen order.
func filterValidWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	valid := []string{}
	for _, word := range words {
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		valid = append(valid, word)
	}
	return valid
}
