// Copyright 2026 The Glasspane Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "regexp"

// TokenRule recognizes the wrapped CLI's self-reported resume
// identifier in one shape of human-readable output. Group names the
// capture group holding the token.
type TokenRule struct {
	Pattern *regexp.Regexp
	Group   int
}

// TokenExtractor scans raw output chunks for a resume token using an
// ordered rule list; the first rule that matches wins. This is
// best-effort scraping of an external, unversioned CLI's output — it
// has no schema, so rules are heuristics and a miss is never an error,
// only a lost optimization for later resumption. The extractor is
// deliberately decoupled from the process data path: the record calls
// it through a single hook and stops permanently after the first hit.
type TokenExtractor struct {
	rules []TokenRule
}

// token is the shape of the identifiers the wrapped CLI emits: UUIDs
// or similar opaque slugs. Requiring 8+ chars avoids matching English
// words after "Resuming".
const tokenPattern = `([0-9a-fA-F][0-9a-fA-F-]{7,})`

// DefaultTokenRules matches the resumption hints observed across
// versions of the wrapped CLI, most specific first.
func DefaultTokenRules() []TokenRule {
	return []TokenRule{
		// "claude --resume 3f9c2e1a-..." (the CLI's own restart hint)
		{Pattern: regexp.MustCompile(`--resume[ \t]+` + tokenPattern), Group: 1},
		// "session id: 3f9c2e1a-..." / "Session ID: ..."
		{Pattern: regexp.MustCompile(`(?i)session id:?[ \t]+` + tokenPattern), Group: 1},
		// "Resuming 3f9c2e1a-..."
		{Pattern: regexp.MustCompile(`(?i)\bresuming[ \t]+` + tokenPattern), Group: 1},
		// Last resort: a bare canonical UUID, as printed in the CLI's
		// startup banner. Strict 8-4-4-4-12 shape only, so ordinary hex
		// in terminal output can't match.
		{Pattern: regexp.MustCompile(`\b([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})\b`), Group: 1},
	}
}

// NewTokenExtractor builds an extractor from an ordered rule list.
// Nil rules fall back to DefaultTokenRules.
func NewTokenExtractor(rules []TokenRule) *TokenExtractor {
	if rules == nil {
		rules = DefaultTokenRules()
	}
	return &TokenExtractor{rules: rules}
}

// Extract returns the first token any rule finds in chunk, in rule
// order. ok is false when nothing matched.
func (e *TokenExtractor) Extract(chunk []byte) (token string, ok bool) {
	for _, rule := range e.rules {
		match := rule.Pattern.FindSubmatch(chunk)
		if match == nil || rule.Group >= len(match) {
			continue
		}
		if candidate := string(match[rule.Group]); candidate != "" {
			return candidate, true
		}
	}
	return "", false
}
