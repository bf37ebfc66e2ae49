// Copyright 2026 The Custos Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"regexp"
	"strings"
)

// MaxPolicyChars is the cap on sanitized policy text, in characters.
// Longer documents are truncated, not rejected, and the truncation is
// recorded in the audit trail.
const MaxPolicyChars = 4096

// blockPatterns reject the whole document. These are instruction-
// override phrasings that have no legitimate place in a security
// policy; a document containing one is treated as hostile rather than
// cleaned up, because partial stripping of an injection attempt leaves
// the remainder untrustworthy.
var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|any\s+)?(previous|prior|earlier|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(the\s+|all\s+|your\s+)?(system\s+prompt|previous\s+instructions|safety)`),
	regexp.MustCompile(`(?i)you\s+are\s+no\s+longer\s+(an?\s+)?(assistant|ai|bound)`),
	regexp.MustCompile(`(?i)new\s+system\s+prompt\s*:`),
	regexp.MustCompile(`(?i)override\s+(all\s+)?safety\s+(rules|instructions|filters)`),
}

// stripPatterns are removed in place. Control-token-like sequences can
// confuse downstream chat templating even when the surrounding text is
// benign, so they are stripped rather than grounds for rejection.
var stripPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<\|[^|>]*\|>`),                       // <|im_start|>, <|endoftext|>, ...
	regexp.MustCompile(`</?(?:system|im_start|im_end)\s*>`),  // bare ChatML-style role tags
	regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`),              // ANSI escape sequences
}

// SanitizeResult is the outcome of sanitizing a policy document.
// Sanitization is total: every input produces either Rejected=true or
// usable Text of at most MaxPolicyChars characters.
type SanitizeResult struct {
	// Rejected is true when a blocklist pattern matched. Text is empty.
	Rejected bool

	// MatchedPattern holds the offending pattern's source when
	// Rejected. Safe to audit — it names the rule, and the match
	// itself came from a document the user can already read.
	MatchedPattern string

	// Text is the sanitized (stripped, possibly truncated) content.
	Text string

	// Stripped counts removed control-token-like sequences.
	Stripped int

	// Truncated is true when the text was cut at MaxPolicyChars.
	Truncated bool
}

// Sanitize strips known prompt-injection artifacts from a policy
// document and enforces the length cap. Never panics and never fails:
// callers branch only on Rejected.
func Sanitize(document []byte) SanitizeResult {
	// The document is user text from here on; replace invalid UTF-8
	// rather than propagating raw bytes into a prompt.
	text := strings.ToValidUTF8(string(document), "�")

	for _, pattern := range blockPatterns {
		if pattern.MatchString(text) {
			return SanitizeResult{
				Rejected:       true,
				MatchedPattern: pattern.String(),
			}
		}
	}

	result := SanitizeResult{}
	for _, pattern := range stripPatterns {
		text = pattern.ReplaceAllStringFunc(text, func(string) string {
			result.Stripped++
			return ""
		})
	}

	runes := []rune(text)
	if len(runes) > MaxPolicyChars {
		runes = runes[:MaxPolicyChars]
		result.Truncated = true
	}
	result.Text = string(runes)
	return result
}
