// Package content implements the text extraction engine for the chat core.
//
// This package turns raw message text into a stream of typed tokens (plain,
// URL, mention) for display, and provides ordered, de-duplicated extraction
// of URLs, mentions, emails, and emoji shortcodes.
//
// Tokenization is pure and idempotent: the engine holds no state across
// calls, and concatenating the text of all tokens in order reproduces the
// input exactly.
//
// Example:
//
//	tokens := content.Tokenize("see https://tox.chat cc @alice")
//	for _, tok := range tokens {
//	    fmt.Printf("%v %q\n", tok.Kind, tok.Text)
//	}
package content

import "regexp"

// TokenKind classifies a span of message text.
type TokenKind uint8

const (
	// TokenPlain is an unclassified run of text.
	TokenPlain TokenKind = iota
	// TokenURL is a hyperlink span.
	TokenURL
	// TokenMention is an @identity reference.
	TokenMention
)

// Token is a classified span of message text. Text always holds the raw
// span as it appeared in the input, including any @ or protocol prefix.
type Token struct {
	Kind TokenKind
	Text string
}

// MentionName returns the mentioned identity without its leading @.
// Empty for non-mention tokens.
func (t Token) MentionName() string {
	if t.Kind != TokenMention || len(t.Text) == 0 {
		return ""
	}
	return t.Text[1:]
}

var (
	// Protocol prefixes match case-insensitively. The character class
	// excludes whitespace and angle brackets so adjacent punctuation that
	// commonly wraps pasted links does not leak into the match.
	urlPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s<>"]+`)

	// \B requires the @ to begin the token: in "foo@bar" the @ sits at a
	// word boundary after "foo", so it is not matched. Email-like
	// adjacency is handled by the email extractor instead.
	mentionPattern = regexp.MustCompile(`\B@\w+`)

	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)

	emojiPattern = regexp.MustCompile(`:([a-z0-9_+-]+):`)
)

// span is a located match inside the input text.
type span struct {
	start, end int
	kind       TokenKind
}

// Tokenize scans text once and returns its typed token sequence. Matches
// are non-overlapping with priority URL > mention; everything between
// matches becomes plain tokens. The concatenation of all token texts in
// order is exactly the input.
func Tokenize(text string) []Token {
	if text == "" {
		return nil
	}

	spans := make([]span, 0, 4)
	for _, m := range urlPattern.FindAllStringIndex(text, -1) {
		spans = append(spans, span{start: m[0], end: m[1], kind: TokenURL})
	}
	for _, m := range mentionPattern.FindAllStringIndex(text, -1) {
		if overlaps(spans, m[0], m[1]) {
			continue
		}
		spans = append(spans, span{start: m[0], end: m[1], kind: TokenMention})
	}
	sortSpans(spans)

	tokens := make([]Token, 0, len(spans)*2+1)
	pos := 0
	for _, s := range spans {
		if s.start > pos {
			tokens = append(tokens, Token{Kind: TokenPlain, Text: text[pos:s.start]})
		}
		tokens = append(tokens, Token{Kind: s.kind, Text: text[s.start:s.end]})
		pos = s.end
	}
	if pos < len(text) {
		tokens = append(tokens, Token{Kind: TokenPlain, Text: text[pos:]})
	}
	return tokens
}

// overlaps reports whether [start,end) intersects any recorded span.
func overlaps(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

// sortSpans orders spans by start offset. Spans never overlap, so a simple
// insertion sort over the handful of matches per message is enough.
func sortSpans(spans []span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && spans[j].start < spans[j-1].start; j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
}

// ExtractURLs returns every URL in text in order of first appearance,
// de-duplicated.
func ExtractURLs(text string) []string {
	return dedup(urlPattern.FindAllString(text, -1))
}

// ExtractMentions returns every mentioned identity (without the @) in
// order of first appearance, de-duplicated. The boundary rule matches the
// tokenizer: an @ embedded inside a word is not a mention.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllString(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1:])
	}
	return dedup(names)
}

// ExtractEmails returns every email-like address in text in order of
// first appearance, de-duplicated. This is the extractor that handles
// word-adjacent @ sequences the mention rule deliberately skips.
func ExtractEmails(text string) []string {
	return dedup(emailPattern.FindAllString(text, -1))
}

// ExtractEmojis returns every :shortcode: name (without colons) in order
// of first appearance, de-duplicated. This pass is independent of
// tokenization and never interacts with URL or mention matching.
func ExtractEmojis(text string) []string {
	matches := emojiPattern.FindAllStringSubmatch(text, -1)
	codes := make([]string, 0, len(matches))
	for _, m := range matches {
		codes = append(codes, m[1])
	}
	return dedup(codes)
}

// dedup removes duplicates preserving first-appearance order.
func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
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
