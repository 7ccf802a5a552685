package shipvm

import "regexp"

// bannedRe matches the disallowed whole-word tokens, the macro-invocation
// forms, and the standalone (non-lifetime) use of `static`. The
// alternation mirrors the original regex almost exactly:
//
//	\b(unsafe|extern|crate)\b              -- banned keywords, whole word
//	\b(macro_rules|include|include_bytes|include_str)(\b|!)  -- macro forms
//	([^']static\b|^static\b)               -- static, except 'static
var bannedRe = regexp.MustCompile(
	`\b(unsafe|extern|crate)\b|\b(macro_rules|include|include_bytes|include_str)(\b|!)|([^']static\b|^static\b)`,
)

// attrRe extracts the token immediately following `#[` or `#![`, up to
// the first whitespace or bracket.
var attrRe = regexp.MustCompile(`#!?\[([^\[\] \t\r\n]*)`)

// allowedAttrRe matches the allow-listed attribute heads. cfg(test) ends
// in a non-word character, so it is matched as the whole head rather than
// followed by a word boundary.
var allowedAttrRe = regexp.MustCompile(`^((derive|repr|inline|test|must_use|default)\b|cfg\(test\)$)`)

// CheckSource pre-filters submitted source text before it is sent to the
// compiler collaborator. It rejects banned tokens (outside 'static) and
// non-allow-listed attributes, returning a SanitizerRejection Error naming
// the matched fragment.
func CheckSource(text string) error {
	if m := bannedRe.FindString(text); m != "" {
		return newError(ErrSanitizerRejection, "code did not pass sanitizer (found %q)", m)
	}

	for _, m := range attrRe.FindAllStringSubmatch(text, -1) {
		head := m[1]
		if allowedAttrRe.MatchString(head) {
			continue
		}
		return newError(ErrSanitizerRejection, "code did not pass sanitizer (found %q)", m[0])
	}

	return nil
}
