package permission

import (
	"encoding/json"
	"path"
	"regexp"
	"strings"
)

// pathSeparatorChars is the set of characters a "prefix:*" pattern requires
// immediately after the prefix to count as a match (spec §3: "rm:*" must not
// match "rmdir").
const pathSeparatorChars = " \t;|&/-"

// normalizedFields are the JSON argument fields permission rules may match
// against.
var normalizedFields = []string{"command", "file_path", "path", "url", "executable"}

// compileToolPattern translates a tool-name pattern into an anchored regex.
// `*` becomes a wildcard; parentheses and `|` pass through so a pattern may
// express regex alternation directly (e.g. "Bash|Read"); everything else is
// escaped literally.
func compileToolPattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^(?:")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '(', ')', '|':
			b.WriteRune(r)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(")$")
	return regexp.Compile(b.String())
}

// splitRuleText splits a rule's textual form "Tool(arg_pattern)" or bare
// "Tool" into its tool pattern and optional argument pattern.
func splitRuleText(text string) (toolPattern, argPattern string) {
	open := strings.IndexByte(text, '(')
	if open < 0 || !strings.HasSuffix(text, ")") {
		return text, ""
	}
	return text[:open], text[open+1 : len(text)-1]
}

// normalizePath resolves "." and ".." segments lexically, without touching
// the filesystem, so a pattern like "/etc/*" catches "/var/../etc/passwd".
// Idempotent: normalizePath(normalizePath(p)) == normalizePath(p).
func normalizePath(p string) string {
	if p == "" {
		return p
	}
	cleaned := path.Clean(p)
	if strings.HasPrefix(p, "/") && !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return cleaned
}

// globToRegexp translates a restricted glob (`*`, `**`) into an anchored
// regex, applied to already-normalized path values.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// matchesPrefixSeparator implements the "prefix:*" idiom: value must start
// with prefix followed immediately by one of the recognized separators (or
// be exactly prefix itself followed by nothing is NOT a match — a
// separator must be present).
func matchesPrefixSeparator(prefix, value string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	rest := value[len(prefix):]
	if rest == "" {
		return false
	}
	return strings.ContainsRune(pathSeparatorChars, rune(rest[0]))
}

// decodeArguments JSON-decodes arguments into a flat field map. ok is false
// when decoding fails, in which case callers fall back to substring
// matching on the raw bytes.
func decodeArguments(raw []byte) (fields map[string]string, ok bool) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, false
	}
	fields = make(map[string]string, len(normalizedFields))
	for _, name := range normalizedFields {
		v, present := decoded[name]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			continue
		}
		if name == "file_path" || name == "path" {
			s = normalizePath(s)
		}
		fields[name] = s
	}
	return fields, true
}

// matchArgumentPattern reports whether pattern matches the decoded argument
// fields (or, when decoding failed, a raw substring of rawArgs).
func matchArgumentPattern(pattern string, fields map[string]string, fieldsOK bool, rawArgs []byte) bool {
	if pattern == "" {
		return true
	}
	if !fieldsOK {
		return strings.Contains(string(rawArgs), pattern)
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		for _, name := range []string{"command", "executable"} {
			if v, present := fields[name]; present && matchesPrefixSeparator(prefix, v) {
				return true
			}
		}
		return false
	}
	if strings.Contains(pattern, "*") {
		re, err := globToRegexp(pattern)
		if err != nil {
			return false
		}
		for _, name := range []string{"file_path", "path"} {
			if v, present := fields[name]; present && re.MatchString(v) {
				return true
			}
		}
		return false
	}
	for _, v := range fields {
		if strings.Contains(v, pattern) {
			return true
		}
	}
	return false
}
