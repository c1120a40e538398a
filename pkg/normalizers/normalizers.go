// Package normalizers canonicalizes raw contact, address and cat fields into
// comparable keys. Every function is total: malformed input yields "" rather
// than an error, and "" always means "absent".
package normalizers

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("digits_only", DigitsOnly)
	Register("nemail", NormalizeEmail)
	Register("nphone", NormalizePhone)
	Register("naddress", NormalizeAddress)
	Register("nname", NormalizeNameKey)
	Register("catname", CleanCatName)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names pass the value through.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeEmail lowercases and trims. Values without an '@', shorter than 5
// characters, made only of digits, or missing a local or domain part are "".
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 5 {
		return ""
	}

	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return ""
	}

	onlyDigits := true
	for _, r := range s {
		if r == '@' || r == '.' {
			continue
		}
		if r < '0' || r > '9' {
			onlyDigits = false
			break
		}
	}
	if onlyDigits {
		return ""
	}

	return s
}

// NormalizePhone reduces a phone number to its 10 US digits. An 11 digit
// number with a leading country code 1 is accepted. Anything else is "".
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return ""
	}
	return digits
}

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeAddress is a dedup key, not a postal normalizer.
func NormalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespace.ReplaceAllString(s, " ")
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeNameKey folds accents and drops punctuation other than hyphens.
func NormalizeNameKey(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var result strings.Builder
	prevSpace := true
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-':
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

var (
	embeddedChip   = regexp.MustCompile(`\d{9,}`)
	unknownWrapper = regexp.MustCompile(`(?i)^\s*unknown\s*\((.*)\)\s*$`)
)

// CleanCatName strips microchips typed into the name field and the
// "Unknown (...)" wrapper some exports use. Returns "" when nothing usable is left.
func CleanCatName(s string) string {
	s = embeddedChip.ReplaceAllString(s, "")
	if m := unknownWrapper.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.Trim(whitespace.ReplaceAllString(s, " "), " -/")
	if s == "" || strings.EqualFold(s, "unknown") {
		return ""
	}
	return s
}

// HasEmbeddedChip reports whether a name contains a digit run long enough to be a microchip.
func HasEmbeddedChip(s string) bool {
	return embeddedChip.MatchString(s)
}
