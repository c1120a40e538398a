// Package validators holds the pure predicates applied to free-text source
// fields: microchip validation, name classification and boolean flag parsing.
package validators

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/fern/pkg/normalizers"
)

type NameClass string

const (
	NameLikelyPerson NameClass = "likely_person"
	NameOrganization NameClass = "organization"
	NameSiteName     NameClass = "site_name"
	NameAddress      NameClass = "address"
	NameGarbage      NameClass = "garbage"
	NameUnknown      NameClass = "unknown"
)

// Microchip rejection reasons.
const (
	ChipEmptyOrNull = "empty_or_null"
	ChipTooShort    = "too_short"
	ChipTooLong     = "too_long"
	ChipAllZeros    = "all_zeros_junk"
	ChipTestPattern = "test_pattern"
	ChipRepeated    = "repeated_digit"
	ChipKnownBad    = "known_bad_value"
)

const (
	minChipDigits    = 9
	maxChipDigits    = 15
	maxRepeatedDigit = 9
)

type MicrochipResult struct {
	Valid   bool   `json:"valid"`
	Cleaned string `json:"cleaned,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Classifier applies one Vocabulary.
type Classifier struct {
	vocab         Vocabulary
	orgTokens     set
	siteTokens    set
	streetTypes   set
	garbageNames  set
	positiveFlags set
	testChips     set
	badChips      set
	garbageEmails set
	placeholders  set
	orgDomains    set
	orgPrefixes   set
}

func NewClassifier(vocab Vocabulary) *Classifier {
	return &Classifier{
		vocab:         vocab,
		orgTokens:     newSet(vocab.OrganizationTokens),
		siteTokens:    newSet(vocab.SiteTokens),
		streetTypes:   newSet(vocab.StreetTypes),
		garbageNames:  newSet(vocab.GarbageNames),
		positiveFlags: newSet(vocab.PositiveFlags),
		testChips:     newSet(vocab.TestMicrochips),
		badChips:      newSet(vocab.KnownBadMicrochips),
		garbageEmails: newSet(vocab.GarbageEmails),
		placeholders:  newSet(vocab.PlaceholderPhones),
		orgDomains:    newSet(vocab.OrgEmailDomains),
		orgPrefixes:   newSet(vocab.OrgEmailPrefixes),
	}
}

func (c *Classifier) Vocabulary() Vocabulary {
	return c.vocab
}

var defaultClassifier = NewClassifier(DefaultVocabulary())

func Default() *Classifier {
	return defaultClassifier
}

func ValidateMicrochip(raw *string) MicrochipResult {
	return defaultClassifier.ValidateMicrochip(raw)
}

func ClassifyName(name string) NameClass {
	return defaultClassifier.ClassifyName(name)
}

func IsPositiveFlag(raw string) bool {
	return defaultClassifier.IsPositiveFlag(raw)
}

// ValidateMicrochip strips separators and rejects values that cannot be a real chip.
func (c *Classifier) ValidateMicrochip(raw *string) MicrochipResult {
	if raw == nil {
		return MicrochipResult{Reason: ChipEmptyOrNull}
	}

	digits := normalizers.DigitsOnly(*raw)
	switch {
	case digits == "":
		return MicrochipResult{Reason: ChipEmptyOrNull}
	case len(digits) < minChipDigits:
		return MicrochipResult{Reason: ChipTooShort}
	case len(digits) > maxChipDigits:
		return MicrochipResult{Reason: ChipTooLong}
	case strings.Trim(digits, "0") == "":
		return MicrochipResult{Reason: ChipAllZeros}
	case c.badChips.has(digits):
		return MicrochipResult{Reason: ChipKnownBad}
	case c.testChips.has(digits) || strings.HasPrefix(digits, "123456789") || strings.HasPrefix(digits, "99999999"):
		return MicrochipResult{Reason: ChipTestPattern}
	case longestRun(digits) >= maxRepeatedDigit:
		return MicrochipResult{Reason: ChipRepeated}
	}

	return MicrochipResult{Valid: true, Cleaned: digits}
}

func longestRun(s string) int {
	best, run := 0, 0
	for i := 0; i < len(s); i++ {
		if i > 0 && s[i] == s[i-1] {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// ClassifyName decides what kind of thing a display name refers to. The first
// matching rule wins.
func (c *Classifier) ClassifyName(name string) NameClass {
	name = strings.TrimSpace(name)
	if name == "" {
		return NameUnknown
	}

	lower := strings.ToLower(name)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	phrase := " " + strings.Join(words, " ") + " "

	if c.isOrganization(words, phrase) {
		return NameOrganization
	}

	if anyWord(words, c.siteTokens) || containsPhrase(phrase, c.vocab.SiteTokens) {
		return NameSiteName
	}

	if unicode.IsDigit([]rune(name)[0]) || anyWord(words, c.streetTypes) {
		return NameAddress
	}

	fields := strings.Fields(name)
	if c.isGarbage(name, lower, fields) {
		return NameGarbage
	}

	if len(fields) >= 2 {
		allLong := true
		for _, f := range fields {
			if len([]rune(f)) < 2 {
				allLong = false
				break
			}
		}
		if allLong {
			return NameLikelyPerson
		}
	}

	if len(fields) == 1 {
		r := []rune(fields[0])
		if len(r) >= 2 && unicode.IsUpper(r[0]) {
			return NameLikelyPerson
		}
	}

	return NameUnknown
}

func (c *Classifier) isOrganization(words []string, phrase string) bool {
	if anyWord(words, c.orgTokens) {
		return true
	}
	if len(words) >= 2 && words[0] == "the" {
		return true
	}
	return containsPhrase(phrase, c.vocab.CharityFragments)
}

func (c *Classifier) isGarbage(name, lower string, fields []string) bool {
	if c.garbageNames.has(lower) {
		return true
	}

	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}

	if len(fields) == 1 && len([]rune(name)) > 3 && name == strings.ToUpper(name) {
		return true
	}

	return false
}

// IsPositiveFlag parses the many spellings vendors use for "yes".
func (c *Classifier) IsPositiveFlag(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return false
	}
	return c.positiveFlags.has(v)
}

// IsGarbageEmail reports whether a raw email value is a stand-in for "no email".
func (c *Classifier) IsGarbageEmail(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len([]rune(v)) <= 1 {
		return true
	}
	return c.garbageEmails.has(v) || normalizers.NormalizeEmail(v) == ""
}

// IsOrganizationalEmail matches the operator's own domains and shared mailbox prefixes.
func (c *Classifier) IsOrganizationalEmail(normalized string) bool {
	at := strings.LastIndex(normalized, "@")
	if at < 0 {
		return false
	}
	local, domain := normalized[:at], normalized[at+1:]
	return c.orgDomains.has(domain) || c.orgPrefixes.has(local)
}

func (c *Classifier) IsPlaceholderPhone(normalized string) bool {
	return normalized != "" && c.placeholders.has(normalized)
}

// ContainsPlaceholderToken matches tokens such as "rebooking" anywhere in a name.
func (c *Classifier) ContainsPlaceholderToken(name string) bool {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	phrase := " " + strings.Join(words, " ") + " "
	return containsPhrase(phrase, c.vocab.PlaceholderTokens)
}

func anyWord(words []string, tokens set) bool {
	for _, w := range words {
		if tokens.has(w) {
			return true
		}
	}
	return false
}

func containsPhrase(phrase string, fragments []string) bool {
	for _, f := range fragments {
		f = strings.TrimSpace(strings.ToLower(f))
		if f != "" && strings.Contains(phrase, " "+f+" ") {
			return true
		}
	}
	return false
}
