package validators

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Vocabulary holds every token table used by the validators and the identity
// gate. Tables are lowercase; lookups lowercase their input.
type Vocabulary struct {
	OrganizationTokens []string `yaml:"organization_tokens"`
	CharityFragments   []string `yaml:"charity_fragments"`
	SiteTokens         []string `yaml:"site_tokens"`
	StreetTypes        []string `yaml:"street_types"`
	GarbageNames       []string `yaml:"garbage_names"`
	PlaceholderTokens  []string `yaml:"placeholder_tokens"`
	GarbageEmails      []string `yaml:"garbage_emails"`
	OrgEmailDomains    []string `yaml:"org_email_domains"`
	OrgEmailPrefixes   []string `yaml:"org_email_prefixes"`
	PlaceholderPhones  []string `yaml:"placeholder_phones"`
	PositiveFlags      []string `yaml:"positive_flags"`
	TestMicrochips     []string `yaml:"test_microchips"`
	KnownBadMicrochips []string `yaml:"known_bad_microchips"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		OrganizationTokens: []string{
			"llc", "inc", "corp", "corporation", "foundation", "association", "society", "rescue", "shelter",
			"animal", "animals", "pet", "pets", "veterinary", "vet", "clinic", "county", "department", "dept",
			"services", "hospital", "program", "project", "humane", "spca", "church", "school", "hotel", "motel",
		},
		CharityFragments: []string{
			"forgotten felines", "humane society", "cat rescue", "feral cat", "animal control", "animal services",
		},
		SiteTokens: []string{
			"ranch", "farm", "farms", "estate", "estates", "vineyard", "vineyards", "winery", "dairy", "orchard",
			"mhp", "mobile home park", "trailer park", "rv park",
		},
		StreetTypes: []string{
			"street", "avenue", "ave", "road", "rd", "drive", "lane", "ln", "court", "ct",
			"boulevard", "blvd", "way", "place", "highway", "hwy",
		},
		GarbageNames: []string{
			"unknown", "n/a", "n-a", "na", "none", "test", "tbd", "owner", "client", "?", "x", "xx", "xxx",
			"no name", "noname", "anonymous", "unk", "null",
		},
		PlaceholderTokens: []string{"rebooking", "placeholder", "test", "duplicate", "do not use", "dnu"},
		GarbageEmails: []string{
			"none", "no", "n/a", "n-a", "na", "unknown", "test", "tbd", "noemail", "no email", "none@none.com",
			"noemail@noemail.com", "na@na.com", "test@test.com", "x@x.com", "placeholder",
		},
		OrgEmailDomains:   []string{"forgottenfelines.com", "forgottenfelines.org"},
		OrgEmailPrefixes:  []string{"info", "office", "contact", "admin", "support", "intake", "help", "clinic", "frontdesk"},
		PlaceholderPhones: []string{"7075767999", "0000000000", "1111111111", "9999999999", "1234567890"},
		PositiveFlags:     []string{"yes", "true", "y", "checked", "positive", "1", "left", "right", "bilateral"},
		TestMicrochips: []string{
			"123456789", "1234567890", "12345678901", "123456789012", "1234567890123",
			"12345678901234", "123456789012345", "999999999", "987654321",
		},
		KnownBadMicrochips: []string{"981020000000000", "900000000000000", "985000000000000", "111222333444555"},
	}
}

// LoadVocabulary reads a YAML file and appends its entries to the defaults.
func LoadVocabulary(path string) (Vocabulary, error) {
	vocab := DefaultVocabulary()
	if path == "" {
		return vocab, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return vocab, errors.Wrapf(err, "failed to read vocabulary file %s", path)
	}

	var extra Vocabulary
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return vocab, errors.Wrapf(err, "failed to parse vocabulary file %s", path)
	}

	return vocab.Extend(extra), nil
}

// Extend returns a copy with other's entries appended.
func (v Vocabulary) Extend(other Vocabulary) Vocabulary {
	merge := func(a, b []string) []string {
		out := make([]string, 0, len(a)+len(b))
		out = append(out, a...)
		for _, s := range b {
			out = append(out, strings.ToLower(strings.TrimSpace(s)))
		}
		return out
	}

	return Vocabulary{
		OrganizationTokens: merge(v.OrganizationTokens, other.OrganizationTokens),
		CharityFragments:   merge(v.CharityFragments, other.CharityFragments),
		SiteTokens:         merge(v.SiteTokens, other.SiteTokens),
		StreetTypes:        merge(v.StreetTypes, other.StreetTypes),
		GarbageNames:       merge(v.GarbageNames, other.GarbageNames),
		PlaceholderTokens:  merge(v.PlaceholderTokens, other.PlaceholderTokens),
		GarbageEmails:      merge(v.GarbageEmails, other.GarbageEmails),
		OrgEmailDomains:    merge(v.OrgEmailDomains, other.OrgEmailDomains),
		OrgEmailPrefixes:   merge(v.OrgEmailPrefixes, other.OrgEmailPrefixes),
		PlaceholderPhones:  merge(v.PlaceholderPhones, other.PlaceholderPhones),
		PositiveFlags:      merge(v.PositiveFlags, other.PositiveFlags),
		TestMicrochips:     merge(v.TestMicrochips, other.TestMicrochips),
		KnownBadMicrochips: merge(v.KnownBadMicrochips, other.KnownBadMicrochips),
	}
}

type set map[string]struct{}

func newSet(values []string) set {
	s := make(set, len(values))
	for _, v := range values {
		s[strings.ToLower(v)] = struct{}{}
	}
	return s
}

func (s set) has(v string) bool {
	_, ok := s[v]
	return ok
}
