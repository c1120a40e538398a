// Package gate decides whether a contact fragment may become a person. The
// decision is a short-circuit chain of named predicates so new junk patterns
// can be added without touching callers.
package gate

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validators"
)

// Rejection reasons, one per built-in predicate.
const (
	ReasonNoIdentifier          = "no_identifier"
	ReasonOrganizationalEmail   = "organizational_email"
	ReasonBlacklistedIdentifier = "blacklisted_identifier"
	ReasonMissingFirstName      = "missing_first_name"
	ReasonPlaceholderPhone      = "placeholder_phone"
	ReasonPlaceholderName       = "placeholder_name"
	ReasonNameNotPerson         = "name_not_person"
)

// Contact is a normalized contact fragment.
type Contact struct {
	FirstName   string
	LastName    string
	DisplayName string
	RawEmail    string
	RawPhone    string
	// Email is "" when absent or a garbage stand-in.
	Email string
	// Phone is "" unless it normalized to 10 digits.
	Phone string
	// NameClass is filled in by the name_not_person predicate.
	NameClass validators.NameClass
}

func (c *Contact) HasIdentifier() bool {
	return c.Email != "" || c.Phone != ""
}

// Predicate rejects a contact when Reject returns true.
type Predicate struct {
	Name   string
	Reject func(ctx context.Context, c *Contact) (bool, error)
}

type Verdict struct {
	Admit     bool                 `json:"admit"`
	Reason    string               `json:"reason,omitempty"`
	NameClass validators.NameClass `json:"name_class,omitempty"`
	Contact   Contact              `json:"-"`
}

type Gate struct {
	logger     ectologger.Logger
	classifier *validators.Classifier
	blacklist  *Blacklist
	predicates []Predicate
}

// NewGate builds the default chain. blacklist may be nil to skip that predicate.
func NewGate(logger ectologger.Logger, classifier *validators.Classifier, blacklist *Blacklist) *Gate {
	if classifier == nil {
		classifier = validators.Default()
	}
	g := &Gate{logger: logger, classifier: classifier, blacklist: blacklist}
	g.predicates = g.defaultPredicates()
	return g
}

// Use appends predicates to the end of the chain.
func (g *Gate) Use(predicates ...Predicate) *Gate {
	g.predicates = append(g.predicates, predicates...)
	return g
}

// Predicates returns the chain's names in evaluation order.
func (g *Gate) Predicates() []string {
	names := make([]string, len(g.predicates))
	for i, p := range g.predicates {
		names[i] = p.Name
	}
	return names
}

// Classifier exposes the vocabulary-bound classifier the gate uses.
func (g *Gate) Classifier() *validators.Classifier {
	return g.classifier
}

// Prepare normalizes a raw fragment. Garbage email tokens count as no email.
func (g *Gate) Prepare(firstName, lastName, email, phone string) Contact {
	c := Contact{
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		RawEmail:  strings.TrimSpace(email),
		RawPhone:  strings.TrimSpace(phone),
		Phone:     normalizers.NormalizePhone(phone),
	}
	c.DisplayName = strings.TrimSpace(c.FirstName + " " + c.LastName)
	if !g.classifier.IsGarbageEmail(email) {
		c.Email = normalizers.NormalizeEmail(email)
	}
	return c
}

// Evaluate runs the chain and returns the first rejecting predicate's name.
func (g *Gate) Evaluate(ctx context.Context, firstName, lastName, email, phone string) (Verdict, error) {
	ctx, span := tracing.StartSpan(ctx, "gate.Gate.Evaluate")
	defer span.End()

	c := g.Prepare(firstName, lastName, email, phone)

	for _, p := range g.predicates {
		reject, err := p.Reject(ctx, &c)
		if err != nil {
			tracing.RecordError(span, err)
			return Verdict{Contact: c}, err
		}
		if reject {
			metrics.RecordGateRejection(p.Name)
			g.logger.WithContext(ctx).WithFields(map[string]any{
				"reason":       p.Name,
				"display_name": c.DisplayName,
				"has_email":    c.Email != "",
				"has_phone":    c.Phone != "",
			}).Debug("Identity gate rejected contact")
			return Verdict{Reason: p.Name, NameClass: c.NameClass, Contact: c}, nil
		}
	}

	return Verdict{Admit: true, NameClass: c.NameClass, Contact: c}, nil
}

// ShouldBePerson reports whether the fragment represents a creatable person.
func (g *Gate) ShouldBePerson(ctx context.Context, firstName, lastName, email, phone string) (bool, error) {
	v, err := g.Evaluate(ctx, firstName, lastName, email, phone)
	if err != nil {
		return false, err
	}
	return v.Admit, nil
}

func (g *Gate) defaultPredicates() []Predicate {
	predicates := []Predicate{
		{Name: ReasonNoIdentifier, Reject: func(_ context.Context, c *Contact) (bool, error) {
			return !c.HasIdentifier(), nil
		}},
		{Name: ReasonOrganizationalEmail, Reject: func(_ context.Context, c *Contact) (bool, error) {
			return c.Email != "" && g.classifier.IsOrganizationalEmail(c.Email), nil
		}},
	}

	if g.blacklist != nil {
		predicates = append(predicates, Predicate{Name: ReasonBlacklistedIdentifier, Reject: g.blacklisted})
	}

	return append(predicates,
		Predicate{Name: ReasonMissingFirstName, Reject: func(_ context.Context, c *Contact) (bool, error) {
			return c.FirstName == "", nil
		}},
		Predicate{Name: ReasonPlaceholderPhone, Reject: func(_ context.Context, c *Contact) (bool, error) {
			return c.Email == "" && g.classifier.IsPlaceholderPhone(c.Phone), nil
		}},
		Predicate{Name: ReasonPlaceholderName, Reject: func(_ context.Context, c *Contact) (bool, error) {
			return g.classifier.ContainsPlaceholderToken(c.DisplayName), nil
		}},
		Predicate{Name: ReasonNameNotPerson, Reject: func(_ context.Context, c *Contact) (bool, error) {
			c.NameClass = g.classifier.ClassifyName(c.DisplayName)
			return c.NameClass != validators.NameLikelyPerson, nil
		}},
	)
}

func (g *Gate) blacklisted(ctx context.Context, c *Contact) (bool, error) {
	if blocked, err := g.blacklist.Blocks(ctx, models.IdentifierEmail, c.Email, c.DisplayName); err != nil || blocked {
		return blocked, err
	}
	return g.blacklist.Blocks(ctx, models.IdentifierPhone, c.Phone, c.DisplayName)
}
