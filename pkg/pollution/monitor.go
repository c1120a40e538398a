// Package pollution finds canonical people that look like gate failures:
// placeholders, organizations, sites, addresses and accounts linked to far
// too many cats. It only reads.
package pollution

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/validators"
)

// Flags.
const (
	FlagPlaceholderName     = "placeholder_name"
	FlagOrganizationKeyword = "organization_keyword"
	FlagExcessiveCatLinks   = "excessive_cat_links"
	flagNameClassPrefix     = "name_class:"
)

// Store pages through active people with their person-cat edge counts,
// ordered by id.
type Store interface {
	ListPersonsForScan(ctx context.Context, afterID *uuid.UUID, limit int) ([]models.PersonLinkCount, error)
}

type Config struct {
	MaxCatLinks int
	PageSize    int
	Workers     int
}

func DefaultConfig() Config {
	return Config{MaxCatLinks: 200, PageSize: 500, Workers: 4}
}

type Finding struct {
	PersonID     uuid.UUID `json:"person_id"`
	DisplayName  string    `json:"display_name"`
	Flags        []string  `json:"flags"`
	CatLinkCount int       `json:"cat_link_count"`
}

type ScanOptions struct {
	// Limit stops the scan after this many findings. Zero means no limit.
	Limit int
}

type Monitor struct {
	logger     ectologger.Logger
	store      Store
	classifier *validators.Classifier
	cfg        Config
}

func NewMonitor(logger ectologger.Logger, store Store, classifier *validators.Classifier, cfg Config) *Monitor {
	if classifier == nil {
		classifier = validators.Default()
	}
	def := DefaultConfig()
	if cfg.MaxCatLinks <= 0 {
		cfg.MaxCatLinks = def.MaxCatLinks
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	return &Monitor{logger: logger, store: store, classifier: classifier, cfg: cfg}
}

// Scan classifies every active person and returns those with at least one flag.
func (m *Monitor) Scan(ctx context.Context, opts ScanOptions) ([]Finding, error) {
	ctx, span := tracing.StartSpan(ctx, "pollution.Monitor.Scan")
	defer span.End()

	var (
		findings []Finding
		after    *uuid.UUID
		scanned  int
	)
	for {
		page, err := m.store.ListPersonsForScan(ctx, after, m.cfg.PageSize)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)

		pageFindings, err := m.classifyPage(ctx, page)
		if err != nil {
			return nil, err
		}
		findings = append(findings, pageFindings...)

		if opts.Limit > 0 && len(findings) >= opts.Limit {
			findings = findings[:opts.Limit]
			break
		}
		if len(page) < m.cfg.PageSize {
			break
		}
		last := page[len(page)-1].Person.ID
		after = &last
	}

	counts := make(map[string]int)
	for _, f := range findings {
		for _, flag := range f.Flags {
			counts[flag]++
		}
	}
	metrics.SetPollutionFlagged(counts)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"scanned":  scanned,
		"findings": len(findings),
		"by_flag":  counts,
	}).Info("Pollution scan finished")

	return findings, nil
}

// classifyPage fans classification out across workers and keeps page order.
func (m *Monitor) classifyPage(ctx context.Context, page []models.PersonLinkCount) ([]Finding, error) {
	results := make([]*Finding, len(page))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i := range page {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if f, ok := m.Classify(page[i]); ok {
				results[i] = &f
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Finding, 0)
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

// Classify returns the person's flags; ok is false when the row is clean.
func (m *Monitor) Classify(row models.PersonLinkCount) (Finding, bool) {
	p := row.Person
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}

	var flags []string
	if m.classifier.ContainsPlaceholderToken(name) {
		flags = append(flags, FlagPlaceholderName)
	}
	if m.hasOrganizationKeyword(name) {
		flags = append(flags, FlagOrganizationKeyword)
	}
	switch class := m.classifier.ClassifyName(name); class {
	case validators.NameOrganization, validators.NameSiteName, validators.NameAddress, validators.NameGarbage:
		flags = append(flags, flagNameClassPrefix+string(class))
	}
	if row.CatLinkCount > m.cfg.MaxCatLinks {
		flags = append(flags, FlagExcessiveCatLinks)
	}

	if len(flags) == 0 {
		return Finding{}, false
	}
	sort.Strings(flags)
	return Finding{
		PersonID:     p.ID,
		DisplayName:  p.DisplayName,
		Flags:        flags,
		CatLinkCount: row.CatLinkCount,
	}, true
}

func (m *Monitor) hasOrganizationKeyword(name string) bool {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := m.classifier.Vocabulary().OrganizationTokens
	matches := ectolinq.Filter(words, func(w string) bool {
		return ectolinq.Contains(tokens, w)
	})
	return len(matches) > 0
}
