package gate

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/similarity"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BlacklistStore looks up soft_blacklist rows. A missing entry is (nil, nil).
type BlacklistStore interface {
	FindBlacklistEntry(ctx context.Context, idType models.IdentifierType, normalizedValue string) (*models.BlacklistEntry, error)
}

type BlacklistConfig struct {
	// SoftMode also blocks entries below the hard threshold unless the incoming
	// name resembles one of the entry's approved names.
	SoftMode bool
	// Similarity compares the incoming display name with approved names.
	Similarity similarity.Func
}

func DefaultBlacklistConfig() BlacklistConfig {
	return BlacklistConfig{
		SoftMode:   false,
		Similarity: similarity.Trigram,
	}
}

// Blacklist blocks organizational and shared identifiers.
type Blacklist struct {
	logger ectologger.Logger
	store  BlacklistStore
	cfg    BlacklistConfig
}

func NewBlacklist(logger ectologger.Logger, store BlacklistStore, cfg BlacklistConfig) *Blacklist {
	if cfg.Similarity == nil {
		cfg.Similarity = similarity.Trigram
	}
	return &Blacklist{logger: logger, store: store, cfg: cfg}
}

// IsBlacklisted reports a hard block: an entry whose required name similarity
// is at least models.HardBlockSimilarity.
func (b *Blacklist) IsBlacklisted(ctx context.Context, idType models.IdentifierType, normalizedValue string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "gate.Blacklist.IsBlacklisted")
	defer span.End()

	if normalizedValue == "" {
		return false, nil
	}

	entry, err := b.store.FindBlacklistEntry(ctx, idType, normalizedValue)
	if err != nil {
		tracing.RecordError(span, err)
		return false, err
	}

	return entry != nil && entry.IsHardBlock(), nil
}

// Blocks applies the hard block and, in soft mode, the name-similarity rule.
func (b *Blacklist) Blocks(ctx context.Context, idType models.IdentifierType, normalizedValue, displayName string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "gate.Blacklist.Blocks")
	defer span.End()

	if normalizedValue == "" {
		return false, nil
	}

	entry, err := b.store.FindBlacklistEntry(ctx, idType, normalizedValue)
	if err != nil {
		tracing.RecordError(span, err)
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if entry.IsHardBlock() {
		return true, nil
	}
	if !b.cfg.SoftMode {
		return false, nil
	}

	name := strings.TrimSpace(displayName)
	for _, approved := range entry.ApprovedNames {
		if name != "" && b.cfg.Similarity(name, approved) >= entry.RequireNameSimilarity {
			return false, nil
		}
	}

	b.logger.WithContext(ctx).WithFields(map[string]any{
		"identifier_type": idType,
		"reason":          entry.Reason,
		"threshold":       entry.RequireNameSimilarity,
	}).Debug("Soft blacklist entry blocked dissimilar name")

	return true, nil
}
