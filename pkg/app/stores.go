package app

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/blacklist"
	"github.com/Ramsey-B/fern/internal/repositories/cat"
	"github.com/Ramsey-B/fern/internal/repositories/decision"
	linkingrepo "github.com/Ramsey-B/fern/internal/repositories/linking"
	"github.com/Ramsey-B/fern/internal/repositories/memory"
	mergerepo "github.com/Ramsey-B/fern/internal/repositories/merge"
	"github.com/Ramsey-B/fern/internal/repositories/person"
	"github.com/Ramsey-B/fern/internal/repositories/place"
	relationshiprepo "github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/pkg/cats"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/gate"
	"github.com/Ramsey-B/fern/pkg/linking"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/orchestrator"
	"github.com/Ramsey-B/fern/pkg/places"
	"github.com/Ramsey-B/fern/pkg/pollution"
	mergeroutes "github.com/Ramsey-B/fern/pkg/routes/merge"
	relationshiproutes "github.com/Ramsey-B/fern/pkg/routes/relationship"
)

type RelationshipStore interface {
	linking.Store
	relationshiproutes.Reader
}

type MergeStore interface {
	merging.Store
	mergeroutes.AuditReader
}

// Stores is every persistence dependency the services need. Postgres and the
// in-memory store both fill it.
type Stores struct {
	Persons       matching.PersonStore
	Candidates    matching.CandidateStore
	Decisions     matching.DecisionStore
	Blacklist     gate.BlacklistStore
	Cats          cats.Store
	Places        places.Store
	Relationships RelationshipStore
	Linking       orchestrator.LinkingStore
	Runs          orchestrator.RunStore
	Merges        MergeStore
	Pollution     pollution.Store
	Tx            database.Transactor
}

func PostgresStores(db database.DB, logger ectologger.Logger) Stores {
	persons := person.NewRepository(db, logger)
	runs := linkingrepo.NewRepository(db, logger)
	return Stores{
		Persons:       persons,
		Candidates:    persons,
		Decisions:     decision.NewRepository(db, logger),
		Blacklist:     blacklist.NewRepository(db, logger),
		Cats:          cat.NewRepository(db, logger),
		Places:        place.NewRepository(db, logger),
		Relationships: relationshiprepo.NewRepository(db, logger),
		Linking:       runs,
		Runs:          runs,
		Merges:        mergerepo.NewRepository(db, logger),
		Pollution:     persons,
		Tx:            db,
	}
}

func MemoryStores(store *memory.Store) Stores {
	return Stores{
		Persons:       store,
		Candidates:    store,
		Decisions:     store,
		Blacklist:     store,
		Cats:          store,
		Places:        store,
		Relationships: store,
		Linking:       store,
		Runs:          store,
		Merges:        store,
		Pollution:     store,
		Tx:            store,
	}
}
