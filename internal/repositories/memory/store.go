// Package memory is an in-process implementation of every store port. It backs
// the service tests and the `--memory` mode of the CLI. Transactions are
// serialized and roll back by restoring a snapshot.
package memory

import (
	"bytes"
	"context"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

type edgeKey struct {
	subject uuid.UUID
	object  uuid.UUID
	relType string
}

type state struct {
	people         map[uuid.UUID]models.Person
	identifiers    map[string]models.PersonIdentifier
	roles          map[uuid.UUID]models.PersonRole
	decisions      map[uuid.UUID]models.MatchDecision
	blacklist      map[string]models.BlacklistEntry
	cats           map[uuid.UUID]models.Cat
	catIdentifiers map[string]models.CatIdentifier
	addresses      map[string]models.Address
	places         map[uuid.UUID]models.Place
	edges          map[models.RelationshipKind]map[edgeKey]models.Relationship
	appointments   map[uuid.UUID]models.Appointment
	runs           map[uuid.UUID]models.LinkingRun
	audits         []models.MergeAudit
}

func newState() *state {
	return &state{
		people:         map[uuid.UUID]models.Person{},
		identifiers:    map[string]models.PersonIdentifier{},
		roles:          map[uuid.UUID]models.PersonRole{},
		decisions:      map[uuid.UUID]models.MatchDecision{},
		blacklist:      map[string]models.BlacklistEntry{},
		cats:           map[uuid.UUID]models.Cat{},
		catIdentifiers: map[string]models.CatIdentifier{},
		addresses:      map[string]models.Address{},
		places:         map[uuid.UUID]models.Place{},
		edges: map[models.RelationshipKind]map[edgeKey]models.Relationship{
			models.RelationshipPersonCat:   {},
			models.RelationshipPersonPlace: {},
			models.RelationshipCatPlace:    {},
		},
		appointments: map[uuid.UUID]models.Appointment{},
		runs:         map[uuid.UUID]models.LinkingRun{},
	}
}

func (s *state) clone() *state {
	edges := make(map[models.RelationshipKind]map[edgeKey]models.Relationship, len(s.edges))
	for k, v := range s.edges {
		edges[k] = maps.Clone(v)
	}
	return &state{
		people:         maps.Clone(s.people),
		identifiers:    maps.Clone(s.identifiers),
		roles:          maps.Clone(s.roles),
		decisions:      maps.Clone(s.decisions),
		blacklist:      maps.Clone(s.blacklist),
		cats:           maps.Clone(s.cats),
		catIdentifiers: maps.Clone(s.catIdentifiers),
		addresses:      maps.Clone(s.addresses),
		places:         maps.Clone(s.places),
		edges:          edges,
		appointments:   maps.Clone(s.appointments),
		runs:           maps.Clone(s.runs),
		audits:         append([]models.MergeAudit(nil), s.audits...),
	}
}

type txKey struct{}

type Store struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	s       *state
	missing []string
}

func New() *Store {
	return &Store{s: newState()}
}

// WithinTx runs fn with exclusive write access. Nested calls join the outer
// unit of work. On error every change made by fn is discarded.
func (m *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.s.clone()
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.mu.Lock()
		m.s = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// SetMissingDependencies makes Preflight report the given names.
func (m *Store) SetMissingDependencies(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing = append([]string(nil), names...)
}

func (m *Store) Preflight(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.missing...), nil
}

func identifierKey[T ~string](kind T, value string) string {
	return string(kind) + "|" + value
}

func less(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func sortedValues[K comparable, V any](in map[K]V, lessFn func(a, b V) bool) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return lessFn(out[i], out[j]) })
	return out
}

func sortedSlice[V any](in []V, lessFn func(a, b V) bool) []V {
	sort.Slice(in, func(i, j int) bool { return lessFn(in[i], in[j]) })
	return in
}
