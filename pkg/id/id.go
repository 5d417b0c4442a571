// Package id generates the identifiers handed out by the command side.
// Aggregate IDs are ULIDs so that IDs minted on one process sort roughly
// by creation time; correlation IDs are plain UUIDs.
package id

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator mints aggregate identifiers. Commands never call the concrete
// generator directly so tests can substitute a deterministic one.
type Generator interface {
	Next() (string, error)
}

type sortableGenerator struct{}

// NewSortableGenerator returns a Generator producing ULIDs from crypto/rand
// entropy.
func NewSortableGenerator() Generator {
	return sortableGenerator{}
}

func (sortableGenerator) Next() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNext is Next for wiring paths where an entropy failure is fatal.
func MustNext(g Generator) string {
	id, err := g.Next()
	if err != nil {
		panic(err)
	}
	return id
}

// CorrelationID returns a random UUID used to tie log lines and events of
// one command execution together.
func CorrelationID() string {
	return uuid.NewString()
}
