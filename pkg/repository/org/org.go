// Package org defines the events of the organization aggregate.
package org

import (
	"github.com/authapp/iamcore/pkg/eventstore"
)

const AggregateType eventstore.AggregateType = "org"

// Uniqueness indexes scoped per instance by the store.
const (
	UniqueOrgName   = "org_names"
	UniqueOrgDomain = "org_domains"
)

// NewAggregate addresses an org stream expected to be empty. Orgs own
// themselves: the resource owner is the org's own ID.
func NewAggregate(instanceID, id string) *eventstore.Aggregate {
	return eventstore.NewAggregate(instanceID, AggregateType, id, id)
}
