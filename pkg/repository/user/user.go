// Package user defines the events of the user aggregate. The command side
// emits them, write models and projections fold them.
package user

import (
	"github.com/authapp/iamcore/pkg/eventstore"
)

const AggregateType eventstore.AggregateType = "user"

// UniqueUsername is the uniqueness index for login names, scoped per
// instance by the store.
const UniqueUsername = "usernames"

// NewAggregate addresses a user stream expected to be empty.
func NewAggregate(instanceID, resourceOwner, id string) *eventstore.Aggregate {
	return eventstore.NewAggregate(instanceID, AggregateType, id, resourceOwner)
}
