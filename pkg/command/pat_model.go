package command

import (
	"time"

	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/pat"
)

// PersonalAccessTokenWriteModel folds a token stream.
type PersonalAccessTokenWriteModel struct {
	eventstore.WriteModel

	State      domain.PersonalAccessTokenState
	UserID     string
	Expiration time.Time
	Scopes     []string
}

func NewPersonalAccessTokenWriteModel(instanceID, tokenID string) *PersonalAccessTokenWriteModel {
	return &PersonalAccessTokenWriteModel{
		WriteModel: eventstore.WriteModel{
			AggregateID: tokenID,
			InstanceID:  instanceID,
		},
	}
}

func (wm *PersonalAccessTokenWriteModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder(wm.InstanceID).
		MatchAggregate(pat.AggregateType, wm.AggregateID)
}

func (wm *PersonalAccessTokenWriteModel) Reduce() error {
	for _, event := range wm.Events {
		switch event.Type {
		case pat.AddedType:
			var payload pat.AddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.State = domain.PersonalAccessTokenStateActive
			wm.UserID = payload.UserID
			wm.Expiration = payload.Expiration
			wm.Scopes = payload.Scopes
		case pat.RemovedType:
			wm.State = domain.PersonalAccessTokenStateRemoved
		}
	}
	return wm.WriteModel.Reduce()
}
