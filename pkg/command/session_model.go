package command

import (
	"maps"
	"time"

	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/session"
)

// SessionWriteModel folds a session stream.
type SessionWriteModel struct {
	eventstore.WriteModel

	State             domain.SessionState
	UserID            string
	UserResourceOwner string
	Lifetime          time.Duration
	Metadata          map[string]string
}

func NewSessionWriteModel(instanceID, sessionID string) *SessionWriteModel {
	return &SessionWriteModel{
		WriteModel: eventstore.WriteModel{
			AggregateID: sessionID,
			InstanceID:  instanceID,
		},
	}
}

func (wm *SessionWriteModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder(wm.InstanceID).
		MatchAggregate(session.AggregateType, wm.AggregateID)
}

func (wm *SessionWriteModel) Reduce() error {
	for _, event := range wm.Events {
		switch event.Type {
		case session.AddedType:
			var payload session.AddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.State = domain.SessionStateActive
			wm.UserID = payload.UserID
			wm.UserResourceOwner = payload.UserResourceOwner
			wm.Lifetime = payload.Lifetime
		case session.MetadataSetType:
			var payload session.MetadataSetPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.Metadata = payload.Metadata
		case session.TerminatedType:
			wm.State = domain.SessionStateTerminated
		}
	}
	return wm.WriteModel.Reduce()
}

// metadataEqual reports whether the stored metadata already matches.
func (wm *SessionWriteModel) metadataEqual(metadata map[string]string) bool {
	return maps.Equal(wm.Metadata, metadata)
}
