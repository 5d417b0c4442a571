package command

import (
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/instance"
)

// InstanceWriteModel folds an instance stream.
type InstanceWriteModel struct {
	eventstore.WriteModel

	State        domain.InstanceState
	Name         string
	DefaultOrgID string
}

func NewInstanceWriteModel(instanceID string) *InstanceWriteModel {
	return &InstanceWriteModel{
		WriteModel: eventstore.WriteModel{
			AggregateID: instanceID,
			InstanceID:  instanceID,
		},
	}
}

func (wm *InstanceWriteModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder(wm.InstanceID).
		MatchAggregate(instance.AggregateType, wm.AggregateID)
}

func (wm *InstanceWriteModel) Reduce() error {
	for _, event := range wm.Events {
		switch event.Type {
		case instance.AddedType:
			var payload instance.AddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.State = domain.InstanceStateActive
			wm.Name = payload.Name
		case instance.DefaultOrgSetType:
			var payload instance.DefaultOrgSetPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.DefaultOrgID = payload.OrgID
		}
	}
	return wm.WriteModel.Reduce()
}
