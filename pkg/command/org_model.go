package command

import (
	"slices"

	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/org"
)

// OrgWriteModel folds an org stream, including its registered domains.
type OrgWriteModel struct {
	eventstore.WriteModel

	State         domain.OrgState
	Name          string
	Domains       []string
	PrimaryDomain string
}

func NewOrgWriteModel(instanceID, orgID string) *OrgWriteModel {
	return &OrgWriteModel{
		WriteModel: eventstore.WriteModel{
			AggregateID: orgID,
			InstanceID:  instanceID,
		},
	}
}

func (wm *OrgWriteModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder(wm.InstanceID).
		MatchAggregate(org.AggregateType, wm.AggregateID)
}

func (wm *OrgWriteModel) HasDomain(domainName string) bool {
	return slices.Contains(wm.Domains, domainName)
}

func (wm *OrgWriteModel) Reduce() error {
	for _, event := range wm.Events {
		switch event.Type {
		case org.AddedType:
			var payload org.AddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.State = domain.OrgStateActive
			wm.Name = payload.Name
		case org.ChangedType:
			var payload org.ChangedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.Name = payload.Name
		case org.DeactivatedType:
			wm.State = domain.OrgStateInactive
		case org.ReactivatedType:
			wm.State = domain.OrgStateActive
		case org.DomainAddedType:
			var payload org.DomainAddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			if !wm.HasDomain(payload.Domain) {
				wm.Domains = append(wm.Domains, payload.Domain)
			}
		case org.DomainPrimarySetType:
			var payload org.DomainPrimarySetPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.PrimaryDomain = payload.Domain
		case org.DomainRemovedType:
			var payload org.DomainRemovedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.Domains = slices.DeleteFunc(wm.Domains, func(d string) bool {
				return d == payload.Domain
			})
			if wm.PrimaryDomain == payload.Domain {
				wm.PrimaryDomain = ""
			}
		}
	}
	return wm.WriteModel.Reduce()
}
