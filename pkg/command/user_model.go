package command

import (
	"time"

	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// UserWriteModel folds a user stream into the state the user commands
// decide on.
type UserWriteModel struct {
	eventstore.WriteModel

	State    domain.UserState
	Username string

	FirstName         string
	LastName          string
	DisplayName       string
	PreferredLanguage string

	Email         string
	EmailVerified bool
	Code          *crypto.CryptoValue
	CodeCreation  time.Time
	CodeExpiry    time.Duration

	EncodedHash string
	AvatarKey   string
}

func NewUserWriteModel(instanceID, userID string) *UserWriteModel {
	return &UserWriteModel{
		WriteModel: eventstore.WriteModel{
			AggregateID: userID,
			InstanceID:  instanceID,
		},
	}
}

func (wm *UserWriteModel) Query() *eventstore.SearchQueryBuilder {
	return eventstore.NewSearchQueryBuilder(wm.InstanceID).
		MatchAggregate(user.AggregateType, wm.AggregateID)
}

func (wm *UserWriteModel) Reduce() error {
	for _, event := range wm.Events {
		switch event.Type {
		case user.HumanAddedType:
			var payload user.HumanAddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.State = domain.UserStateActive
			wm.Username = payload.Username
			wm.FirstName = payload.FirstName
			wm.LastName = payload.LastName
			wm.DisplayName = payload.DisplayName
			wm.PreferredLanguage = payload.PreferredLanguage
			wm.Email = payload.Email
			wm.EncodedHash = payload.EncodedHash
		case user.ProfileChangedType:
			var payload user.ProfileChangedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.FirstName = payload.FirstName
			wm.LastName = payload.LastName
			wm.DisplayName = payload.DisplayName
			wm.PreferredLanguage = payload.PreferredLanguage
		case user.EmailChangedType:
			var payload user.EmailChangedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.Email = payload.Email
			wm.EmailVerified = false
			wm.Code = nil
		case user.EmailCodeAddedType:
			var payload user.EmailCodeAddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.Code = payload.Code
			wm.CodeCreation = event.CreatedAt
			wm.CodeExpiry = payload.Expiry
		case user.EmailVerifiedType:
			wm.EmailVerified = true
			wm.Code = nil
		case user.PasswordChangedType:
			var payload user.PasswordChangedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.EncodedHash = payload.EncodedHash
		case user.LockedType:
			wm.State = domain.UserStateLocked
		case user.UnlockedType:
			wm.State = domain.UserStateActive
		case user.DeactivatedType:
			wm.State = domain.UserStateInactive
		case user.ReactivatedType:
			wm.State = domain.UserStateActive
		case user.RemovedType:
			wm.State = domain.UserStateDeleted
		case user.AvatarAddedType:
			var payload user.AvatarAddedPayload
			if err := event.UnmarshalPayload(&payload); err != nil {
				return err
			}
			wm.AvatarKey = payload.StoreKey
		case user.AvatarRemovedType:
			wm.AvatarKey = ""
		}
	}
	return wm.WriteModel.Reduce()
}
