package user

import (
	"context"
	"time"

	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/eventstore"
)

const (
	HumanAddedType      eventstore.EventType = "user.human.added"
	ProfileChangedType  eventstore.EventType = "user.profile.changed"
	EmailChangedType    eventstore.EventType = "user.email.changed"
	EmailCodeAddedType  eventstore.EventType = "user.email.code.added"
	EmailVerifiedType   eventstore.EventType = "user.email.verified"
	PasswordChangedType eventstore.EventType = "user.password.changed"
	LockedType          eventstore.EventType = "user.locked"
	UnlockedType        eventstore.EventType = "user.unlocked"
	DeactivatedType     eventstore.EventType = "user.deactivated"
	ReactivatedType     eventstore.EventType = "user.reactivated"
	RemovedType         eventstore.EventType = "user.removed"
	AvatarAddedType     eventstore.EventType = "user.avatar.added"
	AvatarRemovedType   eventstore.EventType = "user.avatar.removed"
)

// HumanAddedPayload carries the initial state of a human user.
type HumanAddedPayload struct {
	Username          string `json:"username"`
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	DisplayName       string `json:"displayName"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
	Email             string `json:"email"`
	Phone             string `json:"phone,omitempty"`

	// EncodedHash is the bcrypt hash of the initial password, empty when the
	// user starts passwordless.
	EncodedHash string `json:"encodedHash,omitempty"`
}

// NewHumanAddedEvent creates the user and claims its username.
func NewHumanAddedEvent(ctx context.Context, agg *eventstore.Aggregate, payload *HumanAddedPayload) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, HumanAddedType, payload)
	event.AddConstraints(eventstore.NewClaimConstraint(UniqueUsername, payload.Username))
	return event
}

type ProfileChangedPayload struct {
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName"`
	DisplayName       string `json:"displayName"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
}

func NewProfileChangedEvent(ctx context.Context, agg *eventstore.Aggregate, payload *ProfileChangedPayload) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, ProfileChangedType, payload)
}

type EmailChangedPayload struct {
	Email string `json:"email"`
}

func NewEmailChangedEvent(ctx context.Context, agg *eventstore.Aggregate, email string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, EmailChangedType, &EmailChangedPayload{Email: email})
}

// EmailCodeAddedPayload stores the encrypted verification code; the
// plaintext leaves the system only through the notification channel.
type EmailCodeAddedPayload struct {
	Code   *crypto.CryptoValue `json:"code"`
	Expiry time.Duration       `json:"expiry"`
}

func NewEmailCodeAddedEvent(ctx context.Context, agg *eventstore.Aggregate, code *crypto.CryptoValue, expiry time.Duration) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, EmailCodeAddedType, &EmailCodeAddedPayload{Code: code, Expiry: expiry})
}

func NewEmailVerifiedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, EmailVerifiedType, nil)
}

type PasswordChangedPayload struct {
	EncodedHash string `json:"encodedHash"`
}

func NewPasswordChangedEvent(ctx context.Context, agg *eventstore.Aggregate, encodedHash string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, PasswordChangedType, &PasswordChangedPayload{EncodedHash: encodedHash})
}

func NewLockedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, LockedType, nil)
}

func NewUnlockedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, UnlockedType, nil)
}

func NewDeactivatedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, DeactivatedType, nil)
}

func NewReactivatedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, ReactivatedType, nil)
}

// NewRemovedEvent tombstones the user and releases its username for reuse.
func NewRemovedEvent(ctx context.Context, agg *eventstore.Aggregate, username string) *eventstore.BaseEvent {
	event := eventstore.NewBaseEvent(ctx, agg, RemovedType, nil)
	event.AddConstraints(eventstore.NewReleaseConstraint(UniqueUsername, username))
	return event
}

type AvatarAddedPayload struct {
	StoreKey string `json:"storeKey"`
}

func NewAvatarAddedEvent(ctx context.Context, agg *eventstore.Aggregate, storeKey string) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, AvatarAddedType, &AvatarAddedPayload{StoreKey: storeKey})
}

func NewAvatarRemovedEvent(ctx context.Context, agg *eventstore.Aggregate) *eventstore.BaseEvent {
	return eventstore.NewBaseEvent(ctx, agg, AvatarRemovedType, nil)
}
