package command

import (
	"context"
	"strings"

	"golang.org/x/text/language"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/domain"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/repository/user"
)

// ChangeProfile is the input to ChangeUserProfile. It replaces the whole
// profile; callers pass the fields they want kept.
type ChangeProfile struct {
	FirstName         string
	LastName          string
	DisplayName       string
	PreferredLanguage string
}

// ChangeUserProfile replaces the user's profile. Submitting the current
// profile unchanged fails instead of appending a no-op event.
func (c *Commands) ChangeUserProfile(ctx context.Context, orgID, userID string, profile ChangeProfile) (*domain.ObjectDetails, error) {
	tag, err := domain.ParseLanguage(profile.PreferredLanguage)
	if err != nil {
		return nil, err
	}
	p := &domain.Profile{
		FirstName:         strings.TrimSpace(profile.FirstName),
		LastName:          strings.TrimSpace(profile.LastName),
		DisplayName:       strings.TrimSpace(profile.DisplayName),
		PreferredLanguage: tag,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.DisplayName == "" {
		p.DisplayName = p.FullName()
	}
	lang := ""
	if tag != language.Und {
		lang = tag.String()
	}

	wm, err := c.userPreflight(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if wm.FirstName == p.FirstName &&
		wm.LastName == p.LastName &&
		wm.DisplayName == p.DisplayName &&
		wm.PreferredLanguage == lang {
		return nil, errs.NewPreconditionFailed(nil, "USER-hW3qa", "profile not changed")
	}

	if err := c.checker.Check(ctx, authz.PermissionUserWrite, wm.ResourceOwner, userID); err != nil {
		return nil, err
	}

	agg := eventstore.AggregateFromWriteModel(&wm.WriteModel, user.AggregateType)
	pushedEvents, err := c.es.Push(ctx, user.NewProfileChangedEvent(ctx, agg, &user.ProfileChangedPayload{
		FirstName:         p.FirstName,
		LastName:          p.LastName,
		DisplayName:       p.DisplayName,
		PreferredLanguage: lang,
	}))
	if err != nil {
		return nil, err
	}
	if err := appendAndReduce(wm, pushedEvents...); err != nil {
		return nil, err
	}
	return writeModelToDetails(&wm.WriteModel), nil
}
