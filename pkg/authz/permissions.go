package authz

import (
	"context"

	"github.com/authapp/iamcore/pkg/errs"
)

// Permissions checked by the command side. Queries reuse the read variants.
const (
	PermissionInstanceWrite = "instance.write"
	PermissionOrgRead       = "org.read"
	PermissionOrgWrite      = "org.write"
	PermissionUserRead      = "user.read"
	PermissionUserWrite     = "user.write"
	PermissionSessionWrite  = "session.write"
	PermissionTokenWrite    = "token.write"
)

// Roles granted to callers. Instance roles apply to every org of the
// instance, org roles only to the caller's own org.
const (
	RoleIAMOwner  = "IAM_OWNER"
	RoleOrgOwner  = "ORG_OWNER"
	RoleOrgMember = "ORG_MEMBER"
	RoleSelf      = "SELF"
)

// Checker decides whether the caller in ctx holds a permission on a
// resource. Implementations must deny when in doubt.
type Checker interface {
	Check(ctx context.Context, permission, resourceOwner, resourceID string) error
}

// RoleMapping assigns each role its permission set.
type RoleMapping map[string][]string

// DefaultRoleMapping mirrors the built-in role matrix.
func DefaultRoleMapping() RoleMapping {
	return RoleMapping{
		RoleIAMOwner: {
			PermissionInstanceWrite,
			PermissionOrgRead, PermissionOrgWrite,
			PermissionUserRead, PermissionUserWrite,
			PermissionSessionWrite,
			PermissionTokenWrite,
		},
		RoleOrgOwner: {
			PermissionOrgRead, PermissionOrgWrite,
			PermissionUserRead, PermissionUserWrite,
			PermissionSessionWrite,
			PermissionTokenWrite,
		},
		RoleOrgMember: {
			PermissionOrgRead,
			PermissionUserRead,
		},
	}
}

type roleChecker struct {
	mapping       RoleMapping
	instanceRoles map[string]bool
}

// NewRoleChecker builds a Checker over a role mapping. Roles listed in
// instanceRoles grant their permissions across all orgs of the instance;
// all other roles are scoped to the caller's org.
func NewRoleChecker(mapping RoleMapping, instanceRoles ...string) Checker {
	instance := make(map[string]bool, len(instanceRoles))
	for _, role := range instanceRoles {
		instance[role] = true
	}
	return &roleChecker{mapping: mapping, instanceRoles: instance}
}

// NewDefaultChecker is NewRoleChecker over DefaultRoleMapping with
// IAM_OWNER as the only instance-wide role.
func NewDefaultChecker() Checker {
	return NewRoleChecker(DefaultRoleMapping(), RoleIAMOwner)
}

func (c *roleChecker) Check(ctx context.Context, permission, resourceOwner, resourceID string) error {
	data := GetCtxData(ctx)
	if !data.IsSet() {
		return errs.NewPermissionDenied(nil, "AUTHZ-Bd8gs", "no caller in context")
	}
	// Callers always hold user.read and user.write on themselves.
	if resourceID != "" && resourceID == data.UserID &&
		(permission == PermissionUserRead || permission == PermissionUserWrite) {
		return nil
	}
	for _, role := range data.Roles {
		granted, ok := c.mapping[role]
		if !ok {
			continue
		}
		if !c.instanceRoles[role] && resourceOwner != "" && resourceOwner != data.OrgID {
			continue
		}
		for _, p := range granted {
			if p == permission {
				return nil
			}
		}
	}
	return errs.NewPermissionDenied(nil, "AUTHZ-Dar3w", "missing permission %s", permission)
}

type permitAll struct{}

// PermitAllChecker grants every permission. Only the instance bootstrap
// path uses it, before any user or role exists.
func PermitAllChecker() Checker { return permitAll{} }

func (permitAll) Check(context.Context, string, string, string) error { return nil }
