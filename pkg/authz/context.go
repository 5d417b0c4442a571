// Package authz carries the caller identity through the request context and
// answers permission checks against it.
package authz

import (
	"context"

	"github.com/authapp/iamcore/pkg/errs"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const ctxDataKey contextKey = "authz_ctx_data"

// CtxData identifies the caller of a command or query: which instance the
// call belongs to, who is calling, and on whose behalf.
type CtxData struct {
	InstanceID    string
	UserID        string
	OrgID         string
	Roles         []string
	CorrelationID string
}

// IsSet reports whether the context data carries at least an instance.
func (d CtxData) IsSet() bool {
	return d.InstanceID != ""
}

// WithCtxData attaches caller data to the context.
func WithCtxData(ctx context.Context, data CtxData) context.Context {
	return context.WithValue(ctx, ctxDataKey, data)
}

// GetCtxData retrieves the caller data, zero valued when absent.
func GetCtxData(ctx context.Context) CtxData {
	data, _ := ctx.Value(ctxDataKey).(CtxData)
	return data
}

// InstanceID returns the instance the call is scoped to, failing with an
// InvalidArgument error when no instance is set. Every event log access
// requires one.
func InstanceID(ctx context.Context) (string, error) {
	data := GetCtxData(ctx)
	if data.InstanceID == "" {
		return "", errs.NewInvalidArgument(nil, "AUTHZ-so3qE", "instance not set in call context")
	}
	return data.InstanceID, nil
}
