package domain

import (
	"strings"

	"github.com/authapp/iamcore/pkg/errs"
)

// OrgState is the lifecycle state of an organization aggregate.
type OrgState int32

const (
	OrgStateUnspecified OrgState = iota
	OrgStateActive
	OrgStateInactive
	OrgStateRemoved
)

// Exists reports whether the state denotes a live organization.
func (s OrgState) Exists() bool {
	return s == OrgStateActive || s == OrgStateInactive
}

// OrgDomainState is the verification state of a domain on an organization.
type OrgDomainState int32

const (
	OrgDomainStateUnspecified OrgDomainState = iota
	OrgDomainStateActive
	OrgDomainStateRemoved
)

// NormalizeDomain lowercases and trims a DNS name for comparison and
// uniqueness claims.
func NormalizeDomain(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateDomain checks the rough shape of a DNS name; full RFC validation
// is left to the registrar, this guards against obviously broken input.
func ValidateDomain(name string) error {
	name = NormalizeDomain(name)
	if name == "" {
		return errs.NewInvalidArgument(nil, "DOMAIN-Yd2ca", "domain is empty")
	}
	if len(name) > 253 {
		return errs.NewInvalidArgument(nil, "DOMAIN-eVn77", "domain exceeds 253 characters")
	}
	if strings.Contains(name, " ") || !strings.Contains(name, ".") {
		return errs.NewInvalidArgument(nil, "DOMAIN-areQ2", "domain %q is malformed", name)
	}
	return nil
}
