// Package admin implements C9: the peripheral four-letter/admin surface
// (snapshot stats, connection stats) and the casbin-gated administrative
// operations alongside it, adapted from the teacher's internal/auth and
// internal/server/http.go.
package admin

import (
	"github.com/casbin/casbin"
	v1 "github.com/mrshabel/raftkeeper/api/v1"
)

// Authorizer enforces casbin ACL rules the same way the teacher's
// internal/auth.Authorizer does, but returns a typed v1.Error instead of
// a grpc status (there is no grpc surface in this module).
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New returns an authorization enforcer instance where model points to the
// file containing casbin's authorization setup and policy points to the
// csv file containing the ACL table.
func New(model, policy string) *Authorizer {
	enforcer := casbin.NewEnforcer(model, policy)
	return &Authorizer{enforcer: enforcer}
}

// Authorize checks whether subject can perform action on object.
func (a *Authorizer) Authorize(subject, object, action string) error {
	if !a.enforcer.Enforce(subject, object, action) {
		return v1.NewError(v1.ErrNoAuth)
	}
	return nil
}
