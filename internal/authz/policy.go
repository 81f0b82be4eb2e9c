package authz

import (
	"context"
	"strings"

	"botcast/internal/storage"
)

// PolicyKind selects how the allowlist is resolved.
type PolicyKind int

const (
	// PolicyOpen authorizes everyone, including senders with no username.
	PolicyOpen PolicyKind = iota
	// PolicyStatic authorizes a fixed set of usernames.
	PolicyStatic
	// PolicyDynamic asks a host-provided resolver for the current set on
	// every call. Results are never cached.
	PolicyDynamic
	// PolicyStore authorizes usernames present in the AllowedUser store.
	PolicyStore
)

// ResolveFunc returns the currently allowed usernames. It may return a
// different set on every call.
type ResolveFunc func(ctx context.Context) ([]string, error)

// Policy is the tagged allowlist variant. The zero value is PolicyOpen.
type Policy struct {
	Kind    PolicyKind
	Names   []string    // PolicyStatic
	Resolve ResolveFunc // PolicyDynamic
}

func Open() Policy                  { return Policy{Kind: PolicyOpen} }
func Static(names []string) Policy  { return Policy{Kind: PolicyStatic, Names: names} }
func Dynamic(fn ResolveFunc) Policy { return Policy{Kind: PolicyDynamic, Resolve: fn} }
func Store() Policy                 { return Policy{Kind: PolicyStore} }

// AllowedUserSource is the slice of the store the resolver reads.
type AllowedUserSource interface {
	ListAllowedUsers(ctx context.Context) ([]storage.AllowedUser, error)
}

// Resolver answers "may this username run gated commands?".
//
// It performs no writes; its only external effect is the read required by the
// dynamic or store policies.
type Resolver struct {
	policy Policy
	store  AllowedUserSource
}

func NewResolver(policy Policy, store AllowedUserSource) *Resolver {
	return &Resolver{policy: policy, store: store}
}

// Authorized applies the policy table:
//
//	open    -> always true (empty username included)
//	static  -> case-insensitive membership; empty username never authorized
//	dynamic -> resolver invoked per call, then membership; errors fail closed
//	store   -> membership against the AllowedUser store
//	unknown -> false (fail closed)
func (r *Resolver) Authorized(ctx context.Context, username string) bool {
	switch r.policy.Kind {
	case PolicyOpen:
		return true
	case PolicyStatic:
		return contains(r.policy.Names, username)
	case PolicyDynamic:
		if r.policy.Resolve == nil {
			return false
		}
		names, err := r.policy.Resolve(ctx)
		if err != nil {
			return false
		}
		return contains(names, username)
	case PolicyStore:
		if r.store == nil {
			return false
		}
		users, err := r.store.ListAllowedUsers(ctx)
		if err != nil {
			return false
		}
		for _, u := range users {
			if username != "" && strings.EqualFold(u.Username, username) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func contains(names []string, username string) bool {
	if username == "" {
		return false
	}
	for _, n := range names {
		if strings.EqualFold(n, username) {
			return true
		}
	}
	return false
}
