package authz

import (
	"context"
	"errors"
	"testing"

	"botcast/internal/storage"
)

type staticSource struct {
	users []storage.AllowedUser
	err   error
}

func (s *staticSource) ListAllowedUsers(context.Context) ([]storage.AllowedUser, error) {
	return s.users, s.err
}

func TestResolverOpen(t *testing.T) {
	r := NewResolver(Open(), nil)
	if !r.Authorized(context.Background(), "anyone") {
		t.Fatalf("open policy rejected a username")
	}
	if !r.Authorized(context.Background(), "") {
		t.Fatalf("open policy rejected an empty username")
	}
}

func TestResolverStatic(t *testing.T) {
	r := NewResolver(Static([]string{"Alice", "bob"}), nil)

	cases := []struct {
		username string
		want     bool
	}{
		{"alice", true}, // case-insensitive
		{"ALICE", true},
		{"bob", true},
		{"eve", false},
		{"", false}, // empty username never matches
	}
	for _, c := range cases {
		if got := r.Authorized(context.Background(), c.username); got != c.want {
			t.Errorf("Authorized(%q) = %v, want %v", c.username, got, c.want)
		}
	}
}

func TestResolverDynamic(t *testing.T) {
	calls := 0
	r := NewResolver(Dynamic(func(context.Context) ([]string, error) {
		calls++
		return []string{"alice"}, nil
	}), nil)

	if !r.Authorized(context.Background(), "Alice") {
		t.Fatalf("dynamic policy rejected a resolved username")
	}
	if r.Authorized(context.Background(), "eve") {
		t.Fatalf("dynamic policy authorized an unresolved username")
	}
	if calls != 2 {
		t.Fatalf("resolver called %d times, want 2 (no caching)", calls)
	}
}

func TestResolverDynamicFailsClosed(t *testing.T) {
	r := NewResolver(Dynamic(func(context.Context) ([]string, error) {
		return nil, errors.New("backend down")
	}), nil)
	if r.Authorized(context.Background(), "alice") {
		t.Fatalf("resolver error must fail closed")
	}

	r = NewResolver(Policy{Kind: PolicyDynamic}, nil)
	if r.Authorized(context.Background(), "alice") {
		t.Fatalf("nil resolve func must fail closed")
	}
}

func TestResolverStore(t *testing.T) {
	src := &staticSource{users: []storage.AllowedUser{{Username: "Alice"}}}
	r := NewResolver(Store(), src)

	if !r.Authorized(context.Background(), "alice") {
		t.Fatalf("store policy rejected a stored username")
	}
	if r.Authorized(context.Background(), "eve") {
		t.Fatalf("store policy authorized a missing username")
	}
	if r.Authorized(context.Background(), "") {
		t.Fatalf("store policy authorized an empty username")
	}

	src.err = errors.New("db gone")
	if r.Authorized(context.Background(), "alice") {
		t.Fatalf("store read error must fail closed")
	}
}

func TestResolverUnknownKindFailsClosed(t *testing.T) {
	r := NewResolver(Policy{Kind: PolicyKind(99)}, nil)
	if r.Authorized(context.Background(), "alice") {
		t.Fatalf("unknown policy kind must fail closed")
	}
}
