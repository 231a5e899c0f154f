//go:build integration

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/papertrade/finance/internal/testing/containers"
)

func TestRedisSessions(t *testing.T) {
	ctx := context.Background()
	rs := NewRedisSessions(containers.Redis(ctx, t))

	t.Run("save lookup delete", func(t *testing.T) {
		err := rs.Save(ctx, &Session{Token: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if uid, err := rs.Lookup(ctx, "live"); err != nil || uid != "u1" {
			t.Fatalf("expected u1, got %q, %v", uid, err)
		}

		if err := rs.Delete(ctx, "live"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := rs.Lookup(ctx, "live"); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated after delete, got %v", err)
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		if _, err := rs.Lookup(ctx, "never-issued"); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("expires with ttl", func(t *testing.T) {
		err := rs.Save(ctx, &Session{Token: "short", UserID: "u2", ExpiresAt: time.Now().Add(time.Second)})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		time.Sleep(1500 * time.Millisecond)
		if _, err := rs.Lookup(ctx, "short"); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated after expiry, got %v", err)
		}
	})

	t.Run("already expired", func(t *testing.T) {
		err := rs.Save(ctx, &Session{Token: "old", UserID: "u3", ExpiresAt: time.Now().Add(-time.Second)})
		if err == nil {
			t.Error("expected save of an expired session to fail")
		}
	})

	t.Run("service round trip", func(t *testing.T) {
		svc, _ := newTestService(t)
		svc.sessions = rs

		acct, sess, err := svc.Register(ctx, "erin", "pw", "pw")
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if uid, err := svc.Authenticate(ctx, sess.Token); err != nil || uid != acct.UserID {
			t.Errorf("expected %s, got %q, %v", acct.UserID, uid, err)
		}
		if err := svc.Logout(ctx, sess.Token); err != nil {
			t.Fatalf("logout: %v", err)
		}
		if _, err := svc.Authenticate(ctx, sess.Token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("expected ErrUnauthenticated after logout, got %v", err)
		}
	})
}
