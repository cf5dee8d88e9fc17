package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/threadloom/threadloom-backend/internal/platform/apierr"
	"github.com/threadloom/threadloom-backend/internal/repos"
	"github.com/threadloom/threadloom-backend/internal/requestdata"
)

func newTestAuth(t *testing.T) AuthService {
	t.Helper()
	db := testDB(t)
	log := svcLog(t)
	return NewAuthService(db, log, repos.NewUserRepo(db, log), "test-secret", time.Hour)
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	as := newTestAuth(t)
	ctx := context.Background()

	user, token, err := as.RegisterUser(ctx, "Alice@Example.com", "hunter2hunter2", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Password == "hunter2hunter2" {
		t.Fatal("password stored in the clear")
	}
	if token == "" {
		t.Fatal("no token issued")
	}

	got, _, err := as.LoginUser(ctx, "alice@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("login returned wrong user: %v vs %v", got.ID, user.ID)
	}

	if _, _, err := as.LoginUser(ctx, "alice@example.com", "wrong-password"); apierr.As(err) == nil {
		t.Fatalf("bad password must be rejected: %v", err)
	}
	if _, _, err := as.RegisterUser(ctx, "alice@example.com", "hunter2hunter2", "Alice"); apierr.As(err) == nil {
		t.Fatalf("duplicate email must be rejected: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	as := newTestAuth(t)
	ctx := context.Background()

	if _, _, err := as.RegisterUser(ctx, "not-an-email", "hunter2hunter2", ""); apierr.As(err) == nil {
		t.Fatalf("invalid email: %v", err)
	}
	if _, _, err := as.RegisterUser(ctx, "bob@example.com", "short", ""); apierr.As(err) == nil {
		t.Fatalf("short password: %v", err)
	}
}

func TestTokenContextRoundTrip(t *testing.T) {
	as := newTestAuth(t)
	ctx := context.Background()

	user, token, err := as.RegisterUser(ctx, "carol@example.com", "hunter2hunter2", "Carol")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	authed, err := as.SetContextFromToken(ctx, token)
	if err != nil {
		t.Fatalf("set context: %v", err)
	}
	rd := requestdata.GetRequestData(authed)
	if rd == nil || rd.UserID != user.ID {
		t.Fatalf("request data: %+v", rd)
	}

	refreshed, err := as.RefreshToken(authed)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed == "" {
		t.Fatal("empty refreshed token")
	}

	if _, err := as.SetContextFromToken(ctx, "garbage.token.value"); apierr.As(err) == nil {
		t.Fatalf("garbage token must be rejected: %v", err)
	}
	if _, err := as.RefreshToken(ctx); apierr.As(err) == nil {
		t.Fatalf("refresh without identity must fail: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	as := newTestAuth(t)
	_, err := as.GetUser(context.Background(), uuid.New())
	ae := apierr.As(err)
	if ae == nil || ae.Code != apierr.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
