package db

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pysugar/mailauth/internal/auth/provider"
	"github.com/pysugar/mailauth/internal/auth/token"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestAccountKey(t *testing.T) {
	if got := accountKey("abc"); got != "mailauth:account:abc" {
		t.Fatalf("accountKey = %q", got)
	}
}

func TestDecodeAccounts(t *testing.T) {
	acc := sampleAccount("a", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	acc.Provider = provider.Gmail
	raw, err := json.Marshal(acc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := decodeAccounts([]string{"a", "gone"}, []any{string(raw), nil})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected missing keys to be skipped, got %d accounts", len(got))
	}
	if got[0].ID != "a" || got[0].Provider != provider.Gmail || got[0].Tokens.RefreshToken != "refresh-a" {
		t.Fatalf("unexpected account: %+v", got[0])
	}
	if !got[0].Tokens.ExpiresAt.Equal(acc.Tokens.ExpiresAt) {
		t.Fatalf("expires_at = %v, want %v", got[0].Tokens.ExpiresAt, acc.Tokens.ExpiresAt)
	}

	if _, err := decodeAccounts([]string{"bad"}, []any{"{"}); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRedisStore_LoadEmpty(t *testing.T) {
	store, _ := newTestRedisStore(t)
	got, err := store.LoadAccounts(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no accounts, got %d", len(got))
	}
}

func TestRedisStore_SaveAndLoad(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, acc := range []token.Account{sampleAccount("b", created.Add(time.Minute)), sampleAccount("a", created)} {
		if err := store.SaveAccount(ctx, acc); err != nil {
			t.Fatalf("save %s: %v", acc.ID, err)
		}
	}
	if !mr.Exists("mailauth:account:a") {
		t.Fatal("expected account key to be written")
	}
	members, err := mr.Members(redisIndexKey)
	if err != nil || len(members) != 2 {
		t.Fatalf("index members = %v, err = %v", members, err)
	}

	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(got))
	}
	sort.Slice(got, func(i, j int) bool { return got[i].ID < got[j].ID })
	a := got[0]
	if a.ID != "a" || a.Email != "a@example.com" || a.Provider != provider.Outlook {
		t.Fatalf("unexpected identity: %+v", a)
	}
	if a.Tokens.AccessToken != "access-a" || a.Tokens.RefreshToken != "refresh-a" || a.Tokens.TokenType != "Bearer" {
		t.Fatalf("unexpected tokens: %+v", a.Tokens)
	}
	if !a.Tokens.ExpiresAt.Equal(created.Add(time.Hour)) || !a.CreatedAt.Equal(created) {
		t.Fatalf("unexpected times: expires_at=%v created_at=%v", a.Tokens.ExpiresAt, a.CreatedAt)
	}
	if len(a.Tokens.GrantedScopes) != 2 || a.Tokens.GrantedScopes[1] != "offline_access" {
		t.Fatalf("unexpected scopes: %v", a.Tokens.GrantedScopes)
	}
	if !a.Active || a.ReauthRequired || !a.LastRefreshedAt.IsZero() {
		t.Fatalf("unexpected state: %+v", a)
	}
}

func TestRedisStore_SaveOverwrites(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	acc := sampleAccount("a", created)
	if err := store.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("save: %v", err)
	}

	refreshedAt := created.Add(50 * time.Minute)
	acc.Tokens.AccessToken = "access-2"
	acc.LastRefreshedAt = refreshedAt
	acc.Active = false
	acc.ReauthRequired = true
	if err := store.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("save again: %v", err)
	}

	members, err := mr.Members(redisIndexKey)
	if err != nil || len(members) != 1 {
		t.Fatalf("index members = %v, err = %v", members, err)
	}
	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one account after overwrite, got %d", len(got))
	}
	a := got[0]
	if a.Tokens.AccessToken != "access-2" {
		t.Fatalf("access token not overwritten: %s", a.Tokens.AccessToken)
	}
	if !a.LastRefreshedAt.Equal(refreshedAt) {
		t.Fatalf("last_refreshed_at = %v, want %v", a.LastRefreshedAt, refreshedAt)
	}
	if a.Active || !a.ReauthRequired {
		t.Fatalf("unexpected flags: active=%v reauth=%v", a.Active, a.ReauthRequired)
	}
}

func TestRedisStore_SkipsVanishedKeys(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, id := range []string{"a", "b"} {
		if err := store.SaveAccount(ctx, sampleAccount(id, created)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	mr.Del("mailauth:account:b")

	got, err := store.LoadAccounts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only account a, got %+v", got)
	}
}

func TestRedisStore_BacksManager(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	reg, err := provider.NewRegistry(provider.Config{
		ID:                    provider.Gmail,
		Trust:                 provider.TrustCloud,
		ClientID:              "id",
		ClientSecret:          "secret",
		RedirectURI:           "http://localhost/cb",
		Scopes:                provider.DefaultScopes(provider.Gmail),
		AuthorizationEndpoint: "https://auth.example.com/authorize",
		TokenEndpoint:         "https://auth.example.com/token",
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	m, err := token.NewManager(ctx, reg, token.WithStore(store))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	tokens := token.TokenSet{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}
	kept, err := m.RegisterAccount(ctx, "user@gmail.com", provider.Gmail, tokens)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	dropped, err := m.RegisterAccount(ctx, "old@gmail.com", provider.Gmail, tokens)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.DeactivateAccount(ctx, dropped); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	restarted, err := token.NewManager(ctx, reg, token.WithStore(store))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	got, err := restarted.GetValidAccessToken(ctx, kept)
	if err != nil {
		t.Fatalf("get token after restart: %v", err)
	}
	if got != "at" {
		t.Fatalf("token = %q, want %q", got, "at")
	}
	if _, err := restarted.GetAccount(dropped); err == nil {
		t.Fatal("expected deactivated account to stay inactive after restart")
	}
	if s := restarted.AuthStatusSummary(); s.Total != 2 || s.Active != 1 || s.Inactive != 1 {
		t.Fatalf("unexpected summary after restart: %+v", s)
	}
}
