package credlock

import (
	"strings"
	"testing"
	"time"
)

func fullBuilder(store *memStore) *Builder {
	return New().
		WithUserStore(store).
		WithSessionStore(store).
		WithResetSessionStore(store).
		WithVerificationStore(store).
		WithSecretKey(testSecretKey)
}

func TestBuildRequiresStores(t *testing.T) {
	store := newMemStore()

	cases := []struct {
		name string
		b    *Builder
		want string
	}{
		{
			"no user store",
			New().
				WithSessionStore(store).
				WithResetSessionStore(store).
				WithVerificationStore(store).
				WithSecretKey(testSecretKey),
			"user store",
		},
		{
			"no session store",
			New().
				WithUserStore(store).
				WithResetSessionStore(store).
				WithVerificationStore(store).
				WithSecretKey(testSecretKey),
			"session store",
		},
		{
			"no reset session store",
			New().
				WithUserStore(store).
				WithSessionStore(store).
				WithVerificationStore(store).
				WithSecretKey(testSecretKey),
			"reset session store",
		},
		{
			"no verification store",
			New().
				WithUserStore(store).
				WithSessionStore(store).
				WithResetSessionStore(store).
				WithSecretKey(testSecretKey),
			"verification store",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestBuildRequiresSecretKey(t *testing.T) {
	store := newMemStore()

	b := New().
		WithUserStore(store).
		WithSessionStore(store).
		WithResetSessionStore(store).
		WithVerificationStore(store)
	if _, err := b.Build(); err == nil {
		t.Fatal("expected an error without a secret key")
	}

	short := fullBuilder(store).WithSecretKey([]byte("too short"))
	if _, err := short.Build(); err == nil {
		t.Fatal("expected an error for a short key")
	}
}

func TestBuildIsSingleUse(t *testing.T) {
	b := fullBuilder(newMemStore())

	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("a second Build must fail")
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero session lifetime", func(cfg *Config) { cfg.Session.Lifetime = 0 }},
		{"renewal beyond lifetime", func(cfg *Config) {
			cfg.Session.RenewalWindow = cfg.Session.Lifetime + time.Hour
		}},
		{"zero reset TTL", func(cfg *Config) { cfg.PasswordReset.SessionTTL = 0 }},
		{"zero bucket capacity", func(cfg *Config) { cfg.RateLimit.Global.Capacity = 0 }},
		{"zero refill interval", func(cfg *Config) { cfg.RateLimit.LoginIP.RefillInterval = 0 }},
		{"zero argon2 memory", func(cfg *Config) { cfg.Password.Memory = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := fullBuilder(newMemStore()).WithConfig(cfg).Build()
			if err == nil {
				t.Fatal("expected a config validation error")
			}
		})
	}
}

func TestWithAuditSinkEnablesAudit(t *testing.T) {
	sink := NewChannelSink(8)
	e, err := fullBuilder(newMemStore()).WithAuditSink(sink).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	if e.audit == nil {
		t.Fatal("an explicit sink must enable the dispatcher")
	}
}

func TestBuildDefaults(t *testing.T) {
	e, err := fullBuilder(newMemStore()).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	if e.mailer == nil {
		t.Fatal("a default mailer must be wired")
	}
	if e.logger == nil {
		t.Fatal("a default logger must be wired")
	}
	if e.audit != nil {
		t.Fatal("audit stays off unless configured")
	}
	if !e.metrics.Enabled() {
		t.Fatal("metrics default to enabled")
	}
}
