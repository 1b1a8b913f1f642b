package goVerify

import (
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/MrEthical07/goVerify/jwt"
	"github.com/MrEthical07/goVerify/passkey"
	"github.com/MrEthical07/goVerify/password"
	"github.com/MrEthical07/goVerify/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used once.
//
//	engine, err := goVerify.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserStore(users).
//		WithAdminStore(admins).
//		WithAuditSink(sink).
//		Build()
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userStore  CredentialStore
	adminStore CredentialStore
	auditSink  AuditSink

	passkeys passkeyCeremonies

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, pending logins and session
// revocation.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserStore(store CredentialStore) *Builder {
	b.userStore = store
	return b
}

func (b *Builder) WithAdminStore(store CredentialStore) *Builder {
	b.adminStore = store
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withPasskeyCeremonies(p passkeyCeremonies) *Builder {
	b.passkeys = p
	return b
}

func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userStore == nil && b.adminStore == nil {
		return nil, errors.New("at least one credential store required")
	}

	engine := &Engine{
		config:  cfg,
		metrics: NewMetrics(cfg.Metrics),
		totp:    newTOTPManager(cfg.TOTP),
		now:     time.Now,
	}

	if cfg.Audit.Enabled {
		engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:     true,
			BufferSize:  cfg.Audit.BufferSize,
			DropIfFull:  cfg.Audit.DropIfFull,
			SinkTimeout: cfg.Audit.SinkTimeout,
		}, b.auditSink)
	}

	pv, err := password.New(cfg.Password.VerifierConfig())
	if err != nil {
		return nil, err
	}
	engine.password = pv

	dummy, err := newDummyHash(pv)
	if err != nil {
		return nil, fmt.Errorf("dummy password hash: %w", err)
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           func() time.Time { return engine.now() },
	})
	if err != nil {
		return nil, err
	}
	engine.jwt = jm

	switch {
	case b.passkeys != nil:
		engine.passkeys = b.passkeys
	case cfg.Passkey.Enabled:
		pm, err := passkey.NewManager(passkey.Config{
			RPID:             cfg.Passkey.RPID,
			RPDisplayName:    cfg.Passkey.RPDisplayName,
			RPOrigins:        cfg.Passkey.RPOrigins,
			Timeout:          cfg.Passkey.ChallengeTTL,
			UserVerification: cfg.Passkey.UserVerification,
			ResidentKey:      cfg.Passkey.ResidentKey,
		})
		if err != nil {
			return nil, err
		}
		engine.passkeys = pm
	}

	engine.users = newRealm(engine, KindUser, b.userStore, b.redis)
	engine.admins = newRealm(engine, KindAdmin, b.adminStore, b.redis)

	b.built = true

	return engine, nil
}

func newRealm(e *Engine, kind PrincipalKind, store CredentialStore, rdb redis.UniversalClient) *Realm {
	prefix := e.config.Session.RedisPrefix + ":" + string(kind)
	r := &Realm{
		engine:     e,
		kind:       kind,
		store:      store,
		sessions:   session.NewStore(rdb, prefix+":sess"),
		challenges: stores.NewChallengeStore(rdb, prefix+":chal"),
		pending:    stores.NewPendingLoginStore(rdb, prefix+":mfa"),
	}
	r.deps = r.buildDeps()
	return r
}

func newDummyHash(pv *password.Verifier) (string, error) {
	secret, err := newRandomToken()
	if err != nil {
		return "", err
	}
	return pv.Hash(secret[:32])
}
