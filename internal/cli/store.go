package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/guardrail/internal/adapters/file"
	"github.com/aretw0/guardrail/internal/config"
	"github.com/aretw0/guardrail/pkg/adapters/memory"
	"github.com/aretw0/guardrail/pkg/adapters/redis"
	"github.com/aretw0/guardrail/pkg/persistence/middleware"
	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/aretw0/guardrail/pkg/session"
)

// Persistence is the session store selected by StoreConfig together with
// the session options it implies (locker, transcript).
type Persistence struct {
	Store   ports.StateStore
	Options []session.Option
	close   func() error
}

// Close releases backend connections.
func (p *Persistence) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// BuildPersistence opens the configured backend and stacks the middleware
// on it, outermost first: cache, PII masking, encryption. Masking sees
// plaintext and the backend only ever sees ciphertext.
func BuildPersistence(cfg config.StoreConfig, logger *slog.Logger) (*Persistence, error) {
	p := &Persistence{}

	var base ports.StateStore
	switch cfg.Type {
	case config.StoreMemory:
		base = memory.NewStore()
		if cfg.Transcript {
			p.Options = append(p.Options, session.WithTranscript(memory.NewTranscript()))
		}
	case config.StoreFile:
		base = file.New(filepath.Join(cfg.Dir, "sessions"))
		if cfg.Transcript {
			p.Options = append(p.Options, session.WithTranscript(file.NewTranscript(filepath.Join(cfg.Dir, "transcripts"))))
		}
	case config.StoreRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		base = store
		p.close = store.Close
		if cfg.Redis.Lock {
			p.Options = append(p.Options, session.WithLocker(redis.NewLocker(store.Client(), cfg.Redis.Prefix)))
		}
		if cfg.Transcript {
			p.Options = append(p.Options, session.WithTranscript(redis.NewTranscript(store.Client(), cfg.Redis.Prefix, cfg.Redis.TTL)))
		}
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}

	var mws []middleware.Middleware
	if cfg.CacheTTL > 0 {
		mws = append(mws, middleware.NewCacheMiddleware(cfg.CacheTTL))
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if len(cfg.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.PIIPatterns)
		if err != nil {
			return nil, err
		}
		mws = append(mws, pii)
	}
	if active != nil {
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		})
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}

	p.Store = middleware.Chain(base, mws...)
	logger.Debug("Session store ready", "type", cfg.Type, "middleware", len(mws), "transcript", cfg.Transcript)
	return p, nil
}

// NewSessionManager builds a session manager over p for engine.
func NewSessionManager(engine ports.Engine, p *Persistence, logger *slog.Logger, extra ...session.Option) *session.Manager {
	opts := append([]session.Option{session.WithLogger(logger)}, p.Options...)
	return session.NewManager(engine, p.Store, append(opts, extra...)...)
}
