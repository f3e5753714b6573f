package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/guardrail"
	"github.com/aretw0/guardrail/internal/config"
	"github.com/aretw0/guardrail/internal/runtime"
	"github.com/aretw0/guardrail/pkg/adapters/intent"
	"github.com/aretw0/guardrail/pkg/adapters/process"
	"github.com/aretw0/guardrail/pkg/adapters/webhook"
	"github.com/aretw0/guardrail/pkg/domain"
	"github.com/aretw0/guardrail/pkg/observability"
	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/go-resty/resty/v2"
)

// DefaultActionsFile is looked up in the sources directory when no
// actions manifest is configured.
const DefaultActionsFile = "actions.yaml"

// BuildEngine creates an engine from the resolved configuration, with the
// configured intent matcher, the action catalog and logging hooks. Extra
// hooks (e.g. metrics) are merged after the logging ones.
func BuildEngine(cfg *config.Config, catalog *registry.Registry, logger *slog.Logger, hooks ...domain.LifecycleHooks) (*guardrail.Engine, error) {
	all := observability.LogHooks(logger)
	for _, h := range hooks {
		all = all.Merge(h)
	}

	opts := []guardrail.Option{
		guardrail.WithLogger(logger),
		guardrail.WithLifecycleHooks(all),
		guardrail.WithConfig(runtime.Config{
			MaxEventsPerTurn:    cfg.Limits.MaxEventsPerTurn,
			MaxStepsPerHead:     cfg.Limits.MaxStepsPerHead,
			MinIntentConfidence: cfg.Intent.MinConfidence,
		}),
	}
	if catalog != nil {
		opts = append(opts, guardrail.WithActionCatalog(catalog))
	}

	matcher, err := matcherOption(cfg.Intent)
	if err != nil {
		return nil, err
	}
	if matcher != nil {
		opts = append(opts, matcher)
	}

	engine, err := guardrail.New(cfg.Sources, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	return engine, nil
}

// matcherOption maps IntentConfig onto an engine option. The exact matcher
// is the interpreter's built-in comparison, so it needs no option.
func matcherOption(cfg config.IntentConfig) (guardrail.Option, error) {
	switch cfg.Matcher {
	case config.MatcherExact:
		return nil, nil
	case config.MatcherSamples:
		return guardrail.WithSampleMatching(cfg.Threshold), nil
	case config.MatcherRemote:
		m, err := intent.NewRemoteMatcher(intent.RemoteConfig{URL: cfg.URL, Timeout: cfg.Timeout})
		if err != nil {
			return nil, err
		}
		return guardrail.WithIntentMatcher(m), nil
	default:
		return nil, fmt.Errorf("unknown intent matcher %q", cfg.Matcher)
	}
}

// BuildRegistry loads the action manifest and builds every action in it.
// An explicit path must exist; the default one is optional, and without it
// the registry is empty.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry()

	path := cfg.Actions
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.Sources, DefaultActionsFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return reg, nil
		}
		return nil, fmt.Errorf("read action manifest: %w", err)
	}
	manifest, err := registry.ParseManifest(data)
	if err != nil {
		return nil, err
	}

	procs := process.NewRunner(process.WithBaseDir(filepath.Dir(path)))
	factories := map[string]registry.Factory{
		process.Kind: process.Factory(procs),
		webhook.Kind: webhook.Factory(resty.New()),
	}
	if err := reg.Build(manifest, factories); err != nil {
		return nil, err
	}

	logger.Debug("Action catalog loaded", "path", path, "actions", len(manifest.Actions))
	return reg, nil
}
