package process

import (
	"fmt"
	"time"

	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/mitchellh/mapstructure"
)

// Kind is the manifest kind handled by Factory.
const Kind = "process"

// ProcessConfig is the `config` block of a process action in actions.yaml.
//
//	actions:
//	  - name: lookup_order
//	    kind: process
//	    config:
//	      command: ./scripts/lookup.sh
//	      args: ["--json"]
//	      env: {REGION: eu}
type ProcessConfig struct {
	Command     string            `mapstructure:"command"`
	Args        []string          `mapstructure:"args"`
	Environment map[string]string `mapstructure:"env"`
	Dir         string            `mapstructure:"dir"`
}

// Factory returns a registry.Factory that registers each process action on
// r and dispatches to it. r may be shared across factories.
func Factory(r *Runner) registry.Factory {
	return func(spec registry.Spec) (registry.ActionFunc, error) {
		var cfg ProcessConfig
		if err := mapstructure.Decode(spec.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid process config: %w", err)
		}
		if cfg.Command == "" {
			return nil, fmt.Errorf("process action needs a command")
		}
		r.RegisterProcess(spec.Name, RegisteredProcess{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     cfg.Environment,
			Dir:     cfg.Dir,
		})
		return r.Action(spec.Name), nil
	}
}

// DefaultGracePeriod is how long a cancelled process may take to exit after
// it was interrupted before it is killed.
const DefaultGracePeriod = 5 * time.Second
