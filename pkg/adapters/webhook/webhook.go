// Package webhook implements actions that call HTTP endpoints. Each action
// is declared in actions.yaml with kind "http":
//
//	actions:
//	  - name: lookup_order
//	    kind: http
//	    timeout: 10s
//	    config:
//	      method: POST
//	      url: https://orders.internal/api/lookup
//	      headers: {Authorization: "Bearer ${ORDERS_TOKEN}"}
//	      max_retries: 2
//
// Params become the JSON request body (or the query string for GET and
// DELETE). A JSON response body is the action result; a non-2xx status
// fails the action.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aretw0/guardrail/pkg/registry"
	"github.com/go-resty/resty/v2"
	"github.com/mitchellh/mapstructure"
)

// Kind is the manifest kind handled by Factory.
const Kind = "http"

// Config is the `config` block of an http action.
type Config struct {
	Method      string            `mapstructure:"method"`
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	MaxRetries  int               `mapstructure:"max_retries"`
	RetryWaitMS int               `mapstructure:"retry_wait_ms"`
	Debug       bool              `mapstructure:"debug"`
}

// Output is the result of an http action when the response is not JSON.
type Output struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// Factory returns a registry.Factory for http actions. A nil client uses a
// fresh resty client per action.
func Factory(client *resty.Client) registry.Factory {
	return func(spec registry.Spec) (registry.ActionFunc, error) {
		var cfg Config
		if err := mapstructure.Decode(spec.Config, &cfg); err != nil {
			return nil, fmt.Errorf("invalid http config: %w", err)
		}
		return New(client, cfg)
	}
}

// New builds the action for cfg.
func New(client *resty.Client, cfg Config) (registry.ActionFunc, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http action needs a url")
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	switch cfg.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("unsupported http method %q", cfg.Method)
	}
	if client == nil {
		client = resty.New()
	}
	if cfg.MaxRetries > 0 {
		client = client.SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(time.Duration(cfg.RetryWaitMS) * time.Millisecond)
	}
	client = client.SetDebug(cfg.Debug)

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = os.ExpandEnv(v)
	}

	return func(ctx context.Context, params map[string]any) (any, error) {
		req := client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetHeader("Accept", "application/json")
		if cfg.Method == http.MethodGet || cfg.Method == http.MethodDelete {
			req.SetQueryParams(query(params))
		} else {
			req.SetHeader("Content-Type", "application/json").SetBody(params)
		}

		resp, err := req.Execute(cfg.Method, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("http request failed: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("http %s %s: %s: %s", cfg.Method, cfg.URL, resp.Status(), strings.TrimSpace(resp.String()))
		}

		body := resp.Body()
		var out any
		if len(body) > 0 && json.Unmarshal(body, &out) == nil {
			return out, nil
		}
		return Output{StatusCode: resp.StatusCode(), Body: string(body)}, nil
	}, nil
}

func query(params map[string]any) map[string]string {
	q := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			q[k] = val
		case nil:
			q[k] = ""
		default:
			b, _ := json.Marshal(val)
			q[k] = string(b)
		}
	}
	return q
}
