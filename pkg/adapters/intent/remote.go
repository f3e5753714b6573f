package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/guardrail/pkg/ports"
	"github.com/go-resty/resty/v2"
)

// RemoteConfig configures a RemoteMatcher.
type RemoteConfig struct {
	URL        string            `mapstructure:"url" yaml:"url"`
	Headers    map[string]string `mapstructure:"headers" yaml:"headers"`
	Timeout    time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int               `mapstructure:"max_retries" yaml:"max_retries"`
}

type classifyRequest struct {
	Utterance  string   `json:"utterance"`
	Candidates []string `json:"candidates"`
}

type classifyResponse struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// RemoteMatcher delegates classification to an HTTP service. It POSTs
// {"utterance","candidates"} and expects {"intent","confidence"}; an empty
// intent, or one outside the candidates, is a miss.
type RemoteMatcher struct {
	url    string
	client *resty.Client
}

// NewRemoteMatcher creates a RemoteMatcher.
func NewRemoteMatcher(cfg RemoteConfig) (*RemoteMatcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("intent: remote matcher needs a url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetHeaders(cfg.Headers).
		SetHeader("Content-Type", "application/json")
	return &RemoteMatcher{url: cfg.URL, client: client}, nil
}

// MatchIntent implements ports.IntentMatcher.
func (m *RemoteMatcher) MatchIntent(ctx context.Context, utterance string, candidates []string) (ports.IntentMatch, bool, error) {
	var out classifyResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(classifyRequest{Utterance: utterance, Candidates: candidates}).
		SetResult(&out).
		Post(m.url)
	if err != nil {
		return ports.IntentMatch{}, false, fmt.Errorf("intent: classify request failed: %w", err)
	}
	if resp.IsError() {
		return ports.IntentMatch{}, false, fmt.Errorf("intent: classifier returned %s", resp.Status())
	}
	if out.Intent == "" || !contains(candidates, out.Intent) {
		return ports.IntentMatch{}, false, nil
	}
	return ports.IntentMatch{Intent: out.Intent, Confidence: out.Confidence}, true, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
