package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	applog "taskcal/internal/log"
)

// ProviderConfig describes one OpenAI-compatible chat model.
type ProviderConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	// Timeout bounds a single call; zero means no bound.
	Timeout time.Duration
}

// Provider is one chat model.
type Provider struct {
	name    string
	model   llms.Model
	temp    float64
	timeout time.Duration
}

// NewOpenAI builds a provider backed by langchaingo's OpenAI client.
func NewOpenAI(cfg ProviderConfig) (*Provider, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", cfg.Model, err)
	}
	return NewProvider(cfg.Model, m, cfg.Temperature, cfg.Timeout), nil
}

// NewProvider wraps any langchaingo model.
func NewProvider(name string, m llms.Model, temperature float64, timeout time.Duration) *Provider {
	return &Provider{name: name, model: m, temp: temperature, timeout: timeout}
}

func (p *Provider) Name() string { return p.name }

// Complete sends one system + user exchange and returns the first choice.
func (p *Provider) Complete(ctx context.Context, system, user string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := p.model.GenerateContent(ctx, msgs, llms.WithTemperature(p.temp))
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Content, nil
}

// Policy is the bounded retry applied to every provider in a chain.
type Policy struct {
	Attempts uint64
	Base     time.Duration
	// Max caps the total time spent backing off for one provider.
	Max time.Duration
}

// DefaultPolicy retries three times with 1s, 2s, 4s backoff.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, Base: time.Second, Max: 30 * time.Second}
}

func (p Policy) backoff() retry.Backoff {
	b := retry.NewExponential(max(p.Base, time.Millisecond))
	if p.Max > 0 {
		b = retry.WithMaxDuration(p.Max, b)
	}
	// Attempts counts calls, WithMaxRetries counts retries after the first.
	retries := uint64(0)
	if p.Attempts > 1 {
		retries = p.Attempts - 1
	}
	return retry.WithMaxRetries(retries, b)
}

// Invoke calls c under the policy. Context cancellation is not retried.
func (p Policy) Invoke(ctx context.Context, c Completer, system, user string) (string, error) {
	var out string
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		text, err := c.Complete(ctx, system, user)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		out = text
		return nil
	})
	return out, err
}

// NamedCompleter is a Completer that can be identified in logs.
type NamedCompleter interface {
	Completer
	Name() string
}

// Chain tries providers in order, each under the shared policy, and
// returns the first success.
type Chain struct {
	Providers []NamedCompleter
	Policy    Policy
}

func (c *Chain) Complete(ctx context.Context, system, user string) (string, error) {
	if len(c.Providers) == 0 {
		return "", errors.New("no providers configured")
	}
	var errs []error
	for i, p := range c.Providers {
		text, err := c.Policy.Invoke(ctx, p, system, user)
		if err == nil {
			if i > 0 {
				applog.Info("extraction served by fallback provider", "provider", p.Name())
			}
			return text, nil
		}
		applog.Error("provider exhausted retries", err, "provider", p.Name())
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}
