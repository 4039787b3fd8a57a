// Package streamflow provides a top-level convenience entry point wiring the
// retry router and stream utilities together with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/streamflow"
//
//	c, err := streamflow.New(myProvider,
//		streamflow.WithConfigFile("models.yaml"))
//	res, err := c.ChatText(ctx, req)
//
// Callers who need finer control use llm/router and llm/streaming directly;
// this package only assembles them.
package streamflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/streamflow/internal/metrics"
	"github.com/BaSui01/streamflow/llm"
	"github.com/BaSui01/streamflow/llm/config"
	"github.com/BaSui01/streamflow/llm/observability"
	"github.com/BaSui01/streamflow/llm/router"
	"github.com/BaSui01/streamflow/llm/streaming"
	"github.com/BaSui01/streamflow/llm/tokenizer"
)

// Client bundles a configured retry router with streaming helpers.
type Client struct {
	router *router.RetryRouter
	logger *zap.Logger
}

type options struct {
	models     []config.NamedModel
	configPath string
	policy     *config.RetryPolicy
	logger     *zap.Logger
	collector  *metrics.Collector
	obs        *observability.Metrics
}

// Option configures the client created by [New].
type Option func(*options)

// WithModels sets the model list directly.
func WithModels(models []config.NamedModel) Option {
	return func(o *options) { o.models = models }
}

// WithModel is shorthand for a single-model list named "default".
func WithModel(modelID string) Option {
	return func(o *options) {
		o.models = []config.NamedModel{{
			Name:   config.DefaultModelName,
			Config: config.ModelConfig{Model: modelID},
		}}
	}
}

// WithConfigFile loads models and retry policy from a YAML file. Explicit
// WithModels/WithRetryPolicy options take precedence over file contents.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithRetryPolicy sets the retry policy shared by all models.
func WithRetryPolicy(p *config.RetryPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCollector attaches a prometheus metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithObservability attaches OpenTelemetry tracing and metrics.
func WithObservability(obs *observability.Metrics) Option {
	return func(o *options) { o.obs = obs }
}

// New creates a client around the given provider. At least one model must be
// supplied via WithModel, WithModels or WithConfigFile.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.configPath != "" {
		models, policy, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		if o.models == nil {
			o.models = models
		}
		if o.policy == nil {
			o.policy = policy
		}
	}

	routerOpts := []router.Option{router.WithLogger(o.logger)}
	if o.collector != nil {
		routerOpts = append(routerOpts, router.WithCollector(o.collector))
	}
	if o.obs != nil {
		routerOpts = append(routerOpts, router.WithObservability(o.obs))
	}

	r, err := router.New(provider, o.models, o.policy, routerOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{router: r, logger: o.logger}, nil
}

// Chat performs a non-streaming call with retry and failover.
func (c *Client) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.router.Call(ctx, req)
}

// ChatStream performs a streaming call with retry and failover on
// connection setup, returning the pull-side chunk sequence.
func (c *Client) ChatStream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
	return c.router.CallStream(ctx, req)
}

// ChatText streams the response and assembles the final text, backfilling
// token usage with a model-appropriate tokenizer when the provider omits it.
func (c *Client) ChatText(ctx context.Context, req *llm.ChatRequest) (*streaming.Result, error) {
	s, err := c.router.CallStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return streaming.AccumulateText(ctx, s,
		streaming.WithUsageEstimator(tokenizer.ForModel(req.Model)))
}

// Router exposes the underlying retry router for health inspection and
// policy updates.
func (c *Client) Router() *router.RetryRouter {
	return c.router
}
