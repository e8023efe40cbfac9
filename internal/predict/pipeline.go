package predict

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/croplens/croplens/internal/cache"
	"github.com/croplens/croplens/internal/imageref"
	"github.com/croplens/croplens/internal/provider"
	"github.com/croplens/croplens/internal/selector"
)

// invoker is the slice of the provider client the pipeline needs.
type invoker interface {
	Invoke(ctx context.Context, img imageref.Image, spec provider.Spec, useCache bool) provider.Result
}

// Config holds pipeline wiring.
type Config struct {
	Rice   provider.Spec
	Wheat  provider.Spec
	Policy selector.Policy
	// ImageTimeout bounds the whole fan-out/assemble sequence for one
	// image. 0 disables the bound.
	ImageTimeout time.Duration
	// MaxImageDim downscales oversized uploads before dispatch. 0 disables.
	MaxImageDim int
	// CacheEnabled is the default; callers override it per request.
	CacheEnabled bool
	CacheTTL     time.Duration
	CacheSize    int
}

// Options tunes one prediction request.
type Options struct {
	// UseCache enables result memoization and is forwarded to the hosted
	// workflows' own caching.
	UseCache bool
}

// Pipeline drives the single-image flow: two-way concurrent fan-out to the
// workflows, normalization, selection and assembly, optionally through the
// result cache. Safe for concurrent use; the cache is its only shared state.
type Pipeline struct {
	client        invoker
	cfg           Config
	cache         *cache.Cache[*Result]
	policyVersion string
}

// New creates a pipeline around an explicitly constructed provider client.
func New(client invoker, cfg Config) *Pipeline {
	p := &Pipeline{
		client:        client,
		cfg:           cfg,
		policyVersion: selector.Version(cfg.Policy, cfg.Rice.WorkflowID, cfg.Wheat.WorkflowID),
	}
	if cfg.CacheEnabled {
		p.cache = cache.New[*Result](cfg.CacheSize, cfg.CacheTTL)
	}
	return p
}

// Policy returns the active selection policy.
func (p *Pipeline) Policy() selector.Policy { return p.cfg.Policy }

// Predict runs the full single-image pipeline and returns the canonical
// prediction. Per-image errors are ValidationError, AggregateError or a
// context error; a single failed workflow is not an error (see
// Metadata.PartialFailure).
func (p *Pipeline) Predict(ctx context.Context, img imageref.Image, opts Options) (*Result, error) {
	img, err := img.Downscaled(p.cfg.MaxImageDim)
	if err != nil {
		return nil, err
	}

	if p.cache == nil || !opts.UseCache {
		return p.compute(ctx, img, opts)
	}

	key := img.Fingerprint() + "|" + p.policyVersion
	res, hit, err := p.cache.GetOrCompute(key, func() (*Result, error) {
		return p.compute(ctx, img, opts)
	})
	if err != nil {
		return nil, err
	}
	if hit {
		// Shallow copy so the cached entry itself stays untouched.
		shared := *res
		shared.Metadata.CacheHit = true
		return &shared, nil
	}
	return res, nil
}

// compute performs the uncached fan-out/assemble sequence.
func (p *Pipeline) compute(ctx context.Context, img imageref.Image, opts Options) (*Result, error) {
	start := time.Now()

	if p.cfg.ImageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ImageTimeout)
		defer cancel()
	}

	// Both workflow calls run concurrently; total latency is bounded by the
	// slower of the two, and each call's failure stays inside its Result.
	var riceRes, wheatRes provider.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		riceRes = p.client.Invoke(gctx, img, p.cfg.Rice, opts.UseCache)
		return nil
	})
	g.Go(func() error {
		wheatRes = p.client.Invoke(gctx, img, p.cfg.Wheat, opts.UseCache)
		return nil
	})
	_ = g.Wait()

	res, err := Assemble(riceRes, wheatRes, p.cfg.Policy)
	if err != nil {
		return nil, err
	}

	res.Metadata.ProcessingTimeMs = time.Since(start).Milliseconds()
	switch res.ChosenModel {
	case selector.ModelRice:
		res.Metadata.WorkflowID = p.cfg.Rice.WorkflowID
	case selector.ModelWheat:
		res.Metadata.WorkflowID = p.cfg.Wheat.WorkflowID
	}
	if w, h, ok := img.Dimensions(); ok {
		res.Metadata.ImageWidth = w
		res.Metadata.ImageHeight = h
	}

	slog.Info("prediction completed",
		"source", img.Source(),
		"chosen_model", res.ChosenModel,
		"confidence", res.Confidence,
		"rice_confidence", res.Metadata.RiceConfidence,
		"wheat_confidence", res.Metadata.WheatConfidence,
		"partial_failure", res.Metadata.PartialFailure,
		"duration_ms", res.Metadata.ProcessingTimeMs)
	return res, nil
}
