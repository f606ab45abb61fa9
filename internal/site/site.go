// Package site drives a run: it discovers the pages of a target directory,
// wires one page builder per source to shared infrastructure, runs the
// initial builds and then watches and serves as configured.
package site

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/unifee/internal/assets"
	"github.com/conneroisu/unifee/internal/config"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
	"github.com/conneroisu/unifee/internal/page"
	"github.com/conneroisu/unifee/internal/project"
	"github.com/conneroisu/unifee/internal/reload"
	"github.com/conneroisu/unifee/internal/server"
)

// Options configures a Site.
type Options struct {
	Config         *config.Config
	Logger         logging.Logger
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider
	// Pipeline overrides the default asset compiler.
	Pipeline assets.Pipeline
}

// Site owns the builders of one target directory and the services they
// share.
type Site struct {
	cfg      *config.Config
	base     logging.Logger
	logger   logging.Logger
	metrics  *metrics.Recorder
	compiler *assets.Compiler
	bus      *reload.Bus
	builders []*page.Builder

	mu     sync.Mutex
	server *server.Server
}

// New discovers the pages of cfg.Target and constructs their builders.
// Nothing is built until Run or Build is called.
func New(opts Options) (*Site, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, uerrors.NewConfigError("configuration is required")
	}
	base := opts.Logger
	if base == nil {
		base = logging.NewNopLogger()
	}
	logger := base.WithComponent("site")

	target := cfg.Target
	if target == "" {
		target = "."
	}
	outputDir, err := cfg.OutputPath()
	if err != nil {
		return nil, uerrors.NewInternalError("resolving output directory", err)
	}

	sources, err := Discover(target, cfg.Build.Ignore, outputDir)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, uerrors.NewConfigError("no HTML pages found in " + target)
	}

	s := &Site{
		cfg:     cfg,
		base:    base,
		logger:  logger,
		metrics: opts.Metrics,
		bus:     reload.NewBus(),
	}

	pipeline := opts.Pipeline
	if pipeline == nil {
		s.compiler = assets.NewCompiler(assets.Options{
			Logger:         base,
			Metrics:        opts.Metrics,
			TracerProvider: opts.TracerProvider,
			JPEGQuality:    cfg.Build.JPEGQuality,
			DartSassBinary: cfg.Build.DartSass,
		})
		pipeline = s.compiler
	}
	resolver := project.NewResolver(base)
	runner := project.NewRunner(project.RunnerOptions{
		PackageManager: cfg.PackageManager,
		Timeout:        cfg.Build.CommandTimeout,
		Logger:         base,
		Metrics:        opts.Metrics,
	})

	// Written outputs must not trigger rebuilds of any page. Serving writes
	// nothing, and an output that is itself a source is never written.
	var outputs []string
	if !cfg.Serve {
		isSource := make(map[string]bool, len(sources))
		for _, src := range sources {
			isSource[src] = true
		}
		owners := make(map[string]string, len(sources))
		for _, src := range sources {
			out := filepath.Join(outputDir, filepath.Base(src))
			if other, ok := owners[out]; ok {
				logger.Warn(context.Background(), nil, "Pages share an output file, the last build wins",
					"output", out, "first", other, "second", src)
			}
			owners[out] = src
			if !isSource[out] {
				outputs = append(outputs, out)
			}
		}
	}

	for _, src := range sources {
		b, err := page.New(page.Options{
			Source:         src,
			OutputDir:      outputDir,
			Serve:          cfg.Serve,
			Pipeline:       pipeline,
			Resolver:       resolver,
			Runner:         runner,
			Bus:            s.bus,
			Logger:         base,
			Metrics:        opts.Metrics,
			TracerProvider: opts.TracerProvider,
			SkipDirs:       cfg.Build.Ignore,
			IgnorePaths:    outputs,
			ProtectedPaths: sources,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.builders = append(s.builders, b)
	}

	logger.Debug(context.Background(), "Discovered pages", "count", len(s.builders), "target", target)
	return s, nil
}

// Builders returns the page builders in discovery order.
func (s *Site) Builders() []*page.Builder {
	return s.builders
}

// Bus returns the reload bus shared by every builder.
func (s *Site) Bus() *reload.Bus {
	return s.bus
}

// Server returns the dev server once Run has started it.
func (s *Site) Server() *server.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server
}

// Build runs one build of every page concurrently. Each failure is logged;
// the returned error joins all of them.
func (s *Site) Build(ctx context.Context) error {
	perf := logging.StartOperation(s.logger, "site build")
	collector := uerrors.NewCollector()

	var g errgroup.Group
	for _, b := range s.builders {
		g.Go(func() error {
			if err := b.Build(ctx); err != nil {
				s.logger.Error(ctx, err, "Build failed", "page", b.Source())
				collector.Add(b.Source(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := collector.Err(); err != nil {
		failed := len(collector.Errors())
		perf.EndWithError(ctx, err, strconv.Itoa(failed)+" of "+strconv.Itoa(len(s.builders))+" pages failed")
		return err
	}
	perf.End(ctx, "Built "+strconv.Itoa(len(s.builders))+" pages")
	return nil
}

// Run performs the initial builds, then watches and serves as configured
// until ctx is done. Outside serving mode an initial build failure is
// returned before anything is watched. While serving, failed pages stay
// visible as error pages and never stop the server.
func (s *Site) Run(ctx context.Context) error {
	defer s.Close()

	buildErr := s.Build(ctx)
	if buildErr != nil && !s.cfg.Serve {
		return buildErr
	}

	if s.cfg.Watch {
		for _, b := range s.builders {
			if err := b.Watch(ctx); err != nil {
				return err
			}
		}
	}

	if s.cfg.Serve {
		pages := make([]server.Page, 0, len(s.builders))
		for _, b := range s.builders {
			pages = append(pages, b)
		}
		srv := server.New(pages, s.bus, server.Options{
			Addr:        s.cfg.Addr(),
			TLSCert:     s.cfg.Server.TLSCert,
			TLSKey:      s.cfg.Server.TLSKey,
			ReloadDelay: s.cfg.Server.ReloadDelay,
			Logger:      s.base,
			Metrics:     s.metrics,
		})
		s.mu.Lock()
		s.server = srv
		s.mu.Unlock()
		return srv.Start(ctx)
	}

	if s.cfg.Watch {
		<-ctx.Done()
	}
	return nil
}

// Close stops every watcher, closes the bus and releases the compiler.
func (s *Site) Close() {
	for _, b := range s.builders {
		b.Close()
	}
	s.bus.Close()
	if s.compiler != nil {
		if err := s.compiler.Close(); err != nil {
			s.logger.Debug(context.Background(), "Closing asset compiler", "error", err.Error())
		}
	}
}
