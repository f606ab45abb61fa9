// Package assets compiles the scripts, stylesheets and images referenced by
// a page into text that can be embedded in the page itself.
package assets

import (
	"context"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/unifee/internal/config"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
)

const tracerName = "github.com/conneroisu/unifee/internal/assets"

// Pipeline turns asset files into inlineable text.
type Pipeline interface {
	// CompileScript bundles the module graph rooted at path into one
	// minified IIFE.
	CompileScript(ctx context.Context, path string) (string, error)
	// CompileStyle compiles a CSS, SCSS or Sass file to minified CSS.
	CompileStyle(ctx context.Context, path string) (string, error)
	// CompileImage optimizes an image and returns it as a data URI.
	CompileImage(ctx context.Context, path string) (string, error)
}

// Kind names the asset class of a compilation.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindImage  Kind = "image"
)

var titleCaser = cases.Title(language.English)

// DisplayName returns the kind capitalized for human-facing messages.
func (k Kind) DisplayName() string {
	return titleCaser.String(string(k))
}

// Options configures a Compiler.
type Options struct {
	Logger         logging.Logger
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider
	// JPEGQuality is the re-encode quality for JPEG images (1-100).
	JPEGQuality int
	// DartSassBinary overrides the Dart Sass executable used for SCSS.
	DartSassBinary string
}

// Compiler is the default Pipeline. It is safe for concurrent use.
type Compiler struct {
	logger      logging.Logger
	metrics     *metrics.Recorder
	tracer      trace.Tracer
	jpegQuality int
	sassBinary  string

	sassMu     sync.Mutex
	transpiler *godartsass.Transpiler
}

var _ Pipeline = (*Compiler)(nil)

// NewCompiler creates a Compiler. The Dart Sass process is started on the
// first SCSS compilation.
func NewCompiler(opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = config.DefaultJPEGQuality
	}

	return &Compiler{
		logger:      logger.WithComponent("assets"),
		metrics:     opts.Metrics,
		tracer:      tp.Tracer(tracerName),
		jpegQuality: quality,
		sassBinary:  opts.DartSassBinary,
	}
}

// Close stops the Dart Sass process if one was started.
func (c *Compiler) Close() error {
	c.sassMu.Lock()
	defer c.sassMu.Unlock()
	if c.transpiler == nil {
		return nil
	}
	err := c.transpiler.Close()
	c.transpiler = nil
	return err
}

// observe wraps one compilation in a span and records its duration.
func (c *Compiler) observe(ctx context.Context, kind Kind, path string, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, span := c.tracer.Start(ctx, "assets.Compile"+kind.DisplayName(),
		trace.WithAttributes(
			attribute.String("asset.kind", string(kind)),
			attribute.String("asset.path", path),
		))
	defer span.End()

	start := time.Now()
	out, err := fn(ctx)
	c.metrics.ObserveAssetCompile(string(kind), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("asset.output_bytes", len(out)))
	return out, nil
}
