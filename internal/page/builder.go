// Package page builds one HTML page into a self-contained document and
// keeps it fresh while its directory changes.
package page

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/tdewolff/minify/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/unifee/internal/assets"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
	"github.com/conneroisu/unifee/internal/metrics"
	"github.com/conneroisu/unifee/internal/project"
	"github.com/conneroisu/unifee/internal/reload"
)

const tracerName = "github.com/conneroisu/unifee/internal/page"

// State is the lifecycle stage of a Builder.
type State int32

const (
	StateIdle State = iota
	StateBuilding
	StateBuilt
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is one published build of a page. Results are immutable once
// published.
type Result struct {
	HTML     []byte
	BuiltAt  time.Time
	Duration time.Duration
	Hash     uint64
	// Failed marks an error page published in place of a real build.
	Failed bool
}

// ETag returns a strong entity tag derived from the content hash.
func (r *Result) ETag() string {
	return `"` + strconv.FormatUint(r.Hash, 16) + `"`
}

func newResult(content []byte, start time.Time, failed bool) *Result {
	return &Result{
		HTML:     content,
		BuiltAt:  time.Now(),
		Duration: time.Since(start),
		Hash:     xxhash.Sum64(content),
		Failed:   failed,
	}
}

// Options configures a Builder.
type Options struct {
	// Source is the HTML file to build.
	Source string
	// OutputDir receives the built file when Serve is false.
	OutputDir string
	// Serve keeps results in memory and injects the reload snippet.
	Serve bool

	Pipeline assets.Pipeline
	Resolver *project.Resolver
	Runner   *project.Runner
	Bus      *reload.Bus

	Logger         logging.Logger
	Metrics        *metrics.Recorder
	TracerProvider trace.TracerProvider

	// SkipDirs are directory names never watched.
	SkipDirs []string
	// IgnorePaths are files whose changes never trigger a rebuild, such as
	// the outputs of other pages.
	IgnorePaths []string
	// ProtectedPaths are files the builder must never write to.
	ProtectedPaths []string
}

// Builder owns the build result of one page.
type Builder struct {
	id        string
	source    string
	dir       string
	name      string
	outputDir string
	serve     bool

	pipeline assets.Pipeline
	resolver *project.Resolver
	runner   *project.Runner
	bus      *reload.Bus
	logger   logging.Logger
	metrics  *metrics.Recorder
	tracer   trace.Tracer
	minifier *minify.M

	skipDirs    []string
	ignorePaths []string
	protected   []string

	result atomic.Pointer[Result]
	state  atomic.Int32

	// buildMu serializes builds of this page.
	buildMu sync.Mutex

	watchMu  sync.Mutex
	watching bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Builder for opts.Source. No build is started.
func New(opts Options) (*Builder, error) {
	if opts.Source == "" {
		return nil, uerrors.NewConfigError("page source is required")
	}
	source, err := filepath.Abs(opts.Source)
	if err != nil {
		return nil, uerrors.NewInternalError("resolving page source", err)
	}
	if opts.Pipeline == nil {
		return nil, uerrors.NewConfigError("asset pipeline is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = project.NewResolver(logger)
	}
	runner := opts.Runner
	if runner == nil {
		runner = project.NewRunner(project.RunnerOptions{Logger: logger, Metrics: opts.Metrics})
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if outputDir, err = filepath.Abs(outputDir); err != nil {
		return nil, uerrors.NewInternalError("resolving output directory", err)
	}

	name := filepath.Base(source)
	b := &Builder{
		id:        uuid.NewString(),
		source:    source,
		dir:       filepath.Dir(source),
		name:      name,
		outputDir: outputDir,
		serve:     opts.Serve,
		pipeline:  opts.Pipeline,
		resolver:  resolver,
		runner:    runner,
		bus:       opts.Bus,
		logger:    logger.WithComponent("page").With("page", name),
		metrics:   opts.Metrics,
		tracer:    tp.Tracer(tracerName),
		minifier:  newMinifier(),
		skipDirs:  opts.SkipDirs,
	}

	b.protected = cleanAll(append([]string{source}, opts.ProtectedPaths...))
	b.ignorePaths = cleanAll(opts.IgnorePaths)
	if !b.serve {
		b.ignorePaths = append(b.ignorePaths, b.OutputPath())
	}

	return b, nil
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

// ID returns the builder's unique id, used in its reload topic.
func (b *Builder) ID() string { return b.id }

// Name returns the source file's base name.
func (b *Builder) Name() string { return b.name }

// Source returns the absolute source path.
func (b *Builder) Source() string { return b.source }

// OutputPath returns where the page is written outside serving mode.
func (b *Builder) OutputPath() string { return filepath.Join(b.outputDir, b.name) }

// State returns the current lifecycle state.
func (b *Builder) State() State { return State(b.state.Load()) }

// Result returns the last published result, or nil before the first one.
func (b *Builder) Result() *Result { return b.result.Load() }

// HTML returns the last published document, or nil.
func (b *Builder) HTML() []byte {
	if r := b.result.Load(); r != nil {
		return r.HTML
	}
	return nil
}

// Match reports whether the final segment of requestPath is this page's
// file name. "/" never matches.
func (b *Builder) Match(requestPath string) bool {
	segment := requestPath[strings.LastIndex(requestPath, "/")+1:]
	return segment == b.name
}

// Build compiles the page and publishes the result. On failure the previous
// result stays published; in serving mode a page without any result gets
// an error page instead.
func (b *Builder) Build(ctx context.Context) error {
	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	b.state.Store(int32(StateBuilding))
	ctx, span := b.tracer.Start(ctx, "page.Build", trace.WithAttributes(
		attribute.String("page.source", b.source),
		attribute.Bool("page.serve", b.serve),
	))
	defer span.End()

	perf := logging.StartOperation(b.logger, "build")
	start := time.Now()

	result, err := b.build(ctx, start)
	if err != nil {
		b.state.Store(int32(StateFailed))
		b.metrics.ObservePageBuild(b.name, time.Since(start), metrics.OutcomeFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		perf.EndWithError(ctx, err, b.source+" failed to build", "kind", string(uerrors.KindOf(err)))

		if b.serve && b.result.Load() == nil {
			b.publishErrorPage(ctx, start, err)
		}
		return err
	}

	b.result.Store(result)
	b.state.Store(int32(StateBuilt))
	b.metrics.ObservePageBuild(b.name, result.Duration, metrics.OutcomeSuccess)
	span.SetAttributes(attribute.Int("page.bytes", len(result.HTML)))
	perf.End(ctx, b.source+" built in "+result.Duration.Round(time.Millisecond).String(), "bytes", len(result.HTML))
	return nil
}

func (b *Builder) publishErrorPage(ctx context.Context, start time.Time, buildErr error) {
	var buf bytes.Buffer
	if err := ErrorPage(b.name, buildErr).Render(ctx, &buf); err != nil {
		b.logger.Error(ctx, err, "Failed to render error page")
		return
	}
	b.result.Store(newResult(buf.Bytes(), start, true))
}

// build runs every step of one build and returns the result without
// publishing it.
func (b *Builder) build(ctx context.Context, start time.Time) (*Result, error) {
	doc, err := b.parse()
	if err != nil {
		return nil, err
	}

	cmd := b.resolver.Resolve(ctx, b.dir)
	if cmd.HasOverrides() {
		if err := b.runner.RunAll(ctx, b.dir, cmd); err != nil {
			return nil, err
		}
	}

	images, err := b.inline(ctx, doc, cmd)
	if err != nil {
		return nil, err
	}

	if b.serve {
		injectSnippet(doc)
	}

	content, err := b.render(doc, images)
	if err != nil {
		return nil, err
	}

	if !b.serve {
		if _, err := writeOutput(b.outputDir, b.name, content, b.protected); err != nil {
			return nil, err
		}
	}

	return newResult(content, start, false), nil
}

func (b *Builder) parse() (*html.Node, error) {
	f, err := os.Open(b.source)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, uerrors.NewAssetNotFound(b.source, err)
		}
		return nil, uerrors.NewInternalError("opening page", err).WithOp(b.source)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, uerrors.NewCompileFailure(b.source, "parsing html", err)
	}
	return doc, nil
}

// inline replaces every local reference in doc. Scripts and stylesheets
// run in document order; images compile concurrently. Image sources are
// set to placeholders, returned as placeholder/data URI pairs for render
// to substitute after minification, since the HTML minifier re-encodes
// data URIs.
func (b *Builder) inline(ctx context.Context, doc *html.Node, cmd project.Command) ([]string, error) {
	var images []AssetReference

	for _, ref := range FindReferences(doc, b.dir) {
		if ref.IsExternal {
			continue
		}
		switch ref.Kind {
		case AssetScript:
			body, err := b.compile(ctx, ref, cmd.Script, b.pipeline.CompileScript)
			if err != nil {
				return nil, err
			}
			inlineScript(ref.node, escapeRawText(body, "script"))
		case AssetStylesheet:
			css, err := b.compile(ctx, ref, cmd.Style, b.pipeline.CompileStyle)
			if err != nil {
				return nil, err
			}
			inlineStylesheet(ref.node, escapeRawText(css, "style"))
		case AssetImage:
			images = append(images, ref)
		}
	}

	if len(images) == 0 {
		return nil, nil
	}

	uris := make([]string, len(images))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range images {
		g.Go(func() error {
			uri, err := b.pipeline.CompileImage(gctx, ref.ResolvedPath)
			if err != nil {
				return err
			}
			uris[i] = uri
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pairs := make([]string, 0, 2*len(images))
	for i, ref := range images {
		placeholder := imagePlaceholder(b.id, i)
		inlineImage(ref.node, placeholder)
		pairs = append(pairs, placeholder, uris[i])
	}
	return pairs, nil
}

// imagePlaceholder is a token no minifier rewrites. The trailing
// underscores keep one index from being a prefix of another.
func imagePlaceholder(id string, index int) string {
	return "__unifee_image_" + strings.ReplaceAll(id, "-", "") + "_" + strconv.Itoa(index) + "__"
}

var closingTags = map[string]*regexp.Regexp{
	"script": regexp.MustCompile(`(?i)</(script)`),
	"style":  regexp.MustCompile(`(?i)</(style)`),
}

// escapeRawText keeps inlined text from closing its raw text element
// early: "</script" becomes "<\/script", which JS and CSS read the same.
func escapeRawText(text, tag string) string {
	return closingTags[tag].ReplaceAllString(text, `<\/$1`)
}

// compile reads an externally built asset from disk, or runs the internal
// pipeline when the project does not override this asset class.
func (b *Builder) compile(ctx context.Context, ref AssetReference, source project.BuildSource, internal func(context.Context, string) (string, error)) (string, error) {
	if !source.IsExternal() {
		return internal(ctx, ref.ResolvedPath)
	}

	data, err := os.ReadFile(ref.ResolvedPath)
	if err != nil {
		return "", uerrors.NewAssetNotFound(ref.ResolvedPath, err).WithOp(source.Name)
	}
	return string(data), nil
}

// render serializes and minifies doc, then substitutes the image
// placeholders pairs holds.
func (b *Builder) render(doc *html.Node, pairs []string) ([]byte, error) {
	var raw bytes.Buffer
	if err := html.Render(&raw, doc); err != nil {
		return nil, uerrors.NewInternalError("rendering html", err).WithOp(b.source)
	}

	var out bytes.Buffer
	if err := b.minifier.Minify(htmlMediaType, &out, &raw); err != nil {
		return nil, uerrors.NewCompileFailure(b.source, "minifying html", err)
	}
	if len(pairs) == 0 {
		return out.Bytes(), nil
	}
	return []byte(strings.NewReplacer(pairs...).Replace(out.String())), nil
}
