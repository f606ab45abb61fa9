package page

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/unifee/internal/assets"
	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
)

// fakePipeline returns canned output and tracks concurrency.
type fakePipeline struct {
	scriptErr error
	styleErr  error
	imageErr  error
	delay     time.Duration

	// imageBarrier, when set, makes every image compile wait until this
	// many image compiles are in flight at once.
	imageBarrier int

	mu          sync.Mutex
	imageWaiter *sync.Cond
	imagesIn    int

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

var _ assets.Pipeline = (*fakePipeline)(nil)

func (f *fakePipeline) enter() func() {
	f.calls.Add(1)
	n := f.active.Add(1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() { f.active.Add(-1) }
}

func (f *fakePipeline) CompileScript(_ context.Context, path string) (string, error) {
	defer f.enter()()
	if f.scriptErr != nil {
		return "", f.scriptErr
	}
	return "console.log(" + strconvQuote(filepath.Base(path)) + ")", nil
}

func (f *fakePipeline) CompileStyle(_ context.Context, path string) (string, error) {
	defer f.enter()()
	if f.styleErr != nil {
		return "", f.styleErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", uerrors.NewAssetNotFound(path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *fakePipeline) CompileImage(ctx context.Context, path string) (string, error) {
	defer f.enter()()
	if f.imageErr != nil {
		return "", f.imageErr
	}
	if f.imageBarrier > 0 {
		if err := f.waitForImages(ctx); err != nil {
			return "", err
		}
	}
	return assets.DataURI("image/png", []byte(filepath.Base(path))), nil
}

func (f *fakePipeline) waitForImages(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.imageWaiter == nil {
		f.imageWaiter = sync.NewCond(&f.mu)
	}
	f.imagesIn++
	f.imageWaiter.Broadcast()

	deadline := time.AfterFunc(2*time.Second, func() {
		f.mu.Lock()
		f.imageWaiter.Broadcast()
		f.mu.Unlock()
	})
	defer deadline.Stop()

	start := time.Now()
	for f.imagesIn < f.imageBarrier {
		if time.Since(start) >= 2*time.Second {
			return uerrors.NewInternalError("images were not compiled concurrently", nil)
		}
		f.imageWaiter.Wait()
	}
	return ctx.Err()
}

func strconvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// syncBuffer guards a bytes.Buffer shared by concurrent log writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func jsonLogger(buf *syncBuffer) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelDebug, Format: "json", Output: buf})
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeUncompressedPNG writes a w*h flat PNG without compression and
// returns its size.
func writeUncompressedPNG(t *testing.T, path string, w, h int) int {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	require.NoError(t, enc.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return buf.Len()
}

// fakePackageManager puts an executable called name on PATH running body.
func fakePackageManager(t *testing.T, name, body string) {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func parseHTML(t *testing.T, content []byte) *html.Node {
	t.Helper()
	doc, err := html.Parse(bytes.NewReader(content))
	require.NoError(t, err)
	return doc
}

func elements(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}
