package assets

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bep/godartsass/v2"
	"github.com/evanw/esbuild/pkg/api"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// CompileStyle implements Pipeline. Plain CSS is bundled by esbuild; SCSS
// and Sass go through Dart Sass.
func (c *Compiler) CompileStyle(ctx context.Context, path string) (string, error) {
	return c.observe(ctx, KindStyle, path, func(ctx context.Context) (string, error) {
		if err := requireFile(path); err != nil {
			return "", err
		}

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".scss":
			return c.compileSass(path, godartsass.SourceSyntaxSCSS)
		case ".sass":
			return c.compileSass(path, godartsass.SourceSyntaxSASS)
		default:
			return bundle(path, api.BuildOptions{
				Loader:  embeddedLoaders,
				Engines: browserEngines,
			})
		}
	})
}

func (c *Compiler) compileSass(path string, syntax godartsass.SourceSyntax) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", uerrors.NewAssetNotFound(path, err)
	}

	transpiler, err := c.sass()
	if err != nil {
		return "", uerrors.NewCompileFailure(path, "starting dart sass", err)
	}

	result, err := transpiler.Execute(godartsass.Args{
		Source:       string(source),
		URL:          (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
		SourceSyntax: syntax,
		OutputStyle:  godartsass.OutputStyleCompressed,
		IncludePaths: []string{filepath.Dir(path)},
	})
	if err != nil {
		return "", uerrors.NewCompileFailure(path, "sass compilation failed", err)
	}

	return strings.TrimRight(result.CSS, "\n"), nil
}

// sass returns the shared transpiler, starting it on first use.
func (c *Compiler) sass() (*godartsass.Transpiler, error) {
	c.sassMu.Lock()
	defer c.sassMu.Unlock()

	if c.transpiler != nil && !c.transpiler.IsShutDown() {
		return c.transpiler, nil
	}

	transpiler, err := godartsass.Start(godartsass.Options{
		DartSassEmbeddedFilename: c.sassBinary,
		LogEventHandler: func(event godartsass.LogEvent) {
			c.logger.Debug(context.Background(), "sass: "+event.Message)
		},
	})
	if err != nil {
		return nil, err
	}
	c.transpiler = transpiler
	return transpiler, nil
}
