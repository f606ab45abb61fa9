package assets

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// browserEngines is the fixed target set CSS nesting and modern syntax are
// lowered for.
var browserEngines = []api.Engine{
	{Name: api.EngineChrome, Version: "100"},
	{Name: api.EngineEdge, Version: "100"},
	{Name: api.EngineFirefox, Version: "100"},
	{Name: api.EngineSafari, Version: "15"},
}

// embeddedLoaders makes url() references in stylesheets resolve to data
// URIs so the bundle stays self-contained.
var embeddedLoaders = map[string]api.Loader{
	".png":   api.LoaderDataURL,
	".jpg":   api.LoaderDataURL,
	".jpeg":  api.LoaderDataURL,
	".gif":   api.LoaderDataURL,
	".svg":   api.LoaderDataURL,
	".webp":  api.LoaderDataURL,
	".woff":  api.LoaderDataURL,
	".woff2": api.LoaderDataURL,
	".ttf":   api.LoaderDataURL,
	".otf":   api.LoaderDataURL,
	".eot":   api.LoaderDataURL,
}

// CompileScript implements Pipeline.
func (c *Compiler) CompileScript(ctx context.Context, path string) (string, error) {
	return c.observe(ctx, KindScript, path, func(ctx context.Context) (string, error) {
		if err := requireFile(path); err != nil {
			return "", err
		}
		return bundle(path, api.BuildOptions{
			Format:   api.FormatIIFE,
			Platform: api.PlatformBrowser,
			Target:   api.ES2017,
		})
	})
}

// bundle runs esbuild in memory for a single entry point and returns the
// one output file.
func bundle(path string, opts api.BuildOptions) (string, error) {
	opts.EntryPoints = []string{path}
	opts.AbsWorkingDir = filepath.Dir(path)
	opts.Bundle = true
	opts.Write = false
	opts.MinifyWhitespace = true
	opts.MinifyIdentifiers = true
	opts.MinifySyntax = true
	opts.LogLevel = api.LogLevelSilent
	opts.Charset = api.CharsetUTF8

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		})
		return "", uerrors.NewCompileFailure(path, strings.TrimSpace(strings.Join(msgs, "\n")), nil)
	}
	if len(result.OutputFiles) == 0 {
		return "", uerrors.NewCompileFailure(path, "bundler produced no output", nil)
	}

	return strings.TrimRight(string(result.OutputFiles[0].Contents), "\n"), nil
}
