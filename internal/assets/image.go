package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"

	uerrors "github.com/conneroisu/unifee/internal/errors"
)

// imageMIMETypes lists the supported image extensions and their MIME types.
var imageMIMETypes = map[string]string{
	".svg":  "image/svg+xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
}

// MIMEType returns the MIME type for a supported image path.
func MIMEType(path string) (string, bool) {
	mime, ok := imageMIMETypes[strings.ToLower(filepath.Ext(path))]
	return mime, ok
}

var svgMinifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return m
}()

// CompileImage implements Pipeline. The returned data URI always carries
// the optimizer's output, even when it is larger than the input.
func (c *Compiler) CompileImage(ctx context.Context, path string) (string, error) {
	return c.observe(ctx, KindImage, path, func(ctx context.Context) (string, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", uerrors.NewAssetNotFound(path, err)
			}
			return "", uerrors.NewCompileFailure(path, "reading image", err)
		}

		ext := strings.ToLower(filepath.Ext(path))
		mime, ok := imageMIMETypes[ext]
		if !ok {
			return "", uerrors.NewUnsupportedAssetFormat(path, ext)
		}

		optimized, err := c.optimizeImage(ext, raw)
		if err != nil {
			return "", uerrors.NewCompileFailure(path, "optimizing image", err)
		}

		if len(optimized) < len(raw) {
			c.logger.Info(ctx, "image optimized",
				"path", path,
				"bytes_before", len(raw),
				"bytes_after", len(optimized),
				"size_before", humanize.Bytes(uint64(len(raw))),
				"size_after", humanize.Bytes(uint64(len(optimized))),
			)
			c.metrics.AddImageBytesSaved(len(raw) - len(optimized))
		}

		return DataURI(mime, optimized), nil
	})
}

func (c *Compiler) optimizeImage(ext string, raw []byte) ([]byte, error) {
	var buf bytes.Buffer

	switch ext {
	case ".svg":
		return svgMinifier.Bytes("image/svg+xml", raw)
	case ".png":
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	case ".jpg", ".jpeg":
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.jpegQuality}); err != nil {
			return nil, err
		}
	case ".gif":
		anim, err := gif.DecodeAll(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		if err := gif.EncodeAll(&buf, anim); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return uerrors.NewAssetNotFound(path, err)
	}
	if info.IsDir() {
		return uerrors.NewAssetNotFound(path, errors.New("is a directory"))
	}
	return nil
}
