package page

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

const errorPageStyle = `body{font-family:ui-monospace,SFMono-Regular,Menlo,monospace;margin:2rem;background:#1e1e2e;color:#cdd6f4}` +
	`h1{color:#f38ba8;font-size:1.25rem}` +
	`pre{white-space:pre-wrap;background:#11111b;padding:1rem;border-radius:4px}`

// ErrorPage renders the page served in place of a page whose first build
// failed. It carries the reload snippet so the browser refreshes once a
// rebuild succeeds.
func ErrorPage(name string, buildErr error) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		msg := "unknown error"
		if buildErr != nil {
			msg = buildErr.Error()
		}

		parts := []string{
			"<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n",
			"<title>Build failed: ", templ.EscapeString(name), "</title>\n",
			"<style>", errorPageStyle, "</style>\n",
			"<script>", ReloadSnippet, "</script>\n",
			"</head>\n<body>\n",
			"<h1>", templ.EscapeString(name), " failed to build</h1>\n",
			"<pre>", templ.EscapeString(msg), "</pre>\n",
			"</body>\n</html>\n",
		}
		for _, p := range parts {
			if _, err := io.WriteString(w, p); err != nil {
				return err
			}
		}
		return nil
	})
}
