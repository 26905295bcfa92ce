// Package templates holds the HTML components served by the web layer.
//
// Components are plain templ.Component values built with templ.ComponentFunc,
// so pages and fragments render through the same templ.Handler and Render
// paths as generated components.
package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Layout wraps body in the page shell with the shared stylesheet and script.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>`+templ.EscapeString(title)+`</title>
  <link rel="stylesheet" href="/static/app.css">
</head>
<body>
`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `
  <script src="/static/app.js"></script>
</body>
</html>
`)
		return err
	})
}

// write renders each part in order, stopping at the first error.
func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
