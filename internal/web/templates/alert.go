package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// ErrorAlert renders an error as an HTML fragment for HTMX requests. Hints,
// such as the lot values that do exist, are listed below the message.
func ErrorAlert(message, action, code string, hints []string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := write(w,
			`<div class="status error" role="alert">`,
			`<strong>`, templ.EscapeString(message), `</strong>`,
		); err != nil {
			return err
		}
		if code != "" {
			if err := write(w, ` <span class="muted">(`, templ.EscapeString(code), `)</span>`); err != nil {
				return err
			}
		}
		if action != "" {
			if err := write(w, `<p>`, templ.EscapeString(action), `</p>`); err != nil {
				return err
			}
		}
		if len(hints) > 0 {
			if err := write(w, `<ul class="muted">`); err != nil {
				return err
			}
			for _, h := range hints {
				if err := write(w, `<li>`, templ.EscapeString(h), `</li>`); err != nil {
					return err
				}
			}
			if err := write(w, `</ul>`); err != nil {
				return err
			}
		}
		return write(w, "</div>\n")
	})
}
