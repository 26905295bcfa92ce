package templates

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/a-h/templ"
)

// InputFile is one expected upload listed on the index page.
type InputFile struct {
	FileName string
	Label    string
}

// IndexPage is the data behind the upload and search page.
type IndexPage struct {
	Title       string
	Inputs      []InputFile
	MaxUploadMB float64
}

// Index renders the upload and lot search page.
func Index(p IndexPage) templ.Component {
	return Layout(p.Title, indexBody(p))
}

func indexBody(p IndexPage) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		accept := make([]string, 0, len(p.Inputs))
		var inputs strings.Builder
		for _, in := range p.Inputs {
			inputs.WriteString(`      <li><code>` + templ.EscapeString(in.FileName) + `</code> ` + templ.EscapeString(in.Label) + "</li>\n")
			if ext := strings.ToLower(path.Ext(in.FileName)); ext != "" && !slices.Contains(accept, ext) {
				accept = append(accept, ext)
			}
		}

		return write(w,
			`  <h1>`, templ.EscapeString(p.Title), `</h1>

  <div id="status" class="status hidden"></div>

  <section>
    <h2>1. Upload and run</h2>
    <p class="muted">Select all inputs (up to `, fmt.Sprintf("%.0f", p.MaxUploadMB), ` MB in total):</p>
    <ul id="inputs" class="muted">
`, inputs.String(), `    </ul>
    <input id="files" type="file" multiple accept="`, templ.EscapeString(strings.Join(accept, ",")), `">
    <ul id="fileList"></ul>
    <button id="uploadBtn" disabled>Run pipeline</button>
    <div id="result" class="hidden"></div>
  </section>

  <section id="searchSection" class="hidden">
    <h2>2. Trace a lot</h2>
    <label for="lotA">LOT A</label>
    <input id="lotA" type="text">
    <label for="lotB">LOT B</label>
    <input id="lotB" type="text">
    <button id="searchBtn">Export lot trace</button>
    <ul id="hints" class="muted"></ul>
  </section>
`)
	})
}
