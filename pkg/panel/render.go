package panel

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"io/fs"
	"strconv"

	"axiscope-panel/pkg/offsets"
)

//go:embed templates/*
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"f3":       offsets.Format3,
	"zfmt":     zfmt,
	"optf3":    optf3,
	"methods":  func() []offsets.ZCalcMethod { return offsets.ZCalcMethods },
	"cfgLabel": cfgLabel,
	"row":      func(v View, t ToolView) rowData { return rowData{View: v, Tool: t} },
}).ParseFS(templatesFS, "templates/*.html"))

type rowData struct {
	View View
	Tool ToolView
}

// zfmt formats a probe value, or returns empty when it is not a number.
func zfmt(v *float64, empty string) string {
	if v == nil {
		return empty
	}
	return offsets.Format3(*v)
}

// optf3 formats a typed override; 0 means not entered and renders empty.
func optf3(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cfgLabel(method string) string {
	if method == "" {
		method = "unknown"
	}
	return "Config (axiscope.cfg: " + method + ")"
}

// RenderPage writes the full page.
func RenderPage(w io.Writer, v View) error {
	return templates.ExecuteTemplate(w, "page.html", v)
}

// RenderTools writes the tool-list fragment.
func RenderTools(w io.Writer, v View) error {
	return templates.ExecuteTemplate(w, "tools", v)
}

// ToolsHTML returns the tool-list fragment as a string.
func ToolsHTML(v View) (string, error) {
	var buf bytes.Buffer
	if err := RenderTools(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// StaticFS returns the embedded browser assets.
func StaticFS() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
