package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

//go:embed static
var embeddedStatic embed.FS

// loadTemplates parses the page templates from dir, or from the embedded
// copies when dir is empty. The result is keyed by page name.
func loadTemplates(dir string) (map[string]*template.Template, error) {
	var files fs.FS
	if dir != "" {
		files = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(embeddedTemplates, "templates")
		if err != nil {
			return nil, err
		}
		files = sub
	}

	funcs := template.FuncMap{
		"lower": strings.ToLower,
	}

	homeTmpl, err := template.New("home").Funcs(funcs).ParseFS(files, "base.tmpl", "home.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse home templates: %w", err)
	}
	return map[string]*template.Template{
		"home": homeTmpl,
	}, nil
}

// staticFiles returns the asset filesystem, preferring dir when set.
func staticFiles(dir string) (fs.FS, error) {
	if dir != "" {
		return os.DirFS(dir), nil
	}
	return fs.Sub(embeddedStatic, "static")
}

// networkLabel turns a network id such as "testnet" into "Testnet".
func networkLabel(id string) string {
	if id == "" {
		return ""
	}
	return cases.Title(language.English).String(id)
}
