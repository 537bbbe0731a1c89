package console

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
)

//go:embed static/*
var staticFiles embed.FS

//go:embed templates/*.html
var templateFiles embed.FS

var templates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

// Static returns a handler for the console assets. Mount it behind
// http.StripPrefix so request paths are relative to the asset root.
//
// When dir names an existing directory, files are read from disk.
// Directory listings are never served.
func Static(dir string) http.Handler {
	var fileSystem http.FileSystem

	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}
	if fileSystem == nil {
		sub, err := fs.Sub(staticFiles, "static")
		if err != nil {
			panic(fmt.Sprintf("console: loading embedded assets: %v", err))
		}
		fileSystem = http.FS(sub)
	}

	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean("/" + r.URL.Path)

		f, err := fileSystem.Open(upath)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		info, err := f.Stat()
		f.Close()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		fileServer.ServeHTTP(w, r)
	})
}

// SignInView is the data rendered into the sign-in form.
type SignInView struct {
	Action       string
	StaticPrefix string
	CSRFField    string
	CSRFToken    string
	Failed       bool
	SignedOut    bool
}

// RenderSignIn writes the sign-in page.
func RenderSignIn(w io.Writer, view SignInView) error {
	return templates.ExecuteTemplate(w, "signin.html", view)
}
