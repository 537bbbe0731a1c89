package console

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStaticServesEmbeddedAsset(t *testing.T) {
	handler := Static("")

	req := httptest.NewRequest(http.MethodGet, "/console.css", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("GET /console.css: got status %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), ".signin") {
		t.Error("GET /console.css: unexpected body")
	}
	if got := w.Header().Get("Cache-Control"); got != "no-cache, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestStaticMissingAndDirectory(t *testing.T) {
	handler := Static("")

	for _, p := range []string{"/missing.js", "/", "/../templates/signin.html"} {
		req := httptest.NewRequest(http.MethodGet, "/static", nil)
		req.URL.Path = p
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s: got status %d, want 404", p, w.Code)
		}
	}
}

func TestStaticFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "console.css"), []byte("body{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/console.css", nil)
	w := httptest.NewRecorder()
	Static(dir).ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "body{}" {
		t.Errorf("GET /console.css from dir: status %d body %q", w.Code, w.Body.String())
	}
}

func TestStaticMissingDirectoryFallsBack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/console.js", nil)
	w := httptest.NewRecorder()
	Static("/nonexistent/console").ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("GET /console.js: got status %d, want 200 from embedded assets", w.Code)
	}
}

func TestRenderSignIn(t *testing.T) {
	var buf bytes.Buffer
	err := RenderSignIn(&buf, SignInView{
		Action:       "/manager/signin",
		StaticPrefix: "/static",
		CSRFField:    "_csrf",
		CSRFToken:    `tok"en`,
		Failed:       true,
	})
	if err != nil {
		t.Fatalf("RenderSignIn() error = %v", err)
	}

	page := buf.String()
	for _, want := range []string{
		`action="/manager/signin"`,
		`name="_csrf"`,
		`value="tok&#34;en"`,
		"Invalid username or password.",
		`href="/static/console.css"`,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("sign-in page missing %q", want)
		}
	}
	if strings.Contains(page, "signed out") {
		t.Error("sign-in page shows sign-out notice")
	}
}
