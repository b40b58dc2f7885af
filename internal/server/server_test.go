package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"tersicore/internal/bundle"
	"tersicore/internal/pipeline"
	"tersicore/internal/render/rendertest"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type failingRunner struct {
	dir string
	err error
}

func (f failingRunner) Run(context.Context, pipeline.Request) (*pipeline.Result, error) {
	return nil, f.err
}

func (f failingRunner) Layout(slug string) *bundle.Layout {
	return bundle.New(f.dir, "http://cdn.test", slug, quietLogger())
}

func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Pipeline) {
	t.Helper()
	dir := t.TempDir()
	sess := &rendertest.Session{
		HTMLText:    `<html><head><title>Shop</title></head><body><h1>Hello</h1><a href="/x">x</a></body></html>`,
		BottomAfter: 1,
	}
	p, err := pipeline.New(pipeline.Config{
		BaseURL:   "http://cdn.test",
		StaticDir: dir,
		Logger:    quietLogger(),
		Launcher:  &rendertest.Launcher{Session: sess},
		Sleep:     rendertest.NoSleep,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	srv := httptest.NewServer(New(Config{Runner: p, StaticDir: dir, Logger: quietLogger()}))
	t.Cleanup(srv.Close)
	return srv, p
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func errorField(t *testing.T, body string) string {
	t.Helper()
	var v map[string]string
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v["error"]
}

func TestPing(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, srv.URL+"/ping", "")
	if resp.StatusCode != http.StatusOK || body != "pong" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
}

func TestGenerateServesIndexAndStatic(t *testing.T) {
	t.Parallel()
	srv, p := newTestServer(t)
	resp, body := do(t, http.MethodPost, srv.URL+"/generate_site",
		`{"url":"https://shop.example/","slug":"shop","title":"Shop"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if !strings.Contains(body, ">Hello</h1>") {
		t.Fatalf("body does not carry the cloned page: %s", body)
	}
	if strings.Contains(body, `href="/x"`) {
		t.Fatalf("anchor href survived: %s", body)
	}
	if _, err := os.Stat(p.Layout("shop").IndexPath()); err != nil {
		t.Fatalf("index not written: %v", err)
	}

	resp, static := do(t, http.MethodGet, srv.URL+"/static/shop/index.html", "")
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMovedPermanently {
		t.Fatalf("static status = %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusOK && static != body {
		t.Fatalf("static copy differs from generate response")
	}
}

func TestGenerateMissingParameters(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	for _, body := range []string{``, `{}`, `{"url":"https://a.test","slug":"a"}`, `not json`} {
		resp, out := do(t, http.MethodPost, srv.URL+"/generate_site", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: status = %d", body, resp.StatusCode)
		}
		if got := errorField(t, out); got != "Missing parameters" {
			t.Fatalf("%q: error = %q", body, got)
		}
	}
}

func TestGenerateFailureStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", &pipeline.Error{Kind: pipeline.KindInvalidRequest, Err: errors.New("bad slug")}, http.StatusBadRequest},
		{"render", &pipeline.Error{Kind: pipeline.KindRender, Err: errors.New("chrome died")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := New(Config{Runner: failingRunner{dir: t.TempDir(), err: tt.err}, Logger: quietLogger()})
			srv := httptest.NewServer(h)
			defer srv.Close()
			resp, out := do(t, http.MethodPost, srv.URL+"/generate_site", `{"url":"https://a.test","slug":"a","title":"A"}`)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if got := errorField(t, out); got != tt.err.Error() {
				t.Fatalf("error = %q, want %q", got, tt.err.Error())
			}
		})
	}
}

func TestEditTemplate(t *testing.T) {
	t.Parallel()
	srv, p := newTestServer(t)

	resp, _ := do(t, http.MethodPut, srv.URL+"/edit_template", `{"slug":"shop","html":"<p>new</p>"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("edit before generate: status = %d", resp.StatusCode)
	}

	if resp, body := do(t, http.MethodPost, srv.URL+"/generate_site", `{"url":"https://shop.example/","slug":"shop","title":"Shop"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %s", resp.StatusCode, body)
	}
	resp, body := do(t, http.MethodPut, srv.URL+"/edit_template", `{"slug":"shop","html":"<p>edited</p>"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: %d %s", resp.StatusCode, body)
	}
	data, err := os.ReadFile(p.Layout("shop").IndexPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "<p>edited</p>") || strings.Contains(string(data), "Hello") {
		t.Fatalf("index not replaced: %s", data)
	}

	resp, _ = do(t, http.MethodPut, srv.URL+"/edit_template", `{"slug":"../etc","html":"<p>x</p>"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad slug: status = %d", resp.StatusCode)
	}
}
