package publisher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/sensorhub/internal/apperr"
	"github.com/starford/sensorhub/internal/ledger"
	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/parser"
	"github.com/starford/sensorhub/internal/storage"
)

const (
	testKeyID  = "64f1a2b3c4d5e6f7a8b9c0d1"
	testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

// fakeGhost emulates the Admin API endpoints the publisher uses.
type fakeGhost struct {
	t *testing.T

	mu       sync.Mutex
	tags     []Tag
	posts    []Post
	uploads  []string
	nextID   int
	authFail bool
}

func (g *fakeGhost) id() string {
	g.nextID++
	return fmt.Sprintf("id-%d", g.nextID)
}

func (g *fakeGhost) checkAuth(r *http.Request) bool {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Ghost ")
	if !ok {
		return false
	}
	secret, _ := hex.DecodeString(testSecret)
	tok, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		if tok.Header["kid"] != testKeyID {
			return nil, errors.New("wrong kid")
		}
		return secret, nil
	}, jwt.WithAudience("/admin/"), jwt.WithValidMethods([]string{"HS256"}))
	return err == nil && tok.Valid
}

func (g *fakeGhost) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /ghost/api/admin/site/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{"site": map[string]string{"title": "Campus Sensors", "version": "5.0"}})
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.png") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("\x89PNG fake"))
	})

	admin := http.NewServeMux()
	admin.HandleFunc("GET /ghost/api/admin/tags/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		writeJSON(w, 200, map[string]any{"tags": g.tags})
	})
	admin.HandleFunc("POST /ghost/api/admin/tags/", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Tags []Tag }
		_ = json.NewDecoder(r.Body).Decode(&in)
		g.mu.Lock()
		defer g.mu.Unlock()
		tag := in.Tags[0]
		tag.ID = g.id()
		g.tags = append(g.tags, tag)
		writeJSON(w, 201, map[string]any{"tags": []Tag{tag}})
	})
	admin.HandleFunc("DELETE /ghost/api/admin/tags/{id}/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, t := range g.tags {
			if t.ID == r.PathValue("id") {
				g.tags = append(g.tags[:i], g.tags[i+1:]...)
				w.WriteHeader(204)
				return
			}
		}
		writeJSON(w, 404, map[string]any{"errors": []map[string]string{{"message": "Tag not found.", "type": "NotFoundError"}}})
	})
	admin.HandleFunc("POST /ghost/api/admin/images/upload/", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, 422, map[string]any{"errors": []map[string]string{{"message": err.Error()}}})
			return
		}
		_, _ = io.Copy(io.Discard, f)
		g.mu.Lock()
		g.uploads = append(g.uploads, hdr.Filename)
		g.mu.Unlock()
		writeJSON(w, 201, map[string]any{"images": []map[string]string{{"url": "https://cdn.test/" + hdr.Filename}}})
	})
	admin.HandleFunc("POST /ghost/api/admin/posts/", func(w http.ResponseWriter, r *http.Request) {
		var in struct{ Posts []Post }
		_ = json.NewDecoder(r.Body).Decode(&in)
		g.mu.Lock()
		defer g.mu.Unlock()
		post := in.Posts[0]
		post.ID = g.id()
		post.URL = "https://blog.test/" + post.ID
		for i, t := range post.Tags {
			if t.ID == "" {
				post.Tags[i].ID = g.id()
			}
		}
		g.posts = append(g.posts, post)
		writeJSON(w, 201, map[string]any{"posts": []Post{post}})
	})
	admin.HandleFunc("GET /ghost/api/admin/posts/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		filter := r.URL.Query().Get("filter")
		var out []Post
		for _, p := range g.posts {
			if filter == "" || (len(p.Tags) > 0 && "tag:"+p.Tags[0].Slug == filter) || hasTagSlug(p, g.tags, filter) {
				out = append(out, Post{ID: p.ID})
			}
		}
		writeJSON(w, 200, map[string]any{"posts": out, "meta": map[string]any{"pagination": map[string]any{"page": 1, "pages": 1, "next": nil}}})
	})
	admin.HandleFunc("DELETE /ghost/api/admin/posts/{id}/", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, p := range g.posts {
			if p.ID == r.PathValue("id") {
				g.posts = append(g.posts[:i], g.posts[i+1:]...)
				w.WriteHeader(204)
				return
			}
		}
		w.WriteHeader(404)
	})
	mux.Handle("/ghost/api/admin/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.authFail || !g.checkAuth(r) {
			writeJSON(w, 401, map[string]any{"errors": []map[string]string{{"message": "Invalid token", "type": "UnauthorizedError"}}})
			return
		}
		admin.ServeHTTP(w, r)
	}))
	return mux
}

// hasTagSlug matches posts whose first tag id resolves to the slug in filter.
func hasTagSlug(p Post, tags []Tag, filter string) bool {
	if len(p.Tags) == 0 {
		return false
	}
	for _, t := range tags {
		if t.ID == p.Tags[0].ID && "tag:"+t.Slug == filter {
			return true
		}
	}
	return false
}

type fakePubs struct {
	mu   sync.Mutex
	pubs map[string]*ledger.Publication
}

func newFakePubs() *fakePubs {
	return &fakePubs{pubs: make(map[string]*ledger.Publication)}
}

func (f *fakePubs) Publication(sensor string, k models.Key) (*ledger.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pubs[sensor+"/"+string(k)]; ok {
		return p, nil
	}
	return nil, apperr.ErrNotFound
}

func (f *fakePubs) MarkPublished(sensor string, k models.Key, postID, postURL string) (*ledger.Publication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &ledger.Publication{ID: "pub-" + postID, Sensor: sensor, K: k, PostID: postID, PostURL: postURL}
	f.pubs[sensor+"/"+string(k)] = p
	return p, nil
}

func (f *fakePubs) DeletePublications(sensor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.pubs {
		if strings.HasPrefix(key, sensor+"/") {
			delete(f.pubs, key)
		}
	}
	return nil
}

type fakeSource struct {
	name     string
	settings models.Settings
	featured string
}

func (s fakeSource) Name() string { return s.name }
func (s fakeSource) Settings() models.Settings { return s.settings }
func (s fakeSource) GetFeaturedImage() string { return s.featured }

type env struct {
	ghost *fakeGhost
	srv   *httptest.Server
	files storage.Provider
	pubs  *fakePubs
	pub   *Publisher
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEnv(t *testing.T) *env {
	t.Helper()
	g := &fakeGhost{t: t}
	srv := httptest.NewServer(g.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{URL: srv.URL, AdminKey: testKeyID + ":" + testSecret},
		WithClientLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	files, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	pubs := newFakePubs()
	return &env{ghost: g, srv: srv, files: files, pubs: pubs, pub: New(client, pubs, files, quietLogger())}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{URL: "not a url", AdminKey: testKeyID + ":" + testSecret}); err == nil {
		t.Error("expected error for bad url")
	}
	if _, err := NewClient(Config{URL: "https://blog.test", AdminKey: "nocolon"}); err == nil {
		t.Error("expected error for key without secret")
	}
	if _, err := NewClient(Config{URL: "https://blog.test", AdminKey: "id:zz"}); err == nil {
		t.Error("expected error for non-hex secret")
	}
}

func TestClient_ConnectRejectedKey(t *testing.T) {
	g := &fakeGhost{t: t, authFail: true}
	srv := httptest.NewServer(g.handler())
	defer srv.Close()

	client, _ := NewClient(Config{URL: srv.URL, AdminKey: testKeyID + ":" + testSecret}, WithClientLogger(quietLogger()))
	err := client.Connect(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 401 {
		t.Fatalf("err = %v, want 401 APIError", err)
	}
	if client.Connected() {
		t.Error("client should not be connected")
	}
}

func TestClient_CallsFailAfterClose(t *testing.T) {
	e := newEnv(t)
	if err := e.pub.client.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.pub.client.Tags(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestClient_TokenClaims(t *testing.T) {
	now := time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)
	c, err := NewClient(Config{URL: "https://blog.test", AdminKey: testKeyID + ":" + testSecret},
		WithClientClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := c.token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, &jwt.RegisteredClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := tok.Claims.(*jwt.RegisteredClaims)
	if tok.Header["kid"] != testKeyID {
		t.Errorf("kid = %v", tok.Header["kid"])
	}
	if !claims.IssuedAt.Time.Equal(now) || !claims.ExpiresAt.Time.Equal(now.Add(5*time.Minute)) {
		t.Errorf("iat/exp = %v/%v", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestPublish_CreatesTagAndPost(t *testing.T) {
	e := newEnv(t)
	src := fakeSource{
		name:     "EarthQuakeSensor",
		settings: models.Settings{models.KeyAbout: strings.Repeat("a", 600)},
		featured: e.srv.URL + "/img/quake.png",
	}
	rec := models.Record{
		K:       "ci1",
		Caption: strings.Repeat("T", 300),
		Summary: strings.Repeat("S", 400),
		Img:     e.srv.URL + "/img/map.png?c=1,2",
		Origin:  "https://usgs.test/ci1",
	}

	pub, err := e.pub.Publish(context.Background(), src, rec)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.PostID == "" {
		t.Error("publication should carry the post id")
	}

	e.ghost.mu.Lock()
	defer e.ghost.mu.Unlock()
	if len(e.ghost.tags) != 1 {
		t.Fatalf("tags = %d, want 1", len(e.ghost.tags))
	}
	tag := e.ghost.tags[0]
	if tag.Slug != "earthquakesensor" {
		t.Errorf("slug = %q", tag.Slug)
	}
	if len(tag.Description) != 500 {
		t.Errorf("description len = %d, want 500", len(tag.Description))
	}
	if tag.FeatureImage != "https://cdn.test/quake.png" {
		t.Errorf("tag image = %q", tag.FeatureImage)
	}

	if len(e.ghost.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(e.ghost.posts))
	}
	post := e.ghost.posts[0]
	if len(post.Title) != 255 || len(post.CustomExcerpt) != 300 {
		t.Errorf("title/excerpt len = %d/%d, want 255/300", len(post.Title), len(post.CustomExcerpt))
	}
	if post.Status != "published" || post.Visibility != "public" {
		t.Errorf("status/visibility = %q/%q", post.Status, post.Visibility)
	}
	if post.FeatureImage != "https://cdn.test/map.png" {
		t.Errorf("feature image = %q", post.FeatureImage)
	}
	// Story falls back to the summary and ends with the origin link.
	if !strings.Contains(post.Mobiledoc, `[Original Source](https://usgs.test/ci1)`) {
		t.Errorf("mobiledoc = %s", post.Mobiledoc)
	}
	if !strings.Contains(post.Mobiledoc, strings.Repeat("S", 400)) {
		t.Error("story should fall back to the full summary")
	}
}

func TestPublish_ReusesTagAndConvertsHTML(t *testing.T) {
	e := newEnv(t)
	src := fakeSource{name: "GoogleSensor", settings: models.Settings{}}
	ctx := context.Background()

	_, err := e.pub.Publish(ctx, src, models.Record{K: "1", Caption: "c", Summary: "s", Story: "<h1>Taco Shop</h1><p>Address: <b>1 Main</b></p>"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_, err = e.pub.Publish(ctx, src, models.Record{K: "2", Caption: "c2", Summary: "s2"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	e.ghost.mu.Lock()
	defer e.ghost.mu.Unlock()
	if len(e.ghost.tags) != 1 {
		t.Errorf("tags = %d, want 1", len(e.ghost.tags))
	}
	if !strings.Contains(e.ghost.posts[0].Mobiledoc, "# Taco Shop") || !strings.Contains(e.ghost.posts[0].Mobiledoc, "**1 Main**") {
		t.Errorf("story not converted to markdown: %s", e.ghost.posts[0].Mobiledoc)
	}
	if e.ghost.posts[1].Tags[0].ID != e.ghost.tags[0].ID {
		t.Error("second post should reuse the sensor tag")
	}
}

func TestPublish_Incomplete(t *testing.T) {
	e := newEnv(t)
	src := fakeSource{name: "UVIndex"}
	for _, rec := range []models.Record{
		{Caption: "c", Summary: "s"},
		{K: "1", Summary: "s"},
		{K: "1", Caption: "c"},
	} {
		if _, err := e.pub.Publish(context.Background(), src, rec); !errors.Is(err, apperr.ErrIncomplete) {
			t.Errorf("Publish(%+v) err = %v, want ErrIncomplete", rec, err)
		}
	}
	if len(e.ghost.posts) != 0 || len(e.ghost.tags) != 0 {
		t.Error("incomplete records must not reach Ghost")
	}
}

func TestPublish_Dedup(t *testing.T) {
	e := newEnv(t)
	src := fakeSource{name: "UVIndex", settings: models.Settings{}}
	rec := models.Record{K: "1710417600", Caption: "c", Summary: "s"}
	if _, err := e.pub.Publish(context.Background(), src, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := e.pub.Publish(context.Background(), src, rec); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if len(e.ghost.posts) != 1 {
		t.Errorf("posts = %d, want 1", len(e.ghost.posts))
	}
}

func TestPublish_ImageFailureStillPosts(t *testing.T) {
	e := newEnv(t)
	src := fakeSource{name: "SatSensor", settings: models.Settings{}}
	rec := models.Record{K: "1", Caption: "c", Summary: "s", Img: e.srv.URL + "/img/missing.png"}
	if _, err := e.pub.Publish(context.Background(), src, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if e.ghost.posts[0].FeatureImage != "" {
		t.Errorf("feature image = %q, want empty", e.ghost.posts[0].FeatureImage)
	}
}

func TestPublish_LocalImageAndAboutDocument(t *testing.T) {
	e := newEnv(t)
	if err := e.files.Write("images/sun.png", []byte("png")); err != nil {
		t.Fatal(err)
	}
	about := "---\ntags:\n  - weather\nfeatured_image: images/sun.png\n---\n# OpenWeather\nWarmest forecast of the week.\n"
	if err := e.files.Write(parser.FileName("OpenWeather"), []byte(about)); err != nil {
		t.Fatal(err)
	}
	src := fakeSource{name: "OpenWeather", settings: models.Settings{models.KeyAbout: "ignored"}}
	rec := models.Record{K: "2024-03-14 21:00:00", Caption: "c", Summary: "s", Img: "images/sun.png"}
	if _, err := e.pub.Publish(context.Background(), src, rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	e.ghost.mu.Lock()
	defer e.ghost.mu.Unlock()
	tag := e.ghost.tags[0]
	if tag.Description != "Warmest forecast of the week." {
		t.Errorf("description = %q", tag.Description)
	}
	if tag.FeatureImage != "https://cdn.test/sun.png" {
		t.Errorf("tag image = %q", tag.FeatureImage)
	}
	post := e.ghost.posts[0]
	if len(post.Tags) != 2 || post.Tags[1].Name != "weather" {
		t.Errorf("post tags = %+v", post.Tags)
	}
	if post.FeatureImage != "https://cdn.test/sun.png" {
		t.Errorf("post image = %q", post.FeatureImage)
	}
}

func TestDeletePostsAndPurge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	quakes := fakeSource{name: "EarthQuakeSensor", settings: models.Settings{}}
	uv := fakeSource{name: "UVIndex", settings: models.Settings{}}
	for i := range 3 {
		k := models.KeyFromInt(int64(i))
		if _, err := e.pub.Publish(ctx, quakes, models.Record{K: k, Caption: "q", Summary: "s"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.pub.Publish(ctx, uv, models.Record{K: "1", Caption: "u", Summary: "s"}); err != nil {
		t.Fatal(err)
	}

	n, err := e.pub.DeletePosts(ctx, "EarthQuakeSensor", false)
	if err != nil {
		t.Fatalf("DeletePosts: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if len(e.ghost.posts) != 1 {
		t.Errorf("remaining posts = %d, want 1", len(e.ghost.posts))
	}
	if _, err := e.pubs.Publication("EarthQuakeSensor", "0"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("publications should be forgotten with their posts")
	}

	if err := e.pub.Purge(ctx, "UVIndex"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if len(e.ghost.posts) != 0 {
		t.Errorf("remaining posts = %d, want 0", len(e.ghost.posts))
	}
	for _, tag := range e.ghost.tags {
		if tag.Name == "UVIndex" {
			t.Error("purge should delete the sensor tag")
		}
	}

	// Unknown sensors are a no-op.
	if n, err := e.pub.DeletePosts(ctx, "Nope", false); err != nil || n != 0 {
		t.Errorf("DeletePosts(Nope) = %d, %v", n, err)
	}
}

func TestMobiledoc(t *testing.T) {
	doc, err := mobiledoc("# hi")
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		Version string `json:"version"`
		Cards   [][]json.RawMessage
	}
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.Version != "0.3.1" || len(parsed.Cards) != 1 {
		t.Errorf("doc = %s", doc)
	}
}
