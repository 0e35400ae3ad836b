package cascade

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/drive"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/github"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/retry"
)

func TestGithubTier(t *testing.T) {
	var (
		mu      sync.Mutex
		content = map[string]string{"data/org.json": `{"ward":"North"}`}
		commits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/raw/ward/directory/main/"):
			body, ok := content[strings.TrimPrefix(r.URL.Path, "/raw/ward/directory/main/")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, body)
		case strings.HasPrefix(r.URL.Path, "/repos/ward/directory/contents/"):
			p := strings.TrimPrefix(r.URL.Path, "/repos/ward/directory/contents/")
			if r.Method == http.MethodPut {
				var req struct {
					Message string `json:"message"`
					Content string `json:"content"`
				}
				_ = json.NewDecoder(r.Body).Decode(&req)
				decoded, _ := base64.StdEncoding.DecodeString(req.Content)
				content[p] = string(decoded)
				commits = append(commits, req.Message)
				w.WriteHeader(http.StatusCreated)
				return
			}
			if _, ok := content[p]; !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = io.WriteString(w, `{"sha":"abc"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := github.New(github.Config{
		Owner:      "ward",
		Repo:       "directory",
		Host:       srv.URL + "/repos",
		RawHost:    srv.URL + "/raw",
		Token:      "t",
		HTTPClient: srv.Client(),
		Retry:      retry.Policy{Backoff: time.Millisecond, Logf: func(string, ...any) {}},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	tier := NewGithubTier(client)
	ctx := context.Background()

	if _, ok, err := tier.Lookup(ctx, "org", Config{}); ok || err != nil {
		t.Fatalf("lookup without filename = %v, %v; want skip", ok, err)
	}
	value, ok, err := tier.Lookup(ctx, "org", Config{GithubFilename: "data/org.json"})
	if err != nil || !ok {
		t.Fatalf("lookup = %v, %v; want hit", ok, err)
	}
	if want := map[string]any{"ward": "North"}; !reflect.DeepEqual(value, want) {
		t.Fatalf("value = %#v, want %#v", value, want)
	}
	if _, ok, err := tier.Lookup(ctx, "missing", Config{GithubFilename: "data/missing.json"}); ok || err != nil {
		t.Fatalf("lookup missing = %v, %v; want miss", ok, err)
	}

	if err := tier.Store(ctx, "notes", "hello", Config{GithubFilename: "data/notes.txt", Owner: "clerk"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := tier.Store(ctx, "skipped", "x", Config{}); err != nil {
		t.Fatalf("store without filename: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if content["data/notes.txt"] != "hello" {
		t.Fatalf("stored = %q, want hello", content["data/notes.txt"])
	}
	if want := []string{"Update notes for clerk"}; !reflect.DeepEqual(commits, want) {
		t.Fatalf("commits = %v, want %v", commits, want)
	}
}

func TestRemoteProperties(t *testing.T) {
	cfg := Config{
		Tags:    []string{"members", "2026"},
		Owner:   "clerk",
		Custom:  map[string]string{"unit": "north"},
		Expires: time.UnixMilli(1700000000000),
	}
	want := map[string]string{"tags": "members,2026", "owner": "clerk", "unit": "north", "expires": "1700000000000"}
	if got := cfg.remoteProperties(); !reflect.DeepEqual(got, want) {
		t.Fatalf("properties = %v, want %v", got, want)
	}
	if got := (Config{}).remoteProperties(); got != nil {
		t.Fatalf("empty properties = %v, want nil", got)
	}
}

// driveFiles serves the Drive download and multipart upload endpoints for a
// fixed bearer token.
type driveFiles struct {
	mu       sync.Mutex
	content  map[string]string
	props    map[string]map[string]string
	requests int
}

func newDriveFiles() *driveFiles {
	return &driveFiles{content: make(map[string]string), props: make(map[string]map[string]string)}
}

func (d *driveFiles) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	if r.Header.Get("Authorization") != "Bearer static-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/drive/v3/files/") && r.URL.Query().Get("alt") == "media":
		body, ok := d.content[strings.TrimPrefix(r.URL.Path, "/drive/v3/files/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/upload/drive/v3/files/"):
		id := strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/")
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/related" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reader := multipart.NewReader(r.Body, params["boundary"])
		metaPart, err := reader.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var meta struct {
			AppProperties map[string]string `json:"appProperties"`
		}
		if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mediaPart, err := reader.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(mediaPart)
		d.content[id] = string(data)
		d.props[id] = meta.AppProperties
		_, _ = fmt.Fprintf(w, `{"id":%q,"name":"upload.json"}`, id)
	default:
		http.NotFound(w, r)
	}
}

func (d *driveFiles) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func newDriveTier(t *testing.T, files *driveFiles, signedIn bool) *DriveTier {
	t.Helper()
	srv := httptest.NewServer(files)
	t.Cleanup(srv.Close)
	client, err := drive.New(drive.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token"},
		BaseURL:      srv.URL,
		HTTPClient:   srv.Client(),
		Retry:        retry.Policy{Backoff: time.Millisecond, Logf: func(string, ...any) {}},
		Logf:         func(string, ...any) {},
	})
	if err != nil {
		t.Fatalf("new drive client: %v", err)
	}
	if signedIn {
		token := &oauth2.Token{AccessToken: "static-token", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
		if err := client.SignIn(context.Background(), drive.SignInRequest{Token: token}); err != nil {
			t.Fatalf("sign in: %v", err)
		}
	}
	return NewDriveTier(client)
}

func TestDriveTier(t *testing.T) {
	files := newDriveFiles()
	files.content["file-1"] = `{"ward":"North"}`
	tier := newDriveTier(t, files, true)
	ctx := context.Background()

	if _, ok, err := tier.Lookup(ctx, "org", Config{}); ok || err != nil {
		t.Fatalf("lookup without google id = %v, %v; want skip", ok, err)
	}
	if n := files.requestCount(); n != 0 {
		t.Fatalf("requests = %d, want 0", n)
	}
	value, ok, err := tier.Lookup(ctx, "org", Config{GoogleID: "file-1"})
	if err != nil || !ok {
		t.Fatalf("lookup = %v, %v; want hit", ok, err)
	}
	if want := map[string]any{"ward": "North"}; !reflect.DeepEqual(value, want) {
		t.Fatalf("value = %#v, want %#v", value, want)
	}
	if _, ok, err := tier.Lookup(ctx, "org", Config{GoogleID: "missing"}); ok || err != nil {
		t.Fatalf("lookup missing = %v, %v; want miss", ok, err)
	}

	cfg := Config{GoogleID: "file-2", Owner: "clerk", Tags: []string{"members"}}
	if err := tier.Store(ctx, "roster", map[string]any{"size": float64(3)}, cfg); err != nil {
		t.Fatalf("store: %v", err)
	}
	before := files.requestCount()
	if err := tier.Store(ctx, "skipped", "x", Config{}); err != nil {
		t.Fatalf("store without google id: %v", err)
	}
	if n := files.requestCount(); n != before {
		t.Fatalf("requests = %d, want %d", n, before)
	}

	files.mu.Lock()
	defer files.mu.Unlock()
	var stored map[string]any
	if err := json.Unmarshal([]byte(files.content["file-2"]), &stored); err != nil {
		t.Fatalf("stored content %q: %v", files.content["file-2"], err)
	}
	if want := map[string]any{"size": float64(3)}; !reflect.DeepEqual(stored, want) {
		t.Fatalf("stored = %#v, want %#v", stored, want)
	}
	if want := map[string]string{"owner": "clerk", "tags": "members"}; !reflect.DeepEqual(files.props["file-2"], want) {
		t.Fatalf("app properties = %v, want %v", files.props["file-2"], want)
	}
}

func TestDriveTierUnsignedIsUnavailable(t *testing.T) {
	tier := newDriveTier(t, newDriveFiles(), false)
	_, _, err := tier.Lookup(context.Background(), "org", Config{GoogleID: "file-1"})
	if !apperrors.CodeOf(err).Unavailable() {
		t.Fatalf("err = %v, want an unavailable code", err)
	}
}

func TestGetConsultsDriveBeforeGithub(t *testing.T) {
	files := newDriveFiles()
	files.content["file-1"] = "from drive"
	s := newTestStorage(t, nil)
	s.Attach(newDriveTier(t, files, true))
	gh := newFakeTier(TierGithub)
	gh.values["org"] = "from github"
	s.Attach(gh)
	ctx := context.Background()

	value, ok, err := s.Get(ctx, "org", Config{GoogleID: "file-1"})
	if err != nil || !ok || value != "from drive" {
		t.Fatalf("get = %v, %v, %v; want from drive", value, ok, err)
	}
	if gh.lookups != 0 {
		t.Fatalf("github lookups = %d, want 0", gh.lookups)
	}

	value, ok, err = s.Get(ctx, "org", Config{GoogleID: "missing"})
	if err != nil || !ok || value != "from github" {
		t.Fatalf("get after drive miss = %v, %v, %v; want from github", value, ok, err)
	}
}

func TestGetSkipsUnsignedDrive(t *testing.T) {
	files := newDriveFiles()
	files.content["file-1"] = "from drive"
	s := newTestStorage(t, nil)
	s.Attach(newDriveTier(t, files, false))
	gh := newFakeTier(TierGithub)
	gh.values["org"] = "from github"
	s.Attach(gh)

	value, ok, err := s.Get(context.Background(), "org", Config{GoogleID: "file-1"})
	if err != nil || !ok || value != "from github" {
		t.Fatalf("get = %v, %v, %v; want from github", value, ok, err)
	}
	if s.logs.Len() == 0 {
		t.Fatal("expected the skipped drive tier to be logged")
	}
}

func TestSetSkipsDriveWithoutGoogleID(t *testing.T) {
	files := newDriveFiles()
	s := newTestStorage(t, nil)
	s.Attach(newDriveTier(t, files, true))
	ctx := context.Background()

	if err := s.Set(ctx, "org", "North", Config{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if n := files.requestCount(); n != 0 {
		t.Fatalf("drive requests = %d, want 0", n)
	}
	if err := s.Set(ctx, "org", "North", Config{GoogleID: "file-9"}); err != nil {
		t.Fatalf("set with google id: %v", err)
	}
	files.mu.Lock()
	defer files.mu.Unlock()
	if files.content["file-9"] != "North" {
		t.Fatalf("drive content = %q, want North", files.content["file-9"])
	}
}
