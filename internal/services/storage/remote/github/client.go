// Package github reads and writes files in a GitHub repository through the
// contents API and the raw content host. The client keeps no state between
// calls; every call is a fresh request.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/platform/timeouts"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/retry"
)

const (
	// DefaultHost is the contents API base; repository paths follow it.
	DefaultHost = "https://api.github.com/repos"
	// DefaultRawHost serves file bodies.
	DefaultRawHost = "https://raw.githubusercontent.com"
	// DefaultBranch is read and written when Config.Branch is empty.
	DefaultBranch = "main"
)

// ErrMetadataFetch reports that the contents API answered a metadata request
// with a client error, which Has treats as "no such file".
var ErrMetadataFetch = errors.New("github: metadata fetch failed")

// Format selects how Get returns a file body.
type Format int

const (
	// FormatText returns the body as a string.
	FormatText Format = iota
	// FormatJSON parses the body as JSON.
	FormatJSON
)

// Config describes the repository a Client talks to.
type Config struct {
	Owner   string
	Repo    string
	Branch  string
	Host    string
	RawHost string
	// Token is sent when a call does not carry its own.
	Token      string
	HTTPClient *http.Client
	Retry      retry.Policy
}

// Options carries per-call overrides.
type Options struct {
	Token string
	// Retry replaces the client policy when set.
	Retry *retry.Policy
}

// DirEntry is one item of a directory listing or a file's metadata.
type DirEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Type        string `json:"type"`
	DownloadURL string `json:"download_url"`
}

// Client is the read-mostly remote tier client.
type Client struct {
	owner   string
	repo    string
	branch  string
	host    string
	rawHost string
	token   string
	client  *http.Client
	retry   retry.Policy
}

// New creates a Client for cfg.
func New(cfg Config) (*Client, error) {
	owner := strings.TrimSpace(cfg.Owner)
	if owner == "" {
		return nil, apperrors.InvalidArgument("owner")
	}
	repo := strings.TrimSpace(cfg.Repo)
	if repo == "" {
		return nil, apperrors.InvalidArgument("repo")
	}
	c := &Client{
		owner:   owner,
		repo:    repo,
		branch:  strings.TrimSpace(cfg.Branch),
		host:    strings.TrimRight(strings.TrimSpace(cfg.Host), "/"),
		rawHost: strings.TrimRight(strings.TrimSpace(cfg.RawHost), "/"),
		token:   strings.TrimSpace(cfg.Token),
		client:  cfg.HTTPClient,
		retry:   cfg.Retry,
	}
	if c.branch == "" {
		c.branch = DefaultBranch
	}
	if c.host == "" {
		c.host = DefaultHost
	}
	if c.rawHost == "" {
		c.rawHost = DefaultRawHost
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: timeouts.RemoteRequest}
	}
	return c, nil
}

// Get fetches filename from the raw host and returns its body as text or
// parsed JSON.
func (c *Client) Get(ctx context.Context, filename string, format Format, opts Options) (any, error) {
	p, err := NormalizePath(filename, "filename")
	if err != nil {
		return nil, err
	}
	target := c.rawHost + "/" + c.owner + "/" + c.repo + "/" + c.branch + "/" + escapePath(p)
	body, err := retry.Do(ctx, "github get "+p, c.policy(opts), func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, http.MethodGet, target, c.tokenFor(opts), nil, "github get "+p)
	})
	if err != nil {
		return nil, err
	}
	if format == FormatText {
		return string(body), nil
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteDecode, "github get "+p+": parse JSON", err)
	}
	return value, nil
}

// Metadata fetches the contents API record for filename. A client error
// response is reported as ErrMetadataFetch.
func (c *Client) Metadata(ctx context.Context, filename string, opts Options) (DirEntry, error) {
	p, err := NormalizePath(filename, "filename")
	if err != nil {
		return DirEntry{}, err
	}
	body, err := retry.Do(ctx, "github metadata "+p, c.policy(opts), func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, http.MethodGet, c.contentsURL(p), c.tokenFor(opts), nil, "github metadata "+p)
	})
	if err != nil {
		if code := retry.StatusCode(err); code >= 400 && code < 500 {
			return DirEntry{}, fmt.Errorf("%w: %w", ErrMetadataFetch, err)
		}
		return DirEntry{}, err
	}
	var entry DirEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return DirEntry{}, apperrors.Wrap(apperrors.CodeRemoteDecode, "github metadata "+p+": parse JSON", err)
	}
	return entry, nil
}

// Has reports whether filename exists without downloading it.
func (c *Client) Has(ctx context.Context, filename, token string) (bool, error) {
	_, err := c.Metadata(ctx, filename, Options{Token: token})
	if errors.Is(err, ErrMetadataFetch) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BatchExists answers existence for every filename, resolved against dirPath,
// with a single directory listing. The result is keyed by the filenames as
// given.
func (c *Client) BatchExists(ctx context.Context, filenames []string, dirPath, token string) (map[string]bool, error) {
	entries, err := c.ListDirectory(ctx, dirPath, Options{Token: token})
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[cleanPath(entry.Path)] = struct{}{}
	}

	dir := cleanPath(dirPath)
	exists := make(map[string]bool, len(filenames))
	for _, filename := range filenames {
		_, ok := present[cleanPath(path.Join(dir, cleanPath(filename)))]
		exists[filename] = ok
	}
	return exists, nil
}

// ListDirectory lists dirPath, or the repository root when dirPath is empty.
// A non-2xx response or a payload that is not an array yields an empty
// listing.
func (c *Client) ListDirectory(ctx context.Context, dirPath string, opts Options) ([]DirEntry, error) {
	dir := cleanPath(dirPath)
	body, err := retry.Do(ctx, "github list "+dir, c.policy(opts), func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, http.MethodGet, c.contentsURL(dir), c.tokenFor(opts), nil, "github list "+dir)
	})
	if err != nil {
		if retry.StatusCode(err) != 0 {
			return []DirEntry{}, nil
		}
		return nil, err
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsArray() {
		return []DirEntry{}, nil
	}
	var entries []DirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return []DirEntry{}, nil
	}
	return entries, nil
}

// PutOptions describes a commit made by Put.
type PutOptions struct {
	Token   string
	Message string
	Retry   *retry.Policy
}

// Put creates or replaces filename with content in one commit on the
// configured branch.
func (c *Client) Put(ctx context.Context, filename string, content []byte, opts PutOptions) error {
	p, err := NormalizePath(filename, "filename")
	if err != nil {
		return err
	}
	callOpts := Options{Token: opts.Token, Retry: opts.Retry}
	if c.tokenFor(callOpts) == "" {
		return apperrors.New(apperrors.CodeNotSignedIn, "github put "+p+": token is required")
	}

	var sha string
	existing, err := c.Metadata(ctx, p, callOpts)
	switch {
	case err == nil:
		sha = existing.SHA
	case errors.Is(err, ErrMetadataFetch) && retry.StatusCode(err) == http.StatusNotFound:
	default:
		return err
	}

	message := strings.TrimSpace(opts.Message)
	if message == "" {
		message = "Update " + p
	}
	payload, err := json.Marshal(struct {
		Message string `json:"message"`
		Content string `json:"content"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha,omitempty"`
	}{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     sha,
	})
	if err != nil {
		return fmt.Errorf("github put %s: encode request: %w", p, err)
	}
	_, err = retry.Do(ctx, "github put "+p, c.policy(callOpts), func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, http.MethodPut, c.contentsPath(p), c.tokenFor(callOpts), payload, "github put "+p)
	})
	return err
}

func (c *Client) fetch(ctx context.Context, method, target, token string, payload []byte, op string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, retry.NewStatusError(op, resp, gjson.GetBytes(data, "message").String())
	}
	return data, nil
}

func (c *Client) contentsPath(p string) string {
	target := c.host + "/" + c.owner + "/" + c.repo + "/contents"
	if p != "" {
		target += "/" + escapePath(p)
	}
	return target
}

func (c *Client) contentsURL(p string) string {
	return c.contentsPath(p) + "?ref=" + url.QueryEscape(c.branch)
}

func (c *Client) tokenFor(opts Options) string {
	if token := strings.TrimSpace(opts.Token); token != "" {
		return token
	}
	return c.token
}

func (c *Client) policy(opts Options) retry.Policy {
	if opts.Retry != nil {
		return *opts.Retry
	}
	return c.retry
}

func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
