// Package drive is the read-write remote tier: a Google Drive v3 file client
// authorized through OAuth2.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/platform/timeouts"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/retry"
)

// DefaultBaseURL is the Google APIs host.
const DefaultBaseURL = "https://www.googleapis.com"

const fileFields = "id,name,mimeType,size,modifiedTime,parents,appProperties"

// Format selects how Get returns a file body.
type Format int

const (
	// FormatText returns the body as a string.
	FormatText Format = iota
	// FormatJSON parses the body as JSON.
	FormatJSON
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes default to ScopeFile.
	Scopes []string
	// Endpoint defaults to GoogleEndpoint.
	Endpoint oauth2.Endpoint
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// HTTPClient carries token and API requests underneath the OAuth2
	// transport.
	HTTPClient *http.Client
	Retry      retry.Policy
	Logf       func(string, ...any)
}

// File is the Drive metadata the tier reads and writes.
type File struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MimeType      string            `json:"mimeType,omitempty"`
	Size          int64             `json:"size,string"`
	ModifiedTime  time.Time         `json:"modifiedTime"`
	Parents       []string          `json:"parents,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
}

// Client is the read-write remote tier client. Data operations fail with
// NOT_SIGNED_IN until SignIn succeeds.
type Client struct {
	oauth   *oauth2.Config
	baseURL string
	base    *http.Client
	timeout time.Duration
	retry   retry.Policy
	logf    func(string, ...any)

	mu     sync.RWMutex
	source oauth2.TokenSource
	client *http.Client

	trackMu sync.RWMutex
	tracked map[string]string
}

// New creates a signed-out Client.
func New(cfg Config) (*Client, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, apperrors.InvalidArgument("client_id")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeFile}
	}
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = GoogleEndpoint
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		baseURL: baseURL,
		base:    cfg.HTTPClient,
		timeout: timeouts.RemoteRequest,
		retry:   cfg.Retry,
		logf:    logf,
		tracked: make(map[string]string),
	}, nil
}

// Get downloads file id and returns it as text or parsed JSON.
func (c *Client) Get(ctx context.Context, id string, format Format) (any, error) {
	data, err := c.DownloadRawFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if format == FormatText {
		return string(data), nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteDecode, "drive get "+id+": parse JSON", err)
	}
	return value, nil
}

// SetOptions describes the file written by Set.
type SetOptions struct {
	// Name is required when creating a file.
	Name          string
	Parents       []string
	AppProperties map[string]string
}

// Set writes value to file id, creating a file named opts.Name when id is
// empty. Strings and byte slices are written as they are; anything else is
// written as JSON.
func (c *Client) Set(ctx context.Context, id string, value any, opts SetOptions) (File, error) {
	req := UploadRequest{
		ID:            strings.TrimSpace(id),
		Name:          opts.Name,
		Parents:       opts.Parents,
		AppProperties: opts.AppProperties,
	}
	switch v := value.(type) {
	case string:
		req.Content = []byte(v)
		req.MimeType = "text/plain"
	case []byte:
		req.Content = v
		req.MimeType = "application/octet-stream"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return File{}, fmt.Errorf("drive set: encode value: %w", err)
		}
		req.Content = data
		req.MimeType = "application/json"
	}
	return c.UploadRawFile(ctx, req)
}

// ListOptions narrows a listing.
type ListOptions struct {
	// Query is a Drive search expression ANDed with any folder filter.
	Query    string
	PageSize int
	// Track records each listed file's name and id for TrackedID.
	Track bool
}

// ListFiles lists every non-trashed file matching opts, following pages.
func (c *Client) ListFiles(ctx context.Context, opts ListOptions) ([]File, error) {
	httpClient, err := c.authorized("drive list")
	if err != nil {
		return nil, err
	}

	query := "trashed = false"
	if q := strings.TrimSpace(opts.Query); q != "" {
		query = "(" + q + ") and " + query
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}

	var files []File
	pageToken := ""
	for {
		params := url.Values{}
		params.Set("q", query)
		params.Set("pageSize", fmt.Sprint(pageSize))
		params.Set("fields", "nextPageToken,files("+fileFields+")")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		target := c.baseURL + "/drive/v3/files?" + params.Encode()
		body, err := retry.Do(ctx, "drive list", c.retry, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, httpClient, http.MethodGet, target, "", nil, "drive list")
		})
		if err != nil {
			return nil, err
		}
		var page struct {
			Files         []File `json:"files"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeRemoteDecode, "drive list: parse JSON", err)
		}
		files = append(files, page.Files...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if opts.Track {
		c.trackMu.Lock()
		for _, file := range files {
			c.tracked[file.Name] = file.ID
		}
		c.trackMu.Unlock()
	}
	return files, nil
}

// ListDirectory lists the files in folderID.
func (c *Client) ListDirectory(ctx context.Context, folderID string, opts ListOptions) ([]File, error) {
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return nil, apperrors.InvalidArgument("folder_id")
	}
	folderQuery := "'" + escapeQuery(folderID) + "' in parents"
	if q := strings.TrimSpace(opts.Query); q != "" {
		folderQuery += " and (" + q + ")"
	}
	opts.Query = folderQuery
	return c.ListFiles(ctx, opts)
}

// TrackedID returns the id recorded for name by a tracking listing.
func (c *Client) TrackedID(name string) (string, bool) {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	id, ok := c.tracked[name]
	return id, ok
}

// UploadRequest is one multipart upload. An empty ID creates a file.
type UploadRequest struct {
	ID            string
	Name          string
	MimeType      string
	Parents       []string
	AppProperties map[string]string
	Content       []byte
}

// UploadRawFile creates or replaces a file's content and metadata in one
// multipart request.
func (c *Client) UploadRawFile(ctx context.Context, req UploadRequest) (File, error) {
	httpClient, err := c.authorized("drive upload")
	if err != nil {
		return File{}, err
	}

	id := strings.TrimSpace(req.ID)
	meta := uploadMetadata{Name: strings.TrimSpace(req.Name), MimeType: req.MimeType, AppProperties: req.AppProperties}
	method := http.MethodPatch
	target := c.baseURL + "/upload/drive/v3/files/" + url.PathEscape(id)
	if id == "" {
		if meta.Name == "" {
			return File{}, apperrors.InvalidArgument("name")
		}
		meta.Parents = req.Parents
		method = http.MethodPost
		target = c.baseURL + "/upload/drive/v3/files"
	}
	target += "?uploadType=multipart&fields=" + url.QueryEscape(fileFields)

	payload, contentType, err := multipartBody(meta, req.MimeType, req.Content)
	if err != nil {
		return File{}, fmt.Errorf("drive upload: %w", err)
	}
	body, err := retry.Do(ctx, "drive upload", c.retry, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, httpClient, method, target, contentType, payload, "drive upload")
	})
	if err != nil {
		return File{}, err
	}
	var file File
	if err := json.Unmarshal(body, &file); err != nil {
		return File{}, apperrors.Wrap(apperrors.CodeRemoteDecode, "drive upload: parse JSON", err)
	}
	c.logf("drive: uploaded %s (%s)", file.Name, humanize.Bytes(uint64(len(req.Content))))
	return file, nil
}

// DownloadRawFile returns the content of file id.
func (c *Client) DownloadRawFile(ctx context.Context, id string) ([]byte, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.InvalidArgument("id")
	}
	httpClient, err := c.authorized("drive download")
	if err != nil {
		return nil, err
	}
	target := c.baseURL + "/drive/v3/files/" + url.PathEscape(id) + "?alt=media"
	data, err := retry.Do(ctx, "drive download "+id, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, httpClient, http.MethodGet, target, "", nil, "drive download "+id)
	})
	if err != nil {
		return nil, err
	}
	c.logf("drive: downloaded %s (%s)", id, humanize.Bytes(uint64(len(data))))
	return data, nil
}

// DeleteFile permanently deletes file id.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.InvalidArgument("id")
	}
	httpClient, err := c.authorized("drive delete")
	if err != nil {
		return err
	}
	target := c.baseURL + "/drive/v3/files/" + url.PathEscape(id)
	_, err = retry.Do(ctx, "drive delete "+id, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, httpClient, http.MethodDelete, target, "", nil, "drive delete "+id)
	})
	if err != nil {
		return err
	}

	c.trackMu.Lock()
	for name, trackedID := range c.tracked {
		if trackedID == id {
			delete(c.tracked, name)
		}
	}
	c.trackMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method, target, contentType string, payload []byte, op string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := retry.NewStatusError(op, resp, errorSummary(data))
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, apperrors.Wrap(apperrors.CodeNotSignedIn, op, statusErr)
		}
		return nil, statusErr
	}
	return data, nil
}

// errorSummary extracts the message of a Google API error body.
func errorSummary(body []byte) string {
	result := gjson.GetManyBytes(body, "error.message", "error.errors.0.reason")
	message, reason := result[0].String(), result[1].String()
	switch {
	case message != "" && reason != "":
		return message + " (" + reason + ")"
	case message != "":
		return message
	default:
		return gjson.GetBytes(body, "error_description").String()
	}
}

type uploadMetadata struct {
	Name          string            `json:"name,omitempty"`
	MimeType      string            `json:"mimeType,omitempty"`
	Parents       []string          `json:"parents,omitempty"`
	AppProperties map[string]string `json:"appProperties,omitempty"`
}

func multipartBody(meta uploadMetadata, mimeType string, content []byte) ([]byte, string, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, "", fmt.Errorf("encode metadata: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	metaPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, "", fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return nil, "", fmt.Errorf("write metadata part: %w", err)
	}
	mediaPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, "", fmt.Errorf("create media part: %w", err)
	}
	if _, err := mediaPart.Write(content); err != nil {
		return nil, "", fmt.Errorf("write media part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf.Bytes(), "multipart/related; boundary=" + writer.Boundary(), nil
}

func escapeQuery(value string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
}
