package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/louisbranch/tierstore/internal/services/storage/remote/drive"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/github"
	"github.com/louisbranch/tierstore/internal/services/storage/remote/retry"
)

// DriveTier exposes a Drive client as the read-write remote tier. Keys map to
// the file named by Config.GoogleID.
type DriveTier struct {
	client *drive.Client
}

// NewDriveTier wraps client.
func NewDriveTier(client *drive.Client) *DriveTier {
	return &DriveTier{client: client}
}

// Name returns TierDrive.
func (t *DriveTier) Name() string { return TierDrive }

// Lookup downloads cfg.GoogleID. A missing file is a miss.
func (t *DriveTier) Lookup(ctx context.Context, _ string, cfg Config) (any, bool, error) {
	id := strings.TrimSpace(cfg.GoogleID)
	if id == "" {
		return nil, false, nil
	}
	data, err := t.client.DownloadRawFile(ctx, id)
	if err != nil {
		if retry.StatusCode(err) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeRemote(data), true, nil
}

// Store replaces the content of cfg.GoogleID and records the annotation
// fields as app properties.
func (t *DriveTier) Store(ctx context.Context, key string, value any, cfg Config) error {
	id := strings.TrimSpace(cfg.GoogleID)
	if id == "" {
		return nil
	}
	data, err := encodeRemote(value)
	if err != nil {
		return fmt.Errorf("drive store %q: %w", key, err)
	}
	_, err = t.client.UploadRawFile(ctx, drive.UploadRequest{
		ID:            id,
		MimeType:      "application/json",
		AppProperties: cfg.remoteProperties(),
		Content:       data,
	})
	return err
}

// GithubTier exposes a GitHub client as the read-mostly remote tier. Keys map
// to the file named by Config.GithubFilename.
type GithubTier struct {
	client *github.Client
}

// NewGithubTier wraps client.
func NewGithubTier(client *github.Client) *GithubTier {
	return &GithubTier{client: client}
}

// Name returns TierGithub.
func (t *GithubTier) Name() string { return TierGithub }

// Lookup fetches cfg.GithubFilename. A missing file is a miss.
func (t *GithubTier) Lookup(ctx context.Context, _ string, cfg Config) (any, bool, error) {
	if strings.TrimSpace(cfg.GithubFilename) == "" {
		return nil, false, nil
	}
	body, err := t.client.Get(ctx, cfg.GithubFilename, github.FormatText, github.Options{})
	if err != nil {
		if retry.StatusCode(err) == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	text, _ := body.(string)
	return decodeRemote([]byte(text)), true, nil
}

// Store commits the value to cfg.GithubFilename.
func (t *GithubTier) Store(ctx context.Context, key string, value any, cfg Config) error {
	if strings.TrimSpace(cfg.GithubFilename) == "" {
		return nil
	}
	data, err := encodeRemote(value)
	if err != nil {
		return fmt.Errorf("github store %q: %w", key, err)
	}
	message := "Update " + key
	if owner := strings.TrimSpace(cfg.Owner); owner != "" {
		message += " for " + owner
	}
	return t.client.Put(ctx, cfg.GithubFilename, data, github.PutOptions{Message: message})
}

// decodeRemote parses JSON bodies and returns anything else as text.
func decodeRemote(data []byte) any {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	return value
}

func encodeRemote(value any) ([]byte, error) {
	if text, ok := value.(string); ok {
		return []byte(text), nil
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

var (
	_ Tier = (*DriveTier)(nil)
	_ Tier = (*GithubTier)(nil)
)
