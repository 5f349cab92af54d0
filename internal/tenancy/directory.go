package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/datagate-labs/datagate-go/internal/domain"
	"github.com/datagate-labs/datagate-go/internal/platform/env"
)

// DirectoryConfig configures the user-directory client.
type DirectoryConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func DirectoryConfigFromEnv() (DirectoryConfig, error) {
	timeout, err := env.Duration("USER_DIRECTORY_TIMEOUT", 10*time.Second)
	if err != nil {
		return DirectoryConfig{}, err
	}
	cfg := DirectoryConfig{
		BaseURL: env.String("USER_DIRECTORY_URL", ""),
		Token:   env.String("USER_DIRECTORY_TOKEN", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return DirectoryConfig{}, err
	}
	return cfg, nil
}

func (c DirectoryConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("USER_DIRECTORY_URL is required")
	}
	if c.Timeout <= 0 {
		return errors.New("USER_DIRECTORY_TIMEOUT must be positive")
	}
	return nil
}

// DirectoryClient fetches membership from the user directory over HTTP.
// Calls are fail-fast with no retry; the guard surfaces failures to the
// caller rather than guessing at membership.
type DirectoryClient struct {
	cfg    DirectoryConfig
	client *http.Client
}

func NewDirectoryClient(cfg DirectoryConfig) (*DirectoryClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DirectoryClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *DirectoryClient) FetchUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("user id: %w", domain.ErrBadRequest)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/users/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("directory request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return User{}, fmt.Errorf("read directory response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return User{}, fmt.Errorf("directory responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		ID        string   `json:"id"`
		Email     string   `json:"email"`
		Tenancies []string `json:"tenancies"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return User{}, fmt.Errorf("decode directory response: %w", err)
	}
	return User{
		ID:        parsed.ID,
		Email:     parsed.Email,
		Tenancies: parsed.Tenancies,
	}, nil
}
