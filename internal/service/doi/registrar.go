package doi

import (
	"bytes"
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

// RegistrarConfig configures the DataCite-style registrar client.
type RegistrarConfig struct {
	BaseURL    string
	Repository string
	Username   string
	Password   string
	Timeout    time.Duration
}

func RegistrarConfigFromEnv() (RegistrarConfig, error) {
	timeout, err := env.Duration("DOI_REGISTRAR_TIMEOUT", 15*time.Second)
	if err != nil {
		return RegistrarConfig{}, err
	}
	cfg := RegistrarConfig{
		BaseURL:    env.String("DOI_REGISTRAR_URL", "https://api.test.datacite.org"),
		Repository: env.String("DOI_REGISTRAR_REPOSITORY", ""),
		Username:   env.String("DOI_REGISTRAR_USERNAME", ""),
		Password:   env.String("DOI_REGISTRAR_PASSWORD", ""),
		Timeout:    timeout,
	}
	if err := cfg.Validate(); err != nil {
		return RegistrarConfig{}, err
	}
	return cfg, nil
}

func (c RegistrarConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("DOI_REGISTRAR_URL is required")
	}
	if strings.TrimSpace(c.Repository) == "" {
		return errors.New("DOI_REGISTRAR_REPOSITORY is required")
	}
	if c.Timeout <= 0 {
		return errors.New("DOI_REGISTRAR_TIMEOUT must be positive")
	}
	return nil
}

// RegistrarClient implements Gateway against a DataCite-style REST API. No
// retries and no request-level timeout beyond the client's: calls are
// fail-fast, at-most-once attempts.
type RegistrarClient struct {
	cfg    RegistrarConfig
	client *http.Client
}

func NewRegistrarClient(cfg RegistrarConfig) (*RegistrarClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RegistrarClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type registrarDocument struct {
	Data registrarData `json:"data"`
}

type registrarData struct {
	Type       string              `json:"type"`
	Attributes registrarAttributes `json:"attributes"`
}

type registrarAttributes struct {
	Event           string              `json:"event,omitempty"`
	Prefix          string              `json:"prefix,omitempty"`
	DOI             string              `json:"doi,omitempty"`
	Titles          []map[string]string `json:"titles,omitempty"`
	Creators        []map[string]string `json:"creators,omitempty"`
	Publisher       string              `json:"publisher,omitempty"`
	PublicationYear int                 `json:"publicationYear,omitempty"`
	Types           map[string]string   `json:"types,omitempty"`
	URL             string              `json:"url,omitempty"`
}

func (c *RegistrarClient) document(identifier string, payload Payload) registrarDocument {
	attrs := registrarAttributes{
		Event:           string(payload.Attributes.Event),
		Publisher:       payload.Attributes.Publisher,
		PublicationYear: payload.Attributes.PublicationYear,
		URL:             payload.Attributes.URL,
	}
	if identifier == "" {
		attrs.Prefix = c.cfg.Repository
	} else {
		attrs.DOI = identifier
	}
	if payload.Attributes.Title != "" {
		attrs.Titles = []map[string]string{{"title": payload.Attributes.Title}}
	}
	for _, creator := range payload.Attributes.Creators {
		attrs.Creators = append(attrs.Creators, map[string]string{"name": creator})
	}
	if payload.Attributes.ResourceType != "" {
		attrs.Types = map[string]string{"resourceTypeGeneral": payload.Attributes.ResourceType}
	}
	return registrarDocument{Data: registrarData{Type: "dois", Attributes: attrs}}
}

func (c *RegistrarClient) Create(ctx context.Context, payload Payload) (Registration, error) {
	raw, err := c.do(ctx, http.MethodPost, "/dois", c.document("", payload))
	if err != nil {
		return Registration{}, err
	}
	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Registration{}, fmt.Errorf("decode registrar response: %w", err)
	}
	if strings.TrimSpace(parsed.Data.ID) == "" {
		return Registration{}, errors.New("registrar response missing identifier")
	}
	return Registration{Identifier: parsed.Data.ID, Raw: raw}, nil
}

func (c *RegistrarClient) Update(ctx context.Context, identifier string, payload Payload) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/dois/"+url.PathEscape(identifier), c.document(identifier, payload))
}

func (c *RegistrarClient) Delete(ctx context.Context, prefix, suffix string) error {
	_, err := c.do(ctx, http.MethodDelete, "/dois/"+url.PathEscape(prefix+"/"+suffix), nil)
	return err
}

func (c *RegistrarClient) Get(ctx context.Context, prefix, suffix string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/dois/"+url.PathEscape(prefix+"/"+suffix), nil)
}

func (c *RegistrarClient) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode registrar request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build registrar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Accept", "application/vnd.api+json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registrar request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read registrar response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registrar responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.RawMessage(raw), nil
}
