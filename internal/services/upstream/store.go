package upstream

import (
	"context"
	"errors"

	"github.com/go-resty/resty/v2"
	"github.com/ridou/marketsync/internal/config"
	"github.com/ridou/marketsync/internal/models"
	"github.com/ridou/marketsync/internal/services/retry"
)

// ErrNotFound is returned when a delete matched no row.
var ErrNotFound = errors.New("record not found")

const (
	postsTable        = "posts"
	applicationsTable = "applications"
)

// ContentStore talks to the Supabase PostgREST interface.
type ContentStore struct {
	ep         *endpoint
	apiKey     string
	configured bool
}

// NewContentStore creates the row-store adapter. An unconfigured store
// answers every call with AuthMissing.
func NewContentStore(cfg *config.StoreConfig, deps Deps) *ContentStore {
	return &ContentStore{
		ep:         newEndpoint(SourceStore, cfg.URL, cfg.Timeout, deps),
		apiKey:     cfg.APIKey,
		configured: cfg.URL != "" && cfg.APIKey != "",
	}
}

// Configured reports whether URL and key are present.
func (s *ContentStore) Configured() bool {
	return s.configured
}

func (s *ContentStore) request(req *resty.Request) *resty.Request {
	return req.
		SetHeader("apikey", s.apiKey).
		SetAuthToken(s.apiKey).
		SetHeader("Content-Type", "application/json")
}

// ListPosts selects published posts, newest first.
func (s *ContentStore) ListPosts(ctx context.Context) ([]models.Post, error) {
	if !s.configured {
		return nil, retry.MissingCredential(SourceStore)
	}

	resp, err := s.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return s.request(req).
			SetQueryParams(map[string]string{
				"select": "*",
				"status": "eq.published",
				"order":  "timestamp.desc",
			}).
			Get("/rest/v1/" + postsTable)
	})
	if err != nil {
		return nil, err
	}

	var posts []models.Post
	if err := s.ep.decode(resp, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// InsertPost inserts a post and returns the stored row.
func (s *ContentStore) InsertPost(ctx context.Context, post models.Post) (*models.Post, error) {
	if !s.configured {
		return nil, retry.MissingCredential(SourceStore)
	}

	resp, err := s.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return s.request(req).
			SetHeader("Prefer", "return=representation").
			SetBody([]models.Post{post}).
			Post("/rest/v1/" + postsTable)
	})
	if err != nil {
		return nil, err
	}

	var rows []models.Post
	if err := s.ep.decode(resp, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, retry.New(retry.Fatal, SourceStore, errors.New("insert returned no row"))
	}
	return &rows[0], nil
}

// DeletePost removes the post with id.
func (s *ContentStore) DeletePost(ctx context.Context, id string) error {
	if !s.configured {
		return retry.MissingCredential(SourceStore)
	}

	resp, err := s.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return s.request(req).
			SetHeader("Prefer", "return=representation").
			SetQueryParam("id", "eq."+id).
			Delete("/rest/v1/" + postsTable)
	})
	if err != nil {
		return err
	}

	var rows []models.Post
	if err := s.ep.decode(resp, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertApplication stores a membership application.
func (s *ContentStore) InsertApplication(ctx context.Context, app models.Application) error {
	if !s.configured {
		return retry.MissingCredential(SourceStore)
	}

	_, err := s.ep.do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return s.request(req).
			SetHeader("Prefer", "return=minimal").
			SetBody([]models.Application{app}).
			Post("/rest/v1/" + applicationsTable)
	})
	return err
}
