// Package sink defines where built search requests are executed.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/response"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/elastic"
)

// Request is a search request ready for execution.
type Request struct {
	// Source selects returned fields: nil returns the whole document, false
	// returns none and a []string returns the listed fields.
	Source any
	// Body holds "query" and, optionally, "highlight".
	Body map[string]any
	Size *int
	From *int
	// Sort is "field" or "field:asc|desc".
	Sort string
}

// Query returns the query document in the body, or nil.
func (r Request) Query() any {
	if r.Body == nil {
		return nil
	}
	return r.Body["query"]
}

// Sink executes requests against an index.
type Sink interface {
	Search(ctx context.Context, index string, req Request) (*response.Search, error)
	Count(ctx context.Context, index string, req Request) (int64, error)
	Get(ctx context.Context, index, id string, source any) (*response.Document, error)
	Exists(ctx context.Context, index, id string) (bool, error)
}

// Elastic executes requests on a cluster through the REST client.
type Elastic struct {
	client *elastic.Client
}

// NewElastic wraps client.
func NewElastic(client *elastic.Client) *Elastic {
	return &Elastic{client: client}
}

func (e *Elastic) Search(ctx context.Context, index string, req Request) (*response.Search, error) {
	params := url.Values{}
	if req.Size != nil {
		params.Set("size", strconv.Itoa(*req.Size))
	}
	if req.From != nil {
		params.Set("from", strconv.Itoa(*req.From))
	}
	if req.Sort != "" {
		params.Set("sort", req.Sort)
	}
	setSource(params, req.Source)

	data, err := e.client.Search(ctx, index, params, req.Body)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", index, err)
	}
	return response.Decode(data)
}

func (e *Elastic) Count(ctx context.Context, index string, req Request) (int64, error) {
	var body map[string]any
	if q := req.Query(); q != nil {
		body = map[string]any{"query": q}
	}
	data, err := e.client.Count(ctx, index, body)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", index, err)
	}
	var c response.Count
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return c.Count, nil
}

func (e *Elastic) Get(ctx context.Context, index, id string, source any) (*response.Document, error) {
	params := url.Values{}
	setSource(params, source)
	data, err := e.client.Get(ctx, index, id, params)
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", index, id, err)
	}
	var doc response.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &doc, nil
}

func (e *Elastic) Exists(ctx context.Context, index, id string) (bool, error) {
	return e.client.Exists(ctx, index, id)
}

// Ping checks the cluster.
func (e *Elastic) Ping(ctx context.Context) error {
	return e.client.Ping(ctx)
}

func setSource(params url.Values, source any) {
	switch s := source.(type) {
	case bool:
		params.Set("_source", strconv.FormatBool(s))
	case []string:
		if len(s) > 0 {
			params.Set("_source", strings.Join(s, ","))
		}
	case string:
		if s != "" {
			params.Set("_source", s)
		}
	}
}
