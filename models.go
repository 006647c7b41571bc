package geminiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"geminiclient-go/apierr"
	"geminiclient-go/genai"
	"geminiclient-go/internal/auth"
	"geminiclient-go/internal/transport"
	"geminiclient-go/internal/wire"
)

// ListOptions control model listing.
type ListOptions struct {
	// Auth picks the strategy; empty means the client default.
	Auth      genai.Strategy
	PageSize  int
	PageToken string
}

// ListModels fetches one page of the model listing for the selected
// strategy. Page tokens come back in the result.
func (c *Client) ListModels(ctx context.Context, opts *ListOptions) (*genai.ModelList, error) {
	eff := &effective{
		strategy: c.cfg.DefaultAuth,
		timeout:  c.cfg.Timeout,
		fallback: c.fallback,
	}
	query := url.Values{}
	if opts != nil {
		if opts.Auth != "" {
			strategy, err := genai.ParseStrategy(string(opts.Auth))
			if err != nil {
				return nil, apierr.Wrap(apierr.KindConfig, "auth option", err)
			}
			eff.strategy = strategy
		}
		// Pagination params are the upstream's spelling, not normalized.
		if opts.PageSize > 0 {
			query.Set("pageSize", strconv.Itoa(opts.PageSize))
		}
		if opts.PageToken != "" {
			query.Set("pageToken", opts.PageToken)
		}
	}

	raw, err := c.unary(ctx, eff, &transport.Request{
		Strategy: eff.strategy,
		Method:   http.MethodGet,
		PathFunc: func(g auth.Grant) string { return g.ModelsPath() },
		Query:    query,
		Op:       "list_models",
	})
	if err != nil {
		return nil, err
	}

	normalized, err := wire.NormalizeJSON(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding model list", err)
	}
	var list genai.ModelList
	if err := json.Unmarshal(normalized, &list); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding model list", err)
	}
	return &list, nil
}

// AllModels walks every page of the model listing.
func (c *Client) AllModels(ctx context.Context, opts *ListOptions) ([]genai.Model, error) {
	var lo ListOptions
	if opts != nil {
		lo = *opts
	}
	var all []genai.Model
	for {
		page, err := c.ListModels(ctx, &lo)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Models...)
		if page.NextPageToken == "" {
			return all, nil
		}
		lo.PageToken = page.NextPageToken
	}
}

// GetModel fetches one model's description under the default strategy.
// name accepts either "gemini-2.0-flash-lite" or the full
// "models/gemini-2.0-flash-lite" resource name.
func (c *Client) GetModel(ctx context.Context, name string) (*genai.Model, error) {
	if name == "" {
		return nil, apierr.New(apierr.KindClient, "model name required")
	}
	short := strings.TrimPrefix(name, "models/")
	eff := &effective{
		strategy: c.cfg.DefaultAuth,
		timeout:  c.cfg.Timeout,
		fallback: c.fallback,
	}

	raw, err := c.unary(ctx, eff, &transport.Request{
		Strategy: eff.strategy,
		Method:   http.MethodGet,
		PathFunc: func(g auth.Grant) string { return g.ModelsPath() + "/" + short },
		Op:       "get_model",
	})
	if err != nil {
		return nil, err
	}

	normalized, err := wire.NormalizeJSON(raw)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding model", err)
	}
	var model genai.Model
	if err := json.Unmarshal(normalized, &model); err != nil {
		return nil, apierr.Wrap(apierr.KindParse, "decoding model", err)
	}
	return &model, nil
}

// ModelExists reports whether the model is known upstream. A 404 is a
// clean false; any other failure surfaces as the error.
func (c *Client) ModelExists(ctx context.Context, name string) (bool, error) {
	_, err := c.GetModel(ctx, name)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := apierr.As(err); ok && apiErr.HTTPStatus == http.StatusNotFound {
		return false, nil
	}
	return false, err
}
