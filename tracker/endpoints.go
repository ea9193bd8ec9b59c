package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/docwatch/kit"
	"github.com/hazyhaar/docwatch/tracker/internal/store"
)

// UpdatesResponse is one page of Updates.
type UpdatesResponse struct {
	Updates []*store.Entry `json:"updates"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
}

// SearchQuery is the read API form of a full-text search.
type SearchQuery struct {
	Keyword  string `json:"keyword"`
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SearchResponse lists matches, best first.
type SearchResponse struct {
	Keyword string         `json:"keyword"`
	Results []*store.Entry `json:"results"`
}

// TopicsResponse lists the configured topics.
type TopicsResponse struct {
	Topics []TopicInfo `json:"topics"`
}

// endpoints are shared by the HTTP and MCP surfaces.
type endpoints struct {
	updates kit.Endpoint
	get     kit.Endpoint
	search  kit.Endpoint
	topics  kit.Endpoint
}

func (s *Service) endpoints() endpoints {
	logged := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Logging(s.logger, name)(e)
	}
	return endpoints{
		updates: logged("updates", func(ctx context.Context, r any) (any, error) {
			q := r.(*UpdatesQuery)
			if _, err := q.filter(); err != nil {
				return nil, err
			}
			entries, err := s.Updates(ctx, *q)
			if err != nil {
				return nil, err
			}
			if entries == nil {
				entries = []*store.Entry{}
			}
			return &UpdatesResponse{Updates: entries, Page: q.Page, Limit: q.Limit}, nil
		}),
		get: logged("get_update", func(ctx context.Context, r any) (any, error) {
			return s.Get(ctx, r.(string))
		}),
		search: logged("search", func(ctx context.Context, r any) (any, error) {
			q := r.(*SearchQuery)
			if strings.TrimSpace(q.Keyword) == "" {
				return nil, fmt.Errorf("%w: keyword is required", ErrInvalidQuery)
			}
			res, err := s.Search(ctx, store.SearchFilter{
				Query:    q.Keyword,
				Topic:    q.Topic,
				Language: q.Language,
				Limit:    q.Limit,
			})
			if err != nil {
				return nil, err
			}
			if res == nil {
				res = []*store.Entry{}
			}
			return &SearchResponse{Keyword: q.Keyword, Results: res}, nil
		}),
		topics: logged("topics", func(ctx context.Context, _ any) (any, error) {
			topics, err := s.Topics(ctx)
			if err != nil {
				return nil, err
			}
			return &TopicsResponse{Topics: topics}, nil
		}),
	}
}
