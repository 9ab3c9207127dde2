package service

import (
	"context"
	"fmt"
	"strconv"

	"growth-service/internal/client"
	"growth-service/internal/config"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// CRMDocument is the searchable projection of a user kept in Elasticsearch.
// It carries no phone material, only the funnel attributes admins filter on.
type CRMDocument struct {
	TelegramID  int64  `json:"telegram_id"`
	Name        string `json:"name"`
	Source      string `json:"source"`
	Campaign    string `json:"campaign"`
	Status      string `json:"status"`
	GoalTag     string `json:"goal_tag"`
	LevelTag    string `json:"level_tag"`
	LeadScore   int    `json:"lead_score"`
	LeadSegment string `json:"lead_segment"`
	CreatedAt   string `json:"created_at"`
}

// CRMQuery narrows an admin search.
type CRMQuery struct {
	Segment  string
	Source   string
	Campaign string
	Goal     string
	MinScore int
	Size     int
}

// CRMService maintains the admin-facing user search index.
type CRMService struct {
	es    *client.ESClient
	index string
}

func NewCRMService(esClient *client.ESClient, cfg *config.ElasticsearchConfig) *CRMService {
	return &CRMService{es: esClient, index: cfg.UsersIndex}
}

// IndexUser writes a user's CRM projection. Called on profile changes and
// after scoring moves a user between segments; last write wins.
func (s *CRMService) IndexUser(ctx context.Context, user *model.User) error {
	doc := CRMDocument{
		TelegramID:  user.TelegramID,
		Name:        user.Name,
		Source:      user.Source,
		Campaign:    user.Campaign,
		Status:      string(user.Status),
		GoalTag:     user.GoalTag,
		LevelTag:    user.LevelTag,
		LeadScore:   user.LeadScore,
		LeadSegment: string(user.LeadSegment),
		CreatedAt:   user.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	res, err := s.es.IndexDocument(s.index, strconv.FormatInt(user.TelegramID, 10), doc)
	if err != nil {
		return fmt.Errorf("failed to index CRM document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("CRM index rejected document: %s", res.String())
	}
	return nil
}

// Search runs a filtered segment query and returns the matching documents.
func (s *CRMService) Search(ctx context.Context, query CRMQuery) ([]CRMDocument, error) {
	filters := make([]map[string]interface{}, 0, 5)
	if query.Segment != "" {
		filters = append(filters, term("lead_segment", query.Segment))
	}
	if query.Source != "" {
		filters = append(filters, term("source", query.Source))
	}
	if query.Campaign != "" {
		filters = append(filters, term("campaign", query.Campaign))
	}
	if query.Goal != "" {
		filters = append(filters, term("goal_tag", query.Goal))
	}
	if query.MinScore > 0 {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{
				"lead_score": map[string]interface{}{"gte": query.MinScore},
			},
		})
	}

	size := query.Size
	if size <= 0 || size > 500 {
		size = 100
	}

	body := map[string]interface{}{
		"size": size,
		"sort": []map[string]interface{}{
			{"lead_score": map[string]interface{}{"order": "desc"}},
		},
	}
	if len(filters) > 0 {
		body["query"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		}
	}

	res, err := s.es.Search(ctx, s.index, body)
	if err != nil {
		return nil, fmt.Errorf("CRM search failed: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source CRMDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := s.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("CRM search response: %w", err)
	}

	docs := make([]CRMDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		docs = append(docs, hit.Source)
	}

	util.Debug("CRM search completed",
		util.String("segment", query.Segment),
		util.Int("hits", len(docs)))
	return docs, nil
}

// SyncUser refreshes the index entry from the source of truth.
func (s *CRMService) SyncUser(ctx context.Context, users scylla.UserRepository, telegramID int64) error {
	user, err := users.GetUser(ctx, telegramID)
	if err != nil {
		return err
	}
	return s.IndexUser(ctx, user)
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{
		"term": map[string]interface{}{field: value},
	}
}
