package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dinehub/services/orders/config"
	"example.com/dinehub/services/orders/internal/models"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexOrder indexes an order document for the dashboard. The document id is
// the order id so re-indexing after every mutation stays idempotent.
func (c *ElasticClient) IndexOrder(ctx context.Context, o *models.Order) error {
	items := make([]map[string]interface{}, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, map[string]interface{}{
			"item_id":          item.ItemID,
			"quantity":         item.Quantity,
			"unit_price_cents": item.UnitPriceCents,
			"display_name":     item.DisplayName,
		})
	}

	doc := map[string]interface{}{
		"id":          o.ID,
		"table_id":    o.TableID,
		"status":      o.Status.String(),
		"total_cents": o.TotalCents,
		"created_at":  o.CreatedAt,
		"locked_at":   o.LockedAt,
		"deleted":     o.DeletedAt != nil,
		"items":       items,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order document")
	}

	indexName := config.FormatIndex(c.config, c.config.Index)
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: o.ID,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	log.Debug().Str("order_id", o.ID).Msg("order indexed")
	return nil
}

// IndexAuditRecord indexes an audit record into the audit index.
func (c *ElasticClient) IndexAuditRecord(ctx context.Context, rec *models.AuditRecord) error {
	docJSON, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal audit document")
	}

	indexName := config.FormatIndex(c.config, "audit")
	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	return nil
}
