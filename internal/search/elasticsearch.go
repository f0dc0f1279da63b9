package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ElasticClient indexes fulfillment events and sales summaries for the
// back-office search dashboard. The whole integration is optional: the
// daemon runs fine without it and indexing failures never affect the
// printed-state commit.
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{client: client, config: cfg}, nil
}

// IndexPrintedOrder indexes one fulfilled order after its printed commit.
func (c *ElasticClient) IndexPrintedOrder(ctx context.Context, order *models.Order, pdfPath string) error {
	if c == nil {
		return nil
	}

	doc := map[string]interface{}{
		"order_id":       order.ID.String(),
		"order_number":   order.OrderNumber,
		"created_at":     order.CreatedAt,
		"printed_at":     time.Now().UTC(),
		"customer_name":  order.FirstName + " " + order.LastName,
		"customer_email": order.Email,
		"payment_status": order.PaymentStatus,
		"item_count":     len(order.Items),
		"total":          order.Total,
		"pdf_path":       pdfPath,
	}
	return c.index(ctx, config.FormatIndex(c.config, "printed-orders"), order.ID.String(), doc)
}

// IndexDailySales indexes one daily sales summary row.
func (c *ElasticClient) IndexDailySales(ctx context.Context, rec *models.DailySales) error {
	if c == nil {
		return nil
	}

	id := fmt.Sprintf("%s-%s", rec.StoreName, rec.ReportDate.Format("2006-01-02"))
	return c.index(ctx, config.FormatIndex(c.config, "daily-sales"), id, rec)
}

func (c *ElasticClient) index(ctx context.Context, indexName, docID string, doc interface{}) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: docID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return errors.Errorf("index request failed: %s: %s", res.Status(), string(body))
	}

	log.Debug().Str("index", indexName).Str("doc_id", docID).Msg("indexed document")
	return nil
}
