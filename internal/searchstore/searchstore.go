// Package searchstore is the bulk-indexing client for the search/retrieval
// store, implementing spec §4.6's batching and failure-recovery contract:
// a single bulk write per flush, per-document fallback on partial bulk
// failure, and exponential-retry per-document fallback on total bulk
// failure.
package searchstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"mediapipeline/internal/model"
)

// Action is one queued index or delete operation against a named index.
type Action struct {
	Index      string
	DocumentID string
	Operation  model.SyncOperation
	Document   map[string]any
}

// Client wraps the official Elasticsearch client behind the bulk/fallback
// semantics the indexing worker needs.
type Client struct {
	es *elasticsearch.Client
}

// New builds a Client targeting url.
func New(url string) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("searchstore: new client: %w", err)
	}
	return &Client{es: es}, nil
}

// Flush writes actions as a single bulk request. If the bulk response
// reports partial failure (errors == true), every failed action is retried
// individually. If the bulk request itself fails outright, every action in
// the batch is retried individually with exponential backoff.
func (c *Client) Flush(ctx context.Context, actions []Action) error {
	if len(actions) == 0 {
		return nil
	}

	body, err := buildBulkBody(actions)
	if err != nil {
		return fmt.Errorf("searchstore: build bulk body: %w", err)
	}

	res, err := c.es.Bulk(bytes.NewReader(body), c.es.Bulk.WithContext(ctx))
	if err != nil {
		log.Error().Err(err).Int("actions", len(actions)).Msg("searchstore_bulk_request_failed")
		return c.fallbackWithRetry(ctx, actions)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Error().Str("status", res.String()).Int("actions", len(actions)).Msg("searchstore_bulk_response_error")
		return c.fallbackWithRetry(ctx, actions)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("searchstore: decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}

	failed := failedActions(actions, parsed)
	if len(failed) == 0 {
		return nil
	}
	log.Warn().Int("failed", len(failed)).Int("total", len(actions)).Msg("searchstore_bulk_partial_failure")
	return c.perDocumentFallback(ctx, failed)
}

func buildBulkBody(actions []Action) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range actions {
		meta := map[string]any{
			string(bulkOp(a.Operation)): map[string]any{
				"_index": a.Index,
				"_id":    a.DocumentID,
			},
		}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if a.Operation != model.SyncDelete {
			docLine, err := json.Marshal(a.Document)
			if err != nil {
				return nil, err
			}
			buf.Write(docLine)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func bulkOp(op model.SyncOperation) string {
	if op == model.SyncDelete {
		return "delete"
	}
	return "index"
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  any `json:"error,omitempty"`
	} `json:"items"`
}

// failedActions correlates bulk response items back to the original
// actions by position; the bulk API preserves request order in its items.
func failedActions(actions []Action, resp bulkResponse) []Action {
	var failed []Action
	for i, item := range resp.Items {
		if i >= len(actions) {
			break
		}
		for _, result := range item {
			if result.Error != nil || result.Status >= 300 {
				failed = append(failed, actions[i])
			}
		}
	}
	return failed
}

// fallbackWithRetry retries every action individually with exponential
// backoff, per spec §4.6: RETRY_DELAY_SECONDS * 2^attempt, max 3 attempts.
func (c *Client) fallbackWithRetry(ctx context.Context, actions []Action) error {
	const (
		maxAttempts      = 3
		retryDelaySeconds = 1
	)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = c.perDocumentFallback(ctx, actions)
		if lastErr == nil {
			return nil
		}
		delay := time.Duration(retryDelaySeconds) * time.Second
		for i := 0; i < attempt; i++ {
			delay *= 2
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("searchstore: bulk fallback exhausted retries: %w", lastErr)
}

// perDocumentFallback writes each action individually so a single poison
// document can't block the rest of the batch.
func (c *Client) perDocumentFallback(ctx context.Context, actions []Action) error {
	var firstErr error
	for _, a := range actions {
		var err error
		if a.Operation == model.SyncDelete {
			err = c.deleteOne(ctx, a)
		} else {
			err = c.indexOne(ctx, a)
		}
		if err != nil {
			log.Error().Err(err).Str("index", a.Index).Str("documentId", a.DocumentID).Msg("searchstore_document_write_failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Client) indexOne(ctx context.Context, a Action) error {
	doc, err := json.Marshal(a.Document)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      a.Index,
		DocumentID: a.DocumentID,
		Body:       strings.NewReader(string(doc)),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchstore: index %s/%s: %s", a.Index, a.DocumentID, res.String())
	}
	return nil
}

func (c *Client) deleteOne(ctx context.Context, a Action) error {
	req := esapi.DeleteRequest{Index: a.Index, DocumentID: a.DocumentID}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("searchstore: delete %s/%s: %s", a.Index, a.DocumentID, res.String())
	}
	return nil
}
