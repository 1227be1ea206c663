package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"accounts-service/internal/config"
	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

// ESClient maintains the account search index used by support tooling.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // Skip verify in dev only
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
		logger: util.Get(),
	}

	if err := esClient.HealthCheck(); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	util.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("account_index", esConfig.AccountIndex),
	)

	return esClient, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck() error {
	res, err := e.Client.Info()
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	return nil
}

// IndexAccount writes the account document, replacing any previous version.
func (e *ESClient) IndexAccount(ctx context.Context, doc *models.AccountDocument) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("error encoding account document: %w", err)
	}

	res, err := e.Client.Index(
		e.config.AccountIndex,
		&buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(doc.AccountID),
	)
	if err != nil {
		return fmt.Errorf("error indexing account document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.String())
	}
	return nil
}

// DeleteAccount removes the account document from the index.
func (e *ESClient) DeleteAccount(ctx context.Context, accountID string) error {
	res, err := e.Client.Delete(
		e.config.AccountIndex,
		accountID,
		e.Client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("error deleting account document: %w", err)
	}
	defer res.Body.Close()

	// Missing document is fine; the index may lag the store
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("elasticsearch delete error: %s", res.String())
	}
	return nil
}

// SearchAccounts runs a multi-field match over handle, email and name.
func (e *ESClient) SearchAccounts(ctx context.Context, queryText string, limit int) ([]*models.AccountDocument, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  queryText,
				"fields": []string{"handle^2", "email", "name"},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(e.config.AccountIndex),
		e.Client.Search.WithBody(&buf),
		e.Client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.AccountDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := e.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	docs := make([]*models.AccountDocument, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		docs = append(docs, &parsed.Hits.Hits[i].Source)
	}
	return docs, nil
}

func (e *ESClient) ParseResponse(res *esapi.Response, target interface{}) error {
	defer res.Body.Close()

	if res.IsError() {
		var errBody map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&errBody); err != nil {
			return fmt.Errorf("error parsing error response: %w", err)
		}
		return fmt.Errorf("elasticsearch error: [%s] %v", res.Status(), errBody["error"])
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}

	return nil
}
