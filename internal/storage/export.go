package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// AggregateBlobName is the export path of one aggregate row
func AggregateBlobName(a *models.DailyAggregate) string {
	return fmt.Sprintf("aggregates/%s/%s-%s-%s.json", a.DateString(), a.Topic, a.AlgorithmID, a.ID)
}

// ExportAggregates writes each aggregate as an indented JSON document and returns the blob names
func ExportAggregates(ctx context.Context, store BlobStore, aggregates []models.DailyAggregate) ([]string, error) {
	names := make([]string, 0, len(aggregates))
	for i := range aggregates {
		data, err := json.MarshalIndent(&aggregates[i], "", "  ")
		if err != nil {
			return names, fmt.Errorf("failed to marshal aggregate %s: %w", aggregates[i].ID, err)
		}

		name := AggregateBlobName(&aggregates[i])
		if err := store.Store(ctx, name, data); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// ExportReport writes the daily report next to the aggregates it summarises
func ExportReport(ctx context.Context, store BlobStore, report *models.DailyReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("reports/%s-%s.json", report.Date.Format("2006-01-02"), report.BatchJobID)
	if err := store.Store(ctx, name, data); err != nil {
		return "", err
	}
	return name, nil
}
