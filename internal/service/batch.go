package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

// Batch operation types.
const (
	BatchCreateRecord = "create_record"
	BatchUpdateRecord = "update_record"
	BatchDeleteRecord = "delete_record"
)

type BatchOperation struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BatchResult is the outcome of a single batch operation.
type BatchResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type batchData struct {
	DatasheetID string           `json:"datasheet_id"`
	Records     []map[string]any `json:"records"`
	RecordIDs   []string         `json:"record_ids"`
}

// Batch runs each operation in order. A failing operation is reported in its
// result and does not stop the others. Since a batch can touch any number of
// datasheets, the whole cache is cleared afterwards.
func (s *Service) Batch(ctx context.Context, ops []BatchOperation) Result[[]BatchResult] {
	client, err := s.begin()
	if err != nil {
		return failure[[]BatchResult](err)
	}

	results := make([]BatchResult, 0, len(ops))
	for i, op := range ops {
		data, err := runBatchOperation(ctx, client, op)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Int("index", i).
				Str("type", op.Type).
				Msg("batch operation failed")
			results = append(results, BatchResult{Success: false, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{Success: true, Data: data})
	}

	s.cache.Clear(ctx)

	return success(results, false)
}

func runBatchOperation(ctx context.Context, c Upstream, op BatchOperation) (any, error) {
	var data batchData
	if len(op.Data) > 0 {
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid data for %s: %w", op.Type, err)
		}
	}

	switch op.Type {
	case BatchCreateRecord, BatchUpdateRecord, BatchDeleteRecord:
		if data.DatasheetID == "" {
			return nil, errors.New("datasheet_id is required")
		}
	default:
		return nil, fmt.Errorf("unsupported operation type: %s", op.Type)
	}

	switch op.Type {
	case BatchCreateRecord:
		return c.CreateRecords(ctx, data.DatasheetID, data.Records)

	case BatchUpdateRecord:
		updates, err := recordUpdates(data.Records)
		if err != nil {
			return nil, err
		}
		return c.UpdateRecords(ctx, data.DatasheetID, updates)

	default:
		return c.DeleteRecords(ctx, data.DatasheetID, data.RecordIDs)
	}
}

// recordUpdates reads update entries, accepting either "recordId" or
// "record_id" for the record identifier.
func recordUpdates(records []map[string]any) ([]vika.RecordUpdate, error) {
	updates := make([]vika.RecordUpdate, 0, len(records))

	for i, r := range records {
		id, _ := r["recordId"].(string)
		if id == "" {
			id, _ = r["record_id"].(string)
		}
		if id == "" {
			return nil, fmt.Errorf("record %d: recordId is required", i)
		}

		fields, _ := r["fields"].(map[string]any)
		updates = append(updates, vika.RecordUpdate{RecordID: id, Fields: fields})
	}

	return updates, nil
}
