package service

import (
	"context"
	"strconv"

	"github.com/vikabridge/vika-bridge/internal/cache"
	"github.com/vikabridge/vika-bridge/internal/vika"
)

func (s *Service) CreateRecords(ctx context.Context, datasheetID string, fields []map[string]any) Result[[]vika.Record] {
	invalidate := []string{cache.Pattern(cache.OpRecords, datasheetID)}

	return write(ctx, s, "create records", invalidate, func(ctx context.Context, c Upstream) ([]vika.Record, error) {
		return c.CreateRecords(ctx, datasheetID, fields)
	})
}

func (s *Service) ListRecords(ctx context.Context, datasheetID string, q vika.RecordQuery) Result[[]vika.Record] {
	key := cache.NewKey(cache.OpRecords, datasheetID).
		With("view_id", q.ViewID).
		With("page_size", strconv.Itoa(q.PageSize)).
		With("page_token", q.PageToken).
		With("filter_formula", q.FilterFormula)

	return read(ctx, s, key, s.ages.Record, "list records", func(ctx context.Context, c Upstream) ([]vika.Record, error) {
		return c.ListRecords(ctx, datasheetID, q)
	})
}

func (s *Service) GetRecord(ctx context.Context, datasheetID, recordID string) Result[vika.Record] {
	key := cache.NewKey(cache.OpRecord, datasheetID, recordID)

	return read(ctx, s, key, s.ages.Record, "get record", func(ctx context.Context, c Upstream) (vika.Record, error) {
		return c.GetRecord(ctx, datasheetID, recordID)
	})
}

func (s *Service) UpdateRecord(ctx context.Context, datasheetID, recordID string, fields map[string]any) Result[[]vika.Record] {
	invalidate := []string{
		cache.Pattern(cache.OpRecord, datasheetID, recordID),
		cache.Pattern(cache.OpRecords, datasheetID),
	}

	return write(ctx, s, "update record", invalidate, func(ctx context.Context, c Upstream) ([]vika.Record, error) {
		return c.UpdateRecords(ctx, datasheetID, []vika.RecordUpdate{{RecordID: recordID, Fields: fields}})
	})
}

func (s *Service) DeleteRecord(ctx context.Context, datasheetID, recordID string) Result[bool] {
	invalidate := []string{
		cache.Pattern(cache.OpRecord, datasheetID, recordID),
		cache.Pattern(cache.OpRecords, datasheetID),
	}

	return write(ctx, s, "delete record", invalidate, func(ctx context.Context, c Upstream) (bool, error) {
		return c.DeleteRecords(ctx, datasheetID, []string{recordID})
	})
}
