package backfill

import (
	"context"
	"iter"
)

// DefaultPageSize is the scan page size when none is configured
const DefaultPageSize = 500

// RecordSource produces the records a run works through
type RecordSource interface {
	// Stream fails with a SourceUnavailableError when the collection cannot be
	// listed at all. Errors after the first record arrive through the sequence,
	// which ends after yielding one. The sequence is ranged over once.
	Stream(ctx context.Context) (iter.Seq2[Record, error], error)
}

// StoreSource scans a whole collection in ascending id order, one page at a time
type StoreSource struct {
	Store      Store
	Collection string
	PageSize   int
}

// NewStoreSource creates a full-collection scan
func NewStoreSource(store Store, collection string, pageSize int) *StoreSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &StoreSource{Store: store, Collection: collection, PageSize: pageSize}
}

func (s *StoreSource) Stream(ctx context.Context) (iter.Seq2[Record, error], error) {
	first, err := s.Store.ListPage(ctx, s.Collection, "", s.PageSize)
	if err != nil {
		return nil, &SourceUnavailableError{Collection: s.Collection, Err: err}
	}

	return func(yield func(Record, error) bool) {
		page := first
		for {
			for _, rec := range page.Records {
				if !yield(rec, nil) {
					return
				}
			}
			if page.NextCursor == "" {
				return
			}
			next, err := s.Store.ListPage(ctx, s.Collection, page.NextCursor, s.PageSize)
			if err != nil {
				yield(Record{}, &SourceUnavailableError{Collection: s.Collection, Err: err})
				return
			}
			page = next
		}
	}, nil
}

// IDSource loads an explicit list of ids in the order given. Ids that no
// longer exist are yielded with Missing set.
type IDSource struct {
	Store      Store
	Collection string
	IDs        []string
	PageSize   int
}

// NewIDSource creates a source over ids, typically a retry file's candidates
func NewIDSource(store Store, collection string, ids []string, pageSize int) *IDSource {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &IDSource{Store: store, Collection: collection, IDs: ids, PageSize: pageSize}
}

func (s *IDSource) Stream(ctx context.Context) (iter.Seq2[Record, error], error) {
	var first []Record
	if len(s.IDs) > 0 {
		var err error
		first, err = s.fetch(ctx, s.chunk(0))
		if err != nil {
			return nil, &SourceUnavailableError{Collection: s.Collection, Err: err}
		}
	}

	return func(yield func(Record, error) bool) {
		records := first
		for start := 0; start < len(s.IDs); start += s.PageSize {
			if start > 0 {
				var err error
				records, err = s.fetch(ctx, s.chunk(start))
				if err != nil {
					yield(Record{}, &SourceUnavailableError{Collection: s.Collection, Err: err})
					return
				}
			}
			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}, nil
}

func (s *IDSource) chunk(start int) []string {
	end := min(start+s.PageSize, len(s.IDs))
	return s.IDs[start:end]
}

// fetch loads ids and returns one record per id, in request order
func (s *IDSource) fetch(ctx context.Context, ids []string) ([]Record, error) {
	found, err := s.Store.Fetch(ctx, s.Collection, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Record, len(found))
	for _, rec := range found {
		byID[rec.ID] = rec
	}

	records := make([]Record, len(ids))
	for i, id := range ids {
		rec, ok := byID[id]
		if !ok {
			rec = Record{ID: id, Missing: true}
		}
		records[i] = rec
	}
	return records, nil
}
