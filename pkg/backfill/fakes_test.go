package backfill

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/memehubx/memedb/pkg/domain"
)

// memStore is a single-collection in-memory Store with failure injection
type memStore struct {
	mu       sync.Mutex
	docs     map[string]domain.Document
	maxBatch int

	listCalls   int
	listErrAt   map[int]error
	commitCalls int
	commitErrAt map[int]error
	commitSizes []int
	onCommit    func(call int)
	commitDelay time.Duration

	inFlight    int
	maxInFlight int

	lockOwner   string
	lockExpires time.Time
	lockHistory []string

	// clock drives lease expiry; the zero value never expires a lock
	clock time.Time
}

func newMemStore(maxBatch int) *memStore {
	return &memStore{
		docs:        make(map[string]domain.Document),
		maxBatch:    maxBatch,
		listErrAt:   make(map[int]error),
		commitErrAt: make(map[int]error),
	}
}

func (s *memStore) seed(n int, title func(i int) interface{}) {
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%04d", i)
		s.docs[id] = domain.Document{"_id": id, "title": title(i)}
	}
}

func (s *memStore) field(id, name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id][name]
}

func (s *memStore) sortedIDs() []string {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *memStore) record(id string) Record {
	fields := make(domain.Document, len(s.docs[id]))
	for k, v := range s.docs[id] {
		fields[k] = v
	}
	return Record{ID: id, Fields: fields}
}

func (s *memStore) ListPage(ctx context.Context, collection, cursor string, limit int) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if err := s.listErrAt[s.listCalls]; err != nil {
		return Page{}, err
	}

	var page Page
	ids := s.sortedIDs()
	for i, id := range ids {
		if id <= cursor {
			continue
		}
		if len(page.Records) == limit {
			page.NextCursor = ids[i-1]
			break
		}
		page.Records = append(page.Records, s.record(id))
	}
	return page, nil
}

func (s *memStore) Fetch(ctx context.Context, collection string, ids []string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, id := range ids {
		if _, ok := s.docs[id]; ok {
			out = append(out, s.record(id))
		}
	}
	return out, nil
}

func (s *memStore) Commit(ctx context.Context, collection string, writes []PendingWrite) error {
	s.mu.Lock()
	s.commitCalls++
	call := s.commitCalls
	s.commitSizes = append(s.commitSizes, len(writes))
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	err := s.commitErrAt[call]
	s.mu.Unlock()

	if s.commitDelay > 0 {
		time.Sleep(s.commitDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.onCommit != nil {
		s.onCommit(call)
	}
	if err != nil {
		return err
	}
	if len(writes) > s.maxBatch {
		return domain.ErrBatchTooLarge
	}
	for _, w := range writes {
		s.docs[w.RecordID][w.Field] = w.Value
	}
	return nil
}

func (s *memStore) MaxBatchSize() int { return s.maxBatch }
func (s *memStore) Close() error      { return nil }

func (s *memStore) AcquireRunLock(ctx context.Context, collection, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireLocked(collection, owner, ttl)
}

// acquireLocked is AcquireRunLock for callers already holding s.mu
func (s *memStore) acquireLocked(collection, owner string, ttl time.Duration) error {
	expired := !s.lockExpires.IsZero() && !s.clock.Before(s.lockExpires)
	if s.lockOwner != "" && s.lockOwner != owner && !expired {
		return fmt.Errorf("lock %s: %w", LockName(collection), domain.ErrLockHeld)
	}
	op := "acquire:"
	if s.lockOwner == owner {
		op = "renew:"
	}
	s.lockOwner = owner
	s.lockExpires = time.Time{}
	if !s.clock.IsZero() {
		s.lockExpires = s.clock.Add(ttl)
	}
	s.lockHistory = append(s.lockHistory, op+owner)
	return nil
}

func (s *memStore) ReleaseRunLock(ctx context.Context, collection, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockOwner == owner {
		s.lockOwner = ""
	}
	s.lockHistory = append(s.lockHistory, "release:"+owner)
	return nil
}

// sliceSource yields fixed records, for cases a real store cannot produce
type sliceSource []Record

func (s sliceSource) Stream(ctx context.Context) (iter.Seq2[Record, error], error) {
	return func(yield func(Record, error) bool) {
		for _, rec := range s {
			if !yield(rec, nil) {
				return
			}
		}
	}, nil
}

func title(i int) interface{} { return fmt.Sprintf("Meme Number %d", i) }
