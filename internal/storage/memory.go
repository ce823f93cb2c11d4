/**
 * In-memory Store, used by tests and single-node deployments that do not
 * need durable job history.
 */

package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in maps behind one mutex. Returned records are
// copies so callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]*DocumentRecord
	pages   map[string]map[int]*PageRecord
	logs    map[string][]LogRecord
	sources map[string][]byte
	results map[string]resultBlob
}

type resultBlob struct {
	data []byte
	mime string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]*DocumentRecord),
		pages:   make(map[string]map[int]*PageRecord),
		logs:    make(map[string][]LogRecord),
		sources: make(map[string][]byte),
		results: make(map[string]resultBlob),
	}
}

func (m *MemoryStore) CreateDocument(_ context.Context, rec *DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.docs[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, update *DocumentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[update.ID]
	if !ok {
		return ErrNotFound
	}
	if update.Status != "" {
		doc.Status = update.Status
	}
	if update.Progress > doc.Progress {
		doc.Progress = update.Progress
	}
	if update.PageCount != 0 {
		doc.PageCount = update.PageCount
	}
	if update.ErrorCode != "" {
		doc.ErrorCode = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		doc.ErrorMessage = update.ErrorMessage
	}
	if update.ProcessingTimeMs != 0 {
		doc.ProcessingTimeMs = update.ProcessingTimeMs
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id string) (*DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *MemoryStore) UpsertPage(_ context.Context, rec *PageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.pages[rec.DocumentID]
	if !ok {
		byIndex = make(map[int]*PageRecord)
		m.pages[rec.DocumentID] = byIndex
	}
	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	if prev, ok := byIndex[rec.PageIndex]; ok {
		if prev.RegionCount > cp.RegionCount {
			cp.RegionCount = prev.RegionCount
		}
		if prev.TranslatedCount > cp.TranslatedCount {
			cp.TranslatedCount = prev.TranslatedCount
		}
		if cp.ErrorCode == "" {
			cp.ErrorCode = prev.ErrorCode
		}
		if cp.ErrorMessage == "" {
			cp.ErrorMessage = prev.ErrorMessage
		}
	}
	byIndex[rec.PageIndex] = &cp
	return nil
}

func (m *MemoryStore) ListPages(_ context.Context, documentID string) ([]PageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex := m.pages[documentID]
	out := make([]PageRecord, 0, len(byIndex))
	for _, rec := range byIndex {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out, nil
}

func (m *MemoryStore) AppendLog(_ context.Context, rec *LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[rec.DocumentID] = append(m.logs[rec.DocumentID], *rec)
	return nil
}

func (m *MemoryStore) ListLog(_ context.Context, documentID string) ([]LogRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[documentID]
	out := make([]LogRecord, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) PutSource(_ context.Context, documentID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.sources[documentID] = cp
	return nil
}

func (m *MemoryStore) GetSource(_ context.Context, documentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sources[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (m *MemoryStore) PutResult(_ context.Context, documentID string, data []byte, mimeType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.results[documentID] = resultBlob{data: cp, mime: mimeType}
	return nil
}

func (m *MemoryStore) GetResult(_ context.Context, documentID string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.results[documentID]
	if !ok {
		return nil, "", ErrNotFound
	}
	cp := make([]byte, len(blob.data))
	copy(cp, blob.data)
	return cp, blob.mime, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
