package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/step6836/CloudRAG/internal/domain"
	"github.com/step6836/CloudRAG/internal/port"
)

type chunkRow struct {
	index    int
	text     string
	position int
}

// MemoryStore is a DocumentStore held in process memory. Ids are never reused.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	docs   map[int64]domain.Document
	chunks map[int64][]chunkRow
	meta   map[string]domain.MetaValue
}

var _ port.DocumentStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		docs:   make(map[int64]domain.Document),
		chunks: make(map[int64][]chunkRow),
		meta:   make(map[string]domain.MetaValue),
	}
}

func (s *MemoryStore) InsertDocument(_ context.Context, nd domain.NewDocument) (int64, error) {
	if nd.Company == "" || nd.Quarter == "" || nd.FiscalYear == "" {
		return 0, fmt.Errorf("%w: company, quarter and fiscal year are required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.docs {
		if d.Company == nd.Company && d.Quarter == nd.Quarter && d.FiscalYear == nd.FiscalYear {
			delete(s.docs, id)
			delete(s.chunks, id)
		}
	}

	id := s.nextID
	s.nextID++
	s.docs[id] = domain.Document{
		ID:             id,
		Company:        nd.Company,
		Quarter:        nd.Quarter,
		FiscalYear:     nd.FiscalYear,
		RawText:        nd.Text,
		WordCount:      len(strings.Fields(nd.Text)),
		SourceURL:      nd.SourceURL,
		TranscriptDate: nd.TranscriptDate,
		CreatedAt:      time.Now().UTC(),
	}
	return id, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, company string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		if company != "" && !strings.EqualFold(d.Company, company) {
			continue
		}
		docs = append(docs, d)
	}
	sortDocuments(docs)
	return docs, nil
}

func (s *MemoryStore) Companies(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var companies []string
	for _, d := range s.docs {
		if !seen[d.Company] {
			seen[d.Company] = true
			companies = append(companies, d.Company)
		}
	}
	sort.Strings(companies)
	return companies, nil
}

func (s *MemoryStore) RecordChunkPositions(_ context.Context, documentID int64, texts []string, positions []int) error {
	if len(texts) != len(positions) {
		return fmt.Errorf("%w: %d chunk texts but %d positions", domain.ErrInvalidInput, len(texts), len(positions))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return fmt.Errorf("%w: transcript %d", domain.ErrNotFound, documentID)
	}
	rows := make([]chunkRow, len(texts))
	for i := range texts {
		rows[i] = chunkRow{index: i, text: texts[i], position: positions[i]}
	}
	s.chunks[documentID] = rows
	return nil
}

func (s *MemoryStore) MaxChunkPosition(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := -1
	for _, rows := range s.chunks {
		for _, r := range rows {
			if r.position > max {
				max = r.position
			}
		}
	}
	return max, nil
}

func (s *MemoryStore) AggregateStats(_ context.Context) (domain.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.StoreStats
	perCompany := make(map[string]*domain.CompanyStats)
	for _, d := range s.docs {
		stats.TotalDocuments++
		stats.TotalWords += d.WordCount
		cs, ok := perCompany[d.Company]
		if !ok {
			cs = &domain.CompanyStats{Company: d.Company}
			perCompany[d.Company] = cs
		}
		cs.TranscriptCount++
		cs.TotalWords += d.WordCount
	}
	for _, rows := range s.chunks {
		stats.TotalChunks += len(rows)
	}

	stats.TotalCompanies = len(perCompany)
	for _, cs := range perCompany {
		stats.PerCompany = append(stats.PerCompany, *cs)
	}
	sort.Slice(stats.PerCompany, func(i, j int) bool {
		return stats.PerCompany[i].Company < stats.PerCompany[j].Company
	})
	return stats, nil
}

func (s *MemoryStore) GetMeta(_ context.Context, key string) (domain.MetaValue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	return v, ok, nil
}

func (s *MemoryStore) SetMeta(_ context.Context, key string, value domain.MetaValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *MemoryStore) DeleteOldQuarters(_ context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep must be non-negative, got %d", domain.ErrInvalidInput, keep)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]domain.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sortDocuments(docs)

	deleted := 0
	kept := make(map[string]int)
	for _, d := range docs {
		if kept[d.Company] < keep {
			kept[d.Company]++
			continue
		}
		delete(s.docs, d.ID)
		delete(s.chunks, d.ID)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// sortDocuments orders by company ascending, then most recent quarter first.
func sortDocuments(docs []domain.Document) {
	sort.Slice(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if a.Company != b.Company {
			return a.Company < b.Company
		}
		if a.FiscalYear != b.FiscalYear {
			return a.FiscalYear > b.FiscalYear
		}
		return a.Quarter > b.Quarter
	})
}
