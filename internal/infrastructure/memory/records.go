// Package memory provides an in-process VerificationRecord store for local
// development and tests. It is not shared between processes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-mail-verifier/internal/domain"
)

// RecordStore keeps one current record per address plus secondary indexes.
// The mutex guards map updates only and is never held across I/O.
type RecordStore struct {
	mu        sync.Mutex
	byAddress map[string]*domain.VerificationRecord
	byID      map[string]string // record id -> address
	byMessage map[string]string // probe message id -> address
}

func NewRecordStore() *RecordStore {
	return &RecordStore{
		byAddress: make(map[string]*domain.VerificationRecord),
		byID:      make(map[string]string),
		byMessage: make(map[string]string),
	}
}

func (s *RecordStore) Reserve(_ context.Context, rec *domain.VerificationRecord, supersede bool) (*domain.VerificationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byAddress[rec.Address]; ok {
		if cur.IsPending() || !supersede {
			return clone(cur), false, nil
		}
		s.unindex(cur)
	}
	stored := clone(rec)
	s.byAddress[rec.Address] = stored
	s.byID[rec.ID] = rec.Address
	if rec.ProbeMessageID != "" {
		s.byMessage[rec.ProbeMessageID] = rec.Address
	}
	return clone(stored), true, nil
}

func (s *RecordStore) AttachProbe(_ context.Context, address, recordID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byAddress[address]
	if !ok || cur.ID != recordID || !cur.IsPending() {
		return fmt.Errorf("pending record %s for %s: %w", recordID, address, domain.ErrNotFound)
	}
	cur.ProbeMessageID = messageID
	s.byMessage[messageID] = address
	return nil
}

func (s *RecordStore) Release(_ context.Context, address, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byAddress[address]
	if !ok || cur.ID != recordID || cur.ProbeMessageID != "" {
		return nil
	}
	s.unindex(cur)
	delete(s.byAddress, address)
	return nil
}

func (s *RecordStore) Resolve(_ context.Context, address, recordID string, res domain.Resolution) (*domain.VerificationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byAddress[address]
	if !ok || cur.ID != recordID {
		return nil, false, fmt.Errorf("record %s for %s: %w", recordID, address, domain.ErrNotFound)
	}
	if !cur.Apply(res) {
		return clone(cur), false, nil
	}
	return clone(cur), true, nil
}

func (s *RecordStore) Get(_ context.Context, address string) (*domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(address)
}

func (s *RecordStore) GetByID(_ context.Context, recordID string) (*domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byID[recordID])
}

func (s *RecordStore) GetByProbeMessageID(_ context.Context, messageID string) (*domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byMessage[messageID])
}

// ListPending returns pending records created before cutoff, oldest first.
func (s *RecordStore) ListPending(_ context.Context, createdBefore time.Time) ([]domain.VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.VerificationRecord
	for _, r := range s.byAddress {
		if r.IsPending() && r.CreatedAt.Before(createdBefore) {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RecordStore) lookup(address string) (*domain.VerificationRecord, error) {
	r, ok := s.byAddress[address]
	if address == "" || !ok {
		return nil, fmt.Errorf("verification record: %w", domain.ErrNotFound)
	}
	return clone(r), nil
}

func (s *RecordStore) unindex(r *domain.VerificationRecord) {
	delete(s.byID, r.ID)
	if r.ProbeMessageID != "" {
		delete(s.byMessage, r.ProbeMessageID)
	}
}

func clone(r *domain.VerificationRecord) *domain.VerificationRecord {
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
