// Package filestore keeps a knowledge base in a single JSON document on
// disk and consultation history in a JSON-lines file next to it.
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
)

// Store serves reads from memory and rewrites the document after every
// change.
type Store struct {
	*memstore.Store

	path        string
	historyPath string
	mu          sync.Mutex // serializes writes to disk
}

// Open loads the document at path. A missing file starts an empty store
// that is created on the first change. A document that cannot be parsed
// or fails validation is refused so that it is never overwritten.
func Open(ctx context.Context, path, actionKey string) (*Store, error) {
	mem := memstore.New(actionKey)
	s := &Store{
		Store:       mem,
		path:        path,
		historyPath: path + ".history.jsonl",
	}

	k, err := kb.ReadFile(path, kb.WithActionKey(mem.ActionKey()))
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := store.Import(ctx, mem, k); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return s, nil
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

func (s *Store) save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.Store.Rules(ctx)
	if err != nil {
		return err
	}
	questions, err := s.Store.Questions(ctx)
	if err != nil {
		return err
	}
	// Every stored rule passed validation on the way in.
	k, _ := kb.New(rules, questions, kb.WithActionKey(s.ActionKey()))

	var buf bytes.Buffer
	if err := kb.Encode(&buf, k); err != nil {
		return fmt.Errorf("encode %s: %w", s.path, err)
	}
	return writeFileAtomic(s.path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// PutRule implements store.Store.
func (s *Store) PutRule(ctx context.Context, r kb.Rule) error {
	if err := s.Store.PutRule(ctx, r); err != nil {
		return err
	}
	return s.save(ctx)
}

// AddBlankRule implements store.Store.
func (s *Store) AddBlankRule(ctx context.Context) (string, error) {
	id, err := s.Store.AddBlankRule(ctx)
	if err != nil {
		return "", err
	}
	return id, s.save(ctx)
}

// DeleteRule implements store.Store.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	ok, err := s.Store.DeleteRule(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.save(ctx)
}

// MoveRuleUp implements store.Store.
func (s *Store) MoveRuleUp(ctx context.Context, id string) error {
	if err := s.Store.MoveRuleUp(ctx, id); err != nil {
		return err
	}
	return s.save(ctx)
}

// MoveRuleDown implements store.Store.
func (s *Store) MoveRuleDown(ctx context.Context, id string) error {
	if err := s.Store.MoveRuleDown(ctx, id); err != nil {
		return err
	}
	return s.save(ctx)
}

// PutQuestion implements store.Store.
func (s *Store) PutQuestion(ctx context.Context, fact, text string) error {
	if err := s.Store.PutQuestion(ctx, fact, text); err != nil {
		return err
	}
	return s.save(ctx)
}

// DeleteFact implements store.Store.
func (s *Store) DeleteFact(ctx context.Context, fact string) (bool, error) {
	ok, err := s.Store.DeleteFact(ctx, fact)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.save(ctx)
}

// SyncFacts implements store.Store.
func (s *Store) SyncFacts(ctx context.Context) error {
	if err := s.Store.SyncFacts(ctx); err != nil {
		return err
	}
	return s.save(ctx)
}

type historyRecord struct {
	ID         string         `json:"id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	State      string         `json:"state"`
	Answers    []store.Answer `json:"answers"`
	Actions    []string       `json:"actions"`
	Applied    []string       `json:"applied"`
}

// SaveConsultation appends the consultation to the history file.
func (s *Store) SaveConsultation(ctx context.Context, c store.Consultation) error {
	if err := s.Store.SaveConsultation(ctx, c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(historyRecord{
		ID:         c.ID,
		StartedAt:  c.StartedAt.UTC(),
		FinishedAt: c.FinishedAt.UTC(),
		State:      c.State,
		Answers:    c.Answers,
		Actions:    c.Actions,
		Applied:    c.Applied,
	})
}

// Consultations reads the history file, newest first. A later record for
// the same ID replaces an earlier one.
func (s *Store) Consultations(ctx context.Context, limit int) ([]store.Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := make(map[string]int)
	var out []store.Consultation
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec historyRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.historyPath, lineNum, err)
		}
		c := store.Consultation{
			ID:         rec.ID,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
			State:      rec.State,
			Answers:    rec.Answers,
			Actions:    rec.Actions,
			Applied:    rec.Applied,
		}
		if i, ok := byID[c.ID]; ok {
			out[i] = c
			continue
		}
		byID[c.ID] = len(out)
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return store.Recent(out, limit), nil
}
