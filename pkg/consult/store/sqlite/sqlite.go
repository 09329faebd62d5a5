package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db        *sql.DB
	actionKey string
}

// OpenSQLite opens a SQLite database with WAL mode enabled. An empty
// actionKey selects kb.DefaultActionKey.
func OpenSQLite(ctx context.Context, path, actionKey string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Read-modify-write transactions must not interleave.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db, actionKey: store.ActionKey(actionKey)}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	num INTEGER NOT NULL,
	premise TEXT NOT NULL,
	conclusion TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS rules_num ON rules(num);

CREATE TABLE IF NOT EXISTS questions (
	fact TEXT PRIMARY KEY,
	text TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS consultations (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	state TEXT NOT NULL,
	answers TEXT,
	actions TEXT,
	applied TEXT
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// KnowledgeBase returns a snapshot of the stored rules and questions.
func (s *sqliteStore) KnowledgeBase(ctx context.Context) (*kb.KnowledgeBase, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rules, err := loadRules(ctx, tx)
	if err != nil {
		return nil, err
	}
	questions, err := loadQuestions(ctx, tx)
	if err != nil {
		return nil, err
	}
	return kb.New(rules, questions, kb.WithActionKey(s.actionKey))
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Rules returns every rule in evaluation order.
func (s *sqliteStore) Rules(ctx context.Context) ([]kb.Rule, error) {
	return loadRules(ctx, s.db)
}

func loadRules(ctx context.Context, q querier) ([]kb.Rule, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, premise, conclusion FROM rules ORDER BY num, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []kb.Rule
	for rows.Next() {
		var id, premise, conclusion string
		if err := rows.Scan(&id, &premise, &conclusion); err != nil {
			return nil, err
		}
		r, err := decodeRule(id, premise, conclusion)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func decodeRule(id, premise, conclusion string) (kb.Rule, error) {
	r := kb.Rule{ID: id}
	if err := json.Unmarshal([]byte(premise), &r.Premise); err != nil {
		return kb.Rule{}, fmt.Errorf("rule %s premise: %w", id, err)
	}
	if err := json.Unmarshal([]byte(conclusion), &r.Conclusion); err != nil {
		return kb.Rule{}, fmt.Errorf("rule %s conclusion: %w", id, err)
	}
	return r, nil
}

func encodeRule(r kb.Rule) (premise, conclusion string, err error) {
	p := r.Premise
	if p == nil {
		p = kb.Premise{}
	}
	pj, err := json.Marshal(p)
	if err != nil {
		return "", "", err
	}
	cj, err := json.Marshal(r.Conclusion)
	if err != nil {
		return "", "", err
	}
	return string(pj), string(cj), nil
}

// Rule returns a rule by ID.
func (s *sqliteStore) Rule(ctx context.Context, id string) (kb.Rule, error) {
	return loadRule(ctx, s.db, id)
}

func loadRule(ctx context.Context, q querier, id string) (kb.Rule, error) {
	var premise, conclusion string
	err := q.QueryRowContext(ctx, `SELECT premise, conclusion FROM rules WHERE id=?`, id).Scan(&premise, &conclusion)
	if errors.Is(err, sql.ErrNoRows) {
		return kb.Rule{}, fmt.Errorf("rule %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return kb.Rule{}, err
	}
	return decodeRule(id, premise, conclusion)
}

// PutRule inserts or replaces a rule, keyed by ID.
func (s *sqliteStore) PutRule(ctx context.Context, r kb.Rule) error {
	if err := store.ValidateRule(r, s.actionKey); err != nil {
		return err
	}
	return putRule(ctx, s.db, r)
}

func putRule(ctx context.Context, q querier, r kb.Rule) error {
	num, err := kb.ParseRuleID(r.ID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, internalerr.ErrInvalidInput)
	}
	premise, conclusion, err := encodeRule(r)
	if err != nil {
		return err
	}

	const stmt = `
INSERT INTO rules (id, num, premise, conclusion)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	num=excluded.num,
	premise=excluded.premise,
	conclusion=excluded.conclusion
`
	_, err = q.ExecContext(ctx, stmt, r.ID, num, premise, conclusion)
	return err
}

// AddBlankRule appends an empty rule after the last one and returns its ID.
func (s *sqliteStore) AddBlankRule(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var highest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(num) FROM rules`).Scan(&highest); err != nil {
		return "", err
	}
	id := fmt.Sprintf("%d", highest.Int64+1)
	if err := putRule(ctx, tx, store.BlankRule(id)); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

// DeleteRule removes a rule and reports whether it existed.
func (s *sqliteStore) DeleteRule(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MoveRuleUp swaps a rule with the one evaluated before it.
func (s *sqliteStore) MoveRuleUp(ctx context.Context, id string) error {
	return s.move(ctx, id, -1)
}

// MoveRuleDown swaps a rule with the one evaluated after it.
func (s *sqliteStore) MoveRuleDown(ctx context.Context, id string) error {
	return s.move(ctx, id, 1)
}

func (s *sqliteStore) move(ctx context.Context, id string, delta int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rules, err := loadRules(ctx, tx)
	if err != nil {
		return err
	}
	other, ok, err := store.Neighbor(rules, id, delta)
	if err != nil || !ok {
		return err
	}

	a, err := loadRule(ctx, tx, id)
	if err != nil {
		return err
	}
	b, err := loadRule(ctx, tx, other)
	if err != nil {
		return err
	}
	a, b = store.SwapBodies(a, b)
	if err := putRule(ctx, tx, a); err != nil {
		return err
	}
	if err := putRule(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

// Questions returns the question catalog.
func (s *sqliteStore) Questions(ctx context.Context) (map[string]string, error) {
	return loadQuestions(ctx, s.db)
}

func loadQuestions(ctx context.Context, q querier) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT fact, text FROM questions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var fact, text string
		if err := rows.Scan(&fact, &text); err != nil {
			return nil, err
		}
		out[fact] = text
	}
	return out, rows.Err()
}

// PutQuestion sets the question asked for fact.
func (s *sqliteStore) PutQuestion(ctx context.Context, fact, text string) error {
	if fact == "" {
		return fmt.Errorf("empty fact name: %w", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO questions (fact, text) VALUES (?, ?)
ON CONFLICT(fact) DO UPDATE SET text=excluded.text`, fact, text)
	return err
}

// DeleteFact removes a fact from the catalog. Facts still used by a rule
// and the action key cannot be deleted.
func (s *sqliteStore) DeleteFact(ctx context.Context, fact string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	rules, err := loadRules(ctx, tx)
	if err != nil {
		return false, err
	}
	if err := store.CheckDeletableFact(rules, fact, s.actionKey); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE fact=?`, fact)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

// SyncFacts adds an empty catalog entry for every fact a rule uses.
func (s *sqliteStore) SyncFacts(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rules, err := loadRules(ctx, tx)
	if err != nil {
		return err
	}
	questions, err := loadQuestions(ctx, tx)
	if err != nil {
		return err
	}
	for _, fact := range store.MissingFacts(rules, questions) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions (fact, text) VALUES (?, '')`, fact); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveConsultation records a consultation, replacing one with the same ID.
func (s *sqliteStore) SaveConsultation(ctx context.Context, c store.Consultation) error {
	if c.ID == "" {
		return fmt.Errorf("consultation without id: %w", internalerr.ErrInvalidInput)
	}
	answers, err := json.Marshal(c.Answers)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(c.Actions)
	if err != nil {
		return err
	}
	applied, err := json.Marshal(c.Applied)
	if err != nil {
		return err
	}

	var finished interface{}
	if !c.FinishedAt.IsZero() {
		finished = c.FinishedAt.UTC().Format(timeLayout)
	}

	const stmt = `
INSERT INTO consultations (id, started_at, finished_at, state, answers, actions, applied)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	started_at=excluded.started_at,
	finished_at=excluded.finished_at,
	state=excluded.state,
	answers=excluded.answers,
	actions=excluded.actions,
	applied=excluded.applied
`
	_, err = s.db.ExecContext(ctx, stmt,
		c.ID,
		c.StartedAt.UTC().Format(timeLayout),
		finished,
		c.State,
		string(answers),
		string(actions),
		string(applied),
	)
	return err
}

// Consultations returns the most recent consultations first.
func (s *sqliteStore) Consultations(ctx context.Context, limit int) ([]store.Consultation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, state, answers, actions, applied
FROM consultations
ORDER BY started_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Consultation
	for rows.Next() {
		var c store.Consultation
		var started string
		var finished, answers, actions, applied sql.NullString
		if err := rows.Scan(&c.ID, &started, &finished, &c.State, &answers, &actions, &applied); err != nil {
			return nil, err
		}
		if c.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("consultation %s: %w", c.ID, err)
		}
		if finished.Valid {
			if c.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, fmt.Errorf("consultation %s: %w", c.ID, err)
			}
		}
		if err := unmarshalColumn(answers, &c.Answers); err != nil {
			return nil, fmt.Errorf("consultation %s answers: %w", c.ID, err)
		}
		if err := unmarshalColumn(actions, &c.Actions); err != nil {
			return nil, fmt.Errorf("consultation %s actions: %w", c.ID, err)
		}
		if err := unmarshalColumn(applied, &c.Applied); err != nil {
			return nil, fmt.Errorf("consultation %s applied: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func unmarshalColumn(col sql.NullString, v interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), v)
}
