package consult

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/kb"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
)

// Consultant is the main facade: it starts consultations over the
// knowledge base held in a store and records their outcome.
type Consultant struct {
	store  store.Store
	logger *zap.Logger

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Options configures a Consultant
type Options struct {
	// Store holds the knowledge base and consultation history. When nil,
	// an empty in-memory store keyed by ActionKey is used.
	Store     store.Store
	Logger    *zap.Logger
	ActionKey string
}

// New creates a Consultant with the given dependencies
func New(opts Options) *Consultant {
	st := opts.Store
	if st == nil {
		st = memstore.New(opts.ActionKey)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consultant{
		store:   st,
		logger:  logger,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Store returns the underlying store.
func (c *Consultant) Store() store.Store {
	return c.store
}

// Close cleanly shuts down the Consultant
func (c *Consultant) Close() error {
	return c.store.Close()
}

// Consultation is one running session together with its identity.
type Consultation struct {
	ID        string
	StartedAt time.Time
	Session   *inference.Session
}

func (c *Consultant) newID(t time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), c.entropy).String()
}

// Begin snapshots the knowledge base and starts a session over it. The
// session has already been stepped, so it is either waiting for its first
// answer or done.
func (c *Consultant) Begin(ctx context.Context) (*Consultation, error) {
	k, err := c.store.KnowledgeBase(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	return c.start(k, nil)
}

// Resume rebuilds a consultation from its recorded answers against the
// current knowledge base.
func (c *Consultant) Resume(ctx context.Context, rec store.Consultation) (*Consultation, error) {
	k, err := c.store.KnowledgeBase(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}
	answers := make([]inference.Answer, len(rec.Answers))
	for i, a := range rec.Answers {
		answers[i] = inference.Answer{Fact: a.Fact, Value: a.Value}
	}
	cons, err := c.start(k, answers)
	if err != nil {
		return nil, err
	}
	cons.ID = rec.ID
	cons.StartedAt = rec.StartedAt
	return cons, nil
}

func (c *Consultant) start(k *kb.KnowledgeBase, answers []inference.Answer) (*Consultation, error) {
	started := c.now()
	id := c.newID(started)
	logger := c.logger.With(zap.String("consultation", id))

	var (
		s   *inference.Session
		err error
	)
	if answers == nil {
		s, err = inference.New(k, inference.WithLogger(logger))
		if err == nil {
			s.Step()
		}
	} else {
		s, err = inference.Replay(k, answers, inference.WithLogger(logger))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("consultation started",
		zap.Int("rules", k.Len()),
		zap.Stringer("state", s.State()))
	return &Consultation{ID: id, StartedAt: started, Session: s}, nil
}

// Question returns the question the consultation is waiting on, with the
// catalog text or the fact name when the catalog has none.
func (c *Consultant) Question(cons *Consultation) (inference.Question, bool) {
	return cons.Session.PendingQuestion()
}

// Answer submits the value of the pending fact and advances the session.
func (c *Consultant) Answer(ctx context.Context, cons *Consultation, fact string, v kb.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return cons.Session.SubmitFact(fact, v)
}

// Run answers every question from src until the consultation is done.
func (c *Consultant) Run(ctx context.Context, cons *Consultation, src inference.FactSource) error {
	return inference.Drive(ctx, cons.Session, src)
}

// Finish records the consultation in the store. It may be called before
// the session is done to save a partial transcript; saving again replaces
// the earlier record.
func (c *Consultant) Finish(ctx context.Context, cons *Consultation) (store.Consultation, error) {
	rec := Record(cons)
	if cons.Session.State() == inference.Done {
		rec.FinishedAt = c.now()
	}
	if err := c.store.SaveConsultation(ctx, rec); err != nil {
		return store.Consultation{}, fmt.Errorf("save consultation %s: %w", cons.ID, err)
	}
	c.logger.Info("consultation saved",
		zap.String("consultation", cons.ID),
		zap.String("state", rec.State),
		zap.Strings("actions", rec.Actions))
	return rec, nil
}

// Record converts a consultation into its stored form.
func Record(cons *Consultation) store.Consultation {
	s := cons.Session
	answers := s.Answers()
	rec := store.Consultation{
		ID:        cons.ID,
		StartedAt: cons.StartedAt,
		State:     s.State().String(),
		Answers:   make([]store.Answer, len(answers)),
		Actions:   s.Actions(),
	}
	for i, a := range answers {
		rec.Answers[i] = store.Answer{Fact: a.Fact, Value: a.Value}
	}
	for _, r := range s.AppliedRules() {
		rec.Applied = append(rec.Applied, r.ID)
	}
	return rec
}

// History returns the most recent consultations first.
func (c *Consultant) History(ctx context.Context, limit int) ([]store.Consultation, error) {
	return c.store.Consultations(ctx, limit)
}
