package inference

import (
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/kb"
)

// Session is one consultation over a knowledge base. It walks the rules
// once, in evaluation order, firing each rule whose premise holds and
// stopping at the first rule that needs a fact not yet supplied.
//
// Facts are never retracted: once a fact has a value, later answers for it
// are refused. An Unknown answer is remembered so the question is not
// asked again; any premise that needs that fact can no longer hold.
//
// A Session is not safe for concurrent use. The knowledge base it reads
// is never modified and may be shared.
type Session struct {
	base   *kb.KnowledgeBase
	rules  []kb.Rule
	logger *zap.Logger

	facts   map[string]kb.Value // only kb.True / kb.False
	unknown map[string]struct{}
	answers []Answer

	cursor  int
	applied []kb.Rule
	fired   map[string]struct{}
	actions []string

	state   State
	pending string
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used to trace rule evaluation.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// New starts a session over base in the Running state. A nil base is
// treated as empty. A knowledge base that failed validation is refused.
func New(base *kb.KnowledgeBase, opts ...Option) (*Session, error) {
	if base == nil {
		base = kb.Empty()
	}
	if !base.Valid() {
		return nil, fmt.Errorf("%w: %d validation issue(s)", internalerr.ErrInvalidKnowledgeBase, len(base.Issues()))
	}

	s := &Session{
		base:    base,
		rules:   base.Rules(),
		logger:  zap.NewNop(),
		facts:   make(map[string]kb.Value),
		unknown: make(map[string]struct{}),
		fired:   make(map[string]struct{}),
		state:   Running,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Replay starts a session and submits answers in order, reproducing the
// state of an earlier session that received the same answers.
func Replay(base *kb.KnowledgeBase, answers []Answer, opts ...Option) (*Session, error) {
	s, err := New(base, opts...)
	if err != nil {
		return nil, err
	}
	s.Step()
	for _, a := range answers {
		if err := s.SubmitFact(a.Fact, a.Value); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	return s, nil
}

// Step evaluates rules from the cursor until a rule needs a missing fact
// or the rules run out. It does nothing unless the session is Running.
func (s *Session) Step() State {
	if s.state != Running {
		return s.state
	}

	for s.cursor < len(s.rules) {
		r := s.rules[s.cursor]

		if fact, ok := s.conflict(r.Premise); ok {
			s.logger.Debug("rule skipped: conflicting fact",
				zap.String("rule", r.ID),
				zap.String("fact", fact))
			s.cursor++
			continue
		}

		if fact, ok := s.firstGap(r.Premise); ok {
			s.state = AwaitingFact
			s.pending = fact
			s.logger.Info("fact needed",
				zap.String("rule", r.ID),
				zap.String("fact", fact))
			return s.state
		}

		if _, dup := s.fired[r.Key()]; dup {
			s.logger.Debug("rule skipped: already applied", zap.String("rule", r.ID))
		} else {
			s.apply(r)
		}
		s.cursor++
	}

	s.state = Done
	s.logger.Info("consultation finished",
		zap.Int("applied", len(s.applied)),
		zap.Strings("actions", s.actions))
	return s.state
}

// conflict returns the first premise fact whose known value rules the
// premise out.
func (s *Session) conflict(p kb.Premise) (string, bool) {
	for _, l := range p {
		if _, unk := s.unknown[l.Fact]; unk {
			return l.Fact, true
		}
		if v, ok := s.facts[l.Fact]; ok && v != l.Value {
			return l.Fact, true
		}
	}
	return "", false
}

// firstGap returns the first premise fact, in premise order, with no value.
func (s *Session) firstGap(p kb.Premise) (string, bool) {
	for _, l := range p {
		if !s.known(l.Fact) {
			return l.Fact, true
		}
	}
	return "", false
}

func (s *Session) apply(r kb.Rule) {
	for _, l := range r.Conclusion.Assignments {
		s.facts[l.Fact] = l.Value
		delete(s.unknown, l.Fact)
	}
	if r.Conclusion.HasAction() {
		s.actions = append(s.actions, r.Conclusion.Action)
	}
	s.applied = append(s.applied, r.Clone())
	s.fired[r.Key()] = struct{}{}

	s.logger.Info("rule applied",
		zap.String("rule", r.ID),
		zap.Int("assignments", len(r.Conclusion.Assignments)),
		zap.String("action", r.Conclusion.Action))
}

func (s *Session) known(fact string) bool {
	if _, ok := s.facts[fact]; ok {
		return true
	}
	_, ok := s.unknown[fact]
	return ok
}

// SubmitFact answers the pending question and resumes evaluation from the
// rule that asked it. v may be kb.True, kb.False or kb.Unknown.
//
// The call is refused with a *ProtocolError, leaving the session as it
// was, when no question is pending, when fact already has a value, when
// fact is not the pending one, or when v is not a valid answer.
func (s *Session) SubmitFact(fact string, v kb.Value) error {
	perr := &ProtocolError{Fact: fact, State: s.state, Pending: s.pending}
	switch {
	case s.state != AwaitingFact:
		perr.Reason = "no question is pending"
	case s.known(fact):
		perr.Reason = "fact already has a value"
	case fact != s.pending:
		perr.Reason = "answer does not match the pending question"
	case !v.IsBool() && v != kb.Unknown:
		perr.Reason = fmt.Sprintf("invalid value %s", v)
	default:
		perr = nil
	}
	if perr != nil {
		s.logger.Warn("answer refused", zap.Error(perr))
		return perr
	}

	if v == kb.Unknown {
		s.unknown[fact] = struct{}{}
	} else {
		s.facts[fact] = v
	}
	s.answers = append(s.answers, Answer{Fact: fact, Value: v})
	s.logger.Info("answer received", zap.String("fact", fact), zap.Stringer("value", v))

	s.state = Running
	s.pending = ""
	s.Step()
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// PendingQuestion returns the question the session is waiting on.
func (s *Session) PendingQuestion() (Question, bool) {
	if s.state != AwaitingFact {
		return Question{}, false
	}
	return Question{Fact: s.pending, Text: s.base.Question(s.pending)}, true
}

// Actions returns the actions collected so far, in firing order.
func (s *Session) Actions() []string {
	return slices.Clone(s.actions)
}

// AppliedRules returns the rules applied so far, in firing order. Rules
// that share a premise/conclusion pair with an earlier one are not listed.
func (s *Session) AppliedRules() []kb.Rule {
	out := make([]kb.Rule, len(s.applied))
	for i, r := range s.applied {
		out[i] = r.Clone()
	}
	return out
}

// Answers returns the answers submitted so far, in order.
func (s *Session) Answers() []Answer {
	return slices.Clone(s.answers)
}

// Facts returns every fact with a value, including kb.Unknown for facts
// answered as unknown.
func (s *Session) Facts() map[string]kb.Value {
	out := maps.Clone(s.facts)
	for fact := range s.unknown {
		out[fact] = kb.Unknown
	}
	return out
}

// Value returns the value of fact and whether it has one.
func (s *Session) Value(fact string) (kb.Value, bool) {
	if v, ok := s.facts[fact]; ok {
		return v, true
	}
	if _, ok := s.unknown[fact]; ok {
		return kb.Unknown, true
	}
	return 0, false
}

// KnowledgeBase returns the knowledge base the session reads.
func (s *Session) KnowledgeBase() *kb.KnowledgeBase {
	return s.base
}
