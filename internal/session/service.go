// Package session implements the interview session state machine: a
// fixed question list, a one-second countdown per question, pause and
// resume, and auto-submission of a placeholder answer on timeout.
//
// The countdown ticker and a manual answer submission are the only two
// triggers that mutate a running session. They are serialized through a
// per-session mutex plus an in-flight flag held for the duration of
// scoring and advancing, so at most one advance happens per question.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
	"github.com/crispai/crisp/internal/event"
	"github.com/crispai/crisp/internal/oracle"
)

// NoAnswer is recorded verbatim when the countdown expires. The
// auto-submit path must be indistinguishable from a manual submit of
// this literal.
const NoAnswer = "[No answer provided]"

const tickInterval = time.Second

// lastResortSummary is stored if even the fallback summarizer errors.
const lastResortSummary = "Interview completed."

// State is the serializable snapshot of one session. Invariants:
// len(Answers) == len(Scores) == len(Questions), 0 <= CurrentIndex <=
// len(Questions), Completed implies CurrentIndex == len(Questions).
type State struct {
	CandidateID      string            `json:"candidate_id"`
	CandidateName    string            `json:"candidate_name"`
	Questions        []domain.Question `json:"questions"`
	CurrentIndex     int               `json:"current_index"`
	Answers          []string          `json:"answers"`
	Scores           []int             `json:"scores"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Paused           bool              `json:"paused"`
	Started          bool              `json:"started"`
	Completed        bool              `json:"completed"`
	PausedAt         *time.Time        `json:"paused_at,omitempty"`
}

type interview struct {
	mu    sync.Mutex
	state State

	// inFlight is true from the moment a submission (manual or
	// timer-forced) starts scoring until its advance completes. Ticks
	// are dropped and further submissions rejected while set.
	inFlight bool

	ticker   Ticker
	stop     chan struct{}
	stopOnce sync.Once
}

// halt stops the countdown. Safe to call more than once and with iv.mu held.
func (iv *interview) halt() {
	iv.stopOnce.Do(func() {
		iv.ticker.Stop()
		close(iv.stop)
	})
}

type Config struct {
	EventBus   *event.Bus
	Questions  oracle.Questions
	Scorer     oracle.Scorer
	Summarizer oracle.Summarizer

	// NewTickerFunc is the countdown source, defaults to time.NewTicker.
	NewTickerFunc func(d time.Duration) Ticker

	// OnChange is called after every state mutation so the caller can
	// persist a snapshot.
	OnChange func(ctx context.Context)

	// Sessions rehydrates previously persisted sessions. Unfinished
	// sessions restart their current question with the full time limit.
	Sessions map[string]State
}

type Service struct {
	eb         *event.Bus
	questions  oracle.Questions
	scorer     oracle.Scorer
	summarizer oracle.Summarizer
	newTicker  func(d time.Duration) Ticker
	onChange   func(ctx context.Context)

	mu       sync.Mutex
	sessions map[string]*interview
}

func NewService(c Config) *Service {
	s := &Service{
		eb:         c.EventBus,
		questions:  c.Questions,
		scorer:     c.Scorer,
		summarizer: c.Summarizer,
		newTicker:  c.NewTickerFunc,
		onChange:   c.OnChange,
		sessions:   make(map[string]*interview),
	}

	if s.newTicker == nil {
		s.newTicker = newTicker
	}

	for id, st := range c.Sessions {
		s.rehydrate(id, st)
	}

	return s
}

// rehydrate restores a persisted session. The exact remaining countdown
// at crash time is not replayed: the current question restarts with its
// full time limit.
func (s *Service) rehydrate(id string, st State) {
	if !st.Started || st.Completed {
		return
	}

	if st.CurrentIndex < len(st.Questions) {
		st.RemainingSeconds = st.Questions[st.CurrentIndex].TimeLimitSeconds
	}

	iv := s.newInterview(st)
	s.sessions[id] = iv
	go s.runTicker(iv)
}

func (s *Service) newInterview(st State) *interview {
	return &interview{
		state:  st,
		stop:   make(chan struct{}),
		ticker: s.newTicker(tickInterval),
	}
}

type StartRequest struct {
	CandidateID string
	Profile     domain.Profile

	// Questions overrides the question source when non-empty.
	Questions []domain.Question
}

// Start fixes the question list for the candidate's session and begins
// the countdown on the first question.
func (s *Service) Start(ctx context.Context, req StartRequest) (*State, error) {
	if req.CandidateID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("candidate id is required"))
	}

	questions := req.Questions
	if len(questions) == 0 {
		var err error
		questions, err = s.questions.GenerateQuestions(ctx, req.Profile)
		if err != nil {
			return nil, err
		}
	}

	if len(questions) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question list is empty"))
	}

	n := len(questions)
	state := State{
		CandidateID:      req.CandidateID,
		CandidateName:    req.Profile.Name,
		Questions:        questions,
		CurrentIndex:     0,
		Answers:          make([]string, n),
		Scores:           make([]int, n),
		RemainingSeconds: questions[0].TimeLimitSeconds,
		Started:          true,
	}

	iv := s.newInterview(state)

	s.mu.Lock()
	if existing, ok := s.sessions[req.CandidateID]; ok {
		existing.mu.Lock()
		completed := existing.state.Completed
		existing.mu.Unlock()

		if !completed {
			s.mu.Unlock()
			iv.halt()
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("an interview is already running for candidate %s", req.CandidateID))
		}

		existing.halt()
	}
	s.sessions[req.CandidateID] = iv
	s.mu.Unlock()

	go s.runTicker(iv)
	s.persist(ctx)

	snapshot := iv.snapshot()
	return &snapshot, nil
}

type SubmitAnswerRequest struct {
	CandidateID string
	Answer      string
}

type SubmitAnswerResponse struct {
	Score   int
	Session State
}

// SubmitAnswer records and scores the answer for the current question,
// then advances. Fails with CodeFailedPrecondition when the session is
// paused, finished, or another submission is still being scored.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	iv, err := s.lookup(req.CandidateID)
	if err != nil {
		return nil, err
	}

	iv.mu.Lock()
	if err := iv.acceptSubmission(); err != nil {
		iv.mu.Unlock()
		return nil, err
	}

	idx := iv.state.CurrentIndex
	q := iv.state.Questions[idx]
	iv.inFlight = true
	iv.mu.Unlock()

	score := s.score(ctx, q, req.Answer)

	completed := s.record(iv, idx, req.Answer, score)
	s.persist(ctx)
	if completed {
		s.finalize(ctx, iv)
	}

	resp := &SubmitAnswerResponse{
		Score:   score,
		Session: iv.snapshot(),
	}

	return resp, nil
}

func (iv *interview) acceptSubmission() error {
	st := &iv.state
	switch {
	case !st.Started || st.Completed || st.CurrentIndex >= len(st.Questions):
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not accepting answers"))
	case st.Paused:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is paused"))
	case iv.inFlight:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("an answer for this question is already being scored"))
	}

	return nil
}

// score consults the scoring oracle. Empty and whitespace-only answers
// are 0 without any oracle call; oracle output is clamped to [0, 100].
func (s *Service) score(ctx context.Context, q domain.Question, answer string) int {
	if strings.TrimSpace(answer) == "" {
		return 0
	}

	raw, err := s.scorer.ScoreAnswer(ctx, q.Text, answer, q.Difficulty)
	if err != nil {
		// The scorer is expected to carry its own fallback, so this
		// is the path of last resort.
		slog.ErrorContext(ctx, "session: scoring failed", "error", err)
		return 0
	}

	return oracle.Clamp(raw)
}

// record writes the answer and score at idx and advances the session.
// Returns true when the final question was just answered.
func (s *Service) record(iv *interview, idx int, answer string, score int) bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	st := &iv.state
	st.Answers[idx] = answer
	st.Scores[idx] = score
	iv.inFlight = false

	if idx+1 < len(st.Questions) {
		st.CurrentIndex = idx + 1
		st.RemainingSeconds = st.Questions[st.CurrentIndex].TimeLimitSeconds
		return false
	}

	st.CurrentIndex = len(st.Questions)
	st.Completed = true
	iv.halt()
	return true
}

// finalize computes the final score, obtains a summary and hands a copy
// of the outcome to the registry via the event bus.
func (s *Service) finalize(ctx context.Context, iv *interview) {
	st := iv.snapshot()

	final := int(oracle.MeanScore(st.Scores).Round(0).IntPart())

	summary, err := s.summarizer.Summarize(ctx, st.CandidateName, st.Scores)
	if err != nil {
		slog.ErrorContext(ctx, "session: summarize failed", "error", err)
		summary = lastResortSummary
	}

	outcome := domain.Outcome{
		CandidateID: st.CandidateID,
		FinalScore:  final,
		Summary:     summary,
		Answers:     append([]string(nil), st.Answers...),
		Scores:      append([]int(nil), st.Scores...),
		Questions:   append([]domain.Question(nil), st.Questions...),
		CompletedAt: time.Now().UTC(),
	}

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventSessionCompleted{Outcome: outcome})
	}
}

type PauseRequest struct {
	CandidateID string
}

// Pause freezes the countdown and blocks submissions. Pausing an
// already paused session only refreshes the pause timestamp.
func (s *Service) Pause(ctx context.Context, req PauseRequest) (*State, error) {
	iv, err := s.lookup(req.CandidateID)
	if err != nil {
		return nil, err
	}

	iv.mu.Lock()
	if !iv.state.Started || iv.state.Completed {
		iv.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not running"))
	}

	now := time.Now().UTC()
	iv.state.Paused = true
	iv.state.PausedAt = &now
	snapshot := iv.state.clone()
	iv.mu.Unlock()

	s.persist(ctx)
	return &snapshot, nil
}

type ResumeRequest struct {
	CandidateID string
}

// Resume unfreezes the countdown. The remaining seconds continue from
// the frozen value, they are not reset to the question's full limit.
func (s *Service) Resume(ctx context.Context, req ResumeRequest) (*State, error) {
	iv, err := s.lookup(req.CandidateID)
	if err != nil {
		return nil, err
	}

	iv.mu.Lock()
	if !iv.state.Paused {
		iv.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is not paused"))
	}

	iv.state.Paused = false
	iv.state.PausedAt = nil
	snapshot := iv.state.clone()
	iv.mu.Unlock()

	s.persist(ctx)
	return &snapshot, nil
}

type ResetRequest struct {
	CandidateID string
}

// Reset discards the candidate's session, in-flight state included.
// Always succeeds.
func (s *Service) Reset(ctx context.Context, req ResetRequest) error {
	s.mu.Lock()
	iv, ok := s.sessions[req.CandidateID]
	if ok {
		delete(s.sessions, req.CandidateID)
	}
	s.mu.Unlock()

	if ok {
		iv.halt()
	}

	s.persist(ctx)
	return nil
}

type GetRequest struct {
	CandidateID string
}

// Get returns a copy of the session state.
func (s *Service) Get(_ context.Context, req GetRequest) (*State, error) {
	iv, err := s.lookup(req.CandidateID)
	if err != nil {
		return nil, err
	}

	snapshot := iv.snapshot()
	return &snapshot, nil
}

// Dump returns the serializable state of every session, for persistence.
func (s *Service) Dump() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.sessions))
	for id, iv := range s.sessions {
		out[id] = iv.snapshot()
	}

	return out
}

// Stop halts every countdown. Sessions stay in memory so a final Dump
// still sees them.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, iv := range s.sessions {
		iv.halt()
	}
}

func (s *Service) lookup(candidateID string) (*interview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv, ok := s.sessions[candidateID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no session for candidate %s", candidateID))
	}

	return iv, nil
}

func (s *Service) runTicker(iv *interview) {
	for {
		select {
		case <-iv.stop:
			return
		case <-iv.ticker.C():
			s.tick(context.Background(), iv)
		}
	}
}

// tick decrements the countdown by one second. A tick landing while a
// submission is in flight, while paused, or after completion is ignored.
// Reaching zero forces a submission of the NoAnswer placeholder.
func (s *Service) tick(ctx context.Context, iv *interview) {
	iv.mu.Lock()

	st := &iv.state
	if !st.Started || st.Completed || st.Paused || iv.inFlight ||
		st.CurrentIndex >= len(st.Questions) {
		iv.mu.Unlock()
		return
	}

	if st.RemainingSeconds > 0 {
		st.RemainingSeconds--
	}

	if st.RemainingSeconds > 0 {
		iv.mu.Unlock()
		s.persist(ctx)
		return
	}

	idx := st.CurrentIndex
	q := st.Questions[idx]
	iv.inFlight = true
	iv.mu.Unlock()

	score := s.score(ctx, q, NoAnswer)

	completed := s.record(iv, idx, NoAnswer, score)
	s.persist(ctx)
	if completed {
		s.finalize(ctx, iv)
	}
}

func (s *Service) persist(ctx context.Context) {
	if s.onChange != nil {
		s.onChange(ctx)
	}
}

func (iv *interview) snapshot() State {
	iv.mu.Lock()
	defer iv.mu.Unlock()

	return iv.state.clone()
}

func (st State) clone() State {
	c := st
	c.Questions = append([]domain.Question(nil), st.Questions...)
	c.Answers = append([]string(nil), st.Answers...)
	c.Scores = append([]int(nil), st.Scores...)
	if st.PausedAt != nil {
		t := *st.PausedAt
		c.PausedAt = &t
	}

	return c
}
