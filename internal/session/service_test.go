package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
	"github.com/crispai/crisp/internal/event"
	"github.com/crispai/crisp/internal/session"
)

func TestService_Start(t *testing.T) {
	type (
		inputs struct {
			req session.StartRequest
		}

		outputs struct {
			state *session.State
			err   error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should initialize answers and scores aligned with the question list": {
			arrange: func() inputs {
				return inputs{
					req: session.StartRequest{
						CandidateID: "c1",
						Profile:     domain.Profile{Name: "Jane Doe"},
						Questions:   twoQuestions(),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Len(t, out.state.Questions, 2)
				require.Len(t, out.state.Answers, 2)
				require.Len(t, out.state.Scores, 2)
				require.Equal(t, 0, out.state.CurrentIndex)
				require.Equal(t, 20, out.state.RemainingSeconds, "countdown should start at the first question's limit")
				require.True(t, out.state.Started)
				require.False(t, out.state.Completed)
			},
		},

		"should use the question oracle when no questions are given": {
			arrange: func() inputs {
				return inputs{
					req: session.StartRequest{CandidateID: "c1"},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.err)
				require.Len(t, out.state.Questions, 2, "should take the oracle's question list")
			},
		},

		"should reject a start without a candidate id": {
			arrange: func() inputs {
				return inputs{
					req: session.StartRequest{Questions: twoQuestions()},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.True(t, errors.Is(out.err, errors.CodeInvalidArgument))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()

			s, _ := makeService(t)
			defer s.Stop()

			state, err := s.Start(context.Background(), in.req)
			tt.assert(t, outputs{state: state, err: err})
		})
	}
}

func TestService_Start_RejectsSecondRunningSession(t *testing.T) {
	t.Parallel()

	s, _ := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	_, err = s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.True(t, errors.Is(err, errors.CodeAlreadyExists))
}

func TestService_SubmitAnswer(t *testing.T) {
	t.Parallel()

	eb := event.NewBus()

	var (
		mu        sync.Mutex
		completed []domain.EventSessionCompleted
	)
	eb.Subscribe(domain.EventNameSessionCompleted, func(_ context.Context, e event.Event) error {
		mu.Lock()
		completed = append(completed, e.(domain.EventSessionCompleted))
		mu.Unlock()
		return nil
	})

	s, _ := makeService(t, withEventBus(eb))
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Profile:     domain.Profile{Name: "Jane Doe"},
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	resp, err := s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "first answer",
	})
	require.NoError(t, err)
	require.Equal(t, 42, resp.Score)
	require.Equal(t, 1, resp.Session.CurrentIndex)
	require.Equal(t, 60, resp.Session.RemainingSeconds, "countdown should reset to the next question's limit")
	require.False(t, resp.Session.Completed)

	resp, err = s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "second answer",
	})
	require.NoError(t, err)
	require.True(t, resp.Session.Completed)
	require.Equal(t, 2, resp.Session.CurrentIndex)
	require.Equal(t, []string{"first answer", "second answer"}, resp.Session.Answers)

	_, err = s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "too late",
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	eb.Stop()

	require.Len(t, completed, 1)
	outcome := completed[0].Outcome
	require.Equal(t, "c1", outcome.CandidateID)
	require.Equal(t, 42, outcome.FinalScore, "final score should be the mean of per-question scores")
	require.NotEmpty(t, outcome.Summary)
	require.Len(t, outcome.Answers, 2)
}

func TestService_SubmitAnswer_BlankAnswerScoresZero(t *testing.T) {
	t.Parallel()

	s, _ := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	resp, err := s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "   \n\t",
	})
	require.NoError(t, err)
	require.Equal(t, 0, resp.Score, "blank answers should score 0 without consulting the scorer")
}

func TestService_Tick_CountsDownAndAutoSubmits(t *testing.T) {
	t.Parallel()

	s, tickers := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions: []domain.Question{
			{Text: "q1", Difficulty: domain.DifficultyEasy, TimeLimitSeconds: 2},
			{Text: "q2", Difficulty: domain.DifficultyMedium, TimeLimitSeconds: 60},
		},
	})
	require.NoError(t, err)

	tickers.tick(t)
	requireEventually(t, s, "c1", func(st session.State) bool {
		return st.RemainingSeconds == 1
	}, "first tick should decrement the countdown")

	tickers.tick(t)
	requireEventually(t, s, "c1", func(st session.State) bool {
		return st.CurrentIndex == 1
	}, "countdown expiry should force-submit and advance")

	st, err := s.Get(context.Background(), session.GetRequest{CandidateID: "c1"})
	require.NoError(t, err)
	require.Equal(t, session.NoAnswer, st.Answers[0])
	require.Equal(t, 42, st.Scores[0], "the placeholder answer goes through the scorer like any other")
	require.Equal(t, 60, st.RemainingSeconds)
}

func TestService_Tick_ExpiringLastQuestionCompletes(t *testing.T) {
	t.Parallel()

	eb := event.NewBus()

	var (
		mu        sync.Mutex
		completed int
	)
	eb.Subscribe(domain.EventNameSessionCompleted, func(context.Context, event.Event) error {
		mu.Lock()
		completed++
		mu.Unlock()
		return nil
	})

	s, tickers := makeService(t, withEventBus(eb))
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions: []domain.Question{
			{Text: "q1", Difficulty: domain.DifficultyEasy, TimeLimitSeconds: 1},
		},
	})
	require.NoError(t, err)

	tickers.tick(t)
	requireEventually(t, s, "c1", func(st session.State) bool {
		return st.Completed
	}, "expiring the only question should complete the session")

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, completed)
}

func TestService_PauseResume(t *testing.T) {
	t.Parallel()

	s, tickers := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	tickers.tick(t)
	requireEventually(t, s, "c1", func(st session.State) bool {
		return st.RemainingSeconds == 19
	}, "countdown should run before pausing")

	st, err := s.Pause(context.Background(), session.PauseRequest{CandidateID: "c1"})
	require.NoError(t, err)
	require.True(t, st.Paused)
	require.NotNil(t, st.PausedAt)

	tickers.tick(t)
	require.Never(t, func() bool {
		st, err := s.Get(context.Background(), session.GetRequest{CandidateID: "c1"})
		return err != nil || st.RemainingSeconds != 19
	}, 200*time.Millisecond, 20*time.Millisecond, "ticks while paused should be ignored")

	_, err = s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "while paused",
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))

	st, err = s.Resume(context.Background(), session.ResumeRequest{CandidateID: "c1"})
	require.NoError(t, err)
	require.False(t, st.Paused)
	require.Nil(t, st.PausedAt)
	require.Equal(t, 19, st.RemainingSeconds, "resume should continue from the frozen countdown")

	tickers.tick(t)
	requireEventually(t, s, "c1", func(st session.State) bool {
		return st.RemainingSeconds == 18
	}, "countdown should run again after resume")
}

func TestService_Resume_RequiresPaused(t *testing.T) {
	t.Parallel()

	s, _ := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	_, err = s.Resume(context.Background(), session.ResumeRequest{CandidateID: "c1"})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_Reset(t *testing.T) {
	t.Parallel()

	s, _ := makeService(t)
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	require.NoError(t, s.Reset(context.Background(), session.ResetRequest{CandidateID: "c1"}))

	_, err = s.Get(context.Background(), session.GetRequest{CandidateID: "c1"})
	require.True(t, errors.Is(err, errors.CodeNotFound))

	require.NoError(t, s.Reset(context.Background(), session.ResetRequest{CandidateID: "unknown"}),
		"resetting an unknown candidate should still succeed")
}

func TestService_Rehydrate(t *testing.T) {
	t.Parallel()

	questions := twoQuestions()

	persisted := map[string]session.State{
		"running": {
			CandidateID:      "running",
			Questions:        questions,
			CurrentIndex:     1,
			Answers:          []string{"a1", ""},
			Scores:           []int{40, 0},
			RemainingSeconds: 7,
			Started:          true,
		},
		"done": {
			CandidateID:  "done",
			Questions:    questions,
			CurrentIndex: 2,
			Answers:      []string{"a1", "a2"},
			Scores:       []int{40, 50},
			Started:      true,
			Completed:    true,
		},
	}

	s, _ := makeService(t, withSessions(persisted))
	defer s.Stop()

	st, err := s.Get(context.Background(), session.GetRequest{CandidateID: "running"})
	require.NoError(t, err)
	require.Equal(t, 1, st.CurrentIndex)
	require.Equal(t, "a1", st.Answers[0], "recorded answers should survive a restart")
	require.Equal(t, 60, st.RemainingSeconds, "the current question should restart with its full limit")

	_, err = s.Get(context.Background(), session.GetRequest{CandidateID: "done"})
	require.True(t, errors.Is(err, errors.CodeNotFound), "completed sessions should not be restored")
}

func TestService_SubmitAnswer_SerializedPerQuestion(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})

	s, tickers := makeService(t, withScorer(func(string) (int, error) {
		close(entered)
		<-release
		return 42, nil
	}))
	defer s.Stop()

	_, err := s.Start(context.Background(), session.StartRequest{
		CandidateID: "c1",
		Questions:   twoQuestions(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
			CandidateID: "c1",
			Answer:      "slow to score",
		})
		done <- err
	}()

	<-entered

	_, err = s.SubmitAnswer(context.Background(), session.SubmitAnswerRequest{
		CandidateID: "c1",
		Answer:      "concurrent",
	})
	require.True(t, errors.Is(err, errors.CodeFailedPrecondition),
		"a second submission while the first is being scored should be rejected")

	tickers.tick(t)
	require.Never(t, func() bool {
		st, err := s.Get(context.Background(), session.GetRequest{CandidateID: "c1"})
		return err != nil || st.RemainingSeconds != 20
	}, 200*time.Millisecond, 20*time.Millisecond, "ticks while scoring should be dropped")

	close(release)
	require.NoError(t, <-done)

	st, err := s.Get(context.Background(), session.GetRequest{CandidateID: "c1"})
	require.NoError(t, err)
	require.Equal(t, 1, st.CurrentIndex, "the session should advance exactly once")
	require.Equal(t, "slow to score", st.Answers[0])
}

func twoQuestions() []domain.Question {
	return []domain.Question{
		{Text: "q1", Difficulty: domain.DifficultyEasy, TimeLimitSeconds: 20},
		{Text: "q2", Difficulty: domain.DifficultyMedium, TimeLimitSeconds: 60},
	}
}

func requireEventually(t *testing.T, s *session.Service, candidateID string, cond func(st session.State) bool, msg string) {
	t.Helper()

	require.Eventually(t, func() bool {
		st, err := s.Get(context.Background(), session.GetRequest{CandidateID: candidateID})
		if err != nil {
			return false
		}
		return cond(*st)
	}, time.Second, 5*time.Millisecond, msg)
}

func makeService(t *testing.T, opts ...options) (*session.Service, *tickerFactory) {
	t.Helper()

	tickers := &tickerFactory{}
	orc := &stubOracle{}

	c := session.Config{
		EventBus:      event.NewBus(),
		Questions:     orc,
		Scorer:        orc,
		Summarizer:    orc,
		NewTickerFunc: tickers.new,
	}

	for _, opt := range opts {
		opt(&c)
	}

	return session.NewService(c), tickers
}

type options func(c *session.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *session.Config) {
		c.EventBus = eb
	}
}

func withSessions(sessions map[string]session.State) options {
	return func(c *session.Config) {
		c.Sessions = sessions
	}
}

func withScorer(score func(answer string) (int, error)) options {
	return func(c *session.Config) {
		c.Scorer = &stubOracle{score: score}
	}
}

// stubOracle scores every answer 42 unless a score func is set.
type stubOracle struct {
	score func(answer string) (int, error)
}

func (*stubOracle) GenerateQuestions(context.Context, domain.Profile) ([]domain.Question, error) {
	return twoQuestions(), nil
}

func (o *stubOracle) ScoreAnswer(_ context.Context, _, answer string, _ domain.Difficulty) (int, error) {
	if o.score != nil {
		return o.score(answer)
	}
	return 42, nil
}

func (*stubOracle) Summarize(context.Context, string, []int) (string, error) {
	return "solid interview", nil
}

// tickerFactory hands out manual tickers so tests control time.
type tickerFactory struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (f *tickerFactory) new(time.Duration) session.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	ft := &fakeTicker{ch: make(chan time.Time, 16)}
	f.tickers = append(f.tickers, ft)
	return ft
}

// tick fires one tick on the most recently created ticker.
func (f *tickerFactory) tick(t *testing.T) {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.tickers, "no ticker created yet")
	f.tickers[len(f.tickers)-1].ch <- time.Now()
}

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}
