package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/crispai/crisp/internal/domain"
)

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	CandidateCompleted struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		FinalScore  int    `json:"final_score"`
		Summary     string `json:"summary"`
		CompletedAt string `json:"completed_at"`
	}
)

// PublishCandidateCompleted notifies the dashboard channel and the
// candidate's own channel that an interview finished.
func (a *API) PublishCandidateCompleted(ctx context.Context, e domain.EventCandidateCompleted) error {
	r := e.Candidate

	data := CandidateCompleted{
		ID:      r.ID,
		Name:    r.Name,
		Email:   r.Email,
		Summary: r.Summary,
	}
	if r.FinalScore != nil {
		data.FinalScore = *r.FinalScore
	}
	if r.CompletedAt != nil {
		data.CompletedAt = r.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	channels := []string{
		fmt.Sprintf("%s:dashboard", a.prefix),
		fmt.Sprintf("%s:candidate:%s", a.prefix, r.ID),
	}

	var eg errgroup.Group
	for _, ch := range channels {
		eg.Go(func() error {
			return a.publishNotification(ctx, ch, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
