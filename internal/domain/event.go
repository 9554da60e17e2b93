package domain

const (
	EventNameSessionCompleted   = "session.completed"
	EventNameCandidateCompleted = "candidate.completed"
)

type EventSessionCompleted struct {
	Outcome Outcome
}

func (EventSessionCompleted) Name() string { return EventNameSessionCompleted }

type EventCandidateCompleted struct {
	Candidate CandidateRecord
}

func (EventCandidateCompleted) Name() string { return EventNameCandidateCompleted }
