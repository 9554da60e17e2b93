// Package api exposes the interview flow and the interviewer dashboard
// over HTTP, and pushes completion notifications over redis pubsub.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/crispai/crisp/internal/domain"
	"github.com/crispai/crisp/internal/errors"
	"github.com/crispai/crisp/internal/event"
	"github.com/crispai/crisp/internal/extractor"
	"github.com/crispai/crisp/internal/registry"
	"github.com/crispai/crisp/internal/session"
	"github.com/crispai/crisp/internal/telemetry"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Registry     *registry.Service
	Session      *session.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	reg *registry.Service
	ss  *session.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		reg:    c.Registry,
		ss:     c.Session,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	v1 := c.Router.Group("/api/v1")
	{
		v1.POST("/resumes", a.uploadResume)

		v1.GET("/candidates", a.listCandidates)
		v1.GET("/candidates/:id", a.getCandidate)
		v1.PATCH("/candidates/:id/profile", a.updateProfile)
		v1.POST("/candidates/:id/qualification", a.setQualification)

		v1.POST("/candidates/:id/interview", a.startInterview)
		v1.GET("/candidates/:id/interview", a.getInterview)
		v1.DELETE("/candidates/:id/interview", a.resetInterview)
		v1.POST("/candidates/:id/interview/answers", a.submitAnswer)
		v1.POST("/candidates/:id/interview/pause", a.pauseInterview)
		v1.POST("/candidates/:id/interview/resume", a.resumeInterview)

		v1.GET("/stats", a.getStats)
	}

	c.EventBus.Subscribe(domain.EventNameCandidateCompleted, func(ctx context.Context, e event.Event) error {
		return a.PublishCandidateCompleted(ctx, e.(domain.EventCandidateCompleted))
	})

	return a
}

// UploadResumeResponse carries the new candidate record plus the profile
// fields the extractor could not find, which the client collects through
// the missing-fields form.
type UploadResumeResponse struct {
	Candidate     domain.CandidateRecord `json:"candidate"`
	MissingFields []string               `json:"missing_fields,omitempty"`
}

func (a *API) uploadResume(c *gin.Context) {
	fh, err := c.FormFile("resume")
	if err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("missing resume file"),
			errors.WithCause(err)))
		return
	}

	if fh.Size > extractor.MaxDocumentSize {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("resume exceeds the 10 MiB limit")))
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, errors.Internal(err))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, extractor.MaxDocumentSize+1))
	if err != nil {
		writeError(c, errors.Internal(err))
		return
	}

	profile, err := extractor.Extract(extractor.Document{
		Data:      data,
		MediaType: fh.Header.Get("Content-Type"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	record, err := a.reg.AddCandidate(c.Request.Context(), registry.AddCandidateRequest{
		Profile: profile,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	telemetry.ResumesUploaded.Inc()

	c.JSON(http.StatusCreated, UploadResumeResponse{
		Candidate:     publicRecord(*record),
		MissingFields: profile.Missing(),
	})
}

type UpdateProfileRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (a *API) updateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed profile payload"),
			errors.WithCause(err)))
		return
	}

	record, err := a.reg.UpdateProfile(c.Request.Context(), registry.UpdateProfileRequest{
		ID:    c.Param("id"),
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, publicRecord(*record))
}

type SetQualificationRequest struct {
	Qualified bool `json:"qualified"`
}

func (a *API) setQualification(c *gin.Context) {
	var req SetQualificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed qualification payload"),
			errors.WithCause(err)))
		return
	}

	record, err := a.reg.SetQualified(c.Request.Context(), registry.SetQualifiedRequest{
		ID:        c.Param("id"),
		Qualified: req.Qualified,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, publicRecord(*record))
}

func (a *API) startInterview(c *gin.Context) {
	id := c.Param("id")

	record, err := a.reg.GetCandidate(c.Request.Context(), registry.GetCandidateRequest{ID: id})
	if err != nil {
		writeError(c, err)
		return
	}

	profile := domain.Profile{
		Name:  record.Name,
		Email: record.Email,
		Phone: record.Phone,
	}
	if missing := profile.Missing(); len(missing) > 0 {
		writeError(c, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("profile incomplete, missing: %v", missing)))
		return
	}

	state, err := a.ss.Start(c.Request.Context(), session.StartRequest{
		CandidateID: id,
		Profile:     profile,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

func (a *API) getInterview(c *gin.Context) {
	state, err := a.ss.Get(c.Request.Context(), session.GetRequest{
		CandidateID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

type SubmitAnswerRequest struct {
	Answer string `json:"answer"`
}

type SubmitAnswerResponse struct {
	Score   int           `json:"score"`
	Session session.State `json:"session"`
}

func (a *API) submitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed answer payload"),
			errors.WithCause(err)))
		return
	}

	resp, err := a.ss.SubmitAnswer(c.Request.Context(), session.SubmitAnswerRequest{
		CandidateID: c.Param("id"),
		Answer:      req.Answer,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitAnswerResponse{
		Score:   resp.Score,
		Session: resp.Session,
	})
}

func (a *API) pauseInterview(c *gin.Context) {
	state, err := a.ss.Pause(c.Request.Context(), session.PauseRequest{
		CandidateID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (a *API) resumeInterview(c *gin.Context) {
	state, err := a.ss.Resume(c.Request.Context(), session.ResumeRequest{
		CandidateID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (a *API) resetInterview(c *gin.Context) {
	if err := a.ss.Reset(c.Request.Context(), session.ResetRequest{
		CandidateID: c.Param("id"),
	}); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type ListCandidatesResponse struct {
	Candidates []domain.CandidateRecord `json:"candidates"`
}

func (a *API) listCandidates(c *gin.Context) {
	records, err := a.reg.ListCandidates(c.Request.Context(), registry.ListCandidatesRequest{
		Query:  c.Query("q"),
		SortBy: c.Query("sort"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := ListCandidatesResponse{
		Candidates: make([]domain.CandidateRecord, 0, len(records)),
	}
	for _, r := range records {
		resp.Candidates = append(resp.Candidates, publicRecord(r))
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) getCandidate(c *gin.Context) {
	record, err := a.reg.GetCandidate(c.Request.Context(), registry.GetCandidateRequest{
		ID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, publicRecord(*record))
}

func (a *API) getStats(c *gin.Context) {
	stats, err := a.reg.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// publicRecord strips the raw resume text from API responses.
func publicRecord(r domain.CandidateRecord) domain.CandidateRecord {
	r.RawText = ""
	return r
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), e)
}
