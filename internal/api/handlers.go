package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/brandkit-crawler/internal/brandkit"
	"github.com/JakeFAU/brandkit-crawler/internal/metrics"
	"github.com/JakeFAU/brandkit-crawler/internal/ownerid"
	"github.com/JakeFAU/brandkit-crawler/internal/telemetry"
)

const triggerTimeout = 5 * time.Second

type createJobRequest struct {
	TargetURL string           `json:"targetUrl" validate:"required,url"`
	OwnerID   string           `json:"ownerId"`
	Options   brandkit.Options `json:"options"`
}

type createJobResponse struct {
	JobID   string             `json:"jobId"`
	OwnerID string             `json:"ownerId"`
	Status  brandkit.JobStatus `json:"status"`
}

type reconcileRequest struct {
	ProvisionalOwnerID string `json:"provisionalOwnerId"`
	FinalOwnerID       string `json:"finalOwnerId"`
}

// pushEnvelope is the body Pub/Sub push subscriptions deliver.
type pushEnvelope struct {
	Message struct {
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// createJob handles POST /jobs. It returns 201 {"jobId","ownerId","status"},
// 400 for malformed bodies, URLs, options or owner IDs, or 500 when the
// store fails. A missing ownerId gets a freshly minted provisional one.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.TargetURL = strings.TrimSpace(req.TargetURL)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := brandkit.ValidateTargetURL(req.TargetURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := s.resolveOwner(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ownerId: "+err.Error())
		return
	}

	jobID, err := s.deps.IDs.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	job, err := s.deps.Jobs.Create(r.Context(), brandkit.NewJob{
		ID:        jobID,
		OwnerID:   owner,
		TargetURL: req.TargetURL,
		Options:   req.Options,
		CreatedAt: s.deps.Clock.Now(),
	})
	if err != nil {
		if errors.Is(err, brandkit.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	metrics.ObserveJob(string(job.Status))
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.String("target_url", job.TargetURL),
	)
	s.publishCreated(r.Context(), job.ID)

	writeJSON(w, http.StatusCreated, createJobResponse{JobID: job.ID, OwnerID: job.OwnerID, Status: job.Status})
}

func (s *Server) resolveOwner(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		id, err := ownerid.NewProvisional()
		if err != nil {
			return "", err
		}
		return id.String(), nil
	}
	id, err := ownerid.Parse(raw)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// publishCreated wakes the sequencer. Scheduled ticks pick the job up anyway,
// so failures are only logged.
func (s *Server) publishCreated(ctx context.Context, jobID string) {
	if s.deps.Publisher == nil || s.cfg.PubSub.TopicName == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), triggerTimeout)
	defer cancel()
	trigger := brandkit.Trigger{Reason: "created", JobID: jobID, At: s.deps.Clock.Now()}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.PubSub.TopicName, trigger); err != nil {
		s.logger.Warn("publish trigger failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// getJob handles GET /jobs/{jobId}. It returns the status view, 404 for
// unknown jobs, or 500 otherwise.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}
	view, err := s.deps.Status.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, brandkit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// tick handles POST /internal/tick. The body may be empty or a Pub/Sub push
// envelope whose attributes carry trace context. Advance errors return 500
// so push subscriptions redeliver.
func (s *Server) tick(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	reason := "direct"
	if len(strings.TrimSpace(string(body))) > 0 {
		var env pushEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			writeError(w, http.StatusBadRequest, "invalid push envelope")
			return
		}
		ctx = telemetry.ExtractAttributes(ctx, env.Message.Attributes)
		if trigger, ok := decodeTrigger(env.Message.Data); ok && trigger.Reason != "" {
			reason = trigger.Reason
		} else {
			reason = "push"
		}
	}

	report, err := s.deps.Advancer.Advance(ctx)
	if err != nil {
		s.logger.Error("tick failed", zap.String("reason", reason), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	s.logger.Debug("tick handled", zap.String("reason", reason), zap.Int("claimed", report.Claimed))
	writeJSON(w, http.StatusOK, report)
}

func decodeTrigger(data string) (brandkit.Trigger, bool) {
	if data == "" {
		return brandkit.Trigger{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return brandkit.Trigger{}, false
	}
	var trigger brandkit.Trigger
	if err := json.Unmarshal(raw, &trigger); err != nil {
		return brandkit.Trigger{}, false
	}
	return trigger, true
}

// reconcileOwner handles POST /owners/reconcile. It returns 200 with the
// result, 422 when the final owner ID is malformed, or 500 on store errors.
func (s *Server) reconcileOwner(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	res, err := s.deps.Reconciler.Reconcile(r.Context(), strings.TrimSpace(req.ProvisionalOwnerID), strings.TrimSpace(req.FinalOwnerID))
	if err != nil {
		s.logger.Error("reconcile failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	return "invalid " + fe.Namespace() + ": failed " + fe.Tag()
}
