package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/prxatt/kiro-ai-gateway/internal/config"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/internal/service/msgvault"
	"github.com/prxatt/kiro-ai-gateway/internal/service/profilecache"
	"github.com/prxatt/kiro-ai-gateway/internal/service/quota"
	"github.com/prxatt/kiro-ai-gateway/internal/usecase"
)

// maxInlineFileBytes bounds a single decoded attachment.
const maxInlineFileBytes = 8 << 20

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Dispatcher *usecase.Dispatcher
	Profiles   *profilecache.Cache
	Usage      domain.UsageStore
	Vault      *msgvault.Vault
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type fileDTO struct {
	MIME string `json:"mime"`
	Data string `json:"data" validate:"required"`
}

type messageDTO struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

type dispatchDTO struct {
	Message  string            `json:"message"`
	Feature  string            `json:"feature" validate:"required"`
	Priority string            `json:"priority" validate:"omitempty,oneof=low medium high"`
	Context  []messageDTO      `json:"context" validate:"max=50,dive"`
	Files    []fileDTO         `json:"files" validate:"max=4,dive"`
	Metadata map[string]string `json:"metadata"`
}

// DispatchHandler runs one AI request through the full pipeline.
func (s *Server) DispatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var dto dispatchDTO
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			writeError(w, r, fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(dto); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		files, err := decodeFiles(dto.Files)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		req := domain.AIRequest{
			UserID:   UserFrom(r),
			Message:  dto.Message,
			Feature:  domain.FeatureType(dto.Feature),
			Priority: domain.Priority(dto.Priority),
			Files:    files,
			Metadata: dto.Metadata,
		}
		for _, m := range dto.Context {
			req.Context = append(req.Context, domain.Message{Role: m.Role, Content: m.Content})
		}
		if req.Priority == "" {
			req.Priority = domain.PriorityMedium
		}

		resp, err := s.Dispatcher.Dispatch(r.Context(), req)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// decodeFiles base64-decodes attachments and sniffs their real content type.
// The sniffed type wins over the declared one: clients lie, payloads don't.
func decodeFiles(dtos []fileDTO) ([]domain.Attachment, error) {
	if len(dtos) == 0 {
		return nil, nil
	}
	out := make([]domain.Attachment, 0, len(dtos))
	for i, f := range dtos {
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: file %d is not valid base64", domain.ErrInvalidArgument, i)
		}
		if len(data) == 0 || len(data) > maxInlineFileBytes {
			return nil, fmt.Errorf("%w: file %d size out of bounds", domain.ErrInvalidArgument, i)
		}
		detected := mimetype.Detect(data).String()
		if !allowedMIME(detected) {
			return nil, fmt.Errorf("%w: file %d type %s not supported", domain.ErrInvalidArgument, i, detected)
		}
		out = append(out, domain.Attachment{MIME: detected, Data: data})
	}
	return out, nil
}

func allowedMIME(m string) bool {
	m = strings.ToLower(m)
	return strings.HasPrefix(m, "image/") || strings.HasPrefix(m, "application/pdf")
}

// UsageHandler reports a user's current quota position and month-to-date
// spend. Callers may only read their own usage.
func (s *Server) UsageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID != UserFrom(r) {
			writeError(w, r, fmt.Errorf("%w: cannot read another user's usage", domain.ErrUnauthenticated), nil)
			return
		}

		profile, err := s.Profiles.Get(r.Context(), userID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spent, err := s.Usage.SumCostCents(r.Context(), userID, monthStart)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=usage.sum: %w", err), nil)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":              userID,
			"tier":                 profile.Tier,
			"daily_count":          profile.DailyCount,
			"daily_limit":          quota.DailyLimit(profile.Tier),
			"month_to_date_cents":  spent,
			"monthly_budget_cents": s.Cfg.MonthlyBudgetCents(profile.Tier),
		})
	}
}

// HistoryHandler returns the caller's recent conversation, decrypted.
// Disabled when no message secret is configured.
func (s *Server) HistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Vault == nil {
			writeError(w, r, fmt.Errorf("%w: message history disabled", domain.ErrNotFound), nil)
			return
		}
		msgs, err := s.Vault.History(r.Context(), UserFrom(r), 50)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
	}
}

// InvalidateProfileHandler drops a user's cached profile so the next request
// refetches it. Called by account services after tier changes.
func (s *Server) InvalidateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			writeError(w, r, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument), nil)
			return
		}
		s.Profiles.Invalidate(userID)
		writeJSON(w, http.StatusOK, map[string]any{"invalidated": userID})
	}
}

// HealthzHandler is a trivial liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler verifies the critical backing stores are reachable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks["db"] = err.Error()
				healthy = false
			} else {
				checks["db"] = "ok"
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			} else {
				checks["redis"] = "ok"
			}
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": healthy, "checks": checks})
	}
}
