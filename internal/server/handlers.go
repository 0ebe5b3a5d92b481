package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/filtering"
	"github.com/spigell/resume-matcher/internal/logger"
	"github.com/spigell/resume-matcher/internal/matching"
	"github.com/spigell/resume-matcher/internal/posting"
	"github.com/spigell/resume-matcher/internal/profile"
	"github.com/spigell/resume-matcher/internal/session"
	"github.com/spigell/resume-matcher/internal/stream"
)

const deltaBuffer = 64

type chatFile struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// chatRequest accepts a plain document or base64 files.
type chatRequest struct {
	Prompt   string     `json:"prompt"`
	Document string     `json:"document"`
	Files    []chatFile `json:"files"`
}

// jobsRequest carries an optional profile. A request naming none of the
// fields reuses the session's extracted profile; naming any of them, even
// with empty values, matches that profile instead.
type jobsRequest struct {
	Description     *string `json:"description"`
	TechnicalSkills *string `json:"technical_skills"`
	SoftSkills      *string `json:"soft_skills"`
}

func (r jobsRequest) toProfile() *profile.Profile {
	if r.Description == nil && r.TechnicalSkills == nil && r.SoftSkills == nil {
		return nil
	}
	return &profile.Profile{
		Description:     deref(r.Description),
		TechnicalSkills: deref(r.TechnicalSkills),
		SoftSkills:      deref(r.SoftSkills),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type jobsResponse struct {
	Jobs []posting.RankedMatch `json:"jobs"`
}

func errorJSON(ctx *gin.Context, status int, message string) {
	ctx.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (r chatRequest) document() (string, error) {
	if strings.TrimSpace(r.Document) != "" {
		return r.Document, nil
	}
	if len(r.Files) == 0 {
		return "", errors.New("no files provided")
	}

	parts := make([]string, 0, len(r.Files))
	for _, file := range r.Files {
		if !strings.Contains(file.Type, "text") {
			return "", fmt.Errorf("unsupported file type %q of %s", file.Type, file.Name)
		}
		raw, err := base64.StdEncoding.DecodeString(file.Content)
		if err != nil {
			return "", fmt.Errorf("decode file %s: %w", file.Name, err)
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, "\n\n"), nil
}

func (s *Server) chat(ctx *gin.Context) {
	var req chatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		errorJSON(ctx, http.StatusBadRequest, "invalid request body")
		return
	}
	document, err := req.document()
	if err != nil {
		errorJSON(ctx, http.StatusBadRequest, err.Error())
		return
	}

	id, sess, err := s.sessions.get(ctx.GetHeader(sessionHeader))
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		errorJSON(ctx, http.StatusInternalServerError, "failed to create session")
		return
	}
	ctx.Header(sessionHeader, id)
	log := logger.WithSession(s.logger, id)

	reqCtx := ctx.Request.Context()
	deltas := make(chan stream.DeltaEvent, deltaBuffer)
	sub, err := sess.SubmitDocument(reqCtx, ai.ExtractionRequest{Document: document, Instructions: req.Prompt}, func(ev stream.DeltaEvent) {
		select {
		case deltas <- ev:
		case <-reqCtx.Done():
		}
	})
	if err != nil {
		log.Error("submit document failed", zap.Error(err))
		errorJSON(ctx, http.StatusInternalServerError, err.Error())
		return
	}

	sse, err := newSSEWriter(ctx.Writer)
	if err != nil {
		errorJSON(ctx, http.StatusInternalServerError, err.Error())
		return
	}

	for {
		select {
		case ev := <-deltas:
			if err := sse.writeEvent("delta", ev); err != nil {
				log.Debug("client went away", zap.Error(err))
				return
			}
		case <-sub.Done():
		drain:
			for {
				select {
				case ev := <-deltas:
					_ = sse.writeEvent("delta", ev)
				default:
					break drain
				}
			}

			p, err := sub.Wait(reqCtx)
			if err != nil {
				sse.writeError(err.Error())
				return
			}
			_ = sse.writeEvent("profile", p)
			return
		case <-reqCtx.Done():
			return
		}
	}
}

func (s *Server) matchJobs(ctx *gin.Context) {
	var req jobsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		errorJSON(ctx, http.StatusBadRequest, "invalid request body")
		return
	}

	id, sess, err := s.sessions.get(ctx.GetHeader(sessionHeader))
	if err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		errorJSON(ctx, http.StatusInternalServerError, "failed to create session")
		return
	}
	ctx.Header(sessionHeader, id)
	log := logger.WithSession(s.logger, id)

	matches, err := sess.RequestMatches(ctx.Request.Context(), req.toProfile())
	if err != nil {
		log.Warn("job matching failed", zap.Error(err))
		switch {
		case errors.Is(err, session.ErrInvalidState), errors.Is(err, session.ErrSuperseded):
			errorJSON(ctx, http.StatusConflict, err.Error())
		case errors.Is(err, matching.ErrEmbeddingFailure):
			errorJSON(ctx, http.StatusBadGateway, "failed to create embeddings")
		case errors.Is(err, matching.ErrInvalidEmbeddingShape):
			errorJSON(ctx, http.StatusBadGateway, "invalid embedding response")
		default:
			errorJSON(ctx, http.StatusInternalServerError, "failed to process job matching")
		}
		return
	}

	ctx.JSON(http.StatusOK, jobsResponse{Jobs: matches.Items})
}

func (s *Server) filterJobs(ctx *gin.Context) {
	var state filtering.State
	if err := ctx.ShouldBindJSON(&state); err != nil {
		errorJSON(ctx, http.StatusBadRequest, "invalid request body")
		return
	}

	id := ctx.GetHeader(sessionHeader)
	sess, ok := s.sessions.lookup(id)
	if !ok {
		errorJSON(ctx, http.StatusNotFound, "unknown session")
		return
	}
	ctx.Header(sessionHeader, id)
	log := logger.WithSession(s.logger, id)

	view, err := sess.ApplyFilter(state)
	if errors.Is(err, session.ErrInvalidState) {
		log.Debug("no matches to filter", zap.Error(err))
		errorJSON(ctx, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		log.Debug("invalid filter state", zap.Error(err))
		errorJSON(ctx, http.StatusBadRequest, err.Error())
		return
	}
	log.Debug("filter applied", zap.Int("visible", view.Len()))

	ctx.JSON(http.StatusOK, jobsResponse{Jobs: view.Items})
}

func (s *Server) listCompanies(ctx *gin.Context) {
	companies, err := s.companies.ListCompanies(ctx.Request.Context())
	if err != nil {
		s.logger.Error("list companies failed", zap.Error(err))
		errorJSON(ctx, http.StatusInternalServerError, "failed to fetch companies")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"companies": companies})
}
