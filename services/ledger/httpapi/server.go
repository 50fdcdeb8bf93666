// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the thin HTTP surface over the answer pipeline. Handlers
// bind requests, call the pipeline, and map typed errors to status codes; no
// business logic lives here.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianLedger/services/ledger/agent"
	"github.com/AleutianAI/AleutianLedger/services/ledger/datatypes"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
)

// Answerer is the pipeline capability the handlers depend on.
type Answerer interface {
	Answer(ctx context.Context, utterance string, history []datatypes.Message) (*datatypes.Answer, error)
}

// AnswerRequest is the POST /v1/ledger/answer body.
type AnswerRequest struct {
	Question string              `json:"question" binding:"required"`
	History  []datatypes.Message `json:"history"`
}

// Server holds handler dependencies.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	pipeline Answerer
	store    store.Store
	logger   *slog.Logger
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(pipeline Answerer, st store.Store, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{pipeline: pipeline, store: st, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("ledger"))

	v1 := r.Group("/v1/ledger")
	v1.POST("/answer", s.handleAnswer)
	v1.GET("/health", s.handleHealth)
	v1.GET("/ready", s.handleReady)
	return r
}

// handleAnswer runs one question through the pipeline.
func (s *Server) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	answer, err := s.pipeline.Answer(c.Request.Context(), req.Question, req.History)
	if err != nil {
		s.writeAnswerError(c, err)
		return
	}
	c.JSON(http.StatusOK, answer)
}

// writeAnswerError maps pipeline errors onto status codes. Refusals are the
// user's problem (unprocessable), protocol and truncation failures are the
// upstream service's (bad gateway).
func (s *Server) writeAnswerError(c *gin.Context, err error) {
	var refusal *agent.RefusalError
	var incomplete *agent.IncompleteError
	var protocol *agent.ProtocolError

	switch {
	case errors.As(err, &refusal):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": refusal.Error()})
	case errors.As(err, &incomplete), errors.As(err, &protocol):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "request timed out"})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		c.Status(http.StatusRequestTimeout)
	default:
		s.logger.Error("answer turn failed",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady reports readiness: the store must answer a ping.
func (s *Server) handleReady(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
