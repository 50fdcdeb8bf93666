// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianLedger/services/ledger/agent"
	"github.com/AleutianAI/AleutianLedger/services/ledger/datatypes"
	"github.com/AleutianAI/AleutianLedger/services/ledger/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAnswerer struct {
	answer *datatypes.Answer
	err    error
}

func (f *fakeAnswerer) Answer(ctx context.Context, utterance string, history []datatypes.Message) (*datatypes.Answer, error) {
	return f.answer, f.err
}

func postAnswer(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ledger/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnswer_OK(t *testing.T) {
	router := NewRouter(&fakeAnswerer{
		answer: &datatypes.Answer{
			Text: "Revenue yesterday was $27.50.",
			Rows: []datatypes.ResultRow{{Metrics: map[string]float64{"revenue": 27.5}}},
		},
	}, store.NewMemory(), nil)

	rec := postAnswer(t, router, `{"question":"revenue yesterday?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got datatypes.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Revenue yesterday was $27.50.", got.Text)
	assert.Len(t, got.Rows, 1)
}

func TestHandleAnswer_MissingQuestion(t *testing.T) {
	router := NewRouter(&fakeAnswerer{}, store.NewMemory(), nil)

	rec := postAnswer(t, router, `{"history":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAnswer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"refusal", &agent.RefusalError{Reason: "no"}, http.StatusUnprocessableEntity},
		{"incomplete", &agent.IncompleteError{}, http.StatusBadGateway},
		{"protocol", &agent.ProtocolError{Detail: "empty turn"}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(&fakeAnswerer{err: tt.err}, store.NewMemory(), nil)
			rec := postAnswer(t, router, `{"question":"q"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestHealthAndReady(t *testing.T) {
	router := NewRouter(&fakeAnswerer{}, store.NewMemory(), nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ledger/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/ledger/ready", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
