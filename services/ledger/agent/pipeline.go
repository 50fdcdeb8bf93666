// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent is the tool-calling orchestrator: one user turn flows through
// proposal, execution, and synthesis, and always ends in either a grounded
// answer or a typed error.
//
// The model is never trusted structurally. Its proposal turn is classified
// into exactly one outcome; its operation arguments are validated by the
// operations themselves; and both model calls run behind retry with a
// deterministic fallback, so a flaky reasoning service degrades the answer
// instead of failing the turn.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianLedger/services/ledger/datatypes"
	"github.com/AleutianAI/AleutianLedger/services/ledger/llm"
	"github.com/AleutianAI/AleutianLedger/services/ledger/ops"
	"github.com/AleutianAI/AleutianLedger/services/ledger/params"
	"github.com/AleutianAI/AleutianLedger/services/ledger/plan"
	"github.com/AleutianAI/AleutianLedger/services/ledger/retry"
)

var pipelineTracer = otel.Tracer("agent.pipeline")

// DefaultParallelism bounds concurrent operation execution per turn.
const DefaultParallelism = 4

// Response length caps for the two model calls.
const (
	proposalMaxTokens  = 1024
	synthesisMaxTokens = 1024
)

// Stage names recorded in answer metadata.
const (
	stageProposal  = "proposal"
	stageExecution = "execution"
	stageSynthesis = "synthesis"
)

// Invocation records one proposed operation call end to end: what the model
// asked for, what happened, and how long it took.
type Invocation struct {
	// ID correlates logs and results; the model's tool-call ID when present,
	// otherwise a fresh UUID.
	ID string

	// Name is the proposed operation name, which may be unknown.
	Name string

	// Args is the raw argument JSON as proposed.
	Args json.RawMessage

	// Result is the operation outcome; nil when Err is set before execution.
	Result *ops.Result

	// Err is a hard failure: unknown operation or store-level error.
	Err error

	Duration time.Duration
}

// Options configures a Pipeline. Zero values select defaults.
type Options struct {
	// Retry wraps both model calls.
	Retry retry.Config

	// Parallelism bounds concurrent operation execution. Default 4.
	Parallelism int

	// Clock is the reference clock for timeframe resolution on the fallback
	// path. Default time.Now.
	Clock func() time.Time

	// Logger receives structured stage logs. Default slog.Default().
	Logger *slog.Logger
}

// Pipeline orchestrates one question-answering turn.
//
// Thread Safety: Safe for concurrent use after construction; turns share no
// mutable state.
type Pipeline struct {
	client      llm.Client
	registry    *ops.Registry
	engine      *params.Engine
	retryCfg    retry.Config
	parallelism int64
	clock       func() time.Time
	logger      *slog.Logger
}

// NewPipeline wires the orchestrator.
//
// Inputs:
//
//	client - The reasoning service. Must not be nil.
//	registry - The closed operation set. Must not be nil.
//	engine - Validation engine backing the extraction fallback. Must not be nil.
//	opts - Tuning; zero values select defaults.
func NewPipeline(client llm.Client, registry *ops.Registry, engine *params.Engine, opts Options) *Pipeline {
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry == (retry.Config{}) {
		opts.Retry = retry.DefaultConfig()
	}
	return &Pipeline{
		client:      client,
		registry:    registry,
		engine:      engine,
		retryCfg:    opts.Retry,
		parallelism: int64(opts.Parallelism),
		clock:       opts.Clock,
		logger:      opts.Logger,
	}
}

// Answer runs one full turn.
//
// Description:
//
//	The proposal call (behind retry) yields exactly one outcome. Text is
//	returned as a direct answer, unless it embeds a parameter object, which
//	is extracted, validated, and executed instead; refusal, truncation, and
//	empty turns map to typed errors. Proposed operations execute concurrently under the
//	parallelism bound with per-invocation failure isolation, then the
//	synthesis call (behind retry) writes the final answer from the outcomes;
//	if synthesis fails, a deterministic templated summary takes its place.
//	If the proposal call itself fails terminally, the extraction fallback
//	derives a parameter set from the bare utterance and executes a default
//	metrics query so the user still gets an answer.
//
// Outputs:
//
//	*datatypes.Answer - Non-nil on success, with rows and stage metadata.
//	error - ctx errors, *RefusalError, *IncompleteError, *ProtocolError, or
//	a store-level failure.
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) Answer(ctx context.Context, utterance string, history []datatypes.Message) (*datatypes.Answer, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Answer",
		trace.WithAttributes(attribute.Int("history_turns", len(history))),
	)
	defer span.End()

	var timings []datatypes.StageTiming
	record := func(stage string, start time.Time) {
		timings = append(timings, datatypes.StageTiming{Stage: stage, Duration: time.Since(start)})
	}

	propStart := time.Now()
	proposal, err := retry.Do(ctx, p.retryCfg, p.logger, func(ctx context.Context) (*llm.ChatWithToolsResult, error) {
		return p.client.ChatWithTools(ctx, buildProposalMessages(history, utterance),
			p.registry.Definitions(), llm.ChatOptions{MaxTokens: proposalMaxTokens})
	})
	record(stageProposal, propStart)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("proposal call failed, using extraction fallback",
			slog.String("error", err.Error()),
		)
		return p.fallbackAnswer(ctx, utterance, timings)
	}

	tokens := datatypes.TokenUsage{
		InputTokens:  proposal.Usage.InputTokens,
		OutputTokens: proposal.Usage.OutputTokens,
	}

	outcome := llm.Classify(proposal)
	switch outcome.Kind {
	case llm.OutcomeText:
		// Prose that embeds a parameter object is a proposal in disguise:
		// extract, validate, and execute it instead of echoing the prose.
		if ans := p.structuredTextAnswer(ctx, utterance, outcome.Text, timings, tokens); ans != nil {
			return ans, nil
		}
		return &datatypes.Answer{
			Text:     outcome.Text,
			Metadata: datatypes.Metadata{DirectAnswer: true, Timings: timings, Tokens: tokens},
		}, nil
	case llm.OutcomeRefusal:
		return nil, &RefusalError{Reason: strings.TrimSpace(outcome.Text)}
	case llm.OutcomeIncomplete:
		return nil, &IncompleteError{}
	case llm.OutcomeEmpty:
		return nil, &ProtocolError{Detail: "proposal turn had no content and no tool calls"}
	case llm.OutcomeOperations:
		// Fall through to execution.
	default:
		return nil, &ProtocolError{Detail: fmt.Sprintf("unhandled proposal outcome %s", outcome.Kind)}
	}

	execStart := time.Now()
	invocations := p.executeAll(ctx, outcome.ToolCalls)
	record(stageExecution, execStart)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	synthStart := time.Now()
	synth, synthErr := retry.Do(ctx, p.retryCfg, p.logger, func(ctx context.Context) (*llm.ChatResult, error) {
		return p.client.Chat(ctx, buildSynthesisMessages(utterance, history, invocations),
			llm.ChatOptions{MaxTokens: synthesisMaxTokens})
	})
	text := ""
	if synth != nil {
		text = synth.Content
		tokens = tokens.Add(datatypes.TokenUsage{
			InputTokens:  synth.Usage.InputTokens,
			OutputTokens: synth.Usage.OutputTokens,
		})
	}
	fallbackUsed := false
	if synthErr != nil || strings.TrimSpace(text) == "" {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("synthesis call failed, using templated summary",
			slog.Any("error", synthErr),
		)
		text = templatedAnswer(invocations)
		fallbackUsed = true
	}
	record(stageSynthesis, synthStart)

	return assemble(text, invocations, timings, tokens, fallbackUsed), nil
}

// executeAll runs the proposed invocations concurrently under the parallelism
// bound. One failing invocation never cancels its siblings; unknown operation
// names become failed invocations rather than being dropped.
func (p *Pipeline) executeAll(ctx context.Context, calls []llm.ToolCallResponse) []Invocation {
	sem := semaphore.NewWeighted(p.parallelism)
	invocations := make([]Invocation, len(calls))
	var wg sync.WaitGroup

	for i := range calls {
		call := &calls[i]
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		invocations[i] = Invocation{ID: id, Name: call.Name, Args: call.ArgumentsJSON()}

		op, ok := p.registry.Lookup(call.Name)
		if !ok {
			invocations[i].Err = fmt.Errorf("unknown operation %q", call.Name)
			p.logger.Warn("rejected unknown operation",
				slog.String("invocation_id", id),
				slog.String("operation", call.Name),
			)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			invocations[i].Err = err
			continue
		}
		wg.Add(1)
		go func(inv *Invocation, op ops.Operation) {
			defer wg.Done()
			defer sem.Release(1)
			start := time.Now()
			inv.Result, inv.Err = op.Execute(ctx, inv.Args)
			inv.Duration = time.Since(start)
			p.logger.Debug("operation executed",
				slog.String("invocation_id", inv.ID),
				slog.String("operation", inv.Name),
				slog.Bool("ok", inv.Err == nil && inv.Result != nil && inv.Result.Success),
				slog.Duration("duration", inv.Duration),
			)
		}(&invocations[i], op)
	}
	wg.Wait()
	return invocations
}

// fallbackAnswer is the extraction fallback: derive a parameter set from the
// bare utterance and run one default metrics query. A validation error here
// still yields the engine's always-valid fallback set, so the only hard
// failure left is the store itself.
func (p *Pipeline) fallbackAnswer(ctx context.Context, utterance string, timings []datatypes.StageTiming) (*datatypes.Answer, error) {
	validated, _ := p.engine.Validate(params.Candidate{}, utterance, p.clock())

	inv, err := p.runDefaultQuery(ctx, validated)
	if err != nil {
		return nil, err
	}
	timings = append(timings, datatypes.StageTiming{Stage: stageExecution, Duration: inv.Duration})
	if inv.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, inv.Err
	}

	answer := assemble(templatedAnswer([]Invocation{inv}), []Invocation{inv}, timings, datatypes.TokenUsage{}, true)
	return answer, nil
}

// structuredTextAnswer handles proposal turns that answer in prose with an
// embedded parameter object instead of calling an operation. The object is
// decoded strictly, so prose containing unrelated JSON falls through to the
// direct-answer path; a decoded candidate runs through validation and the
// default metrics query.
func (p *Pipeline) structuredTextAnswer(ctx context.Context, utterance, text string, timings []datatypes.StageTiming, tokens datatypes.TokenUsage) *datatypes.Answer {
	raw, ok := llm.ExtractJSONObject(text)
	if !ok {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var cand params.Candidate
	if err := dec.Decode(&cand); err != nil {
		return nil
	}
	if cand.TimeframeText == "" && cand.Start == nil && cand.End == nil &&
		len(cand.LocationIDs) == 0 && len(cand.ItemIDs) == 0 && len(cand.Metrics) == 0 {
		return nil
	}
	p.logger.Debug("proposal text carried an embedded parameter object",
		slog.Int("payload_bytes", len(raw)),
	)

	validated, _ := p.engine.Validate(cand, utterance, p.clock())
	inv, err := p.runDefaultQuery(ctx, validated)
	if err != nil || inv.Err != nil {
		return nil
	}
	timings = append(timings, datatypes.StageTiming{Stage: stageExecution, Duration: inv.Duration})
	return assemble(templatedAnswer([]Invocation{inv}), []Invocation{inv}, timings, tokens, true)
}

// runDefaultQuery executes one validated parameter set through the default
// metrics operation and records it as a single invocation.
func (p *Pipeline) runDefaultQuery(ctx context.Context, validated *params.Validated) (Invocation, error) {
	args, err := json.Marshal(struct {
		Start       *time.Time `json:"start"`
		End         *time.Time `json:"end"`
		LocationIDs []string   `json:"location_ids,omitempty"`
		ItemIDs     []string   `json:"item_ids,omitempty"`
		Metrics     []string   `json:"metrics,omitempty"`
		GroupBy     []string   `json:"group_by,omitempty"`
	}{
		Start:       &validated.Window.Start,
		End:         &validated.Window.End,
		LocationIDs: validated.LocationIDs,
		ItemIDs:     validated.ItemIDs,
		Metrics:     validated.Metrics,
		GroupBy:     validated.GroupBy,
	})
	if err != nil {
		return Invocation{}, fmt.Errorf("agent: marshal validated arguments: %w", err)
	}

	op, ok := p.registry.Lookup(ops.OpGetMetrics)
	if !ok {
		return Invocation{}, &ProtocolError{Detail: "registry is missing " + ops.OpGetMetrics}
	}

	execStart := time.Now()
	res, execErr := op.Execute(ctx, args)
	return Invocation{
		ID:       uuid.NewString(),
		Name:     ops.OpGetMetrics,
		Args:     args,
		Result:   res,
		Err:      execErr,
		Duration: time.Since(execStart),
	}, nil
}

// assemble merges invocation outcomes into the final answer. The complexity
// and strategy reported are those of the heaviest successful invocation; the
// turn is cache-eligible only when every successful invocation is.
func assemble(text string, invocations []Invocation, timings []datatypes.StageTiming, tokens datatypes.TokenUsage, fallbackUsed bool) *datatypes.Answer {
	var rows []datatypes.ResultRow
	var heaviest plan.Plan
	failures := 0
	succeeded := 0
	cacheEligible := true

	for _, inv := range invocations {
		if inv.Err != nil || inv.Result == nil || !inv.Result.Success {
			failures++
			continue
		}
		succeeded++
		rows = append(rows, inv.Result.Rows...)
		if classRank(inv.Result.Plan.Class) > classRank(heaviest.Class) {
			heaviest = inv.Result.Plan
		}
		cacheEligible = cacheEligible && inv.Result.Plan.CacheEligible
	}

	meta := datatypes.Metadata{
		Operations:        len(invocations),
		OperationFailures: failures,
		FallbackUsed:      fallbackUsed,
		Timings:           timings,
		Tokens:            tokens,
	}
	if succeeded > 0 {
		meta.Complexity = heaviest.Class
		meta.Strategy = heaviest.Strategy
		meta.CacheEligible = cacheEligible
	}
	return &datatypes.Answer{Text: text, Rows: rows, Metadata: meta}
}

func classRank(class string) int {
	switch class {
	case plan.ClassComplex:
		return 3
	case plan.ClassModerate:
		return 2
	case plan.ClassSimple:
		return 1
	default:
		return 0
	}
}
