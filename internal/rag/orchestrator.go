package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/conversation"
	"github.com/nikhilbhutani/ragconverse/internal/llm"
	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/pkg/eventstream"
)

// QueryRequest is one user question, optionally continuing a conversation.
type QueryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Orchestrator answers a query: it resolves the conversation, retrieves
// context, streams the generated answer and persists the exchange.
type Orchestrator struct {
	store           conversation.Store
	retriever       *Retriever
	assembler       *Assembler
	generator       StreamGenerator
	historyLimit    int
	generateTimeout time.Duration
	persistTimeout  time.Duration
	logger          *slog.Logger
}

type OrchestratorOptions struct {
	HistoryLimit    int
	GenerateTimeout time.Duration
	PersistTimeout  time.Duration
	Logger          *slog.Logger
}

func NewOrchestrator(store conversation.Store, retriever *Retriever, assembler *Assembler, generator StreamGenerator, opts OrchestratorOptions) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if assembler == nil {
		assembler = NewAssembler("", "")
	}
	return &Orchestrator{
		store:           store,
		retriever:       retriever,
		assembler:       assembler,
		generator:       generator,
		historyLimit:    opts.HistoryLimit,
		generateTimeout: opts.GenerateTimeout,
		persistTimeout:  opts.PersistTimeout,
		logger:          opts.Logger,
	}
}

// Exchange is a prepared query whose answer has not been generated yet.
type Exchange struct {
	o              *Orchestrator
	query          string
	conversationID string
	chunks         []RetrievedChunk
	sources        []eventstream.Source
	prompt         PromptInput
	consumed       atomic.Bool
	err            error
}

// Prepare runs every step before generation. Errors are returned
// synchronously: ErrValidation, ErrNotFound, ErrEmbedding, ErrRetrieval
// (each possibly also ErrTimeout) or ErrPersistence. Only the conversation
// itself may have been created when it fails.
func (o *Orchestrator) Prepare(ctx context.Context, req QueryRequest) (*Exchange, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("prepare query: %w: query must not be empty", models.ErrValidation)
	}

	sctx, cancel := withTimeout(ctx, o.persistTimeout)
	conv, err := o.store.GetOrCreate(sctx, req.ConversationID)
	cancel()
	if err != nil {
		return nil, storeError("resolve conversation", err)
	}
	log := o.logger.With("conversation_id", conv.ID)

	var history []models.Message
	if req.ConversationID != "" {
		sctx, cancel := withTimeout(ctx, o.persistTimeout)
		history, err = o.store.LoadRecentHistory(sctx, conv.ID, o.historyLimit)
		cancel()
		if err != nil {
			return nil, storeError("load history", err)
		}
	}

	vec, err := o.retriever.EmbedQuery(ctx, req.Query)
	if err != nil {
		log.Warn("query embedding failed", "error", err)
		return nil, err
	}
	chunks, err := o.retriever.Search(ctx, vec)
	if err != nil {
		log.Warn("retrieval failed", "error", err)
		return nil, err
	}

	in, err := o.assembler.Assemble(req.Query, history, chunks)
	if err != nil {
		return nil, err
	}

	log.Debug("query prepared", "history", len(history), "chunks", len(chunks))
	return &Exchange{
		o:              o,
		query:          req.Query,
		conversationID: conv.ID,
		chunks:         chunks,
		sources:        Sources(chunks),
		prompt:         in,
	}, nil
}

// storeError tags a conversation store call that ran out of time; other
// failures keep their own sentinel.
func storeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.StageError(models.ErrPersistence, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (x *Exchange) ConversationID() string { return x.conversationID }

func (x *Exchange) Sources() []eventstream.Source { return x.sources }

func (x *Exchange) Chunks() []RetrievedChunk { return x.chunks }

// Err returns the failure that produced the exchange's error event, if any.
func (x *Exchange) Err() error { return x.err }

// Events generates the answer. Every non-empty delta becomes one stream
// event in arrival order. A natural end yields one complete event and the
// user query plus the exact concatenated answer are then appended to the
// conversation; persistence failures are logged, not reported. A generation
// failure yields one error event and persists nothing, as does the consumer
// stopping early. An Exchange can be consumed once.
func (x *Exchange) Events(ctx context.Context) iter.Seq[eventstream.Event] {
	return func(yield func(eventstream.Event) bool) {
		if !x.consumed.CompareAndSwap(false, true) {
			x.err = errors.New("exchange already consumed")
			yield(ErrorEvent(x.err))
			return
		}
		o := x.o
		log := o.logger.With("conversation_id", x.conversationID)

		gctx, cancel := withTimeout(ctx, o.generateTimeout)
		defer cancel()

		fail := func(err error) {
			x.err = err
			log.Error("answer generation failed", "error", err)
			yield(ErrorEvent(err))
		}

		ch, err := o.generator.Stream(gctx, x.prompt)
		if err != nil {
			fail(models.StageError(models.ErrGeneration, "open answer stream", err))
			return
		}

		var answer strings.Builder
		for done := false; !done; {
			var (
				c  llm.StreamChunk
				ok bool
			)
			select {
			case c, ok = <-ch:
			case <-gctx.Done():
				fail(models.StageError(models.ErrGeneration, "generate answer", gctx.Err()))
				return
			}
			if !ok && gctx.Err() != nil {
				fail(models.StageError(models.ErrGeneration, "generate answer", gctx.Err()))
				return
			}
			if !ok {
				fail(fmt.Errorf("generate answer: %w: stream closed before completion", models.ErrGeneration))
				return
			}
			if c.Error != nil {
				fail(models.StageError(models.ErrGeneration, "generate answer", c.Error))
				return
			}
			if c.Content != "" {
				answer.WriteString(c.Content)
				if !yield(eventstream.Stream(c.Content, x.conversationID, x.sources)) {
					log.Info("consumer stopped before completion, answer discarded")
					return
				}
			}
			if c.Done {
				log.Info("answer generated",
					"answer_bytes", answer.Len(),
					"input_tokens", c.InputTokens,
					"output_tokens", c.OutputTokens,
				)
			}
			done = c.Done
		}

		// Generation is complete at this point, so the exchange is stored
		// even if the consumer went away while the complete event was sent.
		yield(eventstream.Complete(x.conversationID))
		x.persist(ctx, answer.String(), log)
	}
}

// Collect consumes the exchange and returns the full answer.
func (x *Exchange) Collect(ctx context.Context) (string, error) {
	var sb strings.Builder
	for e := range x.Events(ctx) {
		switch e.Type {
		case eventstream.TypeStream:
			sb.WriteString(e.Content)
		case eventstream.TypeError:
			return sb.String(), x.err
		}
	}
	return sb.String(), nil
}

func (x *Exchange) persist(ctx context.Context, answer string, log *slog.Logger) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), x.o.persistTimeout)
	defer cancel()

	_, err := x.o.store.AppendMessages(pctx, x.conversationID, []models.Message{
		{Role: models.RoleUser, Content: x.query},
		{Role: models.RoleAssistant, Content: answer},
	})
	if err != nil {
		log.Error("persist exchange failed", "error", err)
		return
	}
	log.Debug("exchange persisted", "answer_bytes", len(answer))
}

// Run prepares and generates in one sequence. A preparation failure becomes
// the single error event.
func (o *Orchestrator) Run(ctx context.Context, req QueryRequest) iter.Seq[eventstream.Event] {
	return func(yield func(eventstream.Event) bool) {
		x, err := o.Prepare(ctx, req)
		if err != nil {
			yield(ErrorEvent(err))
			return
		}
		for e := range x.Events(ctx) {
			if !yield(e) {
				return
			}
		}
	}
}

// Sources maps retrieved chunks to the references sent with every delta.
func Sources(chunks []RetrievedChunk) []eventstream.Source {
	out := make([]eventstream.Source, len(chunks))
	for i, c := range chunks {
		title := c.SourceTitle
		if title == "" {
			title = "Unknown source"
		}
		out[i] = eventstream.Source{
			ID:        c.ID,
			Title:     title,
			Link:      SourceLink(c.SourceID),
			ScoreText: fmt.Sprintf("%d%%", int(math.Round(c.Score*100))),
		}
	}
	return out
}

// ErrorEvent converts err to an in-band error event with a user-facing
// message and a stable code.
func ErrorEvent(err error) eventstream.Event {
	code := models.Code(err)
	return eventstream.Error(PublicMessage(code), code)
}

// PublicMessage is the client-facing text for an error code.
func PublicMessage(code string) string {
	switch code {
	case "validation_error":
		return "invalid request"
	case "not_found":
		return "conversation not found"
	case "embedding_failure":
		return "could not embed the query"
	case "retrieval_failure":
		return "could not search the knowledge base"
	case "generation_failure":
		return "answer generation failed"
	case "persistence_failure":
		return "could not store the conversation"
	case "timeout":
		return "the request timed out"
	case "configuration_error":
		return "service is not configured"
	default:
		return "request failed"
	}
}
