// Package extract turns accumulated conversation text into raw task
// candidates through an LLM.
//
// The result contract is three-way: a batch, "context exceeds budget" or
// "unparsable after repair". A returned error means every provider in the
// chain failed and is classified as an external service failure.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"taskcal/internal/apperr"
	"taskcal/internal/holiday"
	applog "taskcal/internal/log"
	"taskcal/internal/metrics"
	"taskcal/internal/model"
)

// Outcome is the kind of a successful extraction call.
type Outcome int

const (
	OutcomeBatch Outcome = iota + 1
	OutcomeContextTooLarge
	OutcomeUnparsable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBatch:
		return "batch"
	case OutcomeContextTooLarge:
		return "context_too_large"
	case OutcomeUnparsable:
		return "unparsable"
	default:
		return "unknown"
	}
}

// DefaultBudget is the prompt token budget when none is configured.
const DefaultBudget = 24000

// Request is one extraction turn.
type Request struct {
	// Context is the initial text followed by every clarification reply,
	// in arrival order.
	Context  []string
	Holidays model.HolidaySet
	Now      time.Time
	// Budget is the maximum prompt size in tokens.
	Budget int
}

// Result is a successful extraction. Candidates is set only for
// OutcomeBatch.
type Result struct {
	Outcome    Outcome
	Candidates []model.RawCandidate
}

// Completer produces a completion for a system and user message pair.
// Chain and Provider implement it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Extractor is the LLM-backed extraction collaborator.
type Extractor struct {
	llm     Completer
	tokens  TokenCounter
	metrics *metrics.Metrics
}

// New builds an extractor. A nil counter uses NewTokenCounter.
func New(llm Completer, tokens TokenCounter, m *metrics.Metrics) *Extractor {
	if tokens == nil {
		tokens = NewTokenCounter()
	}
	return &Extractor{llm: llm, tokens: tokens, metrics: m}
}

// Extract runs one extraction turn.
func (e *Extractor) Extract(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := e.extract(ctx, req)
	outcome := res.Outcome.String()
	if err != nil {
		outcome = "error"
	}
	e.metrics.Extraction(outcome, time.Since(start))
	return res, err
}

func (e *Extractor) extract(ctx context.Context, req Request) (Result, error) {
	budget := req.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	user := UserMessage(req)
	if n := e.tokens.Count(SystemPrompt) + e.tokens.Count(user); n > budget {
		applog.Info("extraction context over budget", "tokens", n, "budget", budget)
		return Result{Outcome: OutcomeContextTooLarge}, nil
	}

	text, err := e.llm.Complete(ctx, SystemPrompt, user)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindExternalService, "The task service is unavailable right now. Please try again later.", err)
	}
	candidates, err := Decode(text)
	if err == nil {
		return Result{Outcome: OutcomeBatch, Candidates: candidates}, nil
	}
	applog.Warn("extraction output malformed, asking for repair", "err", err)

	fixed, rerr := e.llm.Complete(ctx, RepairPrompt, RepairMessage(err, SliceArray(text)))
	if rerr != nil {
		return Result{}, apperr.Wrap(apperr.KindExternalService, "The task service is unavailable right now. Please try again later.", rerr)
	}
	candidates, err = Decode(fixed)
	if err != nil {
		applog.Warn("extraction output unparsable after repair", "err", err)
		return Result{Outcome: OutcomeUnparsable}, nil
	}
	return Result{Outcome: OutcomeBatch, Candidates: candidates}, nil
}

// UserMessage renders the prompt body: current instant, accumulated
// context and, when present, the holiday document.
func UserMessage(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Now(UTC): %s\n\nInput:\n", req.Now.UTC().Format(time.RFC3339))
	b.WriteString(strings.Join(req.Context, "\n\n"))
	if req.Holidays.Len() > 0 {
		doc, err := json.MarshalIndent(holiday.ToDocument(req.Holidays), "", "  ")
		if err == nil {
			b.WriteString("\n\nHolidays:\n")
			b.Write(doc)
		}
	}
	b.WriteString("\n\nReturn only the JSON array.")
	return b.String()
}

// RepairMessage asks the model to fix its own output.
func RepairMessage(cause error, text string) string {
	return fmt.Sprintf("Error: %v\n\nJSON to fix:\n%s", cause, text)
}
