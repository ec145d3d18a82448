package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/storage"
)

// Per-token pricing in dollars.
type pricing struct {
	input  float64
	output float64
}

// gpt-4.1-nano: $0.15 / 1M input tokens, $0.60 / 1M output tokens.
var modelPricing = map[string]pricing{
	"gpt-4.1-nano": {input: 0.00000015, output: 0.00000060},
}

// Unknown models fall back to $2 / 1M tokens both ways.
var defaultPricing = pricing{input: 0.000002, output: 0.000002}

// ComputeCost prices a call for the given model.
func ComputeCost(model string, inputTokens, outputTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = defaultPricing
	}
	return float64(inputTokens)*p.input + float64(outputTokens)*p.output
}

// Ledger appends usage rows and gates AI-consuming actions on the caller's
// monthly cost.
type Ledger struct {
	storage      storage.Storage
	cap          float64
	warnFraction float64
}

func NewLedger(storage storage.Storage, cap, warnFraction float64) *Ledger {
	return &Ledger{
		storage:      storage,
		cap:          cap,
		warnFraction: warnFraction,
	}
}

// Cap returns the configured monthly cost cap.
func (l *Ledger) Cap() float64 {
	return l.cap
}

// RecordUsage appends one ledger row. Rows are never updated or deleted.
func (l *Ledger) RecordUsage(ctx context.Context, userID int64, model, requestType string, inputTokens, outputTokens int, metadata map[string]string) (*models.UsageRecord, error) {
	rec := &models.UsageRecord{
		UserID:       userID,
		Model:        model,
		RequestType:  requestType,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		Cost:         ComputeCost(model, inputTokens, outputTokens),
		Metadata:     metadata,
	}

	if err := l.storage.CreateUsageRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording usage: %w", err)
	}
	return rec, nil
}

// MonthlyCost sums the user's ledger rows for the current calendar month.
func (l *Ledger) MonthlyCost(ctx context.Context, userID int64) (float64, error) {
	return l.storage.MonthlyCost(ctx, userID, time.Now())
}

// CanConsume reports whether the user is still under the monthly cap.
func (l *Ledger) CanConsume(ctx context.Context, userID int64) (bool, error) {
	cost, err := l.MonthlyCost(ctx, userID)
	if err != nil {
		return false, err
	}
	return cost < l.cap, nil
}

// ApproachingCap reports whether a monthly cost has reached the warning
// threshold. The worker broadcasts at most one warning per generation.
func (l *Ledger) ApproachingCap(monthlyCost float64) bool {
	return monthlyCost >= l.cap*l.warnFraction
}
