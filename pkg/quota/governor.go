// Package quota implements the usage governor: per-identity daily
// consumption tracked in Redis and compared against tiered ceilings.
// The governor fails open: if the usage store is unreachable the call is
// allowed and the outage is logged loudly, because service availability
// outranks quota strictness.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/threat"
)

const (
	keyNamespace = "moat:usage"
	// Daily keys linger one extra day so a dashboard can read yesterday.
	keyExpiry = 48 * time.Hour

	fieldRequests = "requests"
	fieldTokens   = "tokens"
	// Costs are stored as integer micro-USD to keep HIncrBy atomic.
	fieldCostMicro = "cost_microusd"
)

// Record is one immutable, append-only usage entry.
type Record struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordSink receives finalized usage records for durable storage.
// Persistence is owned by an external collaborator.
type RecordSink interface {
	SaveUsage(ctx context.Context, rec Record) error
}

// Governor tracks per-identity, per-UTC-day consumption.
type Governor struct {
	rdb    redis.UniversalClient
	sink   RecordSink
	logger *zap.Logger
	now    func() time.Time
}

// NewGovernor builds a governor over a Redis usage store. sink may be nil
// when durable persistence is disabled.
func NewGovernor(rdb redis.UniversalClient, sink RecordSink, logger *zap.Logger) *Governor {
	return &Governor{rdb: rdb, sink: sink, logger: logger.Named("quota"), now: time.Now}
}

// WithClock overrides the clock; used by tests to pin the UTC day.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

func dayKey(identity string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", keyNamespace, identity, t.UTC().Format("2006-01-02"))
}

// CheckQuota compares today's aggregate consumption against the tier
// ceilings. It never returns an error: a store outage fails open.
func (g *Governor) CheckQuota(ctx context.Context, identity string, tier threat.Tier) Status {
	ceiling := CeilingFor(tier)

	vals, err := g.rdb.HGetAll(ctx, dayKey(identity, g.now())).Result()
	if err != nil {
		g.logger.Error("usage store unreachable, failing open",
			zap.String("identity", identity),
			zap.Error(err))
		return Status{
			WithinLimits:      true,
			RemainingRequests: ceiling.Requests,
			RemainingTokens:   ceiling.Tokens,
			RemainingCostUSD:  ceiling.CostUSD,
			FailedOpen:        true,
		}
	}

	var requests, tokens, costMicro int64
	fmt.Sscanf(vals[fieldRequests], "%d", &requests)
	fmt.Sscanf(vals[fieldTokens], "%d", &tokens)
	fmt.Sscanf(vals[fieldCostMicro], "%d", &costMicro)
	costUSD := float64(costMicro) / 1e6

	status := Status{
		WithinLimits: requests < ceiling.Requests &&
			tokens < ceiling.Tokens &&
			costUSD < ceiling.CostUSD,
		RemainingRequests: nonNegative(ceiling.Requests - requests),
		RemainingTokens:   nonNegative(ceiling.Tokens - tokens),
		RemainingCostUSD:  nonNegativeF(ceiling.CostUSD - costUSD),
	}
	return status
}

// RecordUsage increments today's counters and appends the immutable record
// to the persistent sink. The increments are detached from the caller's
// cancellation: usage already incurred by a remote call (billed tokens) is
// recorded even when the request was abandoned mid-flight.
func (g *Governor) RecordUsage(ctx context.Context, identity, provider, model string, tokensIn, tokensOut int64, cacheHit bool) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Identity:  identity,
		Provider:  provider,
		Model:     model,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   Cost(provider, model, tokensIn, tokensOut),
		CacheHit:  cacheHit,
		Timestamp: g.now().UTC(),
	}

	// Detach from caller cancellation, keep a bounded deadline of our own.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	key := dayKey(identity, rec.Timestamp)
	pipe := g.rdb.TxPipeline()
	pipe.HIncrBy(dctx, key, fieldRequests, 1)
	pipe.HIncrBy(dctx, key, fieldTokens, tokensIn+tokensOut)
	pipe.HIncrBy(dctx, key, fieldCostMicro, int64(rec.CostUSD*1e6))
	pipe.Expire(dctx, key, keyExpiry)
	if _, err := pipe.Exec(dctx); err != nil {
		g.logger.Error("failed to record usage counters",
			zap.String("identity", identity),
			zap.Error(err))
	}

	if g.sink != nil {
		if err := g.sink.SaveUsage(dctx, rec); err != nil {
			g.logger.Error("failed to persist usage record",
				zap.String("identity", identity),
				zap.Error(err))
		}
	}
	return rec
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegativeF(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
