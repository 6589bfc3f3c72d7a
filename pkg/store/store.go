// Package store is the persistent-store collaborator: finished verdicts and
// usage records are handed to it for durable storage. The scoring core never
// reads them back; persistence failures are logged by callers, not raised.
package store

import (
	"context"

	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/threat"
)

// Store receives final verdicts and usage records.
type Store interface {
	SaveVerdict(ctx context.Context, identity string, v threat.Verdict) error
	SaveUsage(ctx context.Context, rec quota.Record) error
}

// Noop discards everything. Used when no database is configured.
type Noop struct{}

func (Noop) SaveVerdict(context.Context, string, threat.Verdict) error { return nil }

func (Noop) SaveUsage(context.Context, quota.Record) error { return nil }
