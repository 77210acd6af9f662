package orchestrator

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/time/rate"

	"github.com/yairfalse/lassie/internal/config"
	"github.com/yairfalse/lassie/internal/kinds"
	"github.com/yairfalse/lassie/internal/logsource"
	"github.com/yairfalse/lassie/internal/retry"
)

// Options control one run.
type Options struct {
	// Start is the first day of audit logs to read.
	Start time.Time

	// Parallelism bounds how many (account, region) pairs run at once.
	Parallelism int
	MaxDays     int
	ScratchDir  string
	Retry       retry.Policy
	RateLimit   config.RateLimitConfig

	// DryRun forces dry run for every account.
	DryRun bool
}

// Environment builds the per-pair collaborators. AWS returns the real one;
// tests substitute fakes.
type Environment struct {
	Config    func(ctx context.Context, account config.Account, region string, limiter *rate.Limiter) (aws.Config, error)
	AccountID func(ctx context.Context, cfg aws.Config) (string, error)
	Source    func(cfg aws.Config, account config.Account, scratch *logsource.Scratch, maxDays int, policy retry.Policy) (logsource.Source, error)
	Kind      func(def kinds.Definition, cfg aws.Config, scope kinds.Scope) kinds.Kind
}
