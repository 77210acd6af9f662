// Package awsclient builds per-account, per-region AWS SDK configurations.
package awsclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go/middleware"
	"golang.org/x/time/rate"

	"github.com/yairfalse/lassie/internal/config"
)

const sessionName = "lassie"

// New returns an SDK config bound to account's credentials and region.
// SDK-level retries are disabled because reconciliation applies its own
// policy. Every call made with the config waits on limiter first.
func New(ctx context.Context, account config.Account, region string, limiter *rate.Limiter) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if account.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(account.Profile))
	}
	if account.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(account.AccessKeyID, account.SecretAccessKey, account.SessionToken),
		))
	}
	// local endpoint override, e.g. localstack
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config for %s/%s: %w", account.Label(), region, err)
	}

	if account.RoleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = sessionName
			if account.ExternalID != "" {
				o.ExternalID = aws.String(account.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	if limiter != nil {
		cfg.APIOptions = append(cfg.APIOptions, RateLimit(limiter))
	}

	return cfg, nil
}

// RateLimit returns an API option that waits on limiter before each operation.
func RateLimit(limiter *rate.Limiter) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Initialize.Add(middleware.InitializeMiddlewareFunc("LassieRateLimit", func(ctx context.Context, input middleware.InitializeInput, next middleware.InitializeHandler) (
			middleware.InitializeOutput, middleware.Metadata, error,
		) {
			if err := limiter.Wait(ctx); err != nil {
				return middleware.InitializeOutput{}, middleware.Metadata{}, fmt.Errorf("rate limit: %w", err)
			}
			return next.HandleInitialize(ctx, input)
		}), middleware.Before)
	}
}

// STSAPI defines the STS operations used to resolve account identity.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// AccountID returns the account the credentials belong to.
func AccountID(ctx context.Context, client STSAPI) (string, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	if aws.ToString(out.Account) == "" {
		return "", errors.New("get caller identity: empty account")
	}
	return aws.ToString(out.Account), nil
}

// Limiters hands out one limiter per account, shared by all of that
// account's regions.
type Limiters struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*rate.Limiter
}

// NewLimiters creates limiters allowing rps calls per second with the given
// burst. A zero rps disables limiting.
func NewLimiters(rps float64, burst int) *Limiters {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiters{limit: limit, burst: max(burst, 1), byKey: make(map[string]*rate.Limiter)}
}

// For returns the limiter for key, creating it on first use.
func (l *Limiters) For(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lim, ok := l.byKey[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.byKey[key] = lim
	return lim
}
