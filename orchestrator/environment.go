package orchestrator

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/lassie/internal/awsclient"
	"github.com/yairfalse/lassie/internal/kinds"
	"github.com/yairfalse/lassie/internal/logsource"
)

// AWS is the environment backed by the AWS SDK.
func AWS() Environment {
	return Environment{
		Config: awsclient.New,
		AccountID: func(ctx context.Context, cfg aws.Config) (string, error) {
			return awsclient.AccountID(ctx, sts.NewFromConfig(cfg))
		},
		Source: logsource.New,
		Kind: func(def kinds.Definition, cfg aws.Config, scope kinds.Scope) kinds.Kind {
			return def.New(cfg, scope)
		},
	}
}
