// Package kinds implements one reconciliation strategy per resource kind:
// which audit entries announce a creation, how to list live resources that
// lack the owner tag, and how to apply it.
package kinds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/lassie/pkg/trail"
)

// Kind is a resource-kind strategy bound to one account and region.
type Kind interface {
	Name() string

	// Rule selects this kind's creation records in an audit log.
	Rule() trail.Rule

	// QueryUntagged lists live resources without ownerTag. Resources in a
	// terminal or terminating state are left out.
	QueryUntagged(ctx context.Context, ownerTag string) (*ResourceSet, error)

	// ApplyTag sets key=value on the resource. Re-applying the same tag is
	// a no-op at the provider.
	ApplyTag(ctx context.Context, resourceID, key, value string) error
}

// Scope is the account and region a Kind operates in.
type Scope struct {
	AccountID string
	Region    string
}

// Partition returns the ARN partition of the scope's region.
func (s Scope) Partition() string {
	switch {
	case strings.HasPrefix(s.Region, "cn-"):
		return "aws-cn"
	case strings.HasPrefix(s.Region, "us-gov-"):
		return "aws-us-gov"
	}
	return "aws"
}

func (s Scope) defaultRegion() string {
	switch s.Partition() {
	case "aws-cn":
		return "cn-north-1"
	case "aws-us-gov":
		return "us-gov-west-1"
	}
	return "us-east-1"
}

// arn builds an ARN in the scope's partition, region and account.
func (s Scope) arn(service, resource string) string {
	return fmt.Sprintf("arn:%s:%s:%s:%s:%s", s.Partition(), service, s.Region, s.AccountID, resource)
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isCode(err error, codes ...string) bool {
	code := errorCode(err)
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// hasKey reports whether any tag in tags has the given key.
func hasKey[T any](tags []T, key string, keyOf func(T) string) bool {
	for _, t := range tags {
		if keyOf(t) == key {
			return true
		}
	}
	return false
}
