package kinds

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// ErrUnsupportedKind is returned for kind names with no strategy.
var ErrUnsupportedKind = errors.New("unsupported resource kind")

// Definition describes a kind and builds it for an account and region.
type Definition struct {
	Name        string
	Description string
	Aliases     []string
	New         func(cfg aws.Config, scope Scope) Kind
}

var definitions = []Definition{
	{
		Name: "ec2-instance", Description: "EC2 instances launched with RunInstances",
		Aliases: []string{"instance"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewEC2Instances(ec2.NewFromConfig(cfg), s) },
	},
	{
		Name: "ebs-volume", Description: "EBS volumes created with CreateVolume",
		Aliases: []string{"volume"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewEBSVolumes(ec2.NewFromConfig(cfg), s) },
	},
	{
		Name: "security-group", Description: "VPC security groups",
		New: func(cfg aws.Config, s Scope) Kind { return NewSecurityGroups(ec2.NewFromConfig(cfg), s) },
	},
	{
		Name: "s3-bucket", Description: "S3 buckets located in the region",
		Aliases: []string{"bucket"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewS3Buckets(s3.NewFromConfig(cfg), s) },
	},
	{
		Name: "rds-instance", Description: "RDS database instances",
		Aliases: []string{"rds-db-instance", "database-instance"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewRDSInstances(rds.NewFromConfig(cfg), s) },
	},
	{
		Name: "redshift-cluster", Description: "Redshift provisioned clusters",
		New: func(cfg aws.Config, s Scope) Kind { return NewRedshiftClusters(redshift.NewFromConfig(cfg), s) },
	},
	{
		Name: "eks-cluster", Description: "EKS control planes",
		New: func(cfg aws.Config, s Scope) Kind { return NewEKSClusters(eks.NewFromConfig(cfg), s) },
	},
	{
		Name: "emr-cluster", Description: "EMR clusters started with RunJobFlow",
		Aliases: []string{"emr", "job-flow"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewEMRClusters(emr.NewFromConfig(cfg), s) },
	},
	{
		Name: "load-balancer", Description: "Application, network and gateway load balancers",
		Aliases: []string{"elb"},
		New:     func(cfg aws.Config, s Scope) Kind { return NewLoadBalancers(elasticloadbalancingv2.NewFromConfig(cfg), s) },
	},
	{
		Name: "dynamodb-table", Description: "DynamoDB tables",
		New: func(cfg aws.Config, s Scope) Kind { return NewDynamoDBTables(dynamodb.NewFromConfig(cfg), s) },
	},
	{
		Name: "lambda-function", Description: "Lambda functions",
		New: func(cfg aws.Config, s Scope) Kind { return NewLambdaFunctions(lambda.NewFromConfig(cfg), s) },
	},
	{
		Name: "sqs-queue", Description: "SQS queues",
		New: func(cfg aws.Config, s Scope) Kind { return NewSQSQueues(sqs.NewFromConfig(cfg), s) },
	},
	{
		Name: "ecs-cluster", Description: "ECS clusters",
		New: func(cfg aws.Config, s Scope) Kind { return NewECSClusters(ecs.NewFromConfig(cfg), s) },
	},
	{
		Name: "ecr-repository", Description: "ECR repositories",
		New: func(cfg aws.Config, s Scope) Kind { return NewECRRepositories(ecr.NewFromConfig(cfg), s) },
	},
	{
		Name: "autoscaling-group", Description: "EC2 Auto Scaling groups",
		New: func(cfg aws.Config, s Scope) Kind { return NewAutoScalingGroups(autoscaling.NewFromConfig(cfg), s) },
	},
	{
		Name: "kms-key", Description: "Customer managed KMS keys",
		New: func(cfg aws.Config, s Scope) Kind { return NewKMSKeys(kms.NewFromConfig(cfg), s) },
	},
	{
		Name: "log-group", Description: "CloudWatch Logs log groups",
		New: func(cfg aws.Config, s Scope) Kind { return NewLogGroups(cloudwatchlogs.NewFromConfig(cfg), s) },
	},
	{
		Name: "memorydb-cluster", Description: "MemoryDB clusters",
		New: func(cfg aws.Config, s Scope) Kind { return NewMemoryDBClusters(memorydb.NewFromConfig(cfg), s) },
	},
}

var byKey = func() map[string]Definition {
	m := make(map[string]Definition)
	for _, d := range definitions {
		m[normalize(d.Name)] = d
		for _, a := range d.Aliases {
			m[normalize(a)] = d
		}
	}
	return m
}()

// normalize folds case and separators so "EC2INSTANCE", "ec2_instance" and
// "ec2-instance" name the same kind.
func normalize(name string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(name)))
}

// Lookup returns the definition for name or alias.
func Lookup(name string) (Definition, error) {
	d, ok := byKey[normalize(name)]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, name)
	}
	return d, nil
}

// All returns every definition sorted by name.
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every kind name sorted.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	return names
}
