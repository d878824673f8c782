// Package dynamodb provides an idpregistry.Registry stored in a DynamoDB
// table whose partition key is the string attribute "idp_id".
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ggoodman/udap-gateway-go/idpregistry"
)

const keyAttribute = "idp_id"

// API is the subset of the DynamoDB client used by the registry.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Registry implements idpregistry.Registry on a DynamoDB table.
type Registry struct {
	api   API
	table string
}

// New wraps an existing DynamoDB client.
func New(api API, table string) (*Registry, error) {
	if api == nil {
		return nil, fmt.Errorf("dynamodb client is required")
	}
	if table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	return &Registry{api: api, table: table}, nil
}

// NewFromEnvironment loads the default AWS configuration chain (environment,
// shared config, instance role) and returns a registry for table.
func NewFromEnvironment(ctx context.Context, table, region string) (*Registry, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table)
}

// Register puts m conditioned on attribute_not_exists(idp_id). A failed
// condition means another writer registered the IDP first.
func (r *Registry) Register(ctx context.Context, m idpregistry.Mapping) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", idpregistry.ErrInvalidMapping, err)
	}
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return false, fmt.Errorf("marshal mapping: %w", err)
	}
	_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": keyAttribute,
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("%w: put %s: %v", idpregistry.ErrStorageUnavailable, m.IDPID, err)
	}
	return true, nil
}

// Lookup reads the mapping for idpID with a strongly consistent read.
func (r *Registry) Lookup(ctx context.Context, idpID string) (*idpregistry.Mapping, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			keyAttribute: &types.AttributeValueMemberS{Value: idpID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", idpregistry.ErrStorageUnavailable, idpID, err)
	}
	if len(out.Item) == 0 {
		return nil, idpregistry.ErrUnknownIDP
	}
	var m idpregistry.Mapping
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", idpregistry.ErrStorageUnavailable, idpID, err)
	}
	return &m, nil
}

// Close is a no-op; the AWS client holds no resources needing release.
func (r *Registry) Close() error { return nil }

var _ idpregistry.Registry = (*Registry)(nil)
