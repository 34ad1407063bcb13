package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/assetstage/assetstage/internal/config"
)

// DynamoDBAPI is the subset of *dynamodb.Client the registry uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// claimItem is the DynamoDB item shape. expires_at is the table's TTL
// attribute, in epoch seconds.
type claimItem struct {
	PK        string `dynamodbav:"pk"`
	Type      string `dynamodbav:"type"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoDBRegistry implements Registry on a DynamoDB table with TTL enabled.
// DynamoDB deletes expired items lazily (up to days later), so Exists also
// compares expires_at with the clock.
type DynamoDBRegistry struct {
	client    DynamoDBAPI
	tableName string
	now       func() time.Time
}

// NewDynamoDBRegistry creates a DynamoDB client from the default credential
// chain.
func NewDynamoDBRegistry(ctx context.Context, cfg *config.DynamoDBConfig) (*DynamoDBRegistry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dynamodb config is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewDynamoDBRegistryWithClient(dynamodb.NewFromConfig(awsCfg), cfg.Table), nil
}

// NewDynamoDBRegistryWithClient wraps an existing client. Used by tests.
func NewDynamoDBRegistryWithClient(client DynamoDBAPI, table string) *DynamoDBRegistry {
	return &DynamoDBRegistry{client: client, tableName: table, now: time.Now}
}

func pkClaim(key string) string {
	return "CLAIM#" + key
}

func (r *DynamoDBRegistry) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pkClaim(key)},
	}
}

func (r *DynamoDBRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	item, err := attributevalue.MarshalMap(claimItem{
		PK:        pkClaim(key),
		Type:      "claim",
		ExpiresAt: expiryFor(r.now(), ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshaling claim: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("putting claim: %w", err)
	}
	return nil
}

func (r *DynamoDBRegistry) Release(ctx context.Context, key string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("deleting claim: %w", err)
	}
	return nil
}

func (r *DynamoDBRegistry) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("getting claim: %w", err)
	}
	if resp.Item == nil {
		return false, nil
	}

	var item claimItem
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return false, fmt.Errorf("unmarshaling claim: %w", err)
	}
	return r.now().Unix() < item.ExpiresAt, nil
}

func (r *DynamoDBRegistry) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	return err
}

func (r *DynamoDBRegistry) Close() error {
	return nil
}

var _ Registry = (*DynamoDBRegistry)(nil)
