// Package dynamodb stores region slots in a DynamoDB table shared by every
// node. The table needs a string partition key named "pk"; enabling DynamoDB
// TTL on the "ttl" attribute lets the service reap expired slots, and reads
// treat an expired "ttl" as a miss until then.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	pr "github.com/unkn0wn-root/regioncache/provider"
)

var (
	ErrNilClient    = errors.New("dynamodb provider: nil client")
	ErrMissingTable = errors.New("dynamodb provider: table name is required")
)

// API is the subset of *dynamodb.Client the provider calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type Config struct {
	Client API
	Table  string
	// ConsistentRead makes Get observe every acknowledged Set. Lock slots rely
	// on it; disable only for read-only regions.
	ConsistentRead bool
}

// record is the item layout in the table.
type record struct {
	PK  string `dynamodbav:"pk"`
	V   []byte `dynamodbav:"v"`
	TTL int64  `dynamodbav:"ttl,omitempty"`
}

type Provider struct {
	api        API
	table      string
	consistent bool
	now        func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Table == "" {
		return nil, ErrMissingTable
	}
	return &Provider{api: cfg.Client, table: cfg.Table, consistent: cfg.ConsistentRead, now: time.Now}, nil
}

// NewFromConfig loads the default AWS configuration (environment, shared
// config files, instance role) and builds a provider with consistent reads.
func NewFromConfig(ctx context.Context, table string, optFns ...func(*awsconfig.LoadOptions) error) (*Provider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb provider: load aws config: %w", err)
	}
	return New(Config{Client: dynamodb.NewFromConfig(awsCfg), Table: table, ConsistentRead: true})
}

func (p *Provider) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}}
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := p.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(p.table),
		Key:            p.key(key),
		ConsistentRead: aws.Bool(p.consistent),
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil || out.Item == nil {
		return nil, false, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, false, fmt.Errorf("dynamodb provider: unmarshal %q: %w", key, err)
	}
	if rec.TTL > 0 && rec.TTL <= p.now().Unix() {
		return nil, false, nil
	}
	return rec.V, true, nil
}

func (p *Provider) item(key string, value []byte, ttl time.Duration) (map[string]types.AttributeValue, error) {
	rec := record{PK: key, V: value}
	if ttl > 0 {
		// DynamoDB TTL has second granularity; round up so short lock TTLs survive.
		rec.TTL = p.now().Add(ttl + time.Second - 1).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("dynamodb provider: marshal %q: %w", key, err)
	}
	return item, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	item, err := p.item(key, value, ttl)
	if err != nil {
		return false, err
	}
	if _, err := p.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.table),
		Item:      item,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Conditions guarding CompareAndSwap. Items whose "ttl" has passed count as
// absent even before DynamoDB reaps them.
const (
	condAbsent  = "attribute_not_exists(pk) OR #ttl <= :now"
	condHolding = "#v = :old AND (attribute_not_exists(#ttl) OR #ttl > :now)"
)

// condition builds the expression requiring key to hold old.
func (p *Provider) condition(old []byte) (*string, map[string]string, map[string]types.AttributeValue) {
	now := &types.AttributeValueMemberN{Value: strconv.FormatInt(p.now().Unix(), 10)}
	if old == nil {
		return aws.String(condAbsent),
			map[string]string{"#ttl": "ttl"},
			map[string]types.AttributeValue{":now": now}
	}
	return aws.String(condHolding),
		map[string]string{"#v": "v", "#ttl": "ttl"},
		map[string]types.AttributeValue{":old": &types.AttributeValueMemberB{Value: old}, ":now": now}
}

// CompareAndSwap writes with a ConditionExpression on the prior payload, so
// the check and the write are one atomic request for every node.
func (p *Provider) CompareAndSwap(ctx context.Context, key string, old, next []byte, _ int64, ttl time.Duration) (bool, error) {
	cond, names, values := p.condition(old)
	var err error
	if next == nil {
		_, err = p.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(p.table),
			Key:                       p.key(key),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
	} else {
		var item map[string]types.AttributeValue
		if item, err = p.item(key, next, ttl); err != nil {
			return false, err
		}
		_, err = p.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(p.table),
			Item:                      item,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		})
	}
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, pr.ErrConflict
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.table),
		Key:       p.key(key),
	})
	return err
}

func (p *Provider) Close(context.Context) error { return nil }
