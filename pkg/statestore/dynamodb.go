package statestore

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mindburn-Labs/chatops/pkg/dynamo"
)

const (
	dynamoKeyAttr     = "key"
	dynamoValueAttr   = "value"
	dynamoTTLAttr     = "ttl"
	dynamoExpiresAttr = "expires_at_ms"
)

// DynamoStore keeps entries in a DynamoDB table keyed by "key". The "ttl"
// attribute drives native item expiry. Native deletion can lag by hours, so
// reads also compare "expires_at_ms" against the clock.
type DynamoStore struct {
	client dynamo.API
	table  string
	now    func() time.Time
}

func NewDynamoStore(client dynamo.API, table string, opts ...Option) *DynamoStore {
	o := buildOptions(opts)
	return &DynamoStore{client: client, table: table, now: o.now}
}

func (s *DynamoStore) Backend() string { return "dynamodb" }

func (s *DynamoStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := checkKey(key); err != nil {
		return err
	}
	expiresAt := s.now().Add(max(ttl, 0))
	if value == nil {
		value = []byte{}
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			dynamoKeyAttr:     dynamo.S(key),
			dynamoValueAttr:   dynamo.B(value),
			dynamoTTLAttr:     dynamo.N(ceilUnix(expiresAt)),
			dynamoExpiresAttr: dynamo.N(expiresAt.UnixMilli()),
		},
	})
	if err != nil {
		return unavailable(s.Backend(), "put", err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{dynamoKeyAttr: dynamo.S(key)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, unavailable(s.Backend(), "get", err)
	}
	if out.Item == nil {
		return nil, false, nil
	}
	if expiresMs, ok := dynamo.GetN(out.Item, dynamoExpiresAttr); ok {
		if s.now().UnixMilli() >= expiresMs {
			return nil, false, nil
		}
	} else if ttl, ok := dynamo.GetN(out.Item, dynamoTTLAttr); !ok || s.now().Unix() >= ttl {
		return nil, false, nil
	}
	return dynamo.GetB(out.Item, dynamoValueAttr), true, nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{dynamoKeyAttr: dynamo.S(key)},
	})
	if err != nil {
		return unavailable(s.Backend(), "delete", err)
	}
	return nil
}

// CleanupExpired is a no-op; the table's TTL setting removes items.
func (s *DynamoStore) CleanupExpired(context.Context) (int, error) { return 0, nil }

func (s *DynamoStore) Close() error { return nil }

// ceilUnix rounds up to whole seconds so native expiry never fires early.
func ceilUnix(t time.Time) int64 {
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}
