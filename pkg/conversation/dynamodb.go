package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Mindburn-Labs/chatops/pkg/dynamo"
)

const dynamoPK = "conversation_id"

// DynamoStore keeps conversations in a DynamoDB table partitioned by
// conversation_id. The "ttl" attribute drives native expiry; listing is a
// paginated Scan sorted in process.
type DynamoStore struct {
	client    dynamo.API
	table     string
	now       func() time.Time
	retention time.Duration
}

func NewDynamoStore(client dynamo.API, table string, opts ...Option) *DynamoStore {
	o := buildOptions(opts)
	return &DynamoStore{client: client, table: table, now: o.now, retention: o.retention}
}

func (s *DynamoStore) Backend() string { return "dynamodb" }

func (s *DynamoStore) SaveConversation(ctx context.Context, r *Record) error {
	if err := prepare(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		if prev, ok, err := s.GetConversation(ctx, r.ConversationID); err != nil {
			return err
		} else if ok {
			r.CreatedAt = prev.CreatedAt
		}
	}
	now := s.now()
	stamp(r, now)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			dynamoPK:                  dynamo.S(r.ConversationID),
			"task_id":                 dynamo.S(r.TaskID),
			"task_name":               dynamo.S(r.TaskName),
			"task_type":               dynamo.S(r.TaskType),
			"status":                  dynamo.S(string(r.Status)),
			"preview_ready":           dynamo.Bool(r.PreviewReady),
			"checks_status":           dynamo.S(r.ChecksStatus),
			"draft_pr_payload_exists": dynamo.Bool(r.DraftPRPayloadExists),
			"artifact_urls":           dynamo.StringList(r.ArtifactURLs),
			"created_at":              dynamo.N(r.CreatedAt.UnixMilli()),
			"last_activity_at":        dynamo.N(r.LastActivityAt.UnixMilli()),
			"ttl":                     dynamo.N(now.Add(s.retention).Unix()),
		},
	})
	if err != nil {
		return unavailable(s.Backend(), "save", err)
	}
	return nil
}

func (s *DynamoStore) GetConversation(ctx context.Context, id string) (*Record, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{dynamoPK: dynamo.S(strings.TrimSpace(id))},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, unavailable(s.Backend(), "get", err)
	}
	if out.Item == nil || s.expired(out.Item) {
		return nil, false, nil
	}
	return fromItem(out.Item), true, nil
}

func (s *DynamoStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{dynamoPK: dynamo.S(strings.TrimSpace(id))},
	})
	if err != nil {
		return unavailable(s.Backend(), "delete", err)
	}
	return nil
}

func (s *DynamoStore) ListConversations(ctx context.Context, opts ListOptions) ([]*Record, error) {
	set, ok := opts.activeFilter()
	if !ok {
		return []*Record{}, nil
	}

	out := []*Record{}
	err := s.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(s.table),
		FilterExpression:          aws.String("#status <> :completed"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":completed": dynamo.S(string(StatusCompleted))},
	}, func(item map[string]types.AttributeValue) {
		if s.expired(item) {
			return
		}
		if r := fromItem(item); matches(r, set) {
			out = append(out, r)
		}
	})
	if err != nil {
		return nil, err
	}
	return sortAndTruncate(out, opts.limit()), nil
}

// CleanupExpired deletes inactive conversations. Native TTL removes items
// written under the configured retention; this also enforces a shorter ttl.
func (s *DynamoStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-cleanupTTL(ttl)).UnixMilli()

	var stale []string
	err := s.scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#id, last_activity_at"),
		ExpressionAttributeNames: map[string]string{"#id": dynamoPK},
	}, func(item map[string]types.AttributeValue) {
		if at, ok := dynamo.GetN(item, "last_activity_at"); ok && at < cutoff {
			stale = append(stale, dynamo.GetS(item, dynamoPK))
		}
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range stale {
		if err := s.DeleteConversation(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) scan(ctx context.Context, in *dynamodb.ScanInput, fn func(map[string]types.AttributeValue)) error {
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return unavailable(s.Backend(), "scan", err)
		}
		for _, item := range out.Items {
			fn(item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// expired hides items whose native TTL has passed but which DynamoDB has not
// deleted yet.
func (s *DynamoStore) expired(item map[string]types.AttributeValue) bool {
	ttl, ok := dynamo.GetN(item, "ttl")
	return ok && s.now().Unix() >= ttl
}

func fromItem(item map[string]types.AttributeValue) *Record {
	r := &Record{
		ConversationID:       dynamo.GetS(item, dynamoPK),
		TaskID:               dynamo.GetS(item, "task_id"),
		TaskName:             dynamo.GetS(item, "task_name"),
		TaskType:             dynamo.GetS(item, "task_type"),
		Status:               Status(dynamo.GetS(item, "status")),
		PreviewReady:         dynamo.GetBool(item, "preview_ready"),
		ChecksStatus:         dynamo.GetS(item, "checks_status"),
		DraftPRPayloadExists: dynamo.GetBool(item, "draft_pr_payload_exists"),
		ArtifactURLs:         nonNilStrings(dynamo.GetStringList(item, "artifact_urls")),
	}
	if ms, ok := dynamo.GetN(item, "created_at"); ok {
		r.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, ok := dynamo.GetN(item, "last_activity_at"); ok {
		r.LastActivityAt = time.UnixMilli(ms).UTC()
	}
	return r
}
