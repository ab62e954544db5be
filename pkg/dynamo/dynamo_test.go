package dynamo_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/chatops/pkg/dynamo"
	"github.com/Mindburn-Labs/chatops/pkg/dynamo/dynamotest"
)

var _ dynamo.API = (*dynamodb.Client)(nil)
var _ dynamo.API = (*dynamotest.Fake)(nil)

func TestAttributeHelpers(t *testing.T) {
	item := map[string]types.AttributeValue{
		"s":    dynamo.S("x"),
		"b":    dynamo.B([]byte{1, 2}),
		"n":    dynamo.N(1700000000),
		"ok":   dynamo.Bool(true),
		"list": dynamo.StringList([]string{"a", "b"}),
		"ss":   &types.AttributeValueMemberSS{Value: []string{"c"}},
		"bad":  &types.AttributeValueMemberN{Value: "not-a-number"},
	}

	assert.Equal(t, "x", dynamo.GetS(item, "s"))
	assert.Equal(t, []byte{1, 2}, dynamo.GetB(item, "b"))
	n, ok := dynamo.GetN(item, "n")
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), n)
	_, ok = dynamo.GetN(item, "bad")
	assert.False(t, ok)
	assert.True(t, dynamo.GetBool(item, "ok"))
	assert.Equal(t, []string{"a", "b"}, dynamo.GetStringList(item, "list"))
	assert.Equal(t, []string{"c"}, dynamo.GetStringList(item, "ss"))

	assert.Empty(t, dynamo.GetS(item, "missing"))
	assert.False(t, dynamo.GetBool(item, "s"))
}

func TestFakeScanPaginates(t *testing.T) {
	ctx := context.Background()
	f := dynamotest.New("key")
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		_, err := f.PutItem(ctx, &dynamodb.PutItemInput{Item: map[string]types.AttributeValue{"key": dynamo.S(k)}})
		require.NoError(t, err)
	}

	var seen []string
	var start map[string]types.AttributeValue
	for {
		out, err := f.Scan(ctx, &dynamodb.ScanInput{Limit: aws.Int32(2), ExclusiveStartKey: start})
		require.NoError(t, err)
		for _, it := range out.Items {
			seen = append(seen, dynamo.GetS(it, "key"))
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		start = out.LastEvaluatedKey
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
	assert.Equal(t, 3, f.Scans)
}
