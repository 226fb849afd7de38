package ddb

import (
	"context"
	"posgate/internal/types"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// maxBatchWrite is the DynamoDB BatchWriteItem limit.
const maxBatchWrite = 25

// ValueStore implements ports.ValueStore using a TTL item per key.
// DynamoDB TTL deletion lags by up to days, so Get also checks ExpiresAtMs.
type ValueStore struct {
	table string
	cli   *dynamodb.Client
	now   func() time.Time
}

type valueItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Value       []byte `dynamodbav:"val"`
	ExpiresAtMs int64  `dynamodbav:"exp_ms"`
	ExpiresAt   int64  `dynamodbav:"ttl"`
}

func NewValueStore(ctx context.Context, table string, cli *dynamodb.Client) (*ValueStore, error) {
	if err := createTableIfNotExists(ctx, cli, table); err != nil {
		return nil, err
	}
	return &ValueStore{table: table, cli: cli, now: time.Now}, nil
}

func (s *ValueStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkValues()},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skValue(key)},
		},
	})
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "")
	}
	if out.Item == nil {
		return nil, types.ErrNotFound
	}
	var it valueItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	if s.now().UnixMilli() >= it.ExpiresAtMs {
		return nil, types.ErrNotFound
	}
	return it.Value, nil
}

// Set stores value for ttl. A non-positive ttl stores nothing.
func (s *ValueStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	exp := s.now().Add(ttl)
	av, err := attributevalue.MarshalMap(valueItem{
		PK:          pkValues(),
		SK:          skValue(key),
		Value:       value,
		ExpiresAtMs: exp.UnixMilli(),
		// rounded up so the DynamoDB sweeper never runs ahead of ExpiresAtMs
		ExpiresAt: exp.Add(time.Second).Unix(),
	})
	if err != nil {
		return err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *ValueStore) Delete(ctx context.Context, key string) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkValues()},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skValue(key)},
		},
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "")
	}
	return nil
}

func (s *ValueStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return deleteByPrefix(ctx, s.cli, s.table, pkValues(), skValue(prefix))
}

// deleteByPrefix removes every item of partition pk whose sort key starts
// with skPrefix.
func deleteByPrefix(ctx context.Context, cli *dynamodb.Client, table, pk, skPrefix string) (int, error) {
	p := dynamodb.NewQueryPaginator(cli, &dynamodb.QueryInput{
		TableName:              &table,
		KeyConditionExpression: awsString("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":pk": &ddbTypes.AttributeValueMemberS{Value: pk},
			":sk": &ddbTypes.AttributeValueMemberS{Value: skPrefix},
		},
		ProjectionExpression: awsString("PK, SK"),
	})
	var reqs []ddbTypes.WriteRequest
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, types.Err(types.ErrDataStoreAccess, err, "")
		}
		for _, item := range out.Items {
			reqs = append(reqs, ddbTypes.WriteRequest{
				DeleteRequest: &ddbTypes.DeleteRequest{Key: map[string]ddbTypes.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				}},
			})
		}
	}

	deleted := 0
	for start := 0; start < len(reqs); start += maxBatchWrite {
		batch := reqs[start:min(start+maxBatchWrite, len(reqs))]
		n, err := batchDelete(ctx, cli, table, batch)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// batchDelete retries unprocessed items a few times before giving up.
func batchDelete(ctx context.Context, cli *dynamodb.Client, table string, batch []ddbTypes.WriteRequest) (int, error) {
	pending := batch
	for attempt := 0; attempt < 5 && len(pending) > 0; attempt++ {
		out, err := cli.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]ddbTypes.WriteRequest{table: pending},
		})
		if err != nil {
			return len(batch) - len(pending), types.Err(types.ErrDataStoreAccess, err, "")
		}
		pending = out.UnprocessedItems[table]
		if len(pending) > 0 {
			time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
		}
	}
	if len(pending) > 0 {
		log.WithField("unprocessed", len(pending)).Warn("batch delete left items behind")
	}
	return len(batch) - len(pending), nil
}
