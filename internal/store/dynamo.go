package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/rs/zerolog/log"
)

// DynamoDB key layout: one partition per media kind, one item per record.
const (
	pkPrefix = "MEDIA#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25

	// batchWriteAttempts bounds resubmission of unprocessed items.
	batchWriteAttempts = 3
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements RecordStore for one media kind on a single table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	kind      MediaKind
	max       int
}

var _ RecordStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for kind. max caps the collection
// (DefaultMaxRecords when zero).
func NewDynamoStore(client DynamoAPI, tableName string, kind MediaKind, max int) *DynamoStore {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &DynamoStore{client: client, tableName: tableName, kind: kind, max: max}
}

func (s *DynamoStore) pk() string {
	return pkPrefix + string(s.kind)
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.pk()},
		"SK": &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoStore) Append(ctx context.Context, rec MediaRecord) error {
	if !rec.valid() {
		return apperr.Validation("record requires id, prompt and createdAt")
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: s.pk()}
	item["SK"] = &types.AttributeValueMemberS{Value: rec.ID}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", s.pk(), rec.ID, err)
	}

	if err := s.trim(ctx); err != nil {
		log.Warn().Err(err).Str("kind", string(s.kind)).Msg("Failed to trim record collection")
	}

	log.Debug().Str("id", rec.ID).Str("table", s.tableName).Msg("Record persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) Load(ctx context.Context) ([]MediaRecord, error) {
	records, err := s.queryAll(ctx)
	if err != nil {
		return nil, err
	}
	return normalize(records, s.max), nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*MediaRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem PK=%s SK=%s: %w", s.pk(), id, err)
	}
	if result.Item == nil {
		return nil, apperr.NotFound("record %s not found", id)
	}
	var rec MediaRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *DynamoStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(id),
		ConditionExpression: aws.String("attribute_exists(SK)"),
		UpdateExpression:    aws.String("SET #s = :s"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // reserved word
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return apperr.NotFound("record %s not found", id)
		}
		return fmt.Errorf("update record status %s -> %s: %w", id, status, err)
	}

	log.Debug().Str("id", id).Str("status", string(status)).Msg("Record status updated")
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(id),
		ConditionExpression: aws.String("attribute_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return apperr.NotFound("record %s not found", id)
		}
		return fmt.Errorf("DeleteItem PK=%s SK=%s: %w", s.pk(), id, err)
	}
	return nil
}

// queryAll reads the whole partition, following pagination.
func (s *DynamoStore) queryAll(ctx context.Context) ([]MediaRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: s.pk()},
		},
	}

	var records []MediaRecord
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", s.pk(), err)
		}
		var page []MediaRecord
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		records = append(records, page...)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return records, nil
}

// trim deletes records beyond the cap, oldest first.
func (s *DynamoStore) trim(ctx context.Context) error {
	records, err := s.queryAll(ctx)
	if err != nil {
		return err
	}
	if len(records) <= s.max {
		return nil
	}
	sorted := normalize(records, 0)
	if len(sorted) <= s.max {
		return nil
	}

	var keys []map[string]types.AttributeValue
	for _, rec := range sorted[s.max:] {
		keys = append(keys, s.key(rec.ID))
	}
	for i := 0; i < len(keys); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(keys))
		requests := make([]types.WriteRequest, 0, end-i)
		for _, key := range keys[i:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		if err := s.batchWrite(ctx, map[string][]types.WriteRequest{s.tableName: requests}); err != nil {
			return err
		}
	}
	log.Debug().Int("removed", len(keys)).Str("kind", string(s.kind)).Msg("Trimmed record collection")
	return nil
}

// batchUnprocessedDelay is the base backoff between resubmissions.
var batchUnprocessedDelay = 100 * time.Millisecond

// batchWrite submits items and resubmits whatever DynamoDB reports as
// unprocessed, backing off linearly, up to batchWriteAttempts calls.
func (s *DynamoStore) batchWrite(ctx context.Context, items map[string][]types.WriteRequest) error {
	for attempt := 1; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: items})
		if err != nil {
			return fmt.Errorf("BatchWriteItem delete (%d items): %w", countRequests(items), err)
		}
		if countRequests(out.UnprocessedItems) == 0 {
			return nil
		}
		items = out.UnprocessedItems
		if attempt == batchWriteAttempts {
			return fmt.Errorf("BatchWriteItem delete: %d items unprocessed after %d attempts", countRequests(items), attempt)
		}
		log.Debug().Int("unprocessed", countRequests(items)).Int("attempt", attempt).Msg("Retrying unprocessed batch items")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * batchUnprocessedDelay):
		}
	}
}

func countRequests(items map[string][]types.WriteRequest) int {
	n := 0
	for _, reqs := range items {
		n += len(reqs)
	}
	return n
}
