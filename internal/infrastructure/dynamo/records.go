package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-mail-verifier/internal/domain"
)

// API is the subset of *dynamodb.Client the record repo uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// RecordRepo stores one current VerificationRecord per address.
// PK: address. Every state change is a conditional write so concurrent
// instances agree on a single winner.
type RecordRepo struct {
	client    API
	tableName string
	retention time.Duration
}

// NewRecordRepo builds a repo. Resolved records expire retention after resolution;
// zero keeps them forever.
func NewRecordRepo(client API, tableName string, retention time.Duration) *RecordRepo {
	return &RecordRepo{client: client, tableName: tableName, retention: retention}
}

var pendingValue = &types.AttributeValueMemberS{Value: string(domain.OutcomePending)}

// Reserve writes rec unless the address already has a record. With supersede,
// a resolved record is replaced; a pending one never is. When nothing is
// written the current record is returned with created=false.
func (r *RecordRepo) Reserve(ctx context.Context, rec *domain.VerificationRecord, supersede bool) (*domain.VerificationRecord, bool, error) {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, false, fmt.Errorf("marshal verification record: %w", err)
	}
	in := &dynamodb.PutItemInput{
		TableName:                aws.String(r.tableName),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#a)"),
		ExpressionAttributeNames: map[string]string{"#a": fieldAddress},
	}
	if supersede {
		in.ConditionExpression = aws.String("attribute_not_exists(#a) OR #o <> :pending")
		in.ExpressionAttributeNames["#o"] = fieldOutcome
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":pending": pendingValue}
	}

	// A competing record can disappear between the failed put and the read
	// (released after a send failure), so try twice.
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := r.client.PutItem(ctx, in); err == nil {
			stored := *rec
			return &stored, true, nil
		} else if !isConditionFailed(err) {
			return nil, false, fmt.Errorf("put verification record: %w", err)
		}
		cur, err := r.Get(ctx, rec.Address)
		if err == nil {
			return cur, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("reserve %s: %w", rec.Address, domain.ErrConflict)
}

// AttachProbe stores the provider message id on a pending record.
func (r *RecordRepo) AttachProbe(ctx context.Context, address, recordID, messageID string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldProbeMessageID: messageID})
	if err != nil {
		return err
	}
	ue.Names["#rid"] = fieldRecordID
	ue.Names["#o"] = fieldOutcome
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldAddress, address),
		UpdateExpression:         aws.String(ue.Expr),
		ConditionExpression:      aws.String("#rid = :rid AND #o = :pending"),
		ExpressionAttributeNames: ue.Names,
		ExpressionAttributeValues: ue.withValues(map[string]types.AttributeValue{
			":rid":     &types.AttributeValueMemberS{Value: recordID},
			":pending": pendingValue,
		}),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("pending record %s for %s: %w", recordID, address, domain.ErrNotFound)
	}
	return err
}

// Release deletes a reservation whose probe was never sent. Records that
// already carry a message id are left alone.
func (r *RecordRepo) Release(ctx context.Context, address, recordID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldAddress, address),
		ConditionExpression: aws.String("#rid = :rid AND attribute_not_exists(#m)"),
		ExpressionAttributeNames: map[string]string{
			"#rid": fieldRecordID,
			"#m":   fieldProbeMessageID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: recordID},
		},
	})
	if isConditionFailed(err) {
		return nil
	}
	return err
}

// Resolve moves a pending record to a terminal stage exactly once. A record
// that is already resolved is returned unchanged with changed=false.
func (r *RecordRepo) Resolve(ctx context.Context, address, recordID string, res domain.Resolution) (*domain.VerificationRecord, bool, error) {
	if !domain.StagePending.CanTransition(res.Stage) {
		return nil, false, fmt.Errorf("resolve to %s: %w", res.Stage, domain.ErrBadRequest)
	}
	at := res.At.UTC()
	updates := map[string]interface{}{
		fieldStage:          string(res.Stage),
		fieldOutcome:        string(res.Stage.Outcome()),
		fieldEvidenceSource: string(res.Source),
		fieldResolvedAt:     at.Unix(),
		fieldDetail:         nil,
	}
	if res.Detail != "" {
		updates[fieldDetail] = res.Detail
	}
	if r.retention > 0 {
		updates[fieldExpiresAt] = at.Add(r.retention).Unix()
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return nil, false, err
	}
	ue.Names["#rid"] = fieldRecordID
	ue.Names["#cur"] = fieldOutcome

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldAddress, address),
		UpdateExpression:         aws.String(ue.Expr),
		ConditionExpression:      aws.String("#rid = :rid AND #cur = :pending"),
		ExpressionAttributeNames: ue.Names,
		ExpressionAttributeValues: ue.withValues(map[string]types.AttributeValue{
			":rid":     &types.AttributeValueMemberS{Value: recordID},
			":pending": pendingValue,
		}),
		ReturnValues: types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		cur, gErr := r.Get(ctx, address)
		if gErr != nil {
			return nil, false, gErr
		}
		if cur.ID != recordID {
			return nil, false, fmt.Errorf("record %s for %s: %w", recordID, address, domain.ErrNotFound)
		}
		return cur, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve verification record: %w", err)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal verification record: %w", err)
	}
	return &rec, true, nil
}

func (r *RecordRepo) Get(ctx context.Context, address string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldAddress, address),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification record not found: %w", domain.ErrNotFound)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepo) GetByID(ctx context.Context, recordID string) (*domain.VerificationRecord, error) {
	return r.queryOne(ctx, indexRecordID, fieldRecordID, recordID)
}

func (r *RecordRepo) GetByProbeMessageID(ctx context.Context, messageID string) (*domain.VerificationRecord, error) {
	return r.queryOne(ctx, indexProbeMessageID, fieldProbeMessageID, messageID)
}

// ListPending returns pending records created before cutoff, oldest first.
func (r *RecordRepo) ListPending(ctx context.Context, createdBefore time.Time) ([]domain.VerificationRecord, error) {
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexOutcome),
		KeyConditionExpression: aws.String("#o = :pending AND #c < :before"),
		ExpressionAttributeNames: map[string]string{
			"#o": fieldOutcome,
			"#c": fieldCreatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": pendingValue,
			":before":  &types.AttributeValueMemberN{Value: strconv.FormatInt(createdBefore.Unix(), 10)},
		},
	})
	var records []domain.VerificationRecord
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query pending records: %w", err)
		}
		var batch []domain.VerificationRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

func (r *RecordRepo) queryOne(ctx context.Context, index, attr, value string) (*domain.VerificationRecord, error) {
	if value == "" {
		return nil, fmt.Errorf("verification record: %w", domain.ErrNotFound)
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                aws.String(r.tableName),
		IndexName:                aws.String(index),
		KeyConditionExpression:   aws.String("#k = :v"),
		ExpressionAttributeNames: map[string]string{"#k": attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: value},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("verification record not found: %w", domain.ErrNotFound)
	}
	var rec domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Items[0], &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
