package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/models"
)

var ErrNotFound = errors.New("measurement not found")

// DynamoAPI is the part of *dynamodb.Client the repositories use.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type MeasurementRepository struct {
	client    DynamoAPI
	tableName string
	logger    *logrus.Logger
}

func NewMeasurementRepository(client DynamoAPI, tableName string, logger *logrus.Logger) *MeasurementRepository {
	return &MeasurementRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

func userPK(userID string) string {
	return "USER#" + userID
}

func metricPrefix(metric string) string {
	return fmt.Sprintf("METRIC#%s#", metric)
}

// measurementSK orders a user's entries of one metric by date.
func measurementSK(m models.Measurement) string {
	return fmt.Sprintf("%s%s#%s#%s", metricPrefix(m.Metric), m.Date, m.Time, m.ID)
}

// Put stores a measurement under the user's partition.
func (r *MeasurementRepository) Put(ctx context.Context, userID string, m models.Measurement) error {
	item, err := attributevalue.MarshalMap(m)
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: userPK(userID)}
	item["SK"] = &types.AttributeValueMemberS{Value: measurementSK(m)}
	item["CreatedAt"] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to store measurement in DynamoDB")
		return fmt.Errorf("failed to store measurement: %w", err)
	}

	return nil
}

// ListByMetric returns up to limit measurements of one metric dated on or
// after since (YYYY-MM-DD, empty for all), newest first.
func (r *MeasurementRepository) ListByMetric(ctx context.Context, userID, metric, since string, limit int) ([]models.Measurement, error) {
	prefix := metricPrefix(metric)
	input := &dynamodb.QueryInput{
		TableName:        aws.String(r.tableName),
		ScanIndexForward: aws.Bool(false),
	}
	if since == "" {
		input.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		}
	} else {
		input.KeyConditionExpression = aws.String("PK = :pk AND SK BETWEEN :from AND :to")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: userPK(userID)},
			":from": &types.AttributeValueMemberS{Value: prefix + since},
			":to":   &types.AttributeValueMemberS{Value: prefix + "~"},
		}
	}

	var out []models.Measurement
	for {
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit - len(out)))
		}

		result, err := r.client.Query(ctx, input)
		if err != nil {
			r.logger.WithError(err).Error("Failed to query measurements")
			return nil, fmt.Errorf("failed to query measurements: %w", err)
		}

		var page []models.Measurement
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measurements: %w", err)
		}
		out = append(out, page...)

		if len(result.LastEvaluatedKey) == 0 || (limit > 0 && len(out) >= limit) {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return out, nil
}

// Delete removes a measurement. Deleting a missing one returns ErrNotFound.
func (r *MeasurementRepository) Delete(ctx context.Context, userID string, m models.Measurement) error {
	result, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: measurementSK(m)},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("failed to delete measurement: %w", err)
	}
	if len(result.Attributes) == 0 {
		return ErrNotFound
	}

	return nil
}
