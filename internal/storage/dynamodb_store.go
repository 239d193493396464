package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
)

const (
	dynamoKeyAttr        = "MachineId"
	dynamoLocationAttr   = "LocationId"
	dynamoLocationIndex  = "LocationIndex"
	tableCreationTimeout = 2 * time.Minute
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type DynamoDBConfig struct {
	Endpoint string
	Profile  string
	Region   string
	Table    string
}

// DynamoDBStore implements Store on a DynamoDB table keyed by MachineId with a
// LocationIndex GSI (LocationId hash, MachineId range). Listing order is by
// machine id within a location. The GSI is eventually consistent, which the
// compare-and-swap on every status write compensates for.
type DynamoDBStore struct {
	table  string
	client DynamoDBAPI
	logger *zap.Logger
}

// NewDynamoDBStore wraps an existing client. Use OpenDynamoDBStore to build one
// from configuration.
func NewDynamoDBStore(client DynamoDBAPI, table string, logger *zap.Logger) *DynamoDBStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBStore{table: table, client: client, logger: logger.Named("dynamodb_store")}
}

func OpenDynamoDBStore(ctx context.Context, cfg DynamoDBConfig, logger *zap.Logger) (*DynamoDBStore, error) {
	var cfgOptions []func(*config.LoadOptions) error
	var ddbClientOptions []func(*dynamodb.Options)

	if cfg.Endpoint != "" {
		ddbClientOptions = append(ddbClientOptions, dynamodb.WithEndpointResolverV2(NewEndpointResolver(cfg.Endpoint)))
	}
	if cfg.Profile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(cfg.Region))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	s := NewDynamoDBStore(dynamodb.NewFromConfig(sdkConfig, ddbClientOptions...), cfg.Table, logger)
	s.logger.Info("dynamodb store initialized",
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.String("table", cfg.Table),
	)
	return s, nil
}

// EnsureTable creates the machines table and its location index if missing.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe table %s: %w", s.table, err)
	}

	s.logger.Info("table not found, creating", zap.String("table", s.table))
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(dynamoKeyAttr), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(dynamoLocationAttr), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(dynamoKeyAttr), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(dynamoLocationIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(dynamoLocationAttr), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String(dynamoKeyAttr), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}, tableCreationTimeout); err != nil {
		return fmt.Errorf("error waiting for table %s to exist: %w", s.table, err)
	}
	s.logger.Info("table created and active", zap.String("table", s.table))
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoDBStore) Close() error { return nil }

func (s *DynamoDBStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		dynamoKeyAttr: &types.AttributeValueMemberS{Value: id},
	}
}

func (s *DynamoDBStore) PutMachine(ctx context.Context, m *models.Machine) error {
	if m == nil || m.ID == "" {
		return errors.New("machine id required")
	}
	rec := m.Clone()
	rec.UpdatedAt = time.Now().UTC()
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("attributevalue.MarshalMap failed: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		s.logger.Error("put item failed", zap.String("machine_id", m.ID), zap.Error(err))
		return fmt.Errorf("dynamodb.PutItem failed: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.Error("get item failed", zap.String("machine_id", id), zap.Error(err))
		return nil, fmt.Errorf("dynamodb.GetItem failed: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var m models.Machine
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("attributevalue.UnmarshalMap failed: %w", err)
	}
	return &m, nil
}

func (s *DynamoDBStore) ListMachinesAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	p := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(dynamoLocationIndex),
		KeyConditionExpression: aws.String("#loc = :loc"),
		ExpressionAttributeNames: map[string]string{
			"#loc": dynamoLocationAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":loc": &types.AttributeValueMemberS{Value: locationID},
		},
	})

	out := []*models.Machine{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			s.logger.Error("query failed", zap.String("location_id", locationID), zap.Error(err))
			return nil, fmt.Errorf("dynamodb.Query failed: %w", err)
		}
		var batch []*models.Machine
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("attributevalue.UnmarshalListOfMaps failed: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *DynamoDBStore) UpdateMachineStatus(ctx context.Context, id string, status models.Status) error {
	return s.updateField(ctx, id, "Status", string(status), "")
}

func (s *DynamoDBStore) UpdateMachineJobID(ctx context.Context, id string, jobID string) error {
	return s.updateField(ctx, id, "CurrentJobId", jobID, "")
}

func (s *DynamoDBStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.Status) error {
	return s.updateField(ctx, id, "Status", string(to), string(from))
}

// updateField sets one string attribute, bumps Version and UpdatedAt. When
// expected is non-empty the write is conditional on Status == expected.
func (s *DynamoDBStore) updateField(ctx context.Context, id, field, value, expected string) error {
	names := map[string]string{
		"#f":  field,
		"#v":  "Version",
		"#u":  "UpdatedAt",
		"#id": dynamoKeyAttr,
	}
	values := map[string]types.AttributeValue{
		":f":   &types.AttributeValueMemberS{Value: value},
		":one": &types.AttributeValueMemberN{Value: "1"},
		":u":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
	cond := "attribute_exists(#id)"
	if expected != "" {
		names["#s"] = "Status"
		values[":expected"] = &types.AttributeValueMemberS{Value: expected}
		cond += " AND #s = :expected"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.table),
		Key:                                 s.key(id),
		UpdateExpression:                    aws.String("SET #f = :f, #u = :u ADD #v :one"),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err == nil {
		return nil
	}

	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		if ccf.Item == nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: machine %s is not %s", ErrConditionFailed, id, expected)
	}
	s.logger.Error("update item failed", zap.String("machine_id", id), zap.String("field", field), zap.Error(err))
	return fmt.Errorf("dynamodb.UpdateItem failed: %w", err)
}
