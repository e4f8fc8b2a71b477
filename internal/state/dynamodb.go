package state

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/singer-io/tap-gemini/internal/config"
)

// DynamoDBStore implements Store using AWS DynamoDB, one item per stream
type DynamoDBStore struct {
	client    *dynamodb.DynamoDB
	tableName string
}

// streamStateItem is the DynamoDB item layout.
type streamStateItem struct {
	StreamID  string            `dynamodbav:"stream_id"`
	Bookmarks map[string]string `dynamodbav:"bookmarks"`
}

// NewDynamoDBStore creates a new DynamoDB state store instance
func NewDynamoDBStore(cfg config.StateConfig) (*DynamoDBStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	store := &DynamoDBStore{
		client:    dynamodb.New(sess),
		tableName: cfg.TableName,
	}

	// Create table if it doesn't exist (for local testing)
	if err := store.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}

	return store, nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *DynamoDBStore) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("stream_id"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("stream_id"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err = d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

// Load scans all stream bookmark items.
func (d *DynamoDBStore) Load(ctx context.Context) (*State, error) {
	bookmarks := make(map[string]map[string]string)

	input := &dynamodb.ScanInput{TableName: aws.String(d.tableName)}
	err := d.client.ScanPagesWithContext(ctx, input,
		func(page *dynamodb.ScanOutput, _ bool) bool {
			for _, item := range page.Items {
				var record streamStateItem
				if err := dynamodbattribute.UnmarshalMap(item, &record); err != nil {
					continue
				}
				bookmarks[record.StreamID] = record.Bookmarks
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan state table: %w", err)
	}

	return FromBookmarks(bookmarks), nil
}

// Save writes one item per stream.
func (d *DynamoDBStore) Save(ctx context.Context, s *State) error {
	for streamID, streamBookmarks := range s.Snapshot() {
		item, err := dynamodbattribute.MarshalMap(streamStateItem{
			StreamID:  streamID,
			Bookmarks: streamBookmarks,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal state for stream %s: %w", streamID, err)
		}

		_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(d.tableName),
			Item:      item,
		})
		if err != nil {
			return fmt.Errorf("failed to store state for stream %s: %w", streamID, err)
		}
	}
	return nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStore) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
