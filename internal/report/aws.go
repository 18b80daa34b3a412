package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fundline/outreach/internal/config"
)

// awsStore holds the S3 and DynamoDB clients for report persistence.
type awsStore struct {
	s3Client *s3.Client
	dynamoDB *dynamodb.Client
	bucket   string
	table    string
}

// reportRow is the DynamoDB item shape. The report body is stored as a
// JSON string so the table schema never chases the report struct.
type reportRow struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
}

func newAWSStore(ctx context.Context, cfg config.ReportConfig) (*awsStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &awsStore{
		s3Client: s3.NewFromConfig(awsCfg),
		dynamoDB: dynamodb.NewFromConfig(awsCfg),
		bucket:   cfg.S3Bucket,
		table:    cfg.DynamoDBTable,
	}, nil
}

func (a *awsStore) putS3(ctx context.Context, key string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jsonData),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting report to S3: %w", err)
	}
	return nil
}

func (a *awsStore) getS3(ctx context.Context, key string, target interface{}) error {
	result, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("getting report from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("reading S3 object body: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("unmarshaling report: %w", err)
	}
	return nil
}

func (a *awsStore) putDynamo(ctx context.Context, rep *CampaignReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	row := reportRow{
		PK:        "REPORT#" + rep.CampaignID,
		SK:        rep.GeneratedAt.UTC().Format(time.RFC3339),
		Data:      string(data),
		Timestamp: rep.GeneratedAt.UTC().Format(time.RFC3339),
	}

	av, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("marshaling row: %w", err)
	}

	_, err = a.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting report to DynamoDB: %w", err)
	}
	return nil
}

func (a *awsStore) headBucket(ctx context.Context) error {
	_, err := a.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	return err
}

func (a *awsStore) describeTable(ctx context.Context) error {
	_, err := a.dynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(a.table),
	})
	return err
}

func (a *awsStore) latestDynamo(ctx context.Context, campaignID string) (*CampaignReport, error) {
	result, err := a.dynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: "REPORT#" + campaignID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("no report for campaign %s", campaignID)
	}

	var row reportRow
	if err := attributevalue.UnmarshalMap(result.Items[0], &row); err != nil {
		return nil, fmt.Errorf("unmarshaling row: %w", err)
	}

	var rep CampaignReport
	if err := json.Unmarshal([]byte(row.Data), &rep); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	return &rep, nil
}
