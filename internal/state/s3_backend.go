package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/picklr-io/splunk-stack/internal/ir"
)

// S3Config configures remote state. Locking is enabled by naming a DynamoDB
// table whose partition key is the string attribute LockID.
type S3Config struct {
	Bucket        string
	Key           string
	Region        string
	DynamoDBTable string
	Encrypt       bool
	Profile       string
}

const defaultS3Key = "splunkstack/state.yaml"

// ParseS3Config reads bucket, key, region, dynamodb_table, encrypt and profile.
func ParseS3Config(config map[string]string) (S3Config, error) {
	cfg := S3Config{
		Bucket:        config["bucket"],
		Key:           config["key"],
		Region:        config["region"],
		DynamoDBTable: config["dynamodb_table"],
		Profile:       config["profile"],
	}
	if cfg.Bucket == "" {
		return cfg, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}
	if cfg.Key == "" {
		cfg.Key = defaultS3Key
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if v := config["encrypt"]; v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("s3 backend: invalid encrypt value %q", v)
		}
		cfg.Encrypt = b
	}
	return cfg, nil
}

// S3API is the subset of the S3 client remote state uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DynamoDBAPI is the subset of the DynamoDB client state locking uses.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend keeps state in one S3 object with optional DynamoDB locking.
type s3Backend struct {
	cfg S3Config
	enc *Encryptor

	s3Client S3API
	dbClient DynamoDBAPI
	lockID   string
}

func newS3Backend(ctx context.Context, cfg S3Config, enc *Encryptor) (*s3Backend, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 backend: unable to load AWS config: %w", err)
	}

	var db DynamoDBAPI
	if cfg.DynamoDBTable != "" {
		db = dynamodb.NewFromConfig(awsCfg)
	}
	return newS3BackendWithClients(cfg, enc, s3.NewFromConfig(awsCfg), db), nil
}

func newS3BackendWithClients(cfg S3Config, enc *Encryptor, s3c S3API, db DynamoDBAPI) *s3Backend {
	return &s3Backend{cfg: cfg, enc: enc, s3Client: s3c, dbClient: db}
}

func (b *s3Backend) location() string {
	return "s3://" + b.cfg.Bucket + "/" + b.cfg.Key
}

func (b *s3Backend) Read(ctx context.Context) (*ir.State, error) {
	result, err := b.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read state from %s: %w", b.location(), err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	content, err := b.enc.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt remote state: %w", err)
	}

	state, err := Decode(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote state: %w", err)
	}
	return state, nil
}

func (b *s3Backend) Write(ctx context.Context, state *ir.State) error {
	content, err := Encode(state)
	if err != nil {
		return err
	}
	sealed, err := b.enc.Seal(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.cfg.Key),
		Body:        bytes.NewReader(sealed),
		ContentType: aws.String("application/yaml"),
	}
	if b.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := b.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to %s: %w", b.location(), err)
	}
	return nil
}

// Lock writes a lock item keyed by the state object. Without a table the
// backend does not lock.
func (b *s3Backend) Lock(ctx context.Context) error {
	if b.dbClient == nil {
		return nil
	}

	info := newLockInfo()
	_, err := b.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
			"Info":    &dbtypes.AttributeValueMemberS{Value: info.ID},
			"Host":    &dbtypes.AttributeValueMemberS{Value: info.Host},
			"PID":     &dbtypes.AttributeValueMemberN{Value: strconv.Itoa(info.PID)},
			"Created": &dbtypes.AttributeValueMemberS{Value: info.Created.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return &LockedError{
				Where: fmt.Sprintf("item LockID=%q in DynamoDB table %q", b.lockKey(), b.cfg.DynamoDBTable),
				Info:  b.heldLock(ctx),
			}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	b.lockID = info.ID
	return nil
}

// heldLock reads the current lock item for error reporting.
func (b *s3Backend) heldLock(ctx context.Context) LockInfo {
	out, err := b.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil || out.Item == nil {
		return LockInfo{}
	}

	var info LockInfo
	if v, ok := out.Item["Info"].(*dbtypes.AttributeValueMemberS); ok {
		info.ID = v.Value
	}
	if v, ok := out.Item["Host"].(*dbtypes.AttributeValueMemberS); ok {
		info.Host = v.Value
	}
	if v, ok := out.Item["PID"].(*dbtypes.AttributeValueMemberN); ok {
		info.PID, _ = strconv.Atoi(v.Value)
	}
	if v, ok := out.Item["Created"].(*dbtypes.AttributeValueMemberS); ok {
		info.Created, _ = time.Parse(time.RFC3339, v.Value)
	}
	return info
}

// Unlock deletes the lock item only while it still carries this backend's id.
func (b *s3Backend) Unlock(ctx context.Context) error {
	if b.dbClient == nil || b.lockID == "" {
		return nil
	}

	_, err := b.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: b.lockKey()},
		},
		ConditionExpression: aws.String("Info = :id"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":id": &dbtypes.AttributeValueMemberS{Value: b.lockID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	b.lockID = ""
	return nil
}

func (b *s3Backend) lockKey() string {
	return b.cfg.Bucket + "/" + b.cfg.Key
}
