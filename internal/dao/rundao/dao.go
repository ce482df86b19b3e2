// Package rundao records the lifecycle of every state-machine execution the
// pipeline trigger submits. The SSM continuation tree remains the source of
// truth; these records exist for operators auditing past runs.
package rundao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/segmentio/ksuid"
)

// arnPartition is the magic partition holding one pointer record per
// execution ARN, so outcomes can be recorded without knowing the run key.
const arnPartition = "arn"

// PK is the DynamoDB partition key in format {stage}/{token}.
type PK string

// NewPK builds a partition key from a pipeline stage and continuation token.
func NewPK(stage, token string) PK {
	return PK(fmt.Sprintf("%s/%s", stage, token))
}

// ParsePK splits a partition key into its stage and token components.
func ParsePK(pk PK) (stage, token string, err error) {
	parts := strings.SplitN(string(pk), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {stage}/{token}", pk)
	}
	return parts[0], parts[1], nil
}

func (pk PK) String() string {
	return string(pk)
}

// ID identifies one run record in format {stage}/{token}:{ksuid}.
type ID string

// NewID constructs an ID from partition and sort key.
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ParseID splits an ID into its partition and sort key components.
func ParseID(id ID) (pk PK, sk string, err error) {
	s := string(id)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("invalid run ID format: %s, expected {stage}/{token}:{ksuid}", s)
	}
	return PK(s[:i]), s[i+1:], nil
}

// Record is one state-machine execution in DynamoDB.
type Record struct {
	PK           PK     `ddb:"hash" dynamodbav:"pk"`  // {stage}/{token}
	SK           string `ddb:"range" dynamodbav:"sk"` // KSUID
	ID           ID     `dynamodbav:"id,omitempty"`   // only set on ARN pointer records
	Stage        string `dynamodbav:"stage,omitempty"`
	Token        string `dynamodbav:"token,omitempty"`
	ExecutionArn string `dynamodbav:"execution_arn,omitempty"`
	Status       string `dynamodbav:"status,omitempty"` // RUNNING, SUCCEEDED, FAILED, TIMED_OUT, ABORTED
	CreatedAt    int64  `dynamodbav:"created_at,omitempty"`
	FinishedAt   *int64 `dynamodbav:"finished_at,omitempty"`
	UpdatedAt    int64  `dynamodbav:"updated_at,omitempty"`
}

// DAO provides data access to run records. It satisfies the trigger's
// Recorder interface.
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a DAO over the given table.
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// RecordSubmitted writes a RUNNING record for a freshly started execution,
// plus an ARN pointer record so the outcome can be recorded later.
func (d *DAO) RecordSubmitted(ctx context.Context, stage, token, executionARN string) error {
	pk := NewPK(stage, token)
	sk := ksuid.New().String()
	now := time.Now().Unix()

	record := &Record{
		PK:           pk,
		SK:           sk,
		Stage:        stage,
		Token:        token,
		ExecutionArn: executionARN,
		Status:       "RUNNING",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	pointer := &Record{
		PK:        arnPartition,
		SK:        executionARN,
		ID:        NewID(pk, sk),
		UpdatedAt: now,
	}

	if _, err := d.db.TransactWriteItemsWithContext(ctx, d.table.Put(record), d.table.Put(pointer)); err != nil {
		return fmt.Errorf("failed to record submitted execution %s: %w", executionARN, err)
	}
	return nil
}

// RecordOutcome marks an execution terminal with its final status.
func (d *DAO) RecordOutcome(ctx context.Context, executionARN, status string) error {
	var pointer Record
	err := d.table.Get(arnPartition).
		Range(executionARN).
		ConsistentRead(true).
		ScanWithContext(ctx, &pointer)
	if err != nil {
		return fmt.Errorf("failed to find run record for %s: %w", executionARN, err)
	}
	if pointer.ID == "" {
		return fmt.Errorf("run record not found for %s", executionARN)
	}

	pk, sk, err := ParseID(pointer.ID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	update := d.table.Update(pk.String()).
		Range(sk).
		Set("#Status = ?", status).
		Set("#FinishedAt = ?", now).
		Set("#UpdatedAt = ?", now)

	if err := update.RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", executionARN, err)
	}
	return nil
}

// Query returns every run record for one stage invocation.
func (d *DAO) Query(ctx context.Context, stage, token string) ([]Record, error) {
	var records []Record
	err := d.table.Query("#PK = ?", NewPK(stage, token).String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	return records, nil
}
