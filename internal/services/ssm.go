package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
)

// ParameterStore is the durable key-value store shared by the resolver, the
// pipeline trigger, and the account handlers. Backed by SSM Parameter Store.
type ParameterStore interface {
	// GetParameter retrieves and decrypts a single parameter by name.
	GetParameter(ctx context.Context, name string) (string, error)

	// PutParameter writes a parameter. When keyID is non-empty the value is
	// stored as a SecureString encrypted with that KMS key.
	PutParameter(ctx context.Context, name, value, keyID string) error

	// DeleteParameters removes the named parameters, ignoring missing ones.
	DeleteParameters(ctx context.Context, names []string) error

	// ParametersByPath returns every parameter name under the given path
	// prefix, sorted lexically.
	ParametersByPath(ctx context.Context, path string) ([]string, error)
}

// SSMParameterStore implements ParameterStore against SSM with a small
// read-through cache. Writes invalidate the cached entry.
type SSMParameterStore struct {
	client *ssm.Client
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store.
func NewSSMParameterStore(client *ssm.Client) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		cache:  make(map[string]string),
	}
}

func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", lzerrors.ErrParameterNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", lzerrors.ErrParameterNotFound, name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

func (s *SSMParameterStore) PutParameter(ctx context.Context, name, value, keyID string) error {
	input := &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	}
	if keyID != "" {
		input.Type = types.ParameterTypeSecureString
		input.KeyId = aws.String(keyID)
	}

	if _, err := s.client.PutParameter(ctx, input); err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()

	return nil
}

func (s *SSMParameterStore) DeleteParameters(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	// DeleteParameters accepts at most ten names per call
	for start := 0; start < len(names); start += 10 {
		end := min(start+10, len(names))
		if _, err := s.client.DeleteParameters(ctx, &ssm.DeleteParametersInput{
			Names: names[start:end],
		}); err != nil {
			return fmt.Errorf("failed to delete parameters %s: %w", strings.Join(names[start:end], ","), err)
		}
	}

	s.mu.Lock()
	for _, name := range names {
		delete(s.cache, name)
	}
	s.mu.Unlock()

	return nil
}

func (s *SSMParameterStore) ParametersByPath(ctx context.Context, path string) ([]string, error) {
	var names []string
	var nextToken *string

	for {
		result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:      aws.String(path),
			Recursive: aws.Bool(true),
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list parameters under %s: %w", path, err)
		}
		for _, p := range result.Parameters {
			names = append(names, aws.ToString(p.Name))
		}
		if result.NextToken == nil {
			break
		}
		nextToken = result.NextToken
	}

	sort.Strings(names)
	return names, nil
}
