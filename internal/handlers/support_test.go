package handlers

import (
	"context"
	"strings"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
)

type memParams struct {
	values map[string]string
}

func newMemParams() *memParams {
	return &memParams{values: map[string]string{}}
}

func (m *memParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m.values[name]
	if !ok {
		return "", lzerrors.ErrParameterNotFound
	}
	return v, nil
}

func (m *memParams) PutParameter(_ context.Context, name, value, _ string) error {
	m.values[name] = value
	return nil
}

func (m *memParams) DeleteParameters(_ context.Context, names []string) error {
	for _, name := range names {
		delete(m.values, name)
	}
	return nil
}

func (m *memParams) ParametersByPath(_ context.Context, path string) ([]string, error) {
	var names []string
	for name := range m.values {
		if strings.HasPrefix(name, path) {
			names = append(names, name)
		}
	}
	return names, nil
}

type memObjects struct {
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(_ context.Context, bucket, key string, body []byte) error {
	m.objects[bucket+"/"+key] = body
	return nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) ([]byte, bool, error) {
	body, ok := m.objects[bucket+"/"+key]
	return body, ok, nil
}
