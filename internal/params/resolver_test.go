package params

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/services"
)

type fakeStore struct {
	values map[string]string
	keyIDs map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: map[string]string{},
		keyIDs: map[string]string{},
	}
}

func (s *fakeStore) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s.values[name]
	if !ok {
		return "", lzerrors.ErrParameterNotFound
	}
	return v, nil
}

func (s *fakeStore) PutParameter(_ context.Context, name, value, keyID string) error {
	s.values[name] = value
	s.keyIDs[name] = keyID
	return nil
}

func (s *fakeStore) DeleteParameters(_ context.Context, names []string) error {
	for _, name := range names {
		delete(s.values, name)
	}
	return nil
}

func (s *fakeStore) ParametersByPath(_ context.Context, path string) ([]string, error) {
	var names []string
	for name := range s.values {
		if strings.HasPrefix(name, path) {
			names = append(names, name)
		}
	}
	return names, nil
}

type fakeCross struct{}

func (fakeCross) Config(context.Context, string, string) (aws.Config, error) {
	return aws.Config{}, nil
}
func (fakeCross) CanAssume(context.Context, string) (bool, error) { return true, nil }

type fakeKeys struct{ keyID string }

func (f fakeKeys) ResolveAlias(context.Context, string) (string, error) { return f.keyID, nil }

type fakeEC2 struct {
	services.EC2
	keyPair  services.KeyPair
	zones    []string
	keyCalls int
}

func (f *fakeEC2) CreateKeyPair(_ context.Context, name string) (services.KeyPair, error) {
	f.keyCalls++
	kp := f.keyPair
	kp.Name = name
	return kp, nil
}

func (f *fakeEC2) ActiveAvailabilityZones(context.Context) ([]string, error) {
	return f.zones, nil
}

func newTestResolver(store *fakeStore, ec2 *fakeEC2) *Resolver {
	r := NewResolver(store, fakeCross{}, fakeKeys{keyID: "key-123"}, "alias/aws-landing-zone")
	r.newEC2 = func(aws.Config) services.EC2 { return ec2 }
	return r
}

func testKeyMaterial(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func TestKeyword(t *testing.T) {
	testCases := []struct {
		value   string
		keyword string
		ok      bool
	}{
		{value: "$[alfred_ssm_/org/primary/id]", keyword: "alfred_ssm_/org/primary/id", ok: true},
		{value: "$[AccountId]", keyword: "AccountId", ok: true},
		{value: "plain-value", ok: false},
		{value: "$[unterminated", ok: false},
	}
	for _, tc := range testCases {
		keyword, ok := Keyword(tc.value)
		assert.Equal(t, tc.ok, ok, tc.value)
		assert.Equal(t, tc.keyword, keyword, tc.value)
	}
}

func TestResolveValue_Passthrough(t *testing.T) {
	r := newTestResolver(newFakeStore(), &fakeEC2{})
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "VpcName", "shared-services", true)
	require.NoError(t, err)
	assert.Equal(t, "shared-services", got)

	// placeholders the resolver does not own travel unchanged
	got, err = r.ResolveValue(context.Background(), target, "AccountId", "$[AccountId]", true)
	require.NoError(t, err)
	assert.Equal(t, "$[AccountId]", got)
}

func TestResolveValue_SSM(t *testing.T) {
	store := newFakeStore()
	store.values["/org/primary/organization_id"] = "o-abc123"
	r := newTestResolver(store, &fakeEC2{})
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "OrgId", "$[alfred_ssm_/org/primary/organization_id]", true)
	require.NoError(t, err)
	assert.Equal(t, "o-abc123", got)

	// substitution off keeps the placeholder for late resolution
	got, err = r.ResolveValue(context.Background(), target, "OrgId", "$[alfred_ssm_/org/primary/organization_id]", false)
	require.NoError(t, err)
	assert.Equal(t, "$[alfred_ssm_/org/primary/organization_id]", got)

	_, err = r.ResolveValue(context.Background(), target, "Missing", "$[alfred_ssm_/org/absent]", true)
	assert.ErrorIs(t, err, lzerrors.ErrParameterNotFound)
}

func TestResolveValue_GenPass(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store, &fakeEC2{})
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "AdminPassword", "$[alfred_genpass_16]", true)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, SecureStringPrefix))

	name := strings.TrimPrefix(got, SecureStringPrefix)
	password := store.values[name]
	assert.Len(t, password, 16)
	assert.Equal(t, "key-123", store.keyIDs[name], "password must be stored encrypted")

	// second resolution reuses the stored password
	again, err := r.ResolveValue(context.Background(), target, "AdminPassword", "$[alfred_genpass_16]", true)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, password, store.values[name])
}

func TestResolveValue_GenPassDefaultLength(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store, &fakeEC2{})
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "Password", "$[alfred_genpass_]", true)
	require.NoError(t, err)
	name := strings.TrimPrefix(got, SecureStringPrefix)
	assert.Len(t, store.values[name], defaultPasswordLength)
}

func TestResolveValue_GenKeyPair(t *testing.T) {
	store := newFakeStore()
	ec2 := &fakeEC2{keyPair: services.KeyPair{
		Fingerprint: "aa:bb:cc",
		Material:    testKeyMaterial(t),
	}}
	r := newTestResolver(store, ec2)
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "KeyName", "$[alfred_genkeypair]", true)
	require.NoError(t, err)
	assert.Equal(t, "landing-zone-keypair-111122223333-us-east-1", got)

	assert.Equal(t, ec2.keyPair.Material, store.values[got+"_material"])
	assert.Equal(t, "aa:bb:cc", store.values[got+"_fingerprint"])
	assert.True(t, strings.HasPrefix(store.values[got+"_public_key"], "ssh-rsa "))
	assert.Equal(t, "key-123", store.keyIDs[got+"_material"])

	// stored material short-circuits a second creation
	_, err = r.ResolveValue(context.Background(), target, "KeyName", "$[alfred_genkeypair]", true)
	require.NoError(t, err)
	assert.Equal(t, 1, ec2.keyCalls)
}

func TestResolveValue_GenAZ(t *testing.T) {
	store := newFakeStore()
	ec2 := &fakeEC2{zones: []string{"us-east-1a", "us-east-1b", "us-east-1c", "us-east-1d"}}
	r := newTestResolver(store, ec2)
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	got, err := r.ResolveValue(context.Background(), target, "AZs", "$[alfred_genaz_2]", true)
	require.NoError(t, err)
	zones := strings.Split(got, ",")
	require.Len(t, zones, 2)
	for _, zone := range zones {
		assert.Contains(t, ec2.zones, zone)
	}
	assert.NotEqual(t, zones[0], zones[1])

	// repeated resolution returns the cached sample
	again, err := r.ResolveValue(context.Background(), target, "AZs", "$[alfred_genaz_2]", true)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestResolveValue_GenAZTooFewZones(t *testing.T) {
	r := newTestResolver(newFakeStore(), &fakeEC2{zones: []string{"eu-north-1a"}})
	target := Target{AccountID: "111122223333", Region: "eu-north-1"}

	_, err := r.ResolveValue(context.Background(), target, "AZs", "$[alfred_genaz_3]", true)
	assert.Error(t, err)
}

func TestResolveMap(t *testing.T) {
	store := newFakeStore()
	store.values["/org/primary/organization_id"] = "o-abc123"
	r := newTestResolver(store, &fakeEC2{})
	target := Target{AccountID: "111122223333", Region: "us-east-1"}

	resolved, err := r.ResolveMap(context.Background(), target, map[string]string{
		"OrgId":   "$[alfred_ssm_/org/primary/organization_id]",
		"VpcName": "shared-services",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"OrgId":   "o-abc123",
		"VpcName": "shared-services",
	}, resolved)
}

func TestExpandSecret(t *testing.T) {
	store := newFakeStore()
	store.values["landing-zone-pass-ad"] = "hunter2hunter2"

	got, err := ExpandSecret(context.Background(), store, SecureStringPrefix+"landing-zone-pass-ad")
	require.NoError(t, err)
	assert.Equal(t, "hunter2hunter2", got)

	// decapsulation passes the raw string through verbatim
	got, err = ExpandSecret(context.Background(), store, DecapsulationPrefix+"$[alfred_genpass_8]")
	require.NoError(t, err)
	assert.Equal(t, "$[alfred_genpass_8]", got)

	got, err = ExpandSecret(context.Background(), store, "ordinary")
	require.NoError(t, err)
	assert.Equal(t, "ordinary", got)

	// a missing backing parameter fails, never silently substitutes
	_, err = ExpandSecret(context.Background(), store, SecureStringPrefix+"absent")
	assert.ErrorIs(t, err, lzerrors.ErrParameterNotFound)
}

func TestExpandSecrets(t *testing.T) {
	store := newFakeStore()
	store.values["connector-pass"] = "s3cr3t"

	expanded, err := ExpandSecrets(context.Background(), store, map[string]string{
		"Password": SecureStringPrefix + "connector-pass",
		"UserName": "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Password": "s3cr3t",
		"UserName": "admin",
	}, expanded)
}
