// Package params translates the symbolic $[...] placeholders found in
// manifest parameter maps into concrete values, generating secrets as a
// side effect where the placeholder asks for one.
package params

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

const (
	keywordSSM        = "alfred_ssm_"
	keywordGenKeyPair = "alfred_genkeypair"
	keywordGenPass    = "alfred_genpass_"
	keywordGenAZ      = "alfred_genaz_"

	defaultPasswordLength = 8

	passwordCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()-_=+"
)

// Target identifies the account/region a placeholder resolves against.
type Target struct {
	AccountID string
	Region    string
}

// Resolver performs placeholder substitution. Generated secrets are written
// to the control-plane parameter store encrypted with the landing-zone key;
// the cleartext never travels in the resolved map.
type Resolver struct {
	store    services.ParameterStore
	cross    services.CrossAccount
	keys     services.KeyResolver
	kmsAlias string

	newEC2 func(aws.Config) services.EC2

	once     sync.Once
	kmsKeyID string
	kmsErr   error
}

// NewResolver creates a resolver backed by the given adapters. kmsAlias is
// the alias of the key used to encrypt generated secrets.
func NewResolver(store services.ParameterStore, cross services.CrossAccount, keys services.KeyResolver, kmsAlias string) *Resolver {
	return &Resolver{
		store:    store,
		cross:    cross,
		keys:     keys,
		kmsAlias: kmsAlias,
		newEC2:   services.NewEC2,
	}
}

// Keyword extracts the inner keyword from a $[...] placeholder. ok is false
// when the value is not a placeholder.
func Keyword(value string) (string, bool) {
	if strings.HasPrefix(value, "$[") && strings.HasSuffix(value, "]") {
		return value[2 : len(value)-1], true
	}
	return "", false
}

// ResolveMap resolves every placeholder value in params, returning a new map.
// Keys are visited in sorted order so generated names are stable across runs.
// When substituteSSM is false, alfred_ssm_ placeholders are kept verbatim so
// they can travel into a state-machine input for late resolution.
func (r *Resolver) ResolveMap(ctx context.Context, target Target, params map[string]string, substituteSSM bool) (map[string]string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make(map[string]string, len(params))
	for _, k := range keys {
		v, err := r.ResolveValue(ctx, target, k, params[k], substituteSSM)
		if err != nil {
			return nil, err
		}
		resolved[k] = v
	}
	return resolved, nil
}

// ResolveValue resolves a single parameter value. Non-placeholder values and
// placeholders the resolver does not own (e.g. $[AccountId]) pass through
// unchanged.
func (r *Resolver) ResolveValue(ctx context.Context, target Target, key, value string, substituteSSM bool) (string, error) {
	keyword, ok := Keyword(value)
	if !ok {
		return value, nil
	}

	switch {
	case strings.HasPrefix(keyword, keywordSSM):
		if !substituteSSM {
			return value, nil
		}
		path := strings.TrimPrefix(keyword, keywordSSM)
		v, err := r.store.GetParameter(ctx, path)
		if err != nil {
			return "", fmt.Errorf("failed to resolve placeholder %s: %w", value, err)
		}
		return v, nil

	case keyword == keywordGenKeyPair:
		return r.generateKeyPair(ctx, target)

	case strings.HasPrefix(keyword, keywordGenPass):
		length := defaultPasswordLength
		if raw := strings.TrimPrefix(keyword, keywordGenPass); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return "", fmt.Errorf("invalid password length in placeholder %s: %w", value, err)
			}
			length = n
		}
		return r.generatePassword(ctx, target, key, length)

	case strings.HasPrefix(keyword, keywordGenAZ):
		n, err := strconv.Atoi(strings.TrimPrefix(keyword, keywordGenAZ))
		if err != nil {
			return "", fmt.Errorf("invalid zone count in placeholder %s: %w", value, err)
		}
		return r.availabilityZones(ctx, target, n)

	default:
		return value, nil
	}
}

// generateKeyPair creates a key pair in the target account/region and writes
// the material, fingerprint, and derived OpenSSH public key to the
// control-plane store. An existing key (material already stored) is reused.
func (r *Resolver) generateKeyPair(ctx context.Context, target Target) (string, error) {
	name := utils.SanitizeName(fmt.Sprintf("landing-zone-keypair-%s-%s", target.AccountID, target.Region), false, '_')

	if _, err := r.store.GetParameter(ctx, name+"_material"); err == nil {
		return name, nil
	} else if !errors.Is(err, lzerrors.ErrParameterNotFound) {
		return "", err
	}

	cfg, err := r.cross.Config(ctx, target.AccountID, target.Region)
	if err != nil {
		return "", err
	}
	keyPair, err := r.newEC2(cfg).CreateKeyPair(ctx, name)
	if err != nil {
		return "", err
	}

	publicKey, err := publicKeyFor(keyPair.Material)
	if err != nil {
		return "", err
	}
	keyID, err := r.keyID(ctx)
	if err != nil {
		return "", err
	}
	for param, v := range map[string]string{
		name + "_material":    keyPair.Material,
		name + "_fingerprint": keyPair.Fingerprint,
		name + "_public_key":  publicKey,
	} {
		if err := r.store.PutParameter(ctx, param, v, keyID); err != nil {
			return "", err
		}
	}

	zerolog.Ctx(ctx).Info().
		Str("key_name", keyPair.Name).
		Str("account_id", target.AccountID).
		Str("region", target.Region).
		Msg("created key pair")

	return keyPair.Name, nil
}

// generatePassword creates (or reuses) a password stored under a name derived
// from the parameter key and the target. The returned value is the
// secure-string sentinel so the cleartext stays in the store.
func (r *Resolver) generatePassword(ctx context.Context, target Target, key string, length int) (string, error) {
	name := utils.SanitizeName(fmt.Sprintf("landing-zone-pass-%s-%s-%s", key, target.AccountID, target.Region), false, '_')

	_, err := r.store.GetParameter(ctx, name)
	switch {
	case err == nil:
		return SecureStringPrefix + name, nil
	case !errors.Is(err, lzerrors.ErrParameterNotFound):
		return "", err
	}

	password, err := randomPassword(length)
	if err != nil {
		return "", err
	}
	keyID, err := r.keyID(ctx)
	if err != nil {
		return "", err
	}
	if err := r.store.PutParameter(ctx, name, password, keyID); err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Info().
		Str("name", name).
		Int("length", length).
		Msg("generated password")

	return SecureStringPrefix + name, nil
}

// availabilityZones returns a comma-joined random sample of n active zones in
// the target region, cached in the store so repeated resolution is stable.
func (r *Resolver) availabilityZones(ctx context.Context, target Target, n int) (string, error) {
	name := utils.SanitizeName(fmt.Sprintf("landing-zone-az-%s-%s-%d", target.AccountID, target.Region, n), false, '_')

	cached, err := r.store.GetParameter(ctx, name)
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, lzerrors.ErrParameterNotFound):
		return "", err
	}

	cfg, err := r.cross.Config(ctx, target.AccountID, target.Region)
	if err != nil {
		return "", err
	}
	zones, err := r.newEC2(cfg).ActiveAvailabilityZones(ctx)
	if err != nil {
		return "", err
	}
	if len(zones) < n {
		return "", fmt.Errorf("region %s has %d active availability zones, %d requested", target.Region, len(zones), n)
	}

	sample, err := randomSample(zones, n)
	if err != nil {
		return "", err
	}
	joined := strings.Join(sample, ",")
	if err := r.store.PutParameter(ctx, name, joined, ""); err != nil {
		return "", err
	}
	return joined, nil
}

func (r *Resolver) keyID(ctx context.Context) (string, error) {
	r.once.Do(func() {
		r.kmsKeyID, r.kmsErr = r.keys.ResolveAlias(ctx, r.kmsAlias)
	})
	return r.kmsKeyID, r.kmsErr
}

func publicKeyFor(material string) (string, error) {
	signer, err := ssh.ParsePrivateKey([]byte(material))
	if err != nil {
		return "", fmt.Errorf("failed to parse key material: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

func randomPassword(length int) (string, error) {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordCharset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		buf[i] = passwordCharset[n.Int64()]
	}
	return string(buf), nil
}

func randomSample(values []string, n int) ([]string, error) {
	picked := make([]string, len(values))
	copy(picked, values)
	for i := len(picked) - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("failed to sample availability zones: %w", err)
		}
		picked[i], picked[j.Int64()] = picked[j.Int64()], picked[i]
	}
	return picked[:n], nil
}
