package keymaterial

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/spacelock/membership-security-backend/interfaces"
)

// VaultProvider resolves key material from HashiCorp Vault's KV v2
// engine. The system key and pepper live as independent secrets, and
// per-user keys are derived from a user-key seed, so no per-user secret
// is ever written next to user data.
//
// Expected layout under {mountPath}/data/{basePath}:
//
//	system  {"key": "<hex>"}
//	pepper  {"key": "<hex>"}
//	users   {"seed": "<hex>"}
type VaultProvider struct {
	client    *api.Client
	mountPath string
	basePath  string
	log       *slog.Logger
}

// NewVaultProvider creates a Vault-backed key material provider.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read access to the secrets
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - basePath: path within the mount (e.g. "membership/keymaterial")
//   - log: structured logger for operational insights
func NewVaultProvider(address, token, mountPath, basePath string, log *slog.Logger) (*VaultProvider, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 15 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	mountPath = strings.TrimSuffix(mountPath, "/")
	basePath = strings.Trim(basePath, "/")

	return &VaultProvider{
		client:    client,
		mountPath: mountPath,
		basePath:  basePath,
		log:       log,
	}, nil
}

// Resolve fetches the system key and pepper and derives the per-user
// key from the stored user-key seed. Any unreachable or missing secret
// maps to ErrKeyUnavailable; the caller must Zero the returned material.
func (p *VaultProvider) Resolve(ctx context.Context, userID string) (*interfaces.KeyMaterial, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", interfaces.ErrKeyUnavailable)
	}

	systemKey, err := p.readSecret(ctx, "system", "key")
	if err != nil {
		return nil, err
	}

	pepper, err := p.readSecret(ctx, "pepper", "key")
	if err != nil {
		return nil, err
	}

	userSeed, err := p.readSecret(ctx, "users", "seed")
	if err != nil {
		return nil, err
	}
	userKey := DeriveUserKey(userSeed, userID)
	for i := range userSeed {
		userSeed[i] = 0
	}

	return &interfaces.KeyMaterial{
		SystemKey: systemKey,
		UserKey:   userKey,
		Pepper:    pepper,
	}, nil
}

// readSecret reads one hex-encoded field from a KV v2 secret.
func (p *VaultProvider) readSecret(ctx context.Context, name, field string) ([]byte, error) {
	path := fmt.Sprintf("%s/data/%s/%s", p.mountPath, p.basePath, name)

	secret, err := p.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		p.log.Error("Failed to read key material from Vault",
			slog.String("path", path), "err", err)
		return nil, fmt.Errorf("%w: vault read failed for %s", interfaces.ErrKeyUnavailable, name)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: secret %s not found", interfaces.ErrKeyUnavailable, name)
	}

	// KV v2 wraps the payload in a "data" map.
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: invalid KV v2 payload for %s", interfaces.ErrKeyUnavailable, name)
	}

	encoded, ok := data[field].(string)
	if !ok || encoded == "" {
		return nil, fmt.Errorf("%w: field %q missing in secret %s", interfaces.ErrKeyUnavailable, field, name)
	}

	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q in secret %s is not valid hex", interfaces.ErrKeyUnavailable, field, name)
	}

	return raw, nil
}
