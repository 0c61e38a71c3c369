package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"propfirm-risk-engine/config"
)

// LedgerCredentials is the secret the engine reads at startup: the ledger
// DSN and the service-role key for the atomic RPC surface.
type LedgerCredentials struct {
	URL        string
	ServiceKey string
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the
// client is inert and the engine keeps the credentials from the
// environment.
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a new Vault client.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether the client talks to a real Vault.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// GetLedgerCredentials reads the ledger credentials from the configured
// KV-v2 secret.
func (c *Client) GetLedgerCredentials(ctx context.Context) (*LedgerCredentials, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("ledger credentials not found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	creds := &LedgerCredentials{}
	if v, ok := data["url"].(string); ok {
		creds.URL = v
	}
	if v, ok := data["service_key"].(string); ok {
		creds.ServiceKey = v
	}
	if creds.URL == "" {
		return nil, fmt.Errorf("ledger secret at %s is missing the url field", path)
	}
	return creds, nil
}
