package azure

import (
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

// One attempt per run; the next scheduled run is the retry.
var clientOptions = &azblob.ClientOptions{
	ClientOptions: azcore.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	},
}

// Build client from config.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newClientFromConfig(c config.AzureConfig) (*azblob.Client, string, string, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	// 1) SAS
	if sasRaw := strings.TrimSpace(c.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		cl, err := azblob.NewClientWithNoCredential(endpoint+"?"+sas, clientOptions)
		return cl, endpoint, "sas", err
	}

	// 2) Service Principal
	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, "", "", err
		}
		cl, err := azblob.NewClient(endpoint, cred, clientOptions)
		return cl, endpoint, "service_principal", err
	}

	// 3) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", "", err
	}
	cl, err := azblob.NewClient(endpoint, defCred, clientOptions)
	return cl, endpoint, "default", err
}

func init() {
	provider.Register("azure", func(cfg config.Config, logger zerolog.Logger) (provider.Provider, error) {
		if cfg.Azure.Account == "" && cfg.Azure.Endpoint == "" {
			return nil, fmt.Errorf("azure: AZURE_STORAGE_ACCOUNT (or AZURE_BLOB_ENDPOINT) is required")
		}
		if cfg.Azure.Container == "" {
			return nil, fmt.Errorf("azure: AZURE_STORAGE_CONTAINER is required")
		}
		client, endpoint, via, err := newClientFromConfig(cfg.Azure)
		if err != nil {
			return nil, fmt.Errorf("azure: %w", err)
		}
		logger.Debug().Str("action", "azure_client").Str("endpoint", endpoint).Str("auth", via).
			Msg("azure client ready")
		return &AzureProvider{
			client:    client,
			container: cfg.Azure.Container,
			endpoint:  endpoint,
			prefix:    cfg.RemotePrefix,
			logger:    logger,
		}, nil
	})
}
