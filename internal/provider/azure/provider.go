package azure

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/rs/zerolog"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

type AzureProvider struct {
	client    *azblob.Client
	container string
	endpoint  string // e.g. https://<account>.blob.core.windows.net/
	prefix    string
	logger    zerolog.Logger
}

func (p *AzureProvider) Name() string { return "azure" }

// Upload writes the artifact as a block blob and returns the blob URL
// (without any SAS query).
func (p *AzureProvider) Upload(ctx context.Context, a dump.Artifact) (string, error) {
	if err := p.ensureContainer(ctx); err != nil {
		return "", fmt.Errorf("%w: ensure container: %v", provider.ErrUpload, err)
	}
	key := provider.ObjectKey(p.prefix, a.Name)

	f, err := os.Open(a.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrUpload, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn().
				Err(cerr).
				Str("file", a.Path).
				Msg("failed to close source file after upload")
		}
	}()

	start := time.Now()
	p.logger.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Int64("size", a.Size).Msg("starting upload")

	_, err = p.client.UploadFile(ctx, p.container, key, f, &azblob.UploadFileOptions{
		Metadata:    map[string]*string{"sha256": to.Ptr(a.SHA256)},
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(a.ContentType)},
	})
	if err != nil {
		p.logger.Error().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
			Dur("elapsed_ms", time.Since(start)).Msg("upload failed")
		return "", fmt.Errorf("%w: azure upload: %v", provider.ErrUpload, err)
	}

	url := p.endpoint + p.container + "/" + key
	p.logger.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return url, nil
}
