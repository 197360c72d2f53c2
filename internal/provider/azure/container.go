package azure

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// ensureContainer checks access using a minimal list (SAS sr=c cannot create containers).
func (p *AzureProvider) ensureContainer(ctx context.Context) error {
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		MaxResults: to.Ptr(int32(1)),
	})
	if !pager.More() {
		return nil
	}
	_, err := pager.NextPage(ctx)
	if err == nil {
		p.logger.Debug().Str("action", "azure_container_check").Str("container", p.container).
			Msg("container access OK")
		return nil
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case string(bloberror.ContainerNotFound):
			return fmt.Errorf("container %q not found: create it first (container SAS cannot create containers)", p.container)
		case string(bloberror.AuthorizationFailure),
			string(bloberror.AuthorizationPermissionMismatch),
			string(bloberror.AuthenticationFailed):
			return fmt.Errorf("not authorized for container %q; ensure a container SAS with at least rwl", p.container)
		}
	}
	return err
}
