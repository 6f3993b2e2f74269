// Package azure implements the Azure Blob Storage archive backend, authenticated with
// a shared account key.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/finvest-platform/audit-service/internal/config"
	"github.com/finvest-platform/audit-service/internal/storage"
	"github.com/finvest-platform/audit-service/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Archive, error) {
		return New(&cfg.Archive.Azure)
	})
}

// AzureArchive implements the Archive interface over an Azure Blob container.
type AzureArchive struct {
	client        *azblob.Client
	containerName string
}

// New creates an Azure Blob archive backend.
func New(cfg *config.AzureArchiveConfig) (*AzureArchive, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureArchive{
		client:        client,
		containerName: cfg.ContainerName,
	}, nil
}

// Store writes the export as a block blob.
func (a *AzureArchive) Store(ctx context.Context, path string, reader io.Reader) (*storage.StoreResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	sum, err := checksum.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlockBlobClient(path)
	if _, err := blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), nil); err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.StoreResult{
		Path:     path,
		Size:     int64(len(data)),
		Checksum: sum,
	}, nil
}

// Open retrieves a stored export.
func (a *AzureArchive) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(path)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Exists reports whether a blob is present at path.
func (a *AzureArchive) Exists(ctx context.Context, path string) (bool, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(path)

	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return true, nil
}

// Delete removes a blob. A missing blob is not an error.
func (a *AzureArchive) Delete(ctx context.Context, path string) error {
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(path)

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") || strings.Contains(err.Error(), "404") {
			return nil
		}
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}
