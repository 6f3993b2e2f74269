package azure

import (
	"encoding/base64"
	"testing"

	"github.com/finvest-platform/audit-service/internal/config"
)

// Constructor validation only — no Azure connection is made until the first call.

func TestNew_MissingAccountName(t *testing.T) {
	_, err := New(&config.AzureArchiveConfig{AccountKey: "a2V5", ContainerName: "archive"})
	if err == nil {
		t.Error("New() = nil error, want error for missing account name")
	}
}

func TestNew_MissingAccountKey(t *testing.T) {
	_, err := New(&config.AzureArchiveConfig{AccountName: "auditarchive", ContainerName: "archive"})
	if err == nil {
		t.Error("New() = nil error, want error for missing account key")
	}
}

func TestNew_MissingContainer(t *testing.T) {
	_, err := New(&config.AzureArchiveConfig{AccountName: "auditarchive", AccountKey: "a2V5"})
	if err == nil {
		t.Error("New() = nil error, want error for missing container name")
	}
}

func TestNew_ValidConfig(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("not-a-real-account-key"))
	a, err := New(&config.AzureArchiveConfig{
		AccountName:   "auditarchive",
		AccountKey:    key,
		ContainerName: "archive",
	})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	if a.containerName != "archive" {
		t.Errorf("containerName = %q, want archive", a.containerName)
	}
}

func TestNew_InvalidBase64Key(t *testing.T) {
	_, err := New(&config.AzureArchiveConfig{
		AccountName:   "auditarchive",
		AccountKey:    "!!!not-base64!!!",
		ContainerName: "archive",
	})
	if err == nil {
		t.Error("New() = nil error, want credential error for non-base64 key")
	}
}
