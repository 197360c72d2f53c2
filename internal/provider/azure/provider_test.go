package azure

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/db-backup-uploader/internal/config"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/dump"
	"github.com/Chapsvision-dev/db-backup-uploader/internal/provider"
)

const listXML = `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults ServiceEndpoint="http://127.0.0.1/" ContainerName="backups"><MaxResults>1</MaxResults><Blobs /><NextMarker /></EnumerationResults>`

type fakeBlob struct {
	mu            sync.Mutex
	missing       bool
	putPath       string
	putQuery      string
	sha256        string
	contentType   string
	body          []byte
	listRequested bool
}

func (f *fakeBlob) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		f.listRequested = true
		if f.missing {
			w.Header().Set("x-ms-error-code", "ContainerNotFound")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listXML)
	case http.MethodPut:
		f.putPath = r.URL.Path
		f.putQuery = r.URL.RawQuery
		f.sha256 = r.Header.Get("x-ms-meta-sha256")
		f.contentType = r.Header.Get("x-ms-blob-content-type")
		f.body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"0x8DC0000000000"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusCreated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestProvider(t *testing.T, fb *fakeBlob) provider.Provider {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	p, err := provider.New("azure", config.Config{
		RemotePrefix: "hotel/daily",
		Azure: config.AzureConfig{
			Endpoint:  srv.URL + "/",
			Container: "backups",
			SASToken:  "?sv=2022-11-02&sig=abc",
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func testArtifact(t *testing.T) dump.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup_2026-03-09.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- dump"), 0o600))
	return dump.Artifact{Path: path, Name: "backup_2026-03-09.sql", ContentType: dump.ContentType, Size: 7, SHA256: "feed"}
}

func TestUpload_BlockBlob(t *testing.T) {
	fb := &fakeBlob{}
	p := newTestProvider(t, fb)
	assert.Equal(t, "azure", p.Name())

	id, err := p.Upload(context.Background(), testArtifact(t))
	require.NoError(t, err)

	assert.True(t, fb.listRequested)
	assert.Equal(t, "/backups/hotel/daily/backup_2026-03-09.sql", fb.putPath)
	assert.Contains(t, fb.putQuery, "sig=abc")
	assert.Equal(t, "feed", fb.sha256)
	assert.Equal(t, dump.ContentType, fb.contentType)
	assert.True(t, bytes.Equal([]byte("-- dump"), fb.body))
	assert.Contains(t, id, "/backups/hotel/daily/backup_2026-03-09.sql")
	assert.NotContains(t, id, "sig=")
}

func TestUpload_ContainerNotFound(t *testing.T) {
	fb := &fakeBlob{missing: true}
	p := newTestProvider(t, fb)

	_, err := p.Upload(context.Background(), testArtifact(t))
	require.ErrorIs(t, err, provider.ErrUpload)
	assert.Contains(t, err.Error(), `container "backups" not found`)
	assert.Empty(t, fb.putPath)
}

func TestFactory_RequiresAccountAndContainer(t *testing.T) {
	_, err := provider.New("azure", config.Config{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_STORAGE_ACCOUNT")

	_, err = provider.New("azure", config.Config{Azure: config.AzureConfig{Account: "acct"}}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_STORAGE_CONTAINER")
}
