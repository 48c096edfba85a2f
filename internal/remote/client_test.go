package remote

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
)

var foo = domain.ArtifactDescriptor{FileName: "Foo.zip", DisplayName: "Foo", Hash: "abc1", RelativePath: "Addons/", Timestamp: 1700000000}

func newServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		hits.Add(1)
		json.NewEncoder(w).Encode(domain.ArtifactList{Files: []domain.ArtifactDescriptor{foo}})
	})
	mux.HandleFunc("/api/files/url", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"url": "https://cdn.example/" + r.URL.Query().Get("name") + "?sig=" + r.URL.Query().Get("hash"),
		})
	})
	return httptest.NewServer(mux)
}

func TestList_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "key", ListTTL: time.Minute})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		files, err := c.List(context.Background())
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.True(t, files[0].Same(foo))
	}
	assert.EqualValues(t, 1, hits.Load())

	c.Invalidate()
	_, err = c.List(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestList_Unauthorized(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "wrong"})
	require.NoError(t, err)

	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemote)
}

func TestFind(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	for _, name := range []string{"Foo.zip", "Foo"} {
		d, err := c.Find(context.Background(), name)
		require.NoError(t, err)
		assert.Equal(t, "abc1", d.Hash)
	}

	_, err = c.Find(context.Background(), "Bar")
	assert.True(t, errors.Is(err, domain.ErrArtifactNotFound))
}

func TestDownloadURL_SideChannel(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, &hits)
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	u, err := c.DownloadURL(context.Background(), foo)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/Foo.zip?sig=abc1", u)

	assert.True(t, strings.HasSuffix(c.DirectURL(foo), "/api/files/download?hash=abc1&name=Foo.zip"))
}

func TestS3Signer(t *testing.T) {
	signer, err := NewS3Signer(context.Background(), config.S3Config{
		Endpoint:       "localhost:9000",
		Region:         "us-east-1",
		Bucket:         "artifacts",
		AccessKey:      "minio",
		SecretKey:      "minio123",
		ForcePathStyle: true,
	}, time.Minute)
	require.NoError(t, err)

	c, err := New(Options{BaseURL: "http://unused.example", Signer: signer})
	require.NoError(t, err)

	u, err := c.DownloadURL(context.Background(), foo)
	require.NoError(t, err)
	assert.Contains(t, u, "https://localhost:9000/artifacts/Addons/Foo.zip")
	assert.Contains(t, u, "X-Amz-Signature=")

	_, err = NewS3Signer(context.Background(), config.S3Config{}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestS3Signer_CustomCABundle(t *testing.T) {
	tlsSrv := httptest.NewTLSServer(http.NotFoundHandler())
	defer tlsSrv.Close()

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: tlsSrv.Certificate().Raw})
	require.NoError(t, os.WriteFile(bundle, pemBytes, 0644))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	signer, err := NewS3Signer(context.Background(), config.S3Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Bucket:    "artifacts",
		AccessKey: "minio",
		SecretKey: "minio123",
	}, time.Minute)
	require.NoError(t, err)

	u, err := signer.SignGet(context.Background(), foo)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Amz-Signature=")
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "Addons/Foo.zip", ObjectKey(foo))
	assert.Equal(t, "Foo.zip", ObjectKey(domain.ArtifactDescriptor{FileName: "Foo.zip"}))
	assert.Equal(t, "a/b/x.zip", ObjectKey(domain.ArtifactDescriptor{FileName: "x.zip", RelativePath: "\\a\\b"}))
}
