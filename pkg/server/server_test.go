package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/config"
	"github.com/denysvitali/deployment-downloader/pkg/downloader"
	"github.com/denysvitali/deployment-downloader/pkg/server"
)

const (
	testToken      = "test-token"
	testDeployment = "dpl_local"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func setupTestServer(t *testing.T, files map[string]string) (*server.Server, string) {
	rootDir := t.TempDir()
	writeTree(t, rootDir, files)

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:         8080,
			RootDir:      rootDir,
			DeploymentID: testDeployment,
			BearerToken:  testToken,
		},
		Telemetry: config.TelemetryConfig{
			Enabled: false,
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := server.New(cfg, logger)
	require.NoError(t, err, "Failed to create server")
	return srv, rootDir
}

func authenticatedRequest(t *testing.T, url string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestHandleAlive(t *testing.T) {
	srv, _ := setupTestServer(t, nil)

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/alive", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestHandleListFiles(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{
		"index.html":   "<html></html>",
		"src/app.js":   "console.log(1)",
		"src/lib/u.js": "export {}",
	})

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, authenticatedRequest(t, "/"+testDeployment+"/files"))
	require.Equal(t, http.StatusOK, rr.Code)

	var nodes []models.TreeNode
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &nodes))
	require.Len(t, nodes, 2)

	assert.Equal(t, "index.html", nodes[0].Name)
	assert.Equal(t, models.NodeTypeFile, nodes[0].Type)
	assert.Equal(t, server.FileUID("index.html"), nodes[0].UID)

	assert.Equal(t, "src", nodes[1].Name)
	assert.True(t, nodes[1].IsDirectory())
	require.Len(t, nodes[1].Children, 2)
	assert.Equal(t, "app.js", nodes[1].Children[0].Name)
	assert.Equal(t, "lib", nodes[1].Children[1].Name)
	assert.Equal(t, server.FileUID("src/lib/u.js"), nodes[1].Children[1].Children[0].UID)
}

func TestHandleGetFile(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{"src/app.js": "console.log(1)"})

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, authenticatedRequest(t, "/"+testDeployment+"/files/"+server.FileUID("src/app.js")))
	require.Equal(t, http.StatusOK, rr.Code)

	var content models.FileContent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &content))
	decoded, err := base64.StdEncoding.DecodeString(content.Data)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(decoded))
}

func TestHandleGetFile_NotFound(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{"a.txt": "a"})

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, authenticatedRequest(t, "/"+testDeployment+"/files/unknown-uid"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUnknownDeployment(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{"a.txt": "a"})

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, authenticatedRequest(t, "/other/files"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{"a.txt": "a"})

	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/"+testDeployment+"/files", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	for _, header := range []string{"Bearer wrong", testToken, "Basic " + testToken, "bearer " + testToken} {
		req := httptest.NewRequest(http.MethodGet, "/"+testDeployment+"/files", nil)
		req.Header.Set("Authorization", header)
		rr = httptest.NewRecorder()
		srv.Engine().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code, header)
	}
}

func TestNewRejectsMissingRoot(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{RootDir: filepath.Join(t.TempDir(), "missing")}}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := server.New(cfg, logger)
	assert.Error(t, err)
}

// TestDownloadFromLocalServer runs the whole engine over HTTP against the local API
func TestDownloadFromLocalServer(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{
		"src/a.txt":                 "alpha",
		"src/nested/b.bin":          "\x00\x01\x02",
		"readme.log":                "excluded by extension",
		"node_modules/dep/index.js": "excluded by directory",
		"public/logo.svg":           "<svg/>",
	})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	outputDir := filepath.Join(t.TempDir(), "downloaded-project")
	cfg := &config.Config{
		API: config.APIConfig{
			BearerToken:      testToken,
			DeploymentID:     testDeployment,
			BaseURL:          ts.URL,
			RequestTimeoutMs: 5000,
			MaxRetries:       2,
			RetryBackoffMs:   1,
		},
		Download: config.DownloadConfig{
			OutputDir:              outputDir,
			MaxConcurrentDownloads: 2,
			ExcludeExtensions:      []string{".log", ".tmp"},
			ExcludeDirectories:     []string{"node_modules", ".git", ".next/cache"},
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	report, err := downloader.New(cfg, logger).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalFiles)
	assert.Equal(t, 3, report.TotalDirectories)
	assert.Equal(t, 3, report.DownloadedFiles)
	assert.Equal(t, 0, report.FailedFiles)
	assert.Equal(t, "100.0%", report.FormatSuccessRate())

	got, err := os.ReadFile(filepath.Join(outputDir, "src", "nested", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got)
	assert.FileExists(t, filepath.Join(outputDir, "src", "a.txt"))
	assert.FileExists(t, filepath.Join(outputDir, "public", "logo.svg"))
	assert.NoFileExists(t, filepath.Join(outputDir, "readme.log"))
	assert.NoDirExists(t, filepath.Join(outputDir, "node_modules"))
}

func TestDownloadFromLocalServer_WrongToken(t *testing.T) {
	srv, _ := setupTestServer(t, map[string]string{"a.txt": "a"})
	ts := httptest.NewServer(srv.Engine())
	defer ts.Close()

	cfg := &config.Config{
		API: config.APIConfig{
			BearerToken:      "wrong",
			DeploymentID:     testDeployment,
			BaseURL:          ts.URL,
			RequestTimeoutMs: 5000,
			MaxRetries:       2,
			RetryBackoffMs:   1,
		},
		Download: config.DownloadConfig{
			OutputDir:              filepath.Join(t.TempDir(), "out"),
			MaxConcurrentDownloads: 1,
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	_, err := downloader.New(cfg, logger).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
}
