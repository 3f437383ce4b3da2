package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/firmscope/backend/internal/config"
	"github.com/firmscope/backend/internal/models"
	"github.com/firmscope/backend/internal/services"
	"github.com/firmscope/backend/internal/store"
)

const (
	testAPIKey   = "test-api-key"
	testPassword = "hunter2!"
)

// nopAnalyzer satisfies the pipeline without touching external tools.
type nopAnalyzer struct{}

func (nopAnalyzer) ExtractFilesystem(context.Context, string, string) error { return nil }
func (nopAnalyzer) ScanVulnerabilities(context.Context, string, string) error { return nil }
func (nopAnalyzer) IdentifyComponents(context.Context, string, string) error { return nil }
func (nopAnalyzer) DeepAnalysis(context.Context, string, string) error { return nil }

type testServer struct {
	router    *gin.Engine
	cfg       *config.Config
	processes *store.Collection[models.Process]
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	base := t.TempDir()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Storage: config.StorageConfig{
			UploadDir:       filepath.Join(base, "uploads"),
			ResultsDir:      filepath.Join(base, "results"),
			ProjectsFile:    filepath.Join(base, "projects.json"),
			ProcessesFile:   filepath.Join(base, "processes.json"),
			MaxStorageGB:    50,
			CleanupDays:     30,
			CleanupInterval: time.Hour,
		},
		Analysis: config.AnalysisConfig{
			ExtractTimeout: time.Minute,
			DefaultOptions: models.AnalysisOptions{
				ExtractFilesystem:   true,
				ScanVulnerabilities: true,
				IdentifyComponents:  true,
			},
		},
		Auth: config.AuthConfig{
			APIKey:            testAPIKey,
			AdminUsername:     "admin",
			AdminPasswordHash: string(hash),
			JWTSecret:         "test-jwt-secret",
			SessionTTL:        time.Hour,
		},
	}
	require.NoError(t, os.MkdirAll(cfg.Storage.UploadDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Storage.ResultsDir, 0o755))

	projects, err := store.Open[models.Project](cfg.Storage.ProjectsFile)
	require.NoError(t, err)
	processes, err := store.Open[models.Process](cfg.Storage.ProcessesFile)
	require.NoError(t, err)

	r := gin.New()
	SetupRoutes(r, cfg, projects, processes, services.NewStorageService(cfg), nopAnalyzer{})

	return &testServer{router: r, cfg: cfg, processes: processes}
}

func (ts *testServer) do(method, path string, body io.Reader, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func withAPIKey(req *http.Request) {
	req.Header.Set("X-Api-Key", testAPIKey)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// uploadFirmware posts a multipart firmware upload and returns the created
// project.
func (ts *testServer) uploadFirmware(t *testing.T, filename string, fields map[string]string) models.Project {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte("firmware-bytes"))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	w := ts.do(http.MethodPost, "/api/projects", &buf, withAPIKey, func(req *http.Request) {
		req.Header.Set("Content-Type", mw.FormDataContentType())
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var project models.Project
	decodeJSON(t, w, &project)
	return project
}

func (ts *testServer) waitCompleted(t *testing.T, processID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		p, err := ts.processes.Get(processID)
		return err == nil && p.Status == models.ProcessStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAuthRejectsUnauthenticatedRequests(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/projects", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/projects", nil, func(req *http.Request) {
		req.Header.Set("X-Api-Key", "wrong-key")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/projects", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer not-a-token")
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsAPIKey(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/projects", nil, withAPIKey)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginIssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)

	body := bytes.NewBufferString(`{"username":"admin","password":"` + testPassword + `"}`)
	w := ts.do(http.MethodPost, "/api/login", body, func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	decodeJSON(t, w, &resp)
	assert.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, w.Result().Cookies(), "login sets a session cookie")

	// The token authorizes requests via the Authorization header.
	w = ts.do(http.MethodGet, "/api/projects", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+resp.Token)
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// And via the session cookie.
	w = ts.do(http.MethodGet, "/api/projects", nil, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "session_token", Value: resp.Token})
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	for name, body := range map[string]string{
		"wrong password": `{"username":"admin","password":"wrong"}`,
		"wrong username": `{"username":"root","password":"` + testPassword + `"}`,
	} {
		w := ts.do(http.MethodPost, "/api/login", bytes.NewBufferString(body), func(req *http.Request) {
			req.Header.Set("Content-Type", "application/json")
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}

	w := ts.do(http.MethodPost, "/api/login", bytes.NewBufferString(`{"username":"admin"}`), func(req *http.Request) {
		req.Header.Set("Content-Type", "application/json")
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing password field")
}

func TestCreateProjectRequiresFile(t *testing.T) {
	ts := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "no file"))
	require.NoError(t, mw.Close())

	w := ts.do(http.MethodPost, "/api/projects", &buf, withAPIKey, func(req *http.Request) {
		req.Header.Set("Content-Type", mw.FormDataContentType())
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No file part")
}

func TestProjectLifecycle(t *testing.T) {
	ts := newTestServer(t)

	project := ts.uploadFirmware(t, "esp_fw.bin", map[string]string{
		"name":        "Bench unit",
		"description": "factory image",
	})
	assert.Equal(t, "Bench unit", project.Name)
	assert.Equal(t, "ESP8266/ESP32", project.DeviceType)
	require.NotEmpty(t, project.ProcessID)

	ts.waitCompleted(t, project.ProcessID)

	w := ts.do(http.MethodGet, "/api/projects/"+project.ID, nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	var fetched models.Project
	decodeJSON(t, w, &fetched)
	assert.Equal(t, models.ProjectStatusCompleted, fetched.Status)

	w = ts.do(http.MethodGet, "/api/processes/"+project.ProcessID, nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	var process models.Process
	decodeJSON(t, w, &process)
	assert.Equal(t, 100, process.Progress)

	w = ts.do(http.MethodGet, "/api/statistics", nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.Statistics
	decodeJSON(t, w, &stats)
	assert.Equal(t, 1, stats.TotalProjects)
	assert.Equal(t, 1, stats.CompletedProjects)

	w = ts.do(http.MethodDelete, "/api/projects/"+project.ID, nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)

	w = ts.do(http.MethodGet, "/api/projects/"+project.ID, nil, withAPIKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOptionFlagsOverrideDefaults(t *testing.T) {
	ts := newTestServer(t)

	project := ts.uploadFirmware(t, "fw.bin", map[string]string{
		"extract_filesystem":   "false",
		"scan_vulnerabilities": "TRUE",
		"deep_analysis":        "true",
	})
	assert.False(t, project.Options.ExtractFilesystem)
	assert.True(t, project.Options.ScanVulnerabilities)
	assert.True(t, project.Options.IdentifyComponents, "absent flag keeps the default")
	assert.True(t, project.Options.DeepAnalysis)
	ts.waitCompleted(t, project.ProcessID)
}

func TestResultsListingAndDownload(t *testing.T) {
	ts := newTestServer(t)

	project := ts.uploadFirmware(t, "fw.bin", nil)
	ts.waitCompleted(t, project.ProcessID)

	resultsDir := filepath.Join(ts.cfg.Storage.ResultsDir, project.ProcessID)
	require.NoError(t, os.MkdirAll(filepath.Join(resultsDir, "extracted"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(resultsDir, "extracted", "rootfs.txt"), []byte("listing"), 0o644))

	w := ts.do(http.MethodGet, "/api/results/"+project.ProcessID, nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	var files []models.ResultFile
	decodeJSON(t, w, &files)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join("extracted", "rootfs.txt"), files[0].Path)
	assert.Equal(t, int64(7), files[0].Size)

	w = ts.do(http.MethodGet, "/api/download/"+project.ProcessID+"/extracted/rootfs.txt", nil, withAPIKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "listing", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "rootfs.txt")
}

func TestResultsNotFound(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/results/unknown-process", nil, withAPIKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadRejectsTraversal(t *testing.T) {
	ts := newTestServer(t)

	project := ts.uploadFirmware(t, "fw.bin", nil)
	ts.waitCompleted(t, project.ProcessID)

	w := ts.do(http.MethodGet, "/api/download/"+project.ProcessID+"/../../../etc/passwd", nil, withAPIKey)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// A process id that climbs out of the results root is rejected too.
	w = ts.do(http.MethodGet, "/api/results/..", nil, withAPIKey)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDownloadMissingFile(t *testing.T) {
	ts := newTestServer(t)

	project := ts.uploadFirmware(t, "fw.bin", nil)
	ts.waitCompleted(t, project.ProcessID)

	w := ts.do(http.MethodGet, "/api/download/"+project.ProcessID+"/nope.json", nil, withAPIKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
