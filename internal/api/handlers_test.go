package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amvg/harvester/internal/model"
	"github.com/amvg/harvester/internal/scheduler"
	"github.com/amvg/harvester/internal/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, *scheduler.Scheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.NewFileTaskStore(filepath.Join(t.TempDir(), "tasks.json"), zap.NewNop())
	require.NoError(t, err)
	s := scheduler.New(store, nil, nil, scheduler.Config{}, zap.NewNop())
	return NewRouter(s, zap.NewNop()), s
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestTaskAPI_CreateAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/tasks", gin.H{
		"name":      "harvest",
		"locator":   "https://example.com/videos",
		"frequency": "daily",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created model.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, model.TaskStatusPending, created.Status)
	require.Equal(t, 50, created.MaxItems)
	require.NotNil(t, created.NextRun)

	w = doJSON(t, router, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "harvest", got.Name)
}

func TestTaskAPI_CreateValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("missing required fields", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/tasks", gin.H{"name": "x"})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid frequency", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/tasks", gin.H{
			"name":      "x",
			"locator":   "https://example.com",
			"frequency": "fortnightly",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTaskAPI_List(t *testing.T) {
	router, s := newTestRouter(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AddTask(&model.Task{
			Name:      fmt.Sprintf("task %d", i),
			Locator:   "https://example.com",
			Frequency: model.FrequencyDaily,
		}))
	}

	w := doJSON(t, router, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tasks []model.Task `json:"tasks"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	require.Len(t, resp.Tasks, 3)
}

func TestTaskAPI_Update(t *testing.T) {
	router, s := newTestRouter(t)

	task := &model.Task{Name: "old", Locator: "https://example.com", Frequency: model.FrequencyDaily}
	require.NoError(t, s.AddTask(task))

	w := doJSON(t, router, http.MethodPut, "/api/v1/tasks/"+task.ID, gin.H{
		"name":      "new",
		"max_items": 25,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated model.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Equal(t, "new", updated.Name)
	require.Equal(t, 25, updated.MaxItems)
	require.Equal(t, "https://example.com", updated.Locator)

	w = doJSON(t, router, http.MethodPut, "/api/v1/tasks/missing", gin.H{"name": "x"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskAPI_Delete(t *testing.T) {
	router, s := newTestRouter(t)

	task := &model.Task{Name: "x", Locator: "https://example.com", Frequency: model.FrequencyOnce}
	require.NoError(t, s.AddTask(task))

	w := doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskAPI_PauseResume(t *testing.T) {
	router, s := newTestRouter(t)

	task := &model.Task{Name: "x", Locator: "https://example.com", Frequency: model.FrequencyDaily}
	require.NoError(t, s.AddTask(task))

	w := doJSON(t, router, http.MethodPost, "/api/v1/tasks/"+task.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Pausing twice conflicts with the current status.
	w = doJSON(t, router, http.MethodPost, "/api/v1/tasks/"+task.ID+"/pause", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/tasks/"+task.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/tasks/"+task.ID+"/resume", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestTaskAPI_Status(t *testing.T) {
	router, s := newTestRouter(t)

	require.NoError(t, s.AddTask(&model.Task{Name: "x", Locator: "https://example.com", Frequency: model.FrequencyDaily}))

	w := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status scheduler.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, 1, status.Total)
	require.Equal(t, 1, status.Pending)
	require.False(t, status.Running)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
