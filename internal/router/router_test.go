package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"doc-qa/internal/config"
	"doc-qa/internal/model"
	"doc-qa/internal/service"
	"doc-qa/internal/store"
	"doc-qa/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, chat *testutil.FakeChat) (*gin.Engine, *service.ServiceContext) {
	t.Helper()
	return newLimitedTestServer(t, chat, 1<<20)
}

func newLimitedTestServer(t *testing.T, chat *testutil.FakeChat, maxUploadBytes int64) (*gin.Engine, *service.ServiceContext) {
	t.Helper()
	conn, resolver := testutil.NewSQLiteDB(t)
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode, MaxUploadBytes: maxUploadBytes},
		LLM:    config.LLMConfig{TopK: 3, ChunkSize: 200, ChunkOverlap: 20},
	}
	log, _ := test.NewNullLogger()
	svcCtx := service.NewServiceContextWithModels(cfg, conn, resolver, chat, testutil.BagEmbedder{}, log)
	t.Cleanup(func() { _ = svcCtx.Dispatcher.Shutdown(context.Background()) })
	return SetupRouter(svcCtx), svcCtx
}

type file struct {
	name    string
	content string
}

func multipartBody(t *testing.T, question string, files ...file) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if question != "" {
		require.NoError(t, w.WriteField("question", question))
	}
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func postTask(t *testing.T, r http.Handler, path, question string, files ...file) *httptest.ResponseRecorder {
	body, contentType := multipartBody(t, question, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return do(r, req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestCreateAndReadTask(t *testing.T) {
	chat := &testutil.FakeChat{Answer: "在草原上"}
	r, svcCtx := newTestServer(t, chat)

	rec := postTask(t, r, "/tasks", "where does the zebra live", file{"zoo.txt", "The zebra lives in the savanna."})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created model.TaskActionResponse
	decode(t, rec, &created)
	assert.NotZero(t, created.ID)
	assert.Equal(t, model.TaskStatusCreated, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	// 等待后台运行结束
	require.NoError(t, svcCtx.Dispatcher.Shutdown(context.Background()))

	rec = do(r, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/tasks/%d", created.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.ReadTaskResponse
	decode(t, rec, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	require.Len(t, got.Conversations, 1)
	assert.Equal(t, "where does the zebra live", got.Conversations[0].Question)
	require.NotNil(t, got.Conversations[0].Answer)
	assert.Equal(t, "在草原上", *got.Conversations[0].Answer)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "zoo.txt", got.Files[0].Name)
	assert.Equal(t, int64(len("The zebra lives in the savanna.")), got.Files[0].Size)

	require.Len(t, chat.Calls(), 1)
	assert.Contains(t, chat.Calls()[0].System, "savanna")
}

func TestReadTaskWithoutFilesReturnsEmptyList(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{Answer: "a"})

	rec := postTask(t, r, "/tasks", "hi")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/tasks/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"files":[]`)
}

func TestCreateTaskRequiresQuestion(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{})

	rec := postTask(t, r, "/tasks", "", file{"a.txt", "alpha"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")

	rec = postTask(t, r, "/tasks", "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTaskFromURLEncodedForm(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{Answer: "a"})

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("question=hello"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(r, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateTaskRejectsOversizedUpload(t *testing.T) {
	r, svcCtx := newLimitedTestServer(t, &testutil.FakeChat{}, 1024)

	rec := postTask(t, r, "/tasks", "too big", file{"big.txt", strings.Repeat("a", 8<<10)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "1024")

	// 没有落库
	_, err := svcCtx.Tasks.Get(context.Background(), 1)
	assert.ErrorIs(t, err, store.ErrTaskNotFound)

	// 限额以内照常创建
	rec = postTask(t, r, "/tasks", "small", file{"small.txt", "alpha"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestReadTaskErrors(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{})

	rec := do(r, httptest.NewRequest(http.MethodGet, "/tasks/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/tasks/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTaskStates(t *testing.T) {
	chat := &testutil.FakeChat{Answer: "a1", Block: make(chan struct{})}
	r, svcCtx := newTestServer(t, chat)

	rec := postTask(t, r, "/tasks", "q1")
	require.Equal(t, http.StatusOK, rec.Code)

	// 第一轮还在运行：拒绝追加
	rec = postTask(t, r, "/tasks/1", "q2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	close(chat.Block)
	require.NoError(t, svcCtx.Dispatcher.Shutdown(context.Background()))

	status, err := svcCtx.Store.GetStatus(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, model.TaskStatusCompleted, status)

	detail, err := svcCtx.Store.GetTaskDetail(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, detail.Conversations, 1)

	rec = postTask(t, r, "/tasks/999", "q")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateCompletedTask(t *testing.T) {
	r, svcCtx := newTestServer(t, &testutil.FakeChat{Answer: "a"})
	ctx := context.Background()

	task, err := svcCtx.Tasks.Create(ctx, model.CreateTaskRequest{Question: "q1"})
	require.NoError(t, err)
	svcCtx.Tasks.Run(ctx, task.ID)

	rec := postTask(t, r, fmt.Sprintf("/tasks/%d", task.ID), "q2", file{"b.txt", "beta"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.TaskActionResponse
	decode(t, rec, &resp)
	assert.Equal(t, task.ID, resp.ID)

	require.NoError(t, svcCtx.Dispatcher.Shutdown(ctx))
	detail, err := svcCtx.Store.GetTaskDetail(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, detail.Conversations, 2)
	require.NotNil(t, detail.Conversations[1].Answer)
	assert.Len(t, detail.Files, 1)
}

func TestStubEndpoints(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{})

	rec := do(r, httptest.NewRequest(http.MethodDelete, "/tasks/1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/tasks/1/files/2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{})

	rec := do(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docqa_task_runs_in_flight")
}

func TestRequestIDAndCORS(t *testing.T) {
	r, _ := newTestServer(t, &testutil.FakeChat{})

	rec := do(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = do(r, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodOptions, "/tasks", nil)
	req.Header.Set("Origin", "http://frontend.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = do(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
