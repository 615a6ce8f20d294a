package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"doc-qa/internal/model"
	"doc-qa/internal/service"
	"doc-qa/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Submitter 把任务交给后台运行
type Submitter interface {
	Submit(id uint) error
}

type TaskHandler struct {
	taskService    *service.TaskService
	dispatcher     Submitter
	maxUploadBytes int64
	log            logrus.FieldLogger
}

func NewTaskHandler(taskService *service.TaskService, dispatcher Submitter, maxUploadBytes int64, log logrus.FieldLogger) *TaskHandler {
	return &TaskHandler{
		taskService:    taskService,
		dispatcher:     dispatcher,
		maxUploadBytes: maxUploadBytes,
		log:            log.WithField("component", "handler"),
	}
}

// CreateTask 创建任务（multipart：question + files）
func (h *TaskHandler) CreateTask(c *gin.Context) {
	input, ok := h.bindInput(c)
	if !ok {
		return
	}

	resp, err := h.taskService.Create(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
	h.submit(resp.ID)
}

// UpdateTask 在已结束的任务上追加问题
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	input, ok := h.bindInput(c)
	if !ok {
		return
	}

	resp, err := h.taskService.Update(c.Request.Context(), id, input)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
	h.submit(resp.ID)
}

// GetTask 任务详情
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	resp, err := h.taskService.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelTask 取消任务，暂未实现
func (h *TaskHandler) CancelTask(c *gin.Context) {
	h.log.WithField("task_id", c.Param("id")).Debug("取消任务暂未实现")
	c.JSON(http.StatusOK, gin.H{})
}

// DownloadFile 下载任务文件，暂未实现，始终返回空内容
func (h *TaskHandler) DownloadFile(c *gin.Context) {
	taskID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	fileID, _ := strconv.ParseUint(c.Param("file_id"), 10, 64)
	log := h.log.WithFields(logrus.Fields{"task_id": taskID, "file_id": fileID})
	if file, err := h.taskService.File(c.Request.Context(), uint(taskID), uint(fileID)); err == nil {
		log = log.WithField("name", file.Name)
	}
	log.Debug("文件下载暂未实现")
	c.Data(http.StatusOK, "application/octet-stream", []byte{})
}

// taskForm 创建/追加任务的表单，question 必填，files 可以为空
type taskForm struct {
	Question string                  `form:"question" binding:"required"`
	Files    []*multipart.FileHeader `form:"files"`
}

func (h *TaskHandler) bindInput(c *gin.Context) (model.TaskUserInput, bool) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	var input model.TaskUserInput
	var form taskForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("上传内容超过 %d 字节", tooLarge.Limit)})
			return input, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return input, false
	}

	input.Question = strings.TrimSpace(form.Question)
	if input.Question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question 不能为空"})
		return input, false
	}
	for _, fh := range form.Files {
		input.Files = append(input.Files, toUpload(fh))
	}
	return input, true
}

func toUpload(fh *multipart.FileHeader) model.Upload {
	return model.Upload{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// submit 响应写出之后再交给后台运行
func (h *TaskHandler) submit(id uint) {
	if err := h.dispatcher.Submit(id); err != nil {
		h.log.WithError(err).WithField("task_id", id).Error("提交任务失败")
	}
}

func (h *TaskHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrTaskNotCompleted):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("处理请求失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "内部错误"})
	}
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的任务 id"})
		return 0, false
	}
	return uint(id), true
}
