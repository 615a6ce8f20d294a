package model

import (
	"io"
	"time"
)

// Upload 一个待保存的上传文件
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// TaskUserInput 创建/追加任务时用户提交的内容
type TaskUserInput struct {
	Question string
	Files    []Upload
}

type CreateTaskRequest = TaskUserInput

type UpdateTaskRequest = TaskUserInput

// TaskActionResponse 创建/追加后返回的任务快照
type TaskActionResponse struct {
	ID        uint       `json:"id"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ReadTaskResponse 任务详情
type ReadTaskResponse struct {
	TaskActionResponse
	Conversations []TaskConversation `json:"conversations"`
	Files         []TaskFile         `json:"files"`
}

func NewTaskActionResponse(t *Task) *TaskActionResponse {
	return &TaskActionResponse{
		ID:        t.ID,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func NewReadTaskResponse(d *TaskDetail) *ReadTaskResponse {
	resp := &ReadTaskResponse{
		TaskActionResponse: *NewTaskActionResponse(&d.Task),
		Conversations:      d.Conversations,
		Files:              d.Files,
	}
	if resp.Conversations == nil {
		resp.Conversations = []TaskConversation{}
	}
	if resp.Files == nil {
		resp.Files = []TaskFile{}
	}
	return resp
}
