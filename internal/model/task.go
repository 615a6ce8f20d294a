package model

import (
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusCreated   TaskStatus = "created"
	TaskStatusStarted   TaskStatus = "started"
	TaskStatusCompleted TaskStatus = "completed"
	// 运行过程中调用模型失败；与 completed 区分开，避免“无答案”与“失败”混在一起
	TaskStatusFailed TaskStatus = "failed"
	// 以下两个状态保留，当前没有代码路径会设置
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusStopped   TaskStatus = "stopped"
)

// Finished 是否处于可以追加新问题的终态
func (s TaskStatus) Finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task 任务表
type Task struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	Status    TaskStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// TaskConversation 一轮问答；answer 在模型返回前为 NULL
type TaskConversation struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	TaskID      uint      `gorm:"not null;index" json:"-"`
	Question    string    `gorm:"type:text;not null" json:"question"`
	Answer      *string   `gorm:"type:text" json:"answer"`
	GeneratedAt time.Time `gorm:"autoCreateTime" json:"generated_at"`
}

func (TaskConversation) TableName() string {
	return "task_conversations"
}

// TaskFile 上传文件的元数据；文件内容落在 upload/<task_id>/<id>-<name>
type TaskFile struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	TaskID      uint      `gorm:"not null;index" json:"-"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Size        int64     `gorm:"not null" json:"size"`
	ContentType string    `gorm:"type:varchar(255);not null" json:"content_type"`
	UploadedAt  time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

func (TaskFile) TableName() string {
	return "task_files"
}

// TaskDetail 任务及其全部对话、文件，均按时间升序
type TaskDetail struct {
	Task
	Conversations []TaskConversation `json:"conversations"`
	Files         []TaskFile         `json:"files"`
}
