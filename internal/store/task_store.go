package store

import (
	"context"
	"os"
	"time"

	"doc-qa/internal/model"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var (
	ErrTaskNotFound     = errors.New("任务不存在")
	ErrTaskNotCompleted = errors.New("任务尚未完成")
	ErrFileNotFound     = errors.New("文件不存在")
)

// PersistFunc 把上传文件写到磁盘，返回写入的路径（用于回滚时清理）
type PersistFunc func(task *model.Task, file *model.TaskFile, upload model.Upload) (string, error)

// TaskStore 三张表的读写；多语句操作都在一个事务内完成
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask 新建任务（created）、第一轮问题和上传文件
func (s *TaskStore) CreateTask(ctx context.Context, input model.TaskUserInput, persist PersistFunc) (*model.Task, error) {
	task := &model.Task{Status: model.TaskStatusCreated}
	var written []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return errors.Wrap(err, "保存任务失败")
		}
		var err error
		written, err = addTurn(tx, task, input, persist)
		return err
	})
	if err != nil {
		removeAll(written)
		return nil, err
	}
	return task, nil
}

// AppendTurn 在已结束的任务上追加一轮问题；状态检查与写入在同一事务内
func (s *TaskStore) AppendTurn(ctx context.Context, id uint, input model.TaskUserInput, persist PersistFunc) (*model.Task, error) {
	var task model.Task
	var written []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&task, id).Error; err != nil {
			return wrapNotFound(err)
		}
		if !task.Status.Finished() {
			return ErrTaskNotCompleted
		}
		var err error
		written, err = addTurn(tx, &task, input, persist)
		if err != nil {
			return err
		}
		// 刷新 updated_at，让轮询方能感知到新一轮
		return errors.Wrap(tx.Model(&task).Update("updated_at", time.Now()).Error, "更新任务失败")
	})
	if err != nil {
		removeAll(written)
		return nil, err
	}
	return &task, nil
}

func addTurn(tx *gorm.DB, task *model.Task, input model.TaskUserInput, persist PersistFunc) ([]string, error) {
	conv := &model.TaskConversation{TaskID: task.ID, Question: input.Question}
	if err := tx.Create(conv).Error; err != nil {
		return nil, errors.Wrap(err, "保存对话失败")
	}

	var written []string
	for _, up := range input.Files {
		file := &model.TaskFile{
			TaskID:      task.ID,
			Name:        up.Name,
			Size:        up.Size,
			ContentType: up.ContentType,
		}
		if err := tx.Create(file).Error; err != nil {
			return written, errors.Wrapf(err, "保存文件记录失败: %s", up.Name)
		}
		if persist == nil {
			continue
		}
		p, err := persist(task, file, up)
		if p != "" {
			written = append(written, p)
		}
		if err != nil {
			return written, errors.Wrapf(err, "保存文件失败: %s", up.Name)
		}
	}
	return written, nil
}

// GetTask 只查任务本身
func (s *TaskStore) GetTask(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &task, nil
}

// GetStatus 查任务状态
func (s *TaskStore) GetStatus(ctx context.Context, id uint) (model.TaskStatus, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// GetTaskDetail 任务 + 对话 + 文件，按时间升序（同一时间按 id）
func (s *TaskStore) GetTaskDetail(ctx context.Context, id uint) (*model.TaskDetail, error) {
	var detail model.TaskDetail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&detail.Task, id).Error; err != nil {
			return wrapNotFound(err)
		}
		if err := tx.Where("task_id = ?", id).
			Order("generated_at ASC, id ASC").
			Find(&detail.Conversations).Error; err != nil {
			return errors.Wrap(err, "查询对话失败")
		}
		if err := tx.Where("task_id = ?", id).
			Order("uploaded_at ASC, id ASC").
			Find(&detail.Files).Error; err != nil {
			return errors.Wrap(err, "查询文件失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetFile 查询某个任务下的文件
func (s *TaskStore) GetFile(ctx context.Context, taskID, fileID uint) (*model.TaskFile, error) {
	var file model.TaskFile
	err := s.db.WithContext(ctx).Where("id = ? AND task_id = ?", fileID, taskID).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &file, nil
}

// ClaimForRun 原子地把任务置为 started；已经在运行（或不存在）时返回 false
func (s *TaskStore) ClaimForRun(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND status <> ?", id, model.TaskStatusStarted).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusStarted,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "更新任务状态失败")
	}
	return res.RowsAffected == 1, nil
}

// CompleteRun 写入最新一轮（仍为 NULL）的答案并置为 completed
func (s *TaskStore) CompleteRun(ctx context.Context, id uint, answer string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest model.TaskConversation
		err := tx.Where("task_id = ?", id).Order("id DESC").Limit(1).Take(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return errors.Wrap(err, "查询对话失败")
		default:
			if err := tx.Model(&model.TaskConversation{}).
				Where("id = ? AND answer IS NULL", latest.ID).
				Update("answer", answer).Error; err != nil {
				return errors.Wrap(err, "保存答案失败")
			}
		}
		return setStatus(tx, id, model.TaskStatusCompleted)
	})
}

// FailRun 运行失败，答案保持 NULL
func (s *TaskStore) FailRun(ctx context.Context, id uint) error {
	return setStatus(s.db.WithContext(ctx), id, model.TaskStatusFailed)
}

// ListTaskIDsWithFiles 所有带文件的任务 id，供批量重建索引
func (s *TaskStore) ListTaskIDsWithFiles(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&model.TaskFile{}).
		Distinct().
		Order("task_id ASC").
		Pluck("task_id", &ids).Error
	return ids, errors.Wrap(err, "查询任务失败")
}

func setStatus(tx *gorm.DB, id uint, status model.TaskStatus) error {
	err := tx.Model(&model.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
	return errors.Wrap(err, "更新任务状态失败")
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTaskNotFound
	}
	return errors.WithStack(err)
}

func removeAll(files []string) {
	for _, f := range files {
		_ = os.Remove(f)
	}
}
