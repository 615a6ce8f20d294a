package service

import (
	"context"
	"io"
	"os"
	"time"

	"doc-qa/internal/metrics"
	"doc-qa/internal/model"
	"doc-qa/internal/paths"
	"doc-qa/internal/store"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const defaultContentType = "application/octet-stream"

// TaskService 任务的创建、追加、查询与后台运行
type TaskService struct {
	store      *store.TaskStore
	ask        *AskService
	resolver   *paths.Resolver
	runTimeout time.Duration
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
}

func NewTaskService(st *store.TaskStore, ask *AskService, resolver *paths.Resolver, runTimeout time.Duration, m *metrics.Metrics, log logrus.FieldLogger) *TaskService {
	return &TaskService{
		store:      st,
		ask:        ask,
		resolver:   resolver,
		runTimeout: runTimeout,
		metrics:    m,
		log:        log.WithField("component", "task"),
	}
}

// Create 新建任务；有文件时同步重建索引
func (s *TaskService) Create(ctx context.Context, req model.CreateTaskRequest) (*model.TaskActionResponse, error) {
	req.Files = detectContentTypes(req.Files)
	task, err := s.store.CreateTask(ctx, req, s.persist)
	if err != nil {
		return nil, err
	}
	if len(req.Files) > 0 {
		s.ask.Reindex(context.WithoutCancel(ctx), task.ID)
	}
	s.log.WithFields(logrus.Fields{"task_id": task.ID, "files": len(req.Files)}).Info("任务已创建")
	return model.NewTaskActionResponse(task), nil
}

// Update 在已结束的任务上追加一轮；任务未结束时返回 store.ErrTaskNotCompleted，不做任何写入
func (s *TaskService) Update(ctx context.Context, id uint, req model.UpdateTaskRequest) (*model.TaskActionResponse, error) {
	req.Files = detectContentTypes(req.Files)
	task, err := s.store.AppendTurn(ctx, id, req, s.persist)
	if err != nil {
		return nil, err
	}
	if len(req.Files) > 0 {
		s.ask.Reindex(context.WithoutCancel(ctx), task.ID)
	}
	s.log.WithFields(logrus.Fields{"task_id": task.ID, "files": len(req.Files)}).Info("任务已追加问题")
	return model.NewTaskActionResponse(task), nil
}

// Get 任务详情
func (s *TaskService) Get(ctx context.Context, id uint) (*model.ReadTaskResponse, error) {
	detail, err := s.store.GetTaskDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewReadTaskResponse(detail), nil
}

// File 查询任务下的文件记录
func (s *TaskService) File(ctx context.Context, taskID, fileID uint) (*model.TaskFile, error) {
	return s.store.GetFile(ctx, taskID, fileID)
}

// Run 后台运行一次：抢占任务、调用模型、写回答案；所有错误只记日志
func (s *TaskService) Run(ctx context.Context, id uint) {
	log := s.log.WithField("task_id", id)

	claimed, err := s.store.ClaimForRun(ctx, id)
	if err != nil {
		log.WithError(err).Error("抢占任务失败")
		return
	}
	if !claimed {
		s.metrics.TaskRuns.WithLabelValues("skipped").Inc()
		log.Warn("任务不存在或已在运行，跳过")
		return
	}

	var (
		answer string
		runErr error
	)
	defer func() {
		if r := recover(); r != nil {
			runErr = errors.Errorf("panic: %v", r)
		}
		s.finish(context.WithoutCancel(ctx), log, id, answer, runErr)
	}()

	detail, err := s.store.GetTaskDetail(ctx, id)
	if err != nil {
		runErr = err
		return
	}

	runCtx := ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}
	answer, runErr = s.ask.Answer(runCtx, detail)
}

func (s *TaskService) finish(ctx context.Context, log logrus.FieldLogger, id uint, answer string, runErr error) {
	if runErr != nil {
		log.WithError(runErr).Error("运行任务失败")
		s.metrics.TaskRuns.WithLabelValues("failed").Inc()
		if err := s.store.FailRun(ctx, id); err != nil {
			log.WithError(err).Error("保存失败状态失败")
		}
		return
	}
	if err := s.store.CompleteRun(ctx, id, answer); err != nil {
		log.WithError(err).Error("保存答案失败")
		s.metrics.TaskRuns.WithLabelValues("failed").Inc()
		if err := s.store.FailRun(ctx, id); err != nil {
			log.WithError(err).Error("保存失败状态失败")
		}
		return
	}
	s.metrics.TaskRuns.WithLabelValues("completed").Inc()
	log.Info("任务已完成")
}

// persist 把上传内容写到 upload/<task_id>/<file_id>-<name>
func (s *TaskService) persist(task *model.Task, file *model.TaskFile, up model.Upload) (string, error) {
	path, err := s.resolver.UploadFile(task.ID, file.ID, file.Name)
	if err != nil {
		return "", err
	}
	src, err := up.Open()
	if err != nil {
		return "", errors.Wrap(err, "打开上传文件失败")
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "创建文件失败")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return path, errors.Wrap(err, "写入文件失败")
	}
	return path, errors.Wrap(dst.Close(), "写入文件失败")
}

// detectContentTypes 客户端没有声明类型时按内容识别，声明了的原样保留
func detectContentTypes(files []model.Upload) []model.Upload {
	out := make([]model.Upload, len(files))
	for i, up := range files {
		if up.ContentType == "" {
			up.ContentType = sniff(up)
		}
		out[i] = up
	}
	return out
}

func sniff(up model.Upload) string {
	if up.Open == nil {
		return defaultContentType
	}
	rc, err := up.Open()
	if err != nil {
		return defaultContentType
	}
	defer rc.Close()
	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return defaultContentType
	}
	return mt.String()
}
