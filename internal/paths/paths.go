package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// DataType 数据根目录下的一级分类
type DataType string

const (
	DataTypeSQLite DataType = "sqlite"
	DataTypeUpload DataType = "upload"
	DataTypeIndex  DataType = "index"
)

const sqliteFileName = "system.sqlite"

// Resolver 计算数据文件在磁盘上的位置，目录按需创建
type Resolver struct {
	Root string
}

func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Path 返回 <root>/<type>[/<dir>][/<file>]，并确保目录部分存在
func (r *Resolver) Path(t DataType, dir, file string) (string, error) {
	p := filepath.Join(r.Root, string(t))
	if dir != "" {
		p = filepath.Join(p, dir)
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", errors.Wrapf(err, "创建目录失败 %s", p)
	}
	if file == "" {
		return p, nil
	}
	return filepath.Join(p, file), nil
}

func (r *Resolver) SQLiteFile() (string, error) {
	return r.Path(DataTypeSQLite, "", sqliteFileName)
}

func (r *Resolver) UploadDir(taskID uint) (string, error) {
	return r.Path(DataTypeUpload, taskDir(taskID), "")
}

// UploadFile 上传文件落盘路径：<file_id>-<name>，name 只保留最后一段，防止跳出任务目录
func (r *Resolver) UploadFile(taskID, fileID uint, name string) (string, error) {
	return r.Path(DataTypeUpload, taskDir(taskID), fmt.Sprintf("%d-%s", fileID, SafeName(name)))
}

// IndexRoot 所有任务索引的上级目录
func (r *Resolver) IndexRoot() (string, error) {
	return r.Path(DataTypeIndex, "", "")
}

// IndexPath 任务索引目录，不创建；索引构建成功后才会出现
func (r *Resolver) IndexPath(taskID uint) string {
	return filepath.Join(r.Root, string(DataTypeIndex), taskDir(taskID))
}

// SafeName 去掉路径成分，空名字或 "."、".." 统一替换为 file
func SafeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "file"
	}
	return base
}

func taskDir(taskID uint) string {
	return strconv.FormatUint(uint64(taskID), 10)
}
