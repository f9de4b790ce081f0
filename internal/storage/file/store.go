// Package file 将部署记录保存为任务目录下的 JSON 文件：
// <root>/<task>/output/<network>.json。
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
)

// OutputDir 是任务目录下保存输出文件的子目录。
const OutputDir = "output"

// OutputStore 是基于文件的部署记录存储，适合与任务目录一起纳入版本管理。
type OutputStore struct {
	root string
	mu   sync.RWMutex
}

var _ deployment.OutputStore = (*OutputStore)(nil)

// NewOutputStore 以 root（通常是任务目录）为根创建存储。
func NewOutputStore(root string) *OutputStore {
	return &OutputStore{root: root}
}

func (s *OutputStore) path(task, network string) string {
	return filepath.Join(s.root, task, OutputDir, network+".json")
}

// Save 覆盖写入记录所在网络的输出文件。
func (s *OutputStore) Save(_ context.Context, record deployment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(record.Task, record.Network)
	records, err := readFile(path)
	if err != nil {
		return err
	}
	record.DeployedAt = record.DeployedAt.UTC()
	records[record.Contract] = record

	if err := writeFile(path, records); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入部署记录失败",
			xerrors.WithMetadata("contract", record.Contract))
	}
	return nil
}

// Lookup 查询单条记录。
func (s *OutputStore) Lookup(_ context.Context, task, network, contract string) (deployment.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := readFile(s.path(task, network))
	if err != nil {
		return deployment.Record{}, false, err
	}
	record, ok := records[contract]
	return record, ok, nil
}

// List 遍历根目录下的输出文件。
func (s *OutputStore) List(_ context.Context, task, network string) ([]deployment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := filepath.Join(s.root, globPart(task), OutputDir, globPart(network)+".json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描输出目录失败")
	}

	out := make([]deployment.Record, 0)
	for _, path := range paths {
		records, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, record := range records {
			out = append(out, record)
		}
	}
	deployment.SortRecords(out)
	return out, nil
}

func globPart(value string) string {
	if value == "" {
		return "*"
	}
	// 任务名中可能出现的通配字符需要转义。
	replacer := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`)
	return replacer.Replace(value)
}

func readFile(path string) (map[string]deployment.Record, error) {
	records := make(map[string]deployment.Record)
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取部署记录失败",
			xerrors.WithMetadata("path", path))
	}
	if err := json.Unmarshal(content, &records); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析部署记录失败",
			xerrors.WithMetadata("path", path))
	}
	return records, nil
}

func writeFile(path string, records map[string]deployment.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	content, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(content, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
