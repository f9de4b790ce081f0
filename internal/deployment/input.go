package deployment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "contract-deployer/internal/errors"
)

// InputFileName 是任务目录中输入文件的名字。
const InputFileName = "input.yaml"

// Input 是任务在某个网络上的只读输入，字段名到地址字符串。
type Input map[string]string

// Get 返回字段原值，不做任何校验；字段不存在时返回空字符串。
func (in Input) Get(field string) string {
	return in[field]
}

// Address 返回字段对应的地址，缺失时为 MISSING_INPUT_FIELD。
func (in Input) Address(field string) (common.Address, error) {
	raw := strings.TrimSpace(in[field])
	if raw == "" {
		return common.Address{}, xerrors.New(xerrors.CodeMissingInputField, fmt.Sprintf("缺少输入字段 %s", field), xerrors.WithMetadata("field", field))
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("输入字段 %s 不是合法地址", field), xerrors.WithMetadata("field", field))
	}
	return common.HexToAddress(raw), nil
}

// Fields 返回排序后的字段名。
func (in Input) Fields() []string {
	fields := make([]string, 0, len(in))
	for k := range in {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// InputValue 是输入文件中的一个值：字面地址，或对其他任务输出的引用。
type InputValue struct {
	Literal string
	Task    string
	Output  string
}

// UnmarshalYAML 接受标量或 {task, output} 映射。
func (v *InputValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v.Literal = strings.TrimSpace(node.Value)
		return nil
	case yaml.MappingNode:
		var ref struct {
			Task   string `yaml:"task"`
			Output string `yaml:"output"`
		}
		if err := node.Decode(&ref); err != nil {
			return err
		}
		if ref.Task == "" || ref.Output == "" {
			return fmt.Errorf("第 %d 行: 任务引用需要同时提供 task 与 output", node.Line)
		}
		v.Task, v.Output = ref.Task, ref.Output
		return nil
	default:
		return fmt.Errorf("第 %d 行: 不支持的输入值", node.Line)
	}
}

// IsReference 报告值是否引用其他任务的输出。
func (v InputValue) IsReference() bool {
	return v.Task != ""
}

// InputFile 是解析后的 input.yaml，按网络名分段。
type InputFile map[string]map[string]InputValue

// LoadInputFile 读取任务目录下的 input.yaml。文件不存在时返回空输入。
func LoadInputFile(taskDir string) (InputFile, error) {
	path := filepath.Join(taskDir, InputFileName)
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return InputFile{}, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务输入失败", xerrors.WithMetadata("path", path))
	}
	var file InputFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析任务输入失败", xerrors.WithMetadata("path", path))
	}
	if file == nil {
		file = InputFile{}
	}
	return file, nil
}

// Resolve 返回 network 段的输入，引用值从 outputs 中读取。
func (f InputFile) Resolve(ctx context.Context, network string, outputs OutputStore) (Input, error) {
	section, ok := f[network]
	if !ok {
		return nil, xerrors.New(xerrors.CodeMissingInputField, fmt.Sprintf("任务输入中没有网络 %s", network), xerrors.WithMetadata("network", network))
	}
	input := make(Input, len(section))
	for field, value := range section {
		if !value.IsReference() {
			input[field] = value.Literal
			continue
		}
		if outputs == nil {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置部署记录存储，无法解析任务引用")
		}
		record, found, err := outputs.Lookup(ctx, value.Task, network, value.Output)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, xerrors.New(xerrors.CodeMissingInputField,
				fmt.Sprintf("输入字段 %s 引用的 %s/%s 在网络 %s 上尚未部署", field, value.Task, value.Output, network),
				xerrors.WithMetadata("field", field),
				xerrors.WithMetadata("task", value.Task),
			)
		}
		input[field] = record.Address.Hex()
	}
	return input, nil
}
