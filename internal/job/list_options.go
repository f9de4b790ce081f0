package job

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	xerrors "contract-deployer/internal/errors"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 是列表按更新时间排序的方向。
type SortOrder string

const (
	NewestFirst SortOrder = "desc"
	OldestFirst SortOrder = "asc"
)

// ListOptions 是作业查询条件，内存与 MySQL 存储共用同一套过滤语义。
// 时间边界均为闭区间，零值表示不限制。
type ListOptions struct {
	Limit         int
	Offset        int
	Statuses      []Status
	TaskID        string
	Network       string
	UpdatedAfter  time.Time
	UpdatedBefore time.Time
	Order         SortOrder
}

func (o *ListOptions) normalize() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != OldestFirst {
		o.Order = NewestFirst
	}
	o.TaskID = strings.TrimSpace(o.TaskID)
	o.Network = strings.TrimSpace(o.Network)

	// 未知状态被丢弃，全部无效时等同于不过滤。
	statuses := make([]Status, 0, len(o.Statuses))
	for _, status := range o.Statuses {
		if IsValidStatus(status) && !slices.Contains(statuses, status) {
			statuses = append(statuses, status)
		}
	}
	if len(statuses) == 0 {
		statuses = nil
	}
	o.Statuses = statuses
}

// Match 判断作业是否满足过滤条件（不考虑分页）。
func (o ListOptions) Match(job *Job) bool {
	if job == nil {
		return false
	}
	if len(o.Statuses) > 0 && !slices.Contains(o.Statuses, job.Status) {
		return false
	}
	if o.TaskID != "" && job.TaskID != o.TaskID {
		return false
	}
	if o.Network != "" && job.Network != o.Network {
		return false
	}
	if !o.UpdatedAfter.IsZero() && job.UpdatedAt < o.UpdatedAfter.Unix() {
		return false
	}
	if !o.UpdatedBefore.IsZero() && job.UpdatedAt > o.UpdatedBefore.Unix() {
		return false
	}
	return true
}

// where 生成与 Match 等价的 SQL 条件。
func (o ListOptions) where() (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if n := len(o.Statuses); n > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.TrimSuffix(strings.Repeat("?,", n), ",")))
		for _, status := range o.Statuses {
			args = append(args, string(status))
		}
	}
	if o.TaskID != "" {
		conditions = append(conditions, "task_id = ?")
		args = append(args, o.TaskID)
	}
	if o.Network != "" {
		conditions = append(conditions, "network = ?")
		args = append(args, o.Network)
	}
	if !o.UpdatedAfter.IsZero() {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, o.UpdatedAfter.Unix())
	}
	if !o.UpdatedBefore.IsZero() {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, o.UpdatedBefore.Unix())
	}
	return strings.Join(conditions, " AND "), args
}

// ListOption 修改查询条件。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = append([]Status(nil), statuses...) }
}

func WithTask(taskID string) ListOption {
	return func(o *ListOptions) { o.TaskID = taskID }
}

func WithNetwork(network string) ListOption {
	return func(o *ListOptions) { o.Network = network }
}

// WithUpdatedBetween 限定更新时间范围，任一端为零值表示不限制。
func WithUpdatedBetween(after, before time.Time) ListOption {
	return func(o *ListOptions) {
		o.UpdatedAfter = after
		o.UpdatedBefore = before
	}
}

func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// BuildListOptions 依次应用选项并规范化结果。
func BuildListOptions(opts ...ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.normalize()
	return options
}

// ParseListQuery 解析 HTTP 查询参数：limit、offset、status（逗号分隔）、
// task、network、since、until（RFC3339）与 order（asc|desc）。
func ParseListQuery(query url.Values) ([]ListOption, error) {
	var opts []ListOption

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, invalidQuery("limit", raw, "limit 必须为正整数")
		}
		opts = append(opts, WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, invalidQuery("offset", raw, "offset 必须为非负整数")
		}
		opts = append(opts, WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []Status
		for _, part := range strings.Split(raw, ",") {
			status := Status(strings.TrimSpace(part))
			if !IsValidStatus(status) {
				return nil, invalidQuery("status", part, "不支持的作业状态")
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, WithStatuses(statuses...))
	}
	if raw := strings.TrimSpace(query.Get("task")); raw != "" {
		opts = append(opts, WithTask(raw))
	}
	if raw := strings.TrimSpace(query.Get("network")); raw != "" {
		opts = append(opts, WithNetwork(raw))
	}

	var after, before time.Time
	for key, target := range map[string]*time.Time{"since": &after, "until": &before} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, invalidQuery(key, raw, key+" 必须为 RFC3339 时间")
		}
		*target = ts
	}
	if !after.IsZero() && !before.IsZero() && after.After(before) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "since 不能晚于 until")
	}
	if !after.IsZero() || !before.IsZero() {
		opts = append(opts, WithUpdatedBetween(after, before))
	}

	switch order := SortOrder(strings.ToLower(query.Get("order"))); order {
	case "":
	case NewestFirst, OldestFirst:
		opts = append(opts, WithSortOrder(order))
	default:
		return nil, invalidQuery("order", string(order), "order 只能为 asc 或 desc")
	}
	return opts, nil
}

func invalidQuery(param, value, message string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, message,
		xerrors.WithMetadata("param", param),
		xerrors.WithMetadata("value", value),
	)
}
