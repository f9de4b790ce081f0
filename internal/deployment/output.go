package deployment

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Record 是一次合约部署的持久化结果。
type Record struct {
	Task        string         `json:"task"`
	Network     string         `json:"network"`
	Contract    string         `json:"contract"`
	Address     common.Address `json:"address"`
	TxHash      string         `json:"tx_hash,omitempty"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Deployer    string         `json:"deployer,omitempty"`
	DeployedAt  time.Time      `json:"deployed_at"`
}

// MarshalJSON 以校验和格式输出地址，与任务输出和命令行结果一致。
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		Address string `json:"address"`
	}{plain: plain(r), Address: r.Address.Hex()})
}

// OutputStore 持久化部署记录。同一 (task, network, contract) 只保留最新一条。
type OutputStore interface {
	Save(ctx context.Context, record Record) error
	Lookup(ctx context.Context, task, network, contract string) (Record, bool, error)
	// List 返回匹配的记录，空字符串表示不过滤该字段。
	List(ctx context.Context, task, network string) ([]Record, error)
}

// SortRecords 按任务、网络、合约名排序。
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		return a.Contract < b.Contract
	})
}

type recordKey struct {
	task     string
	network  string
	contract string
}

// MemoryOutputStore 是进程内的 OutputStore。
type MemoryOutputStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
}

// NewMemoryOutputStore 创建内存记录存储。
func NewMemoryOutputStore() *MemoryOutputStore {
	return &MemoryOutputStore{records: make(map[recordKey]Record)}
}

// Save 实现 OutputStore。
func (s *MemoryOutputStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{record.Task, record.Network, record.Contract}] = record
	return nil
}

// Lookup 实现 OutputStore。
func (s *MemoryOutputStore) Lookup(_ context.Context, task, network, contract string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordKey{task, network, contract}]
	return record, ok, nil
}

// List 实现 OutputStore。
func (s *MemoryOutputStore) List(_ context.Context, task, network string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for key, record := range s.records {
		if task != "" && key.task != task {
			continue
		}
		if network != "" && key.network != network {
			continue
		}
		out = append(out, record)
	}
	SortRecords(out)
	return out, nil
}
