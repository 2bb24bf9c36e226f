package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const memoryHistoryLimit = 512

// MintRecord 是一次成功铸造的台账条目。
type MintRecord struct {
	ID              int64  `json:"id,omitempty"`
	RecordKey       string `json:"record_key"`
	Participant     string `json:"participant"`
	Recipient       string `json:"recipient"`
	ResolvedAddress string `json:"resolved_address"`
	TokenURI        string `json:"token_uri"`
	TxHash          string `json:"tx_hash"`
	ChainID         int64  `json:"chain_id"`
	CreatedAt       int64  `json:"created_at"`
}

// MintRepository 抽象铸造台账的持久化接口。
type MintRepository interface {
	Save(ctx context.Context, record MintRecord) error
	ListLatest(ctx context.Context, limit int) ([]MintRecord, error)
	Close() error
}

// MemoryMintRepository 以追加写的 JSON 行文件保存台账，适合本地开发。
type MemoryMintRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []MintRecord
	nextID   int64
}

// NewMemoryMintRepository 在 dataDir 下创建或恢复 mints.log。
func NewMemoryMintRepository(dataDir string) (*MemoryMintRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryMintRepository{dataFile: filepath.Join(dataDir, "mints.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 追加一条台账记录，未设置 ID 时自动分配。
func (m *MemoryMintRepository) Save(_ context.Context, record MintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.ID == 0 {
		m.nextID++
		record.ID = m.nextID
	} else if record.ID > m.nextID {
		m.nextID = record.ID
	}

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开铸造台账失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化铸造记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入铸造台账失败: %w", err)
	}

	m.records = append([]MintRecord{record}, m.records...)
	if len(m.records) > memoryHistoryLimit {
		m.records = m.records[:memoryHistoryLimit]
	}
	return nil
}

// ListLatest 返回最近的铸造记录，按时间倒序排列。
func (m *MemoryMintRepository) ListLatest(_ context.Context, limit int) ([]MintRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]MintRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 实现 MintRepository，内存实现无需释放资源。
func (m *MemoryMintRepository) Close() error { return nil }

func (m *MemoryMintRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取铸造台账失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []MintRecord
	for scanner.Scan() {
		var record MintRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]MintRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析铸造台账失败: %w", err)
	}
	if len(restored) > memoryHistoryLimit {
		restored = restored[:memoryHistoryLimit]
	}
	m.records = restored
	return nil
}

// SQLMintRepository 使用 MySQL 保存铸造台账。
type SQLMintRepository struct {
	db *sql.DB
}

// NewSQLMintRepository 创建连接池并执行嵌入的迁移。
func NewSQLMintRepository(ctx context.Context, cfg Config) (*SQLMintRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, embeddedMigrations, time.Now); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLMintRepository{db: db}, nil
}

const insertMintSQL = `INSERT INTO mints
        (record_key, participant, recipient, resolved_address, token_uri, tx_hash, chain_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const listMintsSQL = `SELECT id, record_key, participant, recipient, resolved_address, token_uri, tx_hash, chain_id, created_at
        FROM mints ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将铸造记录写入 MySQL。
func (s *SQLMintRepository) Save(ctx context.Context, record MintRecord) error {
	if _, err := s.db.ExecContext(ctx, insertMintSQL,
		record.RecordKey,
		record.Participant,
		record.Recipient,
		record.ResolvedAddress,
		record.TokenURI,
		record.TxHash,
		record.ChainID,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条铸造记录。
func (s *SQLMintRepository) ListLatest(ctx context.Context, limit int) ([]MintRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listMintsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询铸造记录失败: %w", err)
	}
	defer rows.Close()

	var records []MintRecord
	for rows.Next() {
		var r MintRecord
		if err := rows.Scan(&r.ID, &r.RecordKey, &r.Participant, &r.Recipient, &r.ResolvedAddress, &r.TokenURI, &r.TxHash, &r.ChainID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析铸造记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历铸造记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLMintRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ MintRepository = (*MemoryMintRepository)(nil)
	_ MintRepository = (*SQLMintRepository)(nil)
)
