package nft

import (
	"fmt"
	"strings"
	"time"
)

// State 区分同一存储槽位中的两种记录形态。
type State string

const (
	// StateCollecting 表示仍在收集 NFT 信息。
	StateCollecting State = "collecting"
	// StateMinted 表示铸造交易已提交，槽位只保存交易哈希。
	StateMinted State = "minted"
)

// Field 表示必须收集的字段。
type Field string

const (
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldRecipient   Field = "recipient"
)

// RequiredFields 按固定顺序列出所有必填字段。
var RequiredFields = []Field{FieldName, FieldDescription, FieldRecipient}

// Title 返回首字母大写的字段名，用于状态文本。
func (f Field) Title() string {
	s := string(f)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Record 是每个参与者唯一的存储记录。
type Record struct {
	State       State  `json:"state"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	LastUpdated int64  `json:"last_updated,omitempty"`
}

// Fields 是一次抽取得到的部分字段，空字符串表示未提及。
type Fields struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

// Metadata 是上传到内容寻址存储的 NFT 元数据。
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Empty 返回首次访问时的空记录。
func Empty() Record {
	return Record{State: StateCollecting}
}

// Minted 构造铸造成功后的记录，覆盖原有的收集记录。
func Minted(txHash string, now time.Time) Record {
	return Record{
		State:       StateMinted,
		TxHash:      txHash,
		LastUpdated: now.UnixMilli(),
	}
}

// CacheKey 生成 {agentName}/{participantId}/data 形式的存储键。
func CacheKey(agentName, participantID string) string {
	return fmt.Sprintf("%s/%s/data", agentName, participantID)
}

// IsMinted 判断记录是否已经完成铸造。
func (r Record) IsMinted() bool {
	return r.State == StateMinted
}

// Value 返回指定字段的当前值。
func (r Record) Value(f Field) string {
	switch f {
	case FieldName:
		return r.Name
	case FieldDescription:
		return r.Description
	case FieldRecipient:
		return r.Recipient
	default:
		return ""
	}
}

func (r *Record) set(f Field, value string) {
	switch f {
	case FieldName:
		r.Name = value
	case FieldDescription:
		r.Description = value
	case FieldRecipient:
		r.Recipient = value
	}
}

// Metadata 提取需要上传的元数据。
func (r Record) Metadata() Metadata {
	return Metadata{Name: r.Name, Description: r.Description}
}

// Value 返回抽取结果中指定字段的值。
func (f Fields) Value(field Field) string {
	switch field {
	case FieldName:
		return f.Name
	case FieldDescription:
		return f.Description
	case FieldRecipient:
		return f.Recipient
	default:
		return ""
	}
}

// IsZero 判断抽取结果是否为空。
func (f Fields) IsZero() bool {
	return strings.TrimSpace(f.Name) == "" &&
		strings.TrimSpace(f.Description) == "" &&
		strings.TrimSpace(f.Recipient) == ""
}

// MissingFields 按固定顺序返回尚未填写的字段。已铸造的记录没有缺失字段。
func MissingFields(r Record) []Field {
	if r.IsMinted() {
		return nil
	}
	missing := make([]Field, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if strings.TrimSpace(r.Value(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// KnownFields 按固定顺序返回已填写的字段。
func KnownFields(r Record) []Field {
	if r.IsMinted() {
		return nil
	}
	known := make([]Field, 0, len(RequiredFields))
	for _, f := range RequiredFields {
		if strings.TrimSpace(r.Value(f)) != "" {
			known = append(known, f)
		}
	}
	return known
}

// IsComplete 当且仅当三个必填字段都不为空时返回 true。
func IsComplete(r Record) bool {
	if r.IsMinted() {
		return false
	}
	return len(MissingFields(r)) == 0
}

// Merge 将新抽取的字段合并进缓存记录：每个字段只在原值为空且新值非空时写入，
// 已写入的字段不会被覆盖或清空。
func Merge(cached Record, extracted Fields, now time.Time) (Record, bool) {
	if cached.IsMinted() {
		return cached, false
	}
	merged := cached
	if merged.State == "" {
		merged.State = StateCollecting
	}

	changed := false
	for _, f := range RequiredFields {
		value := strings.TrimSpace(extracted.Value(f))
		if value == "" || strings.TrimSpace(merged.Value(f)) != "" {
			continue
		}
		merged.set(f, value)
		changed = true
	}
	if changed {
		merged.LastUpdated = now.UnixMilli()
	}
	return merged, changed
}
