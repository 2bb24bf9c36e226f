package agent

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/RosarioB/eliza-nft/internal/errors"
	"github.com/RosarioB/eliza-nft/internal/llm"
	"github.com/RosarioB/eliza-nft/internal/nft"
)

// EvaluatorName 是评估器在宿主运行时中的注册名。
const EvaluatorName = "GET_NFT_DATA"

// EvaluatorDescription 描述评估器的职责。
const EvaluatorDescription = "Extract the NFT's name, description, and recipient (an Ethereum address) from the conversation when explicitly mentioned."

// EvaluatorSimiles 是评估器的别名。
var EvaluatorSimiles = []string{
	"EXTRACT_NFT_INFO",
	"GET_NFT_INFORMATION",
	"COLLECT_NFT_DATA",
	"NFT_DETAILS",
}

// Example 是附加在抽取提示词后的少样本示例。
type Example struct {
	Context string
	Text    string
	Outcome string
}

// Examples 覆盖明确陈述、未来计划与已有资产三种情形。
var Examples = []Example{
	{
		Context: "NFT creation",
		Text: "Hi everyone! I want to create a new NFT called Maserati GranTurismo " +
			"with this description: A luxurious grand tourer powered by a high-revving V8 engine, combining Italian elegance with dynamic performance. " +
			"I want the NFT to be sent to the address 0x20c6F9006d563240031A1388f4f25726029a6368",
		Outcome: `{"name": "Maserati GranTurismo", "description": "A luxurious grand tourer powered by a high-revving V8 engine, combining Italian elegance with dynamic performance.", "recipient": "0x20c6F9006d563240031A1388f4f25726029a6368"}`,
	},
	{
		Context: "Purchase discussion",
		Text:    "I plan to buy a new Maserati GranTurismo next year.",
		Outcome: "{}",
	},
	{
		Context: "NFT portfolio discussion",
		Text:    "I already own many NFTs in my wallet 0x20c6F9006d563240031A1388f4f25726029a6368",
		Outcome: "{}",
	},
}

const extractionTemplate = `Analyze the following conversation to extract NFT information.
Only extract information when it is explicitly and clearly stated by the user about themselves.

Conversation:
%s

Return a JSON object containing only the fields where information was clearly found:
{
    "name": "extracted NFT's name if stated",
    "description": "extracted NFT's description if stated",
    "recipient": "extracted Ethereum address of the NFT's recipient if stated"
}

Only include fields where information is explicitly stated and current.
Omit fields if information is unclear, hypothetical, or about others.
`

// ExtractionPrompt 渲染抽取提示词及示例。
func ExtractionPrompt(text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, extractionTemplate, text)
	b.WriteString("\nExamples:\n")
	for _, ex := range Examples {
		fmt.Fprintf(&b, "\nContext: %s\nUser: %s\nOutcome: %s\n", ex.Context, ex.Text, ex.Outcome)
	}
	return b.String()
}

// Extractor 从一条消息中抽取明确陈述的字段。
type Extractor interface {
	Extract(ctx context.Context, text string) (nft.Fields, error)
}

// ModelExtractor 通过大模型完成字段抽取。
type ModelExtractor struct {
	client llm.Client
}

// NewModelExtractor 创建基于大模型的抽取器。
func NewModelExtractor(client llm.Client) *ModelExtractor {
	return &ModelExtractor{client: client}
}

// Extract 调用一次 small 等级模型，不做重试。
func (e *ModelExtractor) Extract(ctx context.Context, text string) (nft.Fields, error) {
	if e == nil || e.client == nil {
		return nft.Fields{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	obj, err := e.client.GenerateObject(ctx, llm.Request{Prompt: ExtractionPrompt(text), Tier: llm.TierSmall})
	if err != nil {
		return nft.Fields{}, xerrors.Wrap(xerrors.CodeExtractionFailure, err, "抽取 NFT 字段失败")
	}
	return FieldsFromObject(obj), nil
}

// FieldsFromObject 只采纳非空的字符串值，其余类型一律忽略。
func FieldsFromObject(obj map[string]any) nft.Fields {
	str := func(key string) string {
		v, ok := obj[key].(string)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}
	return nft.Fields{
		Name:        str(string(nft.FieldName)),
		Description: str(string(nft.FieldDescription)),
		Recipient:   str(string(nft.FieldRecipient)),
	}
}

var _ Extractor = (*ModelExtractor)(nil)
