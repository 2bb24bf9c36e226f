package nft

// FieldGuidance 描述缺失字段的提示信息，供下一轮模型调用参考。
type FieldGuidance struct {
	Description  string
	Valid        string
	Invalid      string
	Instructions string
}

// Guidance 是每个必填字段的固定提示表。
var Guidance = map[Field]FieldGuidance{
	FieldName: {
		Description:  "NFT name",
		Valid:        "Maserati GranTurismo, Samsung Galaxy S25, Adidas Campus",
		Invalid:      "future plans, past possessions, or aspirational items",
		Instructions: "Extract only when user directly states the NFT's name",
	},
	FieldDescription: {
		Description:  "NFT description",
		Valid:        "A great car, a smartphone, a pair of shoes",
		Invalid:      "future plans, past possessions, or aspirational items",
		Instructions: "Extract only when user directly states the NFT's description",
	},
	FieldRecipient: {
		Description:  "NFT recipient's Ethereum address for the NFT",
		Valid:        "0x742d35Cc6634C0532925a3b844Bc454e4438f44e, 0x66f820a414680B5bcda5eECA5dea238543F42054, vitalik.eth, wevm.eth",
		Invalid:      "email addresses, phone numbers, home addresses, or other types of addresses",
		Instructions: "Extract only when user directly states the NFT's recipient",
	},
}
