package model

// CoinAward 成功支付后的台账记录，仅追加
// swagger:model CoinAward
type CoinAward struct {
	BaseModel

	StudentID uint   `gorm:"index;type:bigint unsigned" json:"studentId"`
	Amount    int64  `gorm:"not null" json:"amount"`
	Wallet    string `gorm:"size:255;not null" json:"wallet"`
	TxID      string `gorm:"size:255;not null" json:"txId"`
}

func (CoinAward) TableName() string {
	return "coin_awards"
}
