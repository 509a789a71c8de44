package model

// TokenRow — зашифрованный баланс токена (таблица ARC20_tokens).
type TokenRow struct {
	TokenName         string `gorm:"primaryKey;column:token_name"`
	ProgramID         string `gorm:"not null"`
	BalanceCiphertext []byte `gorm:"not null"`
	Nonce             []byte `gorm:"not null"`
}

func (TokenRow) TableName() string { return "ARC20_tokens" }
