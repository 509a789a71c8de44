package chain

import "context"

// TransferKind — функция перевода программы credits (или совместимой токен-программы).
type TransferKind string

const (
	TransferPublic          TransferKind = "transfer_public"
	TransferPrivate         TransferKind = "transfer_private"
	TransferPublicToPrivate TransferKind = "transfer_public_to_private"
	TransferPrivateToPublic TransferKind = "transfer_private_to_public"
)

// NeedsRecord reports whether the transfer consumes a private record.
func (k TransferKind) NeedsRecord() bool {
	return k == TransferPrivate || k == TransferPrivateToPublic
}

// RecordInput — расшифрованная запись, которую тратит транзакция.
type RecordInput struct {
	Record     Record `json:"record"`
	Commitment string `json:"commitment"`
}

// FeeOptions описывает оплату комиссии. Record задан только для приватной комиссии.
type FeeOptions struct {
	Amount  uint64       `json:"amount"`
	Private bool         `json:"private"`
	Record  *RecordInput `json:"record,omitempty"`
}

type TransferRequest struct {
	PrivateKey string       `json:"-"`
	Kind       TransferKind `json:"kind"`
	ProgramID  string       `json:"program_id"`
	Recipient  string       `json:"recipient"`
	Amount     uint64       `json:"amount"`
	Input      *RecordInput `json:"input,omitempty"`
	Fee        FeeOptions   `json:"fee"`
}

type ExecuteRequest struct {
	PrivateKey string        `json:"-"`
	ProgramID  string        `json:"program_id"`
	Function   string        `json:"function"`
	Inputs     []string      `json:"inputs"`
	Records    []RecordInput `json:"records,omitempty"`
	Fee        FeeOptions    `json:"fee"`
}

type DeployRequest struct {
	PrivateKey string     `json:"-"`
	Program    Program    `json:"program"`
	Source     string     `json:"source,omitempty"`
	Fee        FeeOptions `json:"fee"`
}

// Client — возможности узла сети, которые использует кошелёк.
// Ошибки классифицируются через apperr: NotFound для отсутствующих объектов, Node для сбоев узла.
type Client interface {
	LatestHeight(ctx context.Context) (uint32, error)
	GetBlock(ctx context.Context, height uint32) (*Block, error)
	// GetBlocks returns blocks in [start, end).
	GetBlocks(ctx context.Context, start, end uint32) ([]Block, error)
	GetTransaction(ctx context.Context, id string) (*TransactionStatus, error)
	GetProgram(ctx context.Context, id string) (*Program, error)
	GetMappingValue(ctx context.Context, program, mapping, key string) (string, error)
	ExecuteProgram(ctx context.Context, req ExecuteRequest) (string, error)
	DeployProgram(ctx context.Context, req DeployRequest) (string, error)
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}
