package txlife

import (
	"time"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/store"
)

// tracked — указатель транзакции или деплоя, которым управляет жизненный цикл.
type tracked struct {
	flavour model.Flavour
	tx      *model.TransactionPointer
	deploy  *model.DeploymentPointer
}

func openTracked(s store.Sealer, vk crypto.ViewKey, row *model.EncryptedRow) (*tracked, error) {
	t := &tracked{flavour: row.Flavour}
	switch row.Flavour {
	case model.FlavourTransaction:
		t.tx = &model.TransactionPointer{}
		return t, store.OpenPointer(s, vk, row, t.tx)
	case model.FlavourDeployment:
		t.deploy = &model.DeploymentPointer{}
		return t, store.OpenPointer(s, vk, row, t.deploy)
	}
	return nil, apperr.Newf(apperr.Internal, "row %s is %s, not a transaction", row.ID, row.Flavour)
}

func (t *tracked) state() model.TxState {
	if t.tx != nil {
		return t.tx.State
	}
	return t.deploy.State
}

func (t *tracked) setState(s model.TxState, msg string, now time.Time) {
	if t.tx != nil {
		t.tx.State, t.tx.Error = s, msg
		if s.Terminal() || s == model.StateFailed {
			t.tx.Finalized = &now
		}
		return
	}
	t.deploy.State, t.deploy.Error = s, msg
	if s.Terminal() || s == model.StateFailed {
		t.deploy.Finalized = &now
	}
}

func (t *tracked) txID() string {
	if t.tx != nil {
		return t.tx.TransactionID
	}
	return t.deploy.TransactionID
}

func (t *tracked) setTxID(id string) {
	if t.tx != nil {
		t.tx.TransactionID = id
		return
	}
	t.deploy.TransactionID = id
}

func (t *tracked) errMsg() string {
	if t.tx != nil {
		return t.tx.Error
	}
	return t.deploy.Error
}

func (t *tracked) created() time.Time {
	if t.tx != nil {
		return t.tx.Created
	}
	return t.deploy.Created
}

// held — все nonce записей, удерживаемых транзакцией.
func (t *tracked) held() []string {
	if t.tx != nil {
		return t.tx.HeldNonces()
	}
	if t.deploy.SpentFeeNonce != "" {
		return []string{t.deploy.SpentFeeNonce}
	}
	return nil
}

func (t *tracked) value() any {
	if t.tx != nil {
		return t.tx
	}
	return t.deploy
}
