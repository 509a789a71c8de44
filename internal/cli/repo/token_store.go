package repo

// TokenStore описывает хранилище сессионной куки сервера резервных копий на клиенте.
type TokenStore interface {
	Save(token string) error
	Load() (string, error)
	Clear() error
}
