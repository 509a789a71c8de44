package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"AvailWallet/internal/model"
	"AvailWallet/internal/repo"
)

type mockRowRepo struct{ mock.Mock }

func (m *mockRowRepo) Insert(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	args := m.Called(ctx, userID, rows)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRowRepo) Upsert(ctx context.Context, userID string, rows []model.Row) (int64, error) {
	args := m.Called(ctx, userID, rows)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRowRepo) MarkSynced(ctx context.Context, userID string, ids []string, at time.Time) (int64, error) {
	args := m.Called(ctx, userID, ids, at)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRowRepo) DeleteAll(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRowRepo) Count(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockRowRepo) Page(ctx context.Context, userID string, page, size int) ([]model.Row, error) {
	args := m.Called(ctx, userID, page, size)
	if v, ok := args.Get(0).([]model.Row); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

var _ repo.RowRepository = (*mockRowRepo)(nil)

type mockMessageRepo struct{ mock.Mock }

func (m *mockMessageRepo) Put(ctx context.Context, msg *model.Message) error {
	return m.Called(ctx, msg).Error(0)
}
func (m *mockMessageRepo) Inbox(ctx context.Context, to string) ([]model.Message, error) {
	args := m.Called(ctx, to)
	if v, ok := args.Get(0).([]model.Message); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockMessageRepo) Delete(ctx context.Context, to string, ids []string) (int64, error) {
	args := m.Called(ctx, to, ids)
	return args.Get(0).(int64), args.Error(1)
}

var _ repo.MessageRepository = (*mockMessageRepo)(nil)

type mockChallengeRepo struct{ mock.Mock }

func (m *mockChallengeRepo) Create(ctx context.Context, c *model.Challenge) error {
	return m.Called(ctx, c).Error(0)
}
func (m *mockChallengeRepo) Take(ctx context.Context, id string) (*model.Challenge, error) {
	args := m.Called(ctx, id)
	if v, ok := args.Get(0).(*model.Challenge); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChallengeRepo) Purge(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

var _ repo.ChallengeRepository = (*mockChallengeRepo)(nil)
