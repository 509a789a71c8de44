package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AvailWallet/internal/model"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func row(id string, created time.Time, payload byte) model.Row {
	return model.Row{
		ID:         id,
		Owner:      "avail1alice",
		Ciphertext: []byte{payload},
		Nonce:      []byte{1},
		Flavour:    "record_pointer",
		Network:    "testnet",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestRowRepository_InsertIsIdempotent(t *testing.T) {
	r := NewRowRepository(newTestDB(t))
	ctx := context.Background()

	n, err := r.Insert(ctx, "alice", []model.Row{row("r1", base, 1), row("r2", base, 2)})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// повторная вставка не перезаписывает содержимое
	n, err = r.Insert(ctx, "alice", []model.Row{row("r1", base.Add(time.Hour), 9)})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	rows, err := r.Page(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []byte{1}, rows[0].Ciphertext)

	// у другого пользователя своё пространство id
	n, err = r.Insert(ctx, "bob", []model.Row{row("r1", base, 7)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	count, err := r.Count(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRowRepository_UpsertLastWriterWins(t *testing.T) {
	r := NewRowRepository(newTestDB(t))
	ctx := context.Background()
	_, err := r.Insert(ctx, "alice", []model.Row{row("r1", base, 1)})
	require.NoError(t, err)

	newer := row("r1", base, 2)
	newer.UpdatedAt = base.Add(time.Minute)
	newer.Spent = true
	n, err := r.Upsert(ctx, "alice", []model.Row{newer})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	older := row("r1", base, 3)
	older.UpdatedAt = base.Add(30 * time.Second)
	_, err = r.Upsert(ctx, "alice", []model.Row{older})
	require.NoError(t, err)

	rows, err := r.Page(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []byte{2}, rows[0].Ciphertext)
	assert.True(t, rows[0].Spent)

	// отсутствующая строка вставляется
	n, err = r.Upsert(ctx, "alice", []model.Row{row("r2", base, 4)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRowRepository_PagesAndSync(t *testing.T) {
	r := NewRowRepository(newTestDB(t))
	ctx := context.Background()
	var rows []model.Row
	for i := 0; i < 7; i++ {
		rows = append(rows, row(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Second), byte(i)))
	}
	_, err := r.Insert(ctx, "alice", rows)
	require.NoError(t, err)

	var got []string
	for page := 0; ; page++ {
		chunk, err := r.Page(ctx, "alice", page, 3)
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		for _, c := range chunk {
			got = append(got, c.ID)
		}
	}
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6"}, got)

	n, err := r.MarkSynced(ctx, "alice", []string{"r1", "r2", "missing"}, base)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = r.DeleteAll(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	count, err := r.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMessageRepository_InboxAndDelete(t *testing.T) {
	r := NewMessageRepository(newTestDB(t))
	ctx := context.Background()

	m1 := &model.Message{To: "avail1alice", Ciphertext: []byte{1}, Nonce: []byte{2}}
	require.NoError(t, r.Put(ctx, m1))
	assert.NotEmpty(t, m1.ID)
	require.NoError(t, r.Put(ctx, &model.Message{To: "avail1bob", Ciphertext: []byte{3}, Nonce: []byte{4}}))

	inbox, err := r.Inbox(ctx, "avail1alice")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, m1.ID, inbox[0].ID)

	// нельзя удалить чужое сообщение
	bobs, err := r.Inbox(ctx, "avail1bob")
	require.NoError(t, err)
	n, err := r.Delete(ctx, "avail1alice", []string{m1.ID, bobs[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	bobs, err = r.Inbox(ctx, "avail1bob")
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestChallengeRepository_TakeOnce(t *testing.T) {
	r := NewChallengeRepository(newTestDB(t))
	ctx := context.Background()

	c := &model.Challenge{ID: "00000000-0000-0000-0000-000000000001", Address: "avail1alice", Hash: "h", ExpiresAt: base}
	require.NoError(t, r.Create(ctx, c))

	got, err := r.Take(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "h", got.Hash)

	_, err = r.Take(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.Create(ctx, &model.Challenge{ID: "00000000-0000-0000-0000-000000000002", Address: "a", Hash: "h", ExpiresAt: base}))
	n, err := r.Purge(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
