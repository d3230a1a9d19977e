package msgvault

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/pkg/cryptobox"
)

type memStore struct {
	msgs []domain.StoredMessage
}

func (s *memStore) SaveMessage(_ domain.Context, m domain.StoredMessage) (string, error) {
	m.ID = string(rune('a' + len(s.msgs)))
	s.msgs = append(s.msgs, m)
	return m.ID, nil
}

func (s *memStore) ListMessages(_ domain.Context, userID string, limit int) ([]domain.StoredMessage, error) {
	var out []domain.StoredMessage
	for i := len(s.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.msgs[i].UserID == userID {
			out = append(out, s.msgs[i])
		}
	}
	return out, nil
}

func TestArchiveAndHistory(t *testing.T) {
	box, err := cryptobox.New("vault secret")
	require.NoError(t, err)
	store := &memStore{}
	v := New(store, box)
	ctx := context.Background()

	v.Archive(ctx, "u1", "user", "what is on my plate today")
	v.Archive(ctx, "u1", "assistant", "three meetings and a deadline")
	v.Archive(ctx, "u2", "user", "unrelated")

	require.Len(t, store.msgs, 3)
	for _, m := range store.msgs {
		assert.NotContains(t, string(m.Ciphertext), "meetings", "store must never hold plaintext")
	}

	hist, err := v.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "assistant", hist[0].Role)
	assert.Equal(t, "three meetings and a deadline", hist[0].Content)
}

func TestHistory_TamperedRow(t *testing.T) {
	box, err := cryptobox.New("vault secret")
	require.NoError(t, err)
	store := &memStore{}
	v := New(store, box)
	ctx := context.Background()

	v.Archive(ctx, "u1", "user", "original")
	store.msgs[0].Ciphertext[0] ^= 0xff

	_, err = v.History(ctx, "u1", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecryptFailed)
}
