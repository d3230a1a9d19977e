// Package msgvault archives conversation messages encrypted at rest.
package msgvault

import (
	"errors"
	"fmt"

	"log/slog"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/pkg/cryptobox"
)

// Vault seals messages before they reach the store and opens them on the way
// out. The store never sees plaintext.
type Vault struct {
	store domain.MessageStore
	box   *cryptobox.Box
}

// New builds a Vault over the given store and sealed box.
func New(store domain.MessageStore, box *cryptobox.Box) *Vault {
	return &Vault{store: store, box: box}
}

// Archive encrypts and persists one message, best effort: failures are
// logged and swallowed so archiving never fails a dispatch.
func (v *Vault) Archive(ctx domain.Context, userID, role, content string) {
	ct, nonce, err := v.box.Seal([]byte(content), []byte(userID))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("message seal failed",
			slog.String("user_id", userID), slog.Any("error", err))
		return
	}
	_, err = v.store.SaveMessage(ctx, domain.StoredMessage{
		UserID:     userID,
		Role:       role,
		Ciphertext: ct,
		Nonce:      nonce,
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("message archive failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}
}

// History decrypts a user's most recent messages, newest first. A ciphertext
// that fails authentication poisons the whole read: partial histories hide
// tampering.
func (v *Vault) History(ctx domain.Context, userID string, limit int) ([]domain.Message, error) {
	stored, err := v.store.ListMessages(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=msgvault.history: %w", err)
	}
	out := make([]domain.Message, 0, len(stored))
	for _, m := range stored {
		pt, err := v.box.Open(m.Ciphertext, m.Nonce, []byte(userID))
		if err != nil {
			if errors.Is(err, cryptobox.ErrDecryptFailed) {
				return nil, fmt.Errorf("%w: message %s", domain.ErrDecryptFailed, m.ID)
			}
			return nil, fmt.Errorf("op=msgvault.open: %w", err)
		}
		out = append(out, domain.Message{Role: m.Role, Content: string(pt)})
	}
	return out, nil
}
