package store

import (
	"context"
	"sort"
	"strings"

	"farmassist/pkg/domain"
)

// Chats keeps the append-only chat history under "chat:<userId>:<chatId>".
type Chats struct{ *base }

// Append records one exchange.
func (r *Chats) Append(ctx context.Context, userID, userMessage, botResponse string) (domain.ChatMessage, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return domain.ChatMessage{}, err
	}
	if strings.TrimSpace(userMessage) == "" {
		return domain.ChatMessage{}, domain.Invalid("message", "message is required")
	}
	now := r.now()
	msg := domain.ChatMessage{
		ID:          chatID(now),
		UserMessage: userMessage,
		BotResponse: botResponse,
		Timestamp:   now,
	}
	if err := r.kv.Set(ctx, ownedKey(entityChat, userID, msg.ID), msg); err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

// List returns the history oldest first.
func (r *Chats) List(ctx context.Context, userID string) ([]domain.ChatMessage, error) {
	if err := checkKeyPart("userId", userID); err != nil {
		return nil, err
	}
	chats, err := listJSON[domain.ChatMessage](ctx, r.kv, ownedPrefix(entityChat, userID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].Timestamp.Equal(chats[j].Timestamp) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].Timestamp.Before(chats[j].Timestamp)
	})
	return chats, nil
}
