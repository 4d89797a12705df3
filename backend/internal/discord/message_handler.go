package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"kgrag/backend/internal/session"
	"kgrag/backend/internal/state"
)

const answerTimeout = 2 * time.Minute

// QuestionAnswerer answers a question in the context of earlier turns.
type QuestionAnswerer interface {
	Invoke(ctx context.Context, question string, history []state.Turn) (string, error)
}

// Handler handles Discord message processing
type Handler struct {
	chain    QuestionAnswerer
	sessions *session.Store
	logger   *zap.Logger
}

// NewHandler creates a new Discord message handler. Conversation history is
// kept per channel.
func NewHandler(chain QuestionAnswerer, sessions *session.Store, logger *zap.Logger) *Handler {
	return &Handler{
		chain:    chain,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleMessage processes a Discord message
func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	question, ok := QuestionFor(s.State.User.ID, m)
	if !ok {
		return
	}

	h.logger.Info("Processing Discord message",
		zap.String("user_id", m.Author.ID),
		zap.String("channel_id", m.ChannelID),
		zap.Bool("is_dm", m.GuildID == ""),
	)

	_ = s.ChannelTyping(m.ChannelID)

	ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
	defer cancel()

	// The "reset" command starts a fresh conversation in this channel
	if strings.EqualFold(question, "reset") {
		h.sessions.Clear(m.ChannelID)
		_, _ = s.ChannelMessageSend(m.ChannelID, "Conversation cleared.")
		return
	}

	answer, err := h.chain.Invoke(ctx, question, h.sessions.History(m.ChannelID))
	if err != nil {
		h.logger.Error("Failed to answer question",
			zap.Error(err),
			zap.String("channel_id", m.ChannelID),
		)
		_, _ = s.ChannelMessageSend(m.ChannelID, "Sorry, I couldn't answer that right now.")
		return
	}
	h.sessions.Append(m.ChannelID, question, answer)

	if err := SendResponse(s, m.ChannelID, answer); err != nil {
		h.logger.Error("Failed to send response", zap.Error(err))
	}
}

// QuestionFor decides whether the bot should answer m and returns the
// question with any leading bot mention removed. The bot answers direct
// messages and messages that mention it, never its own messages.
func QuestionFor(botID string, m *discordgo.MessageCreate) (string, bool) {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return "", false
	}

	isDM := m.GuildID == ""
	isMentioned := false
	for _, mention := range m.Mentions {
		if mention.ID == botID {
			isMentioned = true
			break
		}
	}

	content := strings.TrimSpace(m.Content)
	for _, prefix := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.HasPrefix(content, prefix) {
			isMentioned = true
			content = strings.TrimSpace(strings.TrimPrefix(content, prefix))
		}
	}

	if !isDM && !isMentioned {
		return "", false
	}
	if content == "" {
		return "", false
	}
	return content, true
}
