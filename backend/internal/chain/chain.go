package chain

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kgrag/backend/internal/state"
	"kgrag/backend/pkg/logger"
	"kgrag/backend/pkg/tracing"
)

const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.
Chat History:
%s
Follow Up Input: %s
Standalone question:`

const answerTemplate = `Answer the question based only on the following context:
%s

Question: %s
Use natural language and be concise.
Answer:`

// TextCompletion is a single-shot LLM call.
type TextCompletion interface {
	Complete(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// ContextRetriever builds the grounding context for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, question string) (string, error)
}

// Chain answers a question in the context of a conversation: it condenses the
// follow-up into a standalone question, retrieves context for it and asks the
// model for an answer grounded in that context.
type Chain struct {
	llm       TextCompletion
	retriever ContextRetriever
	logger    *zap.Logger
}

func New(llm TextCompletion, retriever ContextRetriever) *Chain {
	return &Chain{
		llm:       llm,
		retriever: retriever,
		logger:    logger.Named("chain"),
	}
}

// Invoke answers question given the earlier turns of the conversation.
func (c *Chain) Invoke(ctx context.Context, question string, history []state.Turn) (_ string, err error) {
	ctx, span := tracing.Start(ctx, "chain.Invoke", attribute.Int("history_turns", len(history)))
	defer func() { tracing.End(span, err) }()

	standalone, err := c.Condense(ctx, question, history)
	if err != nil {
		return "", fmt.Errorf("condense question: %w", err)
	}

	contextBlock, err := c.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}

	answer, err := c.llm.Complete(ctx, "", fmt.Sprintf(answerTemplate, contextBlock, standalone))
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	c.logger.Info("Question answered",
		zap.String("question", question),
		zap.String("standalone", standalone),
		zap.Int("answer_len", len(answer)),
	)
	return answer, nil
}

// Condense rewrites a follow-up question as a standalone one. With no history
// the question is returned unchanged and the model is not called.
func (c *Chain) Condense(ctx context.Context, question string, history []state.Turn) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	standalone, err := c.llm.Complete(ctx, "", fmt.Sprintf(condenseTemplate, FormatHistory(history), question))
	if err != nil {
		return "", err
	}
	if standalone == "" {
		// An empty rewrite would retrieve nothing useful
		return question, nil
	}
	return standalone, nil
}

// FormatHistory renders turns as alternating "Human:" and "Assistant:" lines.
func FormatHistory(history []state.Turn) string {
	var b strings.Builder
	for i, turn := range history {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Human: ")
		b.WriteString(turn.Question)
		b.WriteString("\nAssistant: ")
		b.WriteString(turn.Answer)
	}
	return b.String()
}
