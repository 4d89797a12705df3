package discord

import (
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MaxMessageLength is Discord's per-message character limit.
const MaxMessageLength = 2000

// SendResponse formats content for Discord and posts it to a channel, split
// into as many messages as the length limit requires.
func SendResponse(s *discordgo.Session, channelID, content string) error {
	for _, chunk := range splitMessage(FormatMarkdown(content), MaxMessageLength) {
		if _, err := s.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

const (
	codeFence      = "```"
	maxFenceOpener = 16
)

// splitMessage breaks content into pieces of at most maxLength runes,
// preferring line breaks, then spaces, as cut points. A piece that ends inside
// a code block closes the fence and the next piece reopens it.
func splitMessage(content string, maxLength int) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var chunks []string
	runes := []rune(content)
	reopened := 0
	for len(runes) > maxLength {
		limit := maxLength
		if strings.Contains(string(runes), codeFence) {
			limit -= len("\n" + codeFence)
		}

		cut := lastIndex(runes[:limit], '\n')
		if cut <= reopened {
			cut = lastIndex(runes[:limit], ' ')
		}
		if cut <= reopened {
			cut = limit
		}

		chunk := strings.TrimSpace(string(runes[:cut]))
		rest := strings.TrimLeft(string(runes[cut:]), " \n")
		reopened = 0
		if opener, open := openFence(chunk); open {
			chunk += "\n" + codeFence
			rest = opener + "\n" + rest
			reopened = len([]rune(opener))
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(rest)
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// openFence reports whether text ends inside a code block and returns the
// line that opened it, e.g. "```go".
func openFence(text string) (string, bool) {
	opener, open := "", false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, codeFence) || strings.Count(line, codeFence) > 1 {
			continue
		}
		open = !open
		opener = line
	}
	if !open {
		return "", false
	}
	if len(opener) > maxFenceOpener {
		opener = codeFence
	}
	return opener, true
}

func lastIndex(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
