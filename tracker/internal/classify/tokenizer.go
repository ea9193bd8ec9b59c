package classify

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used to estimate prompt sizes.
const DefaultEncoding = "cl100k_base"

// HeuristicEncoding selects HeuristicTokenizer without loading a vocabulary.
const HeuristicEncoding = "heuristic"

// Tokenizer estimates how many tokens a text costs.
type Tokenizer interface {
	Count(text string) int
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (b *bpeTokenizer) Count(text string) int {
	return len(b.enc.Encode(text, nil, nil))
}

// HeuristicTokenizer approximates token counts without a vocabulary: the
// mean of a character-based and a word-based estimate.
type HeuristicTokenizer struct{}

// Count implements Tokenizer.
func (HeuristicTokenizer) Count(text string) int {
	chars := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	return (chars/4 + words*4/3) / 2
}

// NewTokenizer loads the named BPE encoding. When the vocabulary cannot be
// loaded it logs a warning and returns HeuristicTokenizer.
func NewTokenizer(encoding string, logger *slog.Logger) Tokenizer {
	if logger == nil {
		logger = slog.Default()
	}
	switch encoding {
	case "":
		encoding = DefaultEncoding
	case HeuristicEncoding:
		return HeuristicTokenizer{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("classify: tokenizer unavailable, using heuristic", "encoding", encoding, "error", err)
		return HeuristicTokenizer{}
	}
	return &bpeTokenizer{enc: enc}
}
