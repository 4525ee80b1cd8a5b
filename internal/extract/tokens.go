package extract

import (
	"github.com/pkoukk/tiktoken-go"

	applog "taskcal/internal/log"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates the prompt size of a text.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a tiktoken counter, or the length heuristic when
// the encoding cannot be loaded (it is fetched on first use).
func NewTokenCounter() TokenCounter {
	tke, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		applog.Warn("tiktoken unavailable, estimating tokens from length", "encoding", defaultEncoding, "err", err)
		return ApproxCounter{}
	}
	return tiktokenCounter{tke: tke}
}

type tiktokenCounter struct {
	tke *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// ApproxCounter assumes four bytes per token.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	return max(1, len(text)/4)
}
