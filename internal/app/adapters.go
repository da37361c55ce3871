package app

import (
	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/platform/logger"
)

// Adapters is C7's outbound clients, wired from Config the way the
// teacher's clients.go wires its own third-party API clients.
type Adapters struct {
	Board      adapters.Board
	CodeHost   adapters.CodeHost
	LLM        adapters.LLMClient
	Translator adapters.Translator
}

func wireAdapters(cfg *config.Config, lg *logger.Logger) Adapters {
	return Adapters{
		Board:      adapters.NewHTTPBoard(cfg.BoardAPIBaseURL, cfg.BoardServiceKey, cfg.AdapterTimeout, lg),
		CodeHost:   adapters.NewHTTPCodeHost(cfg.CodeHostAPIBaseURL, cfg.CodeHostToken, cfg.AdapterTimeout, lg),
		LLM:        adapters.NewLLMClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.AdapterTimeout, cfg.LLMMaxRetries, lg),
		Translator: adapters.NewPassthroughTranslator(),
	}
}
