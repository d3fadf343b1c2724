package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	agenterrors "deskmate/internal/errors"
	"deskmate/internal/ledger"
	"deskmate/internal/logging"
	"deskmate/internal/memory"
	"deskmate/internal/transport"
)

// Control tokens framing the output stream.
const (
	TokenProgressStart = "[[PROGRESS_START]]"
	TokenProgressEnd   = "[[PROGRESS_END]]"
	TokenFinalStart    = "[[FINAL_START]]"
	TokenFinalEnd      = "[[FINAL_END]]"
)

const stoppedLine = "[用户已停止生成]"

// finalChunkSize smooths perceived latency when replaying the buffered
// final answer.
const finalChunkSize = 120

// Driver owns one turn's lifecycle: enrich, plan, execute, review, stream,
// remember. One Driver may serve many sequential turns; concurrent turns
// get their own Driver over the same shared services.
type Driver struct {
	planner  *Planner
	executor *Executor
	reviewer *Reviewer
	memory   *memory.Store
	ledger   *ledger.Ledger
	hub      *transport.Hub

	window    time.Duration
	maxRounds int
	logger    logging.Logger

	// ToolExecuted mirrors the executor's flag after each turn, for UI
	// hints.
	ToolExecuted bool
}

// DriverConfig wires a Driver.
type DriverConfig struct {
	Planner   *Planner
	Executor  *Executor
	Reviewer  *Reviewer
	Memory    *memory.Store
	Ledger    *ledger.Ledger
	Hub       *transport.Hub
	Window    time.Duration
	MaxRounds int
}

func NewDriver(cfg DriverConfig) *Driver {
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 3
	}
	return &Driver{
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		reviewer:  cfg.Reviewer,
		memory:    cfg.Memory,
		ledger:    cfg.Ledger,
		hub:       cfg.Hub,
		window:    window,
		maxRounds: maxRounds,
		logger:    logging.NewComponentLogger("driver"),
	}
}

// Chat runs one full turn and returns the final answer text. Progress and
// final chunks stream to the hub as they are produced; cancellation flushes
// partial output with a stop line.
func (d *Driver) Chat(ctx context.Context, text string) string {
	enriched := memory.EnrichQuestion(text, d.memory.Recent(d.window))

	sessionID := uuid.NewString()
	d.ledger.StartSession(sessionID)
	d.ledger.SetActive(sessionID)

	d.hub.Progress(TokenProgressStart)
	final, cancelled := d.runRounds(ctx, text, enriched)
	d.hub.Progress(TokenProgressEnd)

	if cancelled {
		if final != "" {
			final += "\n"
		}
		final += stoppedLine
	}

	d.hub.Final(TokenFinalStart)
	for _, chunk := range chunkRunes(final, finalChunkSize) {
		d.hub.Final(chunk)
	}
	d.hub.Final(TokenFinalEnd)

	d.memory.Append(text, final)
	d.ToolExecuted = d.executor.ToolExecuted
	d.hub.Stats(d.ledger.Session(sessionID))
	d.ledger.EndSession(sessionID)
	return final
}

// runRounds drives the bounded plan/execute/review loop. It always returns
// answer text; catastrophic failures degrade to a concise error sentence.
func (d *Driver) runRounds(ctx context.Context, question, enriched string) (final string, cancelled bool) {
	var prior *Plan
	for round := 1; round <= d.maxRounds; round++ {
		d.hub.Progress(fmt.Sprintf("规划思考（第%d轮）：", round))
		plan, err := d.planner.Plan(ctx, enriched, prior, d.hub.Progress)
		if err != nil {
			if agenterrors.KindOf(err) == agenterrors.KindCancelled || ctx.Err() != nil {
				return "", true
			}
			d.logger.Error("planning failed in round %d: %v", round, err)
			return d.errorSentence(err), false
		}

		d.hub.Progress("\n执行结果：\n")
		d.executor.Execute(ctx, plan, d.hub.Progress)
		if ctx.Err() != nil {
			return "", true
		}

		d.hub.Progress("\n审查结果：\n")
		verdict := d.reviewer.Review(ctx, plan, question, round, d.maxRounds, d.hub.Progress, nil)
		if ctx.Err() != nil {
			return verdict.FinalAnswer, true
		}
		if verdict.Passed || !verdict.NeedReplan {
			return verdict.FinalAnswer, false
		}
		prior = plan
	}
	// Unreachable while the reviewer stops at maxRounds; kept as a guard.
	return "抱歉，任务未能在限定轮次内完成。", false
}

func (d *Driver) errorSentence(err error) string {
	switch agenterrors.KindOf(err) {
	case agenterrors.KindConfig:
		return "配置缺失：请检查 llm.api_key、llm.model 和 llm.base_url。"
	case agenterrors.KindUpstream:
		return "抱歉，模型服务返回了错误，请稍后再试。"
	case agenterrors.KindTransport:
		return "抱歉，连接模型服务失败，请检查网络后重试。"
	default:
		return "抱歉，处理请求时出现了内部错误。"
	}
}

// chunkRunes splits s into size-rune chunks, never splitting a character.
func chunkRunes(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
