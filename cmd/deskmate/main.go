// deskmate is the interactive desktop-assistant REPL.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"deskmate/internal/app"
	"deskmate/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var noColor bool
	root := &cobra.Command{
		Use:   "deskmate",
		Short: "桌面智能助手：对话、技能执行与邮件提醒",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			a.Start()
			defer a.Stop()
			return runREPL(a)
		},
	}
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "关闭彩色输出")
	root.AddCommand(newAskCmd(), newUsageCmd())
	return root
}

func buildApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(cfg)
}

// newAskCmd runs a single turn and exits; useful for scripting.
func newAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "提出一个问题并打印回答",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			a.Start()
			defer a.Stop()

			renderer := newTerminalRenderer()
			events, unsubscribe := a.Hub.Subscribe()
			defer unsubscribe()
			go renderer.Run(events)

			runTurn(a, renderer, strings.Join(args, " "))
			return nil
		},
	}
}

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "打印 token 用量统计",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			fmt.Println(a.Ledger.CompactSummary())
			return nil
		},
	}
}

func runREPL(a *app.App) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          bold(cyan("你 > ")),
		HistoryFile:     filepath.Join(a.Config.DataDir, "repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "再见",
	})
	if err != nil {
		return err
	}
	defer func() { _ = rl.Close() }()

	renderer := newTerminalRenderer()
	events, unsubscribe := a.Hub.Subscribe()
	defer unsubscribe()
	go renderer.Run(events)

	fmt.Println(bold("deskmate 已就绪。输入问题开始对话，/help 查看命令。"))
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(a, line); quit {
				return nil
			}
			continue
		}
		runTurn(a, renderer, line)
	}
}

// runCommand handles slash commands; returns true to exit the REPL.
func runCommand(a *app.App, line string) bool {
	switch line {
	case "/exit", "/quit":
		return true
	case "/clear":
		a.Memory.Clear()
		fmt.Println(gray("对话记忆已清空。"))
	case "/usage":
		fmt.Println(a.Ledger.CompactSummary())
	case "/tasks":
		fmt.Println(a.Catalog.Tasks.StatSummary())
	case "/help":
		fmt.Println(gray("/clear 清空记忆  /usage 用量统计  /tasks 任务统计  /exit 退出"))
	default:
		fmt.Println(gray("未知命令，/help 查看可用命令。"))
	}
	return false
}

// runTurn executes one turn with Ctrl-C wired to cancellation, then waits
// for the renderer to finish painting the final answer.
func runTurn(a *app.App, renderer *terminalRenderer, text string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	driver := a.NewDriver(a.Hub)
	driver.Chat(ctx, text)
	<-renderer.done
}
