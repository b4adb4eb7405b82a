// Package main provides the CLI entry point for llmproc.
//
// llmproc runs a TOML program file against an LLM provider, with tool
// execution, linked programs, and the file descriptor subsystem.
//
// # Basic Usage
//
// Run a program interactively:
//
//	llmproc program.toml
//
// One-shot with a prompt:
//
//	llmproc program.toml --prompt "summarize the design"
//	echo "summarize the design" | llmproc program.toml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - ANTHROPIC_VERTEX_PROJECT_ID / CLOUD_ML_REGION: Vertex AI settings
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/cccntu/llmproc/internal/process"
	"github.com/cccntu/llmproc/internal/program"
	"github.com/cccntu/llmproc/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

type runFlags struct {
	prompt         string
	nonInteractive bool
	quiet          bool
	jsonOutput     bool
}

func buildRootCmd() *cobra.Command {
	flags := &runFlags{}
	rootCmd := &cobra.Command{
		Use:   "llmproc <program.toml>",
		Short: "llmproc - run LLM programs",
		Long: `llmproc compiles a TOML program file and runs it against its provider,
dispatching tool calls until the model produces a final response.

Prompt sources, in priority order: --prompt, piped stdin, the program's
[demo] prompts, its embedded [prompt] user entry, then an interactive
session on a terminal.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], flags)
		},
	}
	rootCmd.Flags().StringVarP(&flags.prompt, "prompt", "p", "", "prompt text to run")
	rootCmd.Flags().BoolVarP(&flags.nonInteractive, "non-interactive", "n", false, "never start an interactive session")
	rootCmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "suppress logging and per-turn output")
	rootCmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "emit the run result as JSON")
	return rootCmd
}

func run(ctx context.Context, programPath string, flags *runFlags) error {
	level := slog.LevelInfo
	if flags.quiet || flags.jsonOutput {
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prog, err := program.CompileFile(programPath)
	if err != nil {
		return err
	}
	proc, err := process.Start(ctx, prog, process.WithLogger(logger))
	if err != nil {
		return err
	}
	defer proc.Close()

	if !flags.quiet && !flags.jsonOutput {
		proc.AddCallbacks(&process.Callbacks{
			ToolStart: func(name string, _ []byte) {
				fmt.Fprintf(os.Stderr, "[tool] %s\n", name)
			},
			ToolEnd: func(name string, res *models.ToolResult) {
				if res.IsError {
					fmt.Fprintf(os.Stderr, "[tool] %s failed\n", name)
				}
			},
		})
	}

	prompt, source, err := resolvePrompt(flags)
	if err != nil {
		return err
	}
	if prompt != "" {
		logger.Debug("running prompt", "source", source)
		return runOnce(ctx, proc, prompt, flags)
	}
	if len(prog.DemoPrompts) > 0 {
		return runDemo(ctx, proc, prog, flags)
	}
	if prog.UserPrompt != "" {
		logger.Debug("running prompt", "source", "program")
		return runOnce(ctx, proc, prog.UserPrompt, flags)
	}
	if flags.nonInteractive {
		return fmt.Errorf("no prompt: pass --prompt, pipe stdin, or embed a user prompt in the program")
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("stdin is not a terminal; pass --prompt or pipe input")
	}
	return interactiveSession(ctx, proc)
}

// resolvePrompt picks the explicit prompt source: flag, then piped stdin.
// Empty result falls through to demo prompts, the program's embedded user
// prompt, and finally an interactive session.
func resolvePrompt(flags *runFlags) (string, string, error) {
	if flags.prompt != "" {
		return flags.prompt, "flag", nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := readAllStdin()
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		if strings.TrimSpace(data) != "" {
			return data, "stdin", nil
		}
	}
	return "", "", nil
}

// runDemo plays the program's demo prompts through one shared conversation,
// optionally pausing for Enter between them on a terminal.
func runDemo(ctx context.Context, proc *process.Process, prog *program.Program, flags *runFlags) error {
	pause := prog.DemoPause && term.IsTerminal(int(os.Stdin.Fd())) && !flags.jsonOutput
	scanner := bufio.NewScanner(os.Stdin)
	for i, prompt := range prog.DemoPrompts {
		if !flags.quiet && !flags.jsonOutput {
			fmt.Printf("[demo %d/%d] %s\n", i+1, len(prog.DemoPrompts), prompt)
		}
		if err := runOnce(ctx, proc, prompt, flags); err != nil {
			return err
		}
		if pause && i < len(prog.DemoPrompts)-1 {
			fmt.Print("press Enter to continue...")
			if !scanner.Scan() {
				return scanner.Err()
			}
		}
	}
	return nil
}

func readAllStdin() (string, error) {
	var b strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func runOnce(ctx context.Context, proc *process.Process, prompt string, flags *runFlags) error {
	result, err := proc.Run(ctx, prompt)
	if err != nil {
		return err
	}
	if flags.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Println(result.LastMessage)
	return nil
}

func interactiveSession(ctx context.Context, proc *process.Process) error {
	name := proc.Program().DisplayName
	if name == "" {
		name = proc.Program().ModelName
	}
	fmt.Printf("llmproc %s - %s (%s)\n", version, name, proc.Program().Provider)
	fmt.Println("Commands: /reset /tokens /fds /exit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			proc.Reset()
			fmt.Println("conversation cleared")
			continue
		case line == "/tokens":
			count, err := proc.CountTokens()
			if err != nil {
				fmt.Printf("token count unavailable: %v\n", err)
				continue
			}
			usage := proc.Usage()
			fmt.Printf("estimated window: %d tokens; api usage: %d in / %d out\n",
				count, usage.InputTokens, usage.OutputTokens)
			continue
		case line == "/fds":
			ids := proc.FDManager().IDs()
			if len(ids) == 0 {
				fmt.Println("no file descriptors")
				continue
			}
			for _, id := range ids {
				content, err := proc.FDManager().Get(id)
				if err != nil {
					continue
				}
				fmt.Printf("%s (%d chars)\n", id, len(content))
			}
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Printf("unknown command %s\n", line)
			continue
		}

		result, err := proc.Run(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(result.LastMessage)
	}
}
