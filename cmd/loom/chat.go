package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tessellate-ai/loom/internal/agent"
	"github.com/tessellate-ai/loom/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var (
		cfgPath   string
		sessionID string
		provider  string
		model     string
		planMode  bool
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run one agent turn",
		Long: `Run the agent loop on a message and stream the response.

The message comes from the argument, or from stdin when omitted.
With --json, every agent event is written as a "data: <json>" line
followed by a final "data: [DONE]".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readMessage(args)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), chatOptions{
				configPath: configPath(cfgPath),
				sessionID:  sessionID,
				provider:   provider,
				model:      model,
				planMode:   planMode,
				jsonOut:    jsonOut,
				message:    message,
			})
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id (new session when omitted)")
	cmd.Flags().StringVar(&provider, "provider", "", "LLM provider (anthropic, openai)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model alias or id")
	cmd.Flags().BoolVar(&planMode, "plan", false, "Start in plan mode (read-only tools)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Stream raw agent events as JSON")
	return cmd
}

type chatOptions struct {
	configPath string
	sessionID  string
	provider   string
	model      string
	planMode   bool
	jsonOut    bool
	message    string
}

func runChat(ctx context.Context, opts chatOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, opts.provider, opts.model)
	if err != nil {
		return err
	}
	defer rt.Close()

	session, err := rt.store.GetOrCreate(ctx, opts.sessionID, "", "")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if session.Dir == "" {
		dir, err := sessionDir(cfg.Workspace.Dir, session.ID)
		if err != nil {
			return err
		}
		session.Dir = dir
		if err := rt.store.Update(ctx, session); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}

	historyPtrs, err := rt.store.GetHistory(ctx, session.ID, cfg.Sessions.HistoryLimit)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	history := make([]models.Message, len(historyPtrs))
	for i, m := range historyPtrs {
		history[i] = *m
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   opts.message,
		CreatedAt: time.Now(),
	}

	events := make(chan models.AgentEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		printEvents(os.Stdout, events, opts.jsonOut)
	}()

	input := &agent.RunInput{
		Session: session,
		History: history,
		Message: userMsg,
		State:   &models.SessionState{PlanMode: opts.planMode},
		Skills:  rt.skills.Refs(),
		Model:   opts.model,
		Sink:    agent.NewChanSink(events),
	}

	result, runErr := rt.loop.Run(ctx, input)
	close(events)
	<-done

	// Persist what ran, even on failure: streamed turns stay valid.
	if result != nil {
		if err := rt.store.AppendMessage(ctx, session.ID, &userMsg); err != nil {
			rt.logger.Warn("persist user message", "error", err)
		}
		for i := range result.Messages {
			if err := rt.store.AppendMessage(ctx, session.ID, &result.Messages[i]); err != nil {
				rt.logger.Warn("persist message", "error", err)
			}
		}
	}
	if runErr != nil {
		return runErr
	}

	if !opts.jsonOut {
		fmt.Println()
		fmt.Fprintf(os.Stderr, "session: %s  iterations: %d  tokens: %d in / %d out\n",
			session.ID, result.Iterations,
			result.Usage.InputTokens, result.Usage.OutputTokens)
	}
	return nil
}

// printEvents renders the event stream. JSON mode writes SSE-style
// "data:" lines; text mode prints deltas as they arrive.
func printEvents(w io.Writer, events <-chan models.AgentEvent, jsonOut bool) {
	out := bufio.NewWriter(w)
	defer out.Flush()

	for event := range events {
		if jsonOut {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "data: %s\n", payload)
			out.Flush()
			continue
		}

		switch event.Type {
		case models.AgentEventModelDelta:
			if event.Stream != nil {
				fmt.Fprint(out, event.Stream.Delta)
				out.Flush()
			}
		case models.AgentEventToolStarted:
			if event.Tool != nil {
				fmt.Fprintf(out, "\n[tool %s]\n", event.Tool.Name)
			}
		case models.AgentEventToolFinished:
			if event.Tool != nil && !event.Tool.Success {
				fmt.Fprintf(out, "[tool %s failed]\n", event.Tool.Name)
			}
		case models.AgentEventRunError:
			if event.Error != nil {
				fmt.Fprintf(out, "\n[error: %s]\n", event.Error.Message)
			}
		}
	}

	if jsonOut {
		fmt.Fprintln(out, "data: [DONE]")
	}
}

// readMessage takes the prompt from the argument or stdin.
func readMessage(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "", fmt.Errorf("empty message")
	}
	return message, nil
}
