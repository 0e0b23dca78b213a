// Package assistant asks the hosted performance coach (an OpenAI
// assistant) questions about a learner's results.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	openai "github.com/sashabaranov/go-openai"

	"github.com/brainbank/osce/internal/secrets"
)

// ErrUnavailable is returned when no assistant is configured.
var ErrUnavailable = errors.New("assistant not configured")

var errRunPending = errors.New("run still in progress")

const (
	defaultPollInitial = time.Second
	defaultPollMax     = 10 * time.Second
	defaultMaxWait     = 5 * time.Minute
)

// Client wraps an OpenAI-compatible assistants API client.
type Client struct {
	api         *openai.Client
	assistantID string

	pollInitial time.Duration
	pollMax     time.Duration
	maxWait     time.Duration
}

// New creates a client from cfg, or returns nil when chat is not
// configured. A nil *Client answers every call with ErrUnavailable.
func New(cfg secrets.Config) *Client {
	if !cfg.ChatAvailable() {
		return nil
	}
	var config openai.ClientConfig
	if cfg.OpenAIAzure {
		config = openai.DefaultAzureConfig(cfg.OpenAIKey, cfg.OpenAIURL)
	} else {
		config = openai.DefaultConfig(cfg.OpenAIKey)
		if cfg.OpenAIURL != "" {
			config.BaseURL = cfg.OpenAIURL
		}
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		assistantID: cfg.AssistantID,
		pollInitial: defaultPollInitial,
		pollMax:     defaultPollMax,
		maxWait:     defaultMaxWait,
	}
}

// Ask starts a thread with the question and the learner's performance
// data, waits for the run to finish and returns the assistant's reply.
func (c *Client) Ask(ctx context.Context, question string, performance any) (string, error) {
	if c == nil {
		return "", ErrUnavailable
	}
	content, err := buildMessage(question, performance)
	if err != nil {
		return "", err
	}

	run, err := c.api.CreateThreadAndRun(ctx, openai.CreateThreadAndRunRequest{
		RunRequest: openai.RunRequest{AssistantID: c.assistantID},
		Thread: openai.ThreadRequest{
			Messages: []openai.ThreadMessage{
				{Role: openai.ThreadMessageRoleUser, Content: content},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create assistant run: %w", err)
	}
	slog.Debug("assistant run started", "thread", run.ThreadID, "run", run.ID)

	if err := c.waitForRun(ctx, run.ThreadID, run.ID); err != nil {
		return "", err
	}
	return c.reply(ctx, run.ThreadID)
}

func buildMessage(question string, performance any) (string, error) {
	perf, err := json.MarshalIndent(performance, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode performance context: %w", err)
	}
	return fmt.Sprintf("User Question: %s\n\nPerformance Context: %s", question, perf), nil
}

// waitForRun polls the run with exponential backoff until it reaches a
// terminal state or maxWait elapses.
func (c *Client) waitForRun(ctx context.Context, threadID, runID string) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.pollInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.pollMax,
	}
	_, err := backoff.Retry(ctx, func() (openai.RunStatus, error) {
		run, err := c.api.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return "", fmt.Errorf("retrieve run: %w", err)
		}
		switch run.Status {
		case openai.RunStatusCompleted:
			return run.Status, nil
		// The coach has no tools, so a run asking for tool output never
		// finishes on its own.
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired,
			openai.RunStatusRequiresAction, openai.RunStatusIncomplete:
			msg := string(run.Status)
			if run.LastError != nil && run.LastError.Message != "" {
				msg = run.LastError.Message
			}
			return "", backoff.Permanent(fmt.Errorf("assistant run %s: %s", run.Status, msg))
		default:
			return "", errRunPending
		}
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(c.maxWait))
	if err != nil {
		return fmt.Errorf("wait for assistant run: %w", err)
	}
	return nil
}

// reply returns the text of the newest assistant message of the thread.
func (c *Client) reply(ctx context.Context, threadID string) (string, error) {
	limit := 20
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list thread messages: %w", err)
	}
	for _, m := range list.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", fmt.Errorf("assistant returned no reply")
}
