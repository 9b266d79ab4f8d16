// Package gateway orchestrates one chat interaction: authenticate, retrieve
// context, generate, respond, log. Within a request those stages are strictly
// ordered; across requests everything runs independently.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/auth"
	"github.com/chatgate/chatgate/internal/composer"
	"github.com/chatgate/chatgate/internal/llm"
	"github.com/chatgate/chatgate/internal/memory"
)

// historyDepth is how many recent session messages ground a streamed prompt.
const historyDepth = 10

var (
	// ErrEmptyMessage rejects blank input before any collaborator is called.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrGeneration covers model-side failures. The request is not retried:
	// another model round-trip is not spent speculatively.
	ErrGeneration = errors.New("chat processing failed")
)

// Authenticator validates bearer tokens against the auth service.
type Authenticator interface {
	Verify(ctx context.Context, token string) (auth.User, error)
}

// Retriever finds conversation snippets similar to a query.
type Retriever interface {
	Search(ctx context.Context, query, role string) ([]composer.Snippet, error)
}

// Generator produces model responses, whole or chunked.
type Generator interface {
	Generate(ctx context.Context, userMessage, systemPrompt string) (string, error)
	GenerateStream(ctx context.Context, userMessage, systemPrompt string) (<-chan llm.Chunk, error)
}

// InteractionLogger records a finished exchange, fire-and-forget.
type InteractionLogger interface {
	Log(userID, message, response string)
}

// PromptSource resolves a role to its system prompt template.
type PromptSource interface {
	LoadWithFallback(role string) (text, resolvedRole string, err error)
}

// Request is one inbound chat message.
type Request struct {
	Message string `json:"message"`
	Role    string `json:"role"`
	Stream  bool   `json:"stream"`
}

// Response is the non-streaming reply shape.
type Response struct {
	UserMessage string `json:"user_message"`
	BotResponse string `json:"bot_response"`
	Role        string `json:"role"`
	Timestamp   string `json:"timestamp"`
}

// Orchestrator ties the pipeline together. All collaborators are required
// except Memory, which may be nil to disable session history.
type Orchestrator struct {
	Auth      Authenticator
	Retriever Retriever
	Composer  *composer.Composer
	Prompts   PromptSource
	Generator Generator
	ChatLog   InteractionLogger
	Memory    memory.Store
	Logger    *slog.Logger
}

// Handle serves a non-streaming request end to end.
func (o *Orchestrator) Handle(ctx context.Context, req Request, token string) (Response, error) {
	message, user, err := o.prepare(ctx, req, token)
	if err != nil {
		return Response{}, err
	}

	systemPrompt, role, err := o.systemPrompt(ctx, message, req.Role, nil)
	if err != nil {
		return Response{}, err
	}

	botResponse, err := o.Generator.Generate(ctx, message, systemPrompt)
	if err != nil {
		o.Logger.Error("generation failed", "user_id", user.ID, "error", err)
		return Response{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	o.remember(ctx, user.ID, botResponse)
	o.ChatLog.Log(user.ID, message, botResponse)

	return Response{
		UserMessage: message,
		BotResponse: botResponse,
		Role:        role,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// HandleStream serves a streaming request. Chunks arrive on the returned
// channel as the model produces them; the channel closes when the stream
// ends, fails, or ctx is cancelled. Whatever text was produced by then is
// logged: a partial record of an interrupted stream is deliberate best-effort
// logging, not a trustworthy complete exchange.
func (o *Orchestrator) HandleStream(ctx context.Context, req Request, token string) (<-chan llm.Chunk, error) {
	message, user, err := o.prepare(ctx, req, token)
	if err != nil {
		return nil, err
	}

	var history []string
	if o.Memory != nil {
		if history, err = o.Memory.Recent(ctx, user.ID, historyDepth); err != nil {
			o.Logger.Warn("session memory unavailable", "user_id", user.ID, "error", err)
		}
	}

	systemPrompt, _, err := o.systemPrompt(ctx, message, req.Role, history)
	if err != nil {
		return nil, err
	}

	chunks, err := o.Generator.GenerateStream(ctx, message, systemPrompt)
	if err != nil {
		o.Logger.Error("starting stream failed", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	out := make(chan llm.Chunk)
	go o.relay(ctx, chunks, out, user.ID, message)
	return out, nil
}

// relay forwards chunks to the caller while accumulating the full text, then
// logs the interaction once the stream is exhausted (or cut short).
func (o *Orchestrator) relay(ctx context.Context, in <-chan llm.Chunk, out chan<- llm.Chunk, userID, message string) {
	defer close(out)

	var full strings.Builder
	for chunk := range in {
		if chunk.Err != nil {
			o.Logger.Error("stream failed mid-flight", "user_id", userID, "error", chunk.Err)
			o.finishStream(ctx, userID, message, full.String(), false)
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
			return
		}

		full.WriteString(chunk.Text)
		select {
		case out <- chunk:
		case <-ctx.Done():
			o.Logger.Info("client disconnected mid-stream", "user_id", userID)
			o.finishStream(ctx, userID, message, full.String(), false)
			return
		}
	}

	o.finishStream(ctx, userID, message, full.String(), true)
}

// finishStream records the streamed exchange. Only a completed stream updates
// session memory; a partial response is still queued for history.
func (o *Orchestrator) finishStream(ctx context.Context, userID, message, response string, complete bool) {
	if complete {
		o.remember(ctx, userID, response)
	}
	o.ChatLog.Log(userID, message, response)
}

// prepare runs the stages shared by both modes: input validation, auth, and
// recording the user message in session memory.
func (o *Orchestrator) prepare(ctx context.Context, req Request, token string) (string, auth.User, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", auth.User{}, ErrEmptyMessage
	}

	user, err := o.Auth.Verify(ctx, token)
	if err != nil {
		return "", auth.User{}, err
	}

	if o.Memory != nil {
		if err := o.Memory.AppendUserMessage(ctx, user.ID, message); err != nil {
			o.Logger.Warn("session memory unavailable", "user_id", user.ID, "error", err)
		}
	}
	return message, user, nil
}

// systemPrompt retrieves context and renders the system instruction. A hard
// retrieval failure degrades to an empty snippet list: context is an
// enhancement, losing it must not fail the request.
func (o *Orchestrator) systemPrompt(ctx context.Context, message, role string, history []string) (string, string, error) {
	snippets, err := o.Retriever.Search(ctx, message, role)
	if err != nil {
		o.Logger.Warn("retrieval failed, proceeding without context", "error", err)
		snippets = nil
	}
	contextStr := o.Composer.BuildContext(snippets)

	persona, resolvedRole, err := o.Prompts.LoadWithFallback(role)
	if err != nil {
		return "", "", fmt.Errorf("%w: loading prompt: %v", ErrGeneration, err)
	}

	prompt, err := llm.BuildSystemPrompt(llm.PromptInput{
		Persona: persona,
		Context: contextStr,
		History: history,
	})
	if err != nil {
		return "", "", fmt.Errorf("%w: building prompt: %v", ErrGeneration, err)
	}
	return prompt, resolvedRole, nil
}

// remember appends the bot response to session memory, best effort.
func (o *Orchestrator) remember(ctx context.Context, userID, response string) {
	if o.Memory == nil {
		return
	}
	if err := o.Memory.AppendBotMessage(ctx, userID, response); err != nil {
		o.Logger.Warn("session memory unavailable", "user_id", userID, "error", err)
	}
}
