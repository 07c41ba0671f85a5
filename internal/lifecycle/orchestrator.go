package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/gateway"
	"github.com/clawncil/clawncil/internal/state"
	"github.com/clawncil/clawncil/internal/workspace"
)

// FallbackReply replaces the agent's answer when the gateway call fails. Chat
// never surfaces a raw turn failure to the user; the real error goes to the
// gateway_errors stream instead.
const FallbackReply = "Sorry, I encountered an error."

// Spawner is the gateway surface the orchestrator needs: a fresh session per
// turn, or a follow-up message into an existing one.
type Spawner interface {
	Spawn(ctx context.Context, req gateway.SpawnRequest) (gateway.SpawnResponse, error)
	Send(ctx context.Context, sessionKey, message string) (string, error)
}

// Orchestrator coordinates the record store, the workspace and the session
// gateway. It is the only place that writes to more than one of them.
type Orchestrator struct {
	Store     *state.Store
	Workspace *workspace.Store
	Gateway   Spawner
	Bus       *eventbus.Bus
}

func New(store *state.Store, ws *workspace.Store, gw Spawner, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{Store: store, Workspace: ws, Gateway: gw, Bus: bus}
}

type CreateInput struct {
	Name         string
	Model        string
	SystemPrompt string
	ParentID     string
}

// CreateAgent runs the two-phase creation sequence: insert the record in
// provision_state "pending", provision the workspace artifacts, then commit
// to "ready". If provisioning fails the pending row stays behind (no
// compensation) so RecoverPending can finish the job later; the error is
// still reported to the caller.
func (o *Orchestrator) CreateAgent(ctx context.Context, input CreateInput) (state.Agent, error) {
	agent, err := o.Store.CreateAgent(ctx, state.AgentFields{
		Name:         input.Name,
		Bio:          input.SystemPrompt,
		SystemPrompt: input.SystemPrompt,
		Model:        input.Model,
		ParentID:     input.ParentID,
	})
	if err != nil {
		return state.Agent{}, err
	}

	if err := o.provision(ctx, agent); err != nil {
		return agent, fmt.Errorf("provision agent %s: %w", agent.ID, err)
	}
	agent.ProvisionState = state.ProvisionReady
	return agent, nil
}

// RecoverPending finishes creation for agents whose provisioning never
// committed, typically after a crash between the record insert and the
// workspace writes. Provisioning is idempotent, so replays are safe.
func (o *Orchestrator) RecoverPending(ctx context.Context) error {
	pending, err := o.Store.ListPendingAgents(ctx)
	if err != nil {
		return err
	}
	for _, agent := range pending {
		if err := o.provision(ctx, agent); err != nil {
			return fmt.Errorf("recover agent %s: %w", agent.ID, err)
		}
		log.Printf("recovered pending agent %s", agent.ID)
	}
	return nil
}

func (o *Orchestrator) provision(ctx context.Context, agent state.Agent) error {
	if err := o.Workspace.Provision(agent.ID, agent.Name, agent.Model, agent.SystemPrompt, agent.ParentID); err != nil {
		return err
	}
	return o.Store.MarkAgentReady(ctx, agent.ID)
}

type TurnInput struct {
	AgentID      string
	Model        string
	SystemPrompt string
	Message      string
	RoomID       string
	// SessionKey, when set, routes the message into an existing gateway
	// session instead of spawning a new one.
	SessionKey string
}

type TurnResult struct {
	Reply      string
	SessionKey string
	Failed     bool
}

// RunChatTurn executes one conversational turn. The user message is recorded
// first (optimistic display), then the gateway is asked for a reply. A
// gateway failure does not escape: the reply becomes FallbackReply and the
// real error is pushed to the gateway_errors stream. The returned reply is
// always non-empty. When RoomID is empty the turn skips message rows and only
// touches the memory log.
func (o *Orchestrator) RunChatTurn(ctx context.Context, input TurnInput) (TurnResult, error) {
	if strings.TrimSpace(input.AgentID) == "" {
		return TurnResult{}, &state.ValidationError{Field: "agentId"}
	}
	if strings.TrimSpace(input.Message) == "" {
		return TurnResult{}, &state.ValidationError{Field: "message"}
	}

	if input.RoomID != "" {
		if _, err := o.PostMessage(ctx, input.RoomID, "user", "user", input.Message); err != nil {
			return TurnResult{}, err
		}
	}

	result := TurnResult{}
	var reply, sessionKey string
	var err error
	if input.SessionKey != "" {
		sessionKey = input.SessionKey
		reply, err = o.Gateway.Send(ctx, input.SessionKey, input.Message)
	} else {
		var resp gateway.SpawnResponse
		resp, err = o.Gateway.Spawn(ctx, gateway.SpawnRequest{
			AgentID:      input.AgentID,
			Model:        input.Model,
			SystemPrompt: input.SystemPrompt,
			Message:      input.Message,
		})
		reply, sessionKey = resp.Reply, resp.SessionKey
	}
	if err != nil {
		result.Reply = FallbackReply
		result.Failed = true
		o.reportGatewayFailure(ctx, input, err)
	} else {
		result.Reply = reply
		result.SessionKey = sessionKey
	}

	if input.RoomID != "" {
		if _, err := o.PostMessage(ctx, input.RoomID, input.AgentID, "agent", result.Reply); err != nil {
			return TurnResult{}, err
		}
	}
	if err := o.SaveExchange(ctx, input.AgentID, input.Message, result.Reply); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// PostMessage appends a message row and mirrors it on the messages stream for
// realtime delivery.
func (o *Orchestrator) PostMessage(ctx context.Context, roomID, senderID, senderType, content string) (state.Message, error) {
	msg, err := o.Store.InsertMessage(ctx, roomID, senderID, senderType, content)
	if err != nil {
		return state.Message{}, err
	}
	if o.Bus != nil {
		_, _ = o.Bus.Push(ctx, eventbus.EventInput{
			Stream:    eventbus.StreamMessages,
			ScopeType: "room",
			ScopeID:   roomID,
			Subject:   senderID,
			Body:      content,
			Metadata: map[string]any{
				"message_id":  msg.ID,
				"sender_type": senderType,
			},
		})
	}
	return msg, nil
}

// SaveExchange appends one user/agent exchange to the agent's memory log.
// An empty response is recorded as "(pending)".
func (o *Orchestrator) SaveExchange(ctx context.Context, agentID, message, response string) error {
	if strings.TrimSpace(agentID) == "" {
		return &state.ValidationError{Field: "agentId"}
	}
	if strings.TrimSpace(message) == "" {
		return &state.ValidationError{Field: "message"}
	}
	if response == "" {
		response = "(pending)"
	}
	entry := fmt.Sprintf("\n**User:** %s\n\n**%s:** %s\n", message, agentID, response)
	return o.Workspace.AppendMemory(agentID, entry)
}

// UpdatePrompt rewrites the agent's SOUL document and syncs the record store.
// The two writes are not atomic; a missing record is tolerated so roster-only
// agents can still be edited.
func (o *Orchestrator) UpdatePrompt(ctx context.Context, agentID, bio, systemPrompt string) error {
	if err := o.Workspace.UpdateSoul(agentID, bio, systemPrompt); err != nil {
		return err
	}
	_, err := o.Store.UpdateAgent(ctx, agentID, state.AgentPatch{
		Bio:          &bio,
		SystemPrompt: &systemPrompt,
	})
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return err
	}
	return nil
}

func (o *Orchestrator) reportGatewayFailure(ctx context.Context, input TurnInput, cause error) {
	log.Printf("gateway spawn failed for agent %s: %v", input.AgentID, cause)
	if o.Bus == nil {
		return
	}
	_, _ = o.Bus.Push(ctx, eventbus.EventInput{
		Stream:    eventbus.StreamGatewayErrors,
		ScopeType: "agent",
		ScopeID:   input.AgentID,
		Subject:   "spawn failed",
		Body:      cause.Error(),
		Metadata: map[string]any{
			"agent_id": input.AgentID,
			"model":    input.Model,
		},
	})
}
