package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/statestore"
)

const (
	// ShipConfirmTTL is how long a deploy request waits for confirmation.
	ShipConfirmTTL = 15 * time.Minute
	// ShipInflightTTL bounds the in-flight lock of one environment.
	ShipInflightTTL = 30 * time.Minute

	shipPrefix  = "ship:"
	shipConfirm = "confirm"
	shipCancel  = "cancel"
)

// Flow statuses stored under ship-{env}-{unix}-{nonce}.
const (
	FlowAwaitingConfirmation = "awaiting-confirmation"
	FlowStarted              = "started"
	FlowTriggered            = "triggered"
	FlowFailed               = "failed"
)

const shipOptionsSchema = `{
  "type": "object",
  "properties": {
    "env": {"type": "string", "pattern": "^[a-z0-9][a-z0-9_-]{0,31}$"},
    "ref": {"type": "string", "minLength": 1, "maxLength": 255}
  },
  "required": ["env"]
}`

// ShipFlow is the persisted state of one deploy request.
type ShipFlow struct {
	Key         string    `json:"key"`
	Env         string    `json:"env"`
	Ref         string    `json:"ref"`
	Status      string    `json:"status"`
	InitiatorID string    `json:"initiatorId"`
	DeployID    string    `json:"deployId"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// reservedEnv names the lock namespace; no flow may use it as an environment.
const reservedEnv = "inflight"

// InflightKey is the lock held while a deploy to env runs.
func InflightKey(env string) string {
	return statestore.Key("ship", reservedEnv, env)
}

// isFlowKey reports whether a button may address key. Only flow records
// qualify; locks and other state entries do not.
func isFlowKey(key string) bool {
	return strings.HasPrefix(key, "ship-") && !strings.HasPrefix(key, "ship-"+reservedEnv+"-")
}

// DeployRequest is handed to the DeployTrigger once a flow is confirmed.
type DeployRequest struct {
	Env         string
	Ref         string
	RequestedBy string
	DeployID    string
}

// DeployTrigger starts the actual deployment.
type DeployTrigger interface {
	TriggerDeploy(ctx context.Context, req DeployRequest) error
}

// DispatchClient sends repository dispatch events.
type DispatchClient interface {
	CreateDispatchEvent(ctx context.Context, owner, repo, eventType string, payload map[string]any) error
}

// DeployEventType is the repository dispatch event sent by VCSDeployTrigger.
const DeployEventType = "chatops-deploy"

// VCSDeployTrigger starts deploys with a repository dispatch event.
type VCSDeployTrigger struct {
	Client DispatchClient
	Owner  string
	Repo   string
}

func (t *VCSDeployTrigger) TriggerDeploy(ctx context.Context, req DeployRequest) error {
	return t.Client.CreateDispatchEvent(ctx, t.Owner, t.Repo, DeployEventType, map[string]any{
		"environment":  req.Env,
		"ref":          req.Ref,
		"requested_by": req.RequestedBy,
		"deploy_id":    req.DeployID,
	})
}

type shipHandler struct {
	state   statestore.Store
	trigger DeployTrigger
	now     func() time.Time
	logger  *slog.Logger
}

// ShipCommand builds the two-step deploy command.
func ShipCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:              "ship",
		Description:       "Deploy a ref to an environment (asks for confirmation)",
		Handler:           &shipHandler{state: deps.State, trigger: deps.Deploy, now: deps.Now, logger: deps.Logger},
		ComponentPrefixes: []string{shipPrefix},
		OptionsSchema:     shipOptionsSchema,
	}
}

func (h *shipHandler) Execute(ctx context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
	env := in.StringOptionOr("env", "")
	ref := in.StringOptionOr("ref", "main")
	if env == reservedEnv {
		return nil, dispatcher.NewUserError(fmt.Sprintf("%q is not a deployable environment.", env), nil)
	}
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	_, busy, err := h.state.Get(ctx, InflightKey(env))
	if err != nil {
		return nil, err
	}
	if busy {
		return dispatcher.Ephemeral(fmt.Sprintf("A deploy to %s is already in progress.", env)), nil
	}

	now := h.now()
	deployID := uuid.NewString()
	flow := ShipFlow{
		// The nonce keeps requests started in the same second apart.
		Key:         statestore.Key("ship", env, strconv.FormatInt(now.Unix(), 10), deployID[:8]),
		Env:         env,
		Ref:         ref,
		Status:      FlowAwaitingConfirmation,
		InitiatorID: in.UserID,
		DeployID:    deployID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := statestore.PutJSON(ctx, h.state, flow.Key, flow, ShipConfirmTTL); err != nil {
		return nil, err
	}

	return &dispatcher.Response{Kind: dispatcher.KindMessage, Message: &dispatcher.Message{
		Content: fmt.Sprintf("Deploy `%s` to **%s**? This request expires in %s.", ref, env, ShipConfirmTTL),
		Components: []dispatcher.Button{
			{Label: "Confirm", CustomID: shipPrefix + shipConfirm + ":" + flow.Key, Style: dispatcher.StyleDanger},
			{Label: "Cancel", CustomID: shipPrefix + shipCancel + ":" + flow.Key, Style: dispatcher.StyleSecondary},
		},
	}}, nil
}

func (h *shipHandler) HandleComponent(ctx context.Context, in *dispatcher.Interaction) (*dispatcher.Response, error) {
	action, key, ok := strings.Cut(strings.TrimPrefix(in.CustomID, shipPrefix), ":")
	if !ok || !isFlowKey(key) || (action != shipConfirm && action != shipCancel) {
		return dispatcher.Ephemeral("This button is no longer valid."), nil
	}

	var flow ShipFlow
	found, err := statestore.GetJSON(ctx, h.state, key, &flow)
	if err != nil {
		return nil, err
	}
	if !found {
		return dispatcher.Update(&dispatcher.Message{Content: "This deploy request expired. Run /ship again."}), nil
	}
	if flow.Key != key {
		return dispatcher.Ephemeral("This button is no longer valid."), nil
	}
	if flow.InitiatorID != in.UserID {
		return dispatcher.Ephemeral("Only the user who started this deploy can confirm or cancel it."), nil
	}
	if flow.Status != FlowAwaitingConfirmation {
		return dispatcher.Ephemeral(fmt.Sprintf("This deploy request was already handled (%s).", flow.Status)), nil
	}

	if action == shipCancel {
		if err := h.state.Delete(ctx, key); err != nil {
			return nil, err
		}
		return dispatcher.Update(&dispatcher.Message{Content: fmt.Sprintf("Deploy of `%s` to %s cancelled.", flow.Ref, flow.Env)}), nil
	}
	return h.confirm(ctx, in, flow)
}

func (h *shipHandler) confirm(ctx context.Context, in *dispatcher.Interaction, flow ShipFlow) (*dispatcher.Response, error) {
	lock := InflightKey(flow.Env)
	_, busy, err := h.state.Get(ctx, lock)
	if err != nil {
		return nil, err
	}
	if busy {
		return dispatcher.Ephemeral(fmt.Sprintf("A deploy to %s is already in progress.", flow.Env)), nil
	}
	if err := h.state.Put(ctx, lock, []byte(flow.Key), ShipInflightTTL); err != nil {
		return nil, err
	}
	flow.Status = FlowStarted
	flow.UpdatedAt = h.now()
	if err := statestore.PutJSON(ctx, h.state, flow.Key, flow, ShipInflightTTL); err != nil {
		_ = h.state.Delete(ctx, lock)
		return nil, err
	}
	h.logger.InfoContext(ctx, "deploy confirmed",
		"env", flow.Env, "ref", flow.Ref, "deploy_id", flow.DeployID, "user_id", in.UserID)

	return dispatcher.Deferred(false, func(ctx context.Context) (*dispatcher.Message, error) {
		return h.startDeploy(ctx, flow, lock), nil
	}), nil
}

func (h *shipHandler) startDeploy(ctx context.Context, flow ShipFlow, lock string) *dispatcher.Message {
	var err error
	if h.trigger == nil {
		err = errors.New("no deploy trigger configured")
	} else {
		err = h.trigger.TriggerDeploy(ctx, DeployRequest{
			Env: flow.Env, Ref: flow.Ref, RequestedBy: flow.InitiatorID, DeployID: flow.DeployID,
		})
	}

	flow.UpdatedAt = h.now()
	if err != nil {
		flow.Status = FlowFailed
		flow.Error = err.Error()
		h.logger.ErrorContext(ctx, "deploy trigger failed", "env", flow.Env, "deploy_id", flow.DeployID, "error", err)
		if derr := h.state.Delete(ctx, lock); derr != nil {
			h.logger.WarnContext(ctx, "release in-flight lock failed", "key", lock, "error", derr)
		}
	} else {
		flow.Status = FlowTriggered
	}
	if perr := statestore.PutJSON(ctx, h.state, flow.Key, flow, ShipInflightTTL); perr != nil {
		h.logger.WarnContext(ctx, "record deploy status failed", "key", flow.Key, "error", perr)
	}

	if err != nil {
		return &dispatcher.Message{Content: fmt.Sprintf("Deploy of `%s` to %s failed to start. Please try again.", flow.Ref, flow.Env)}
	}
	return &dispatcher.Message{Content: fmt.Sprintf("Deploy of `%s` to %s started (id %s).", flow.Ref, flow.Env, flow.DeployID)}
}

// checkRef rejects refs that look like a version (v1.2, 1.2.3-rc.1) but do
// not parse as one. Branch names and commit SHAs pass through.
func checkRef(ref string) error {
	if !looksLikeVersion(ref) {
		return nil
	}
	if _, err := semver.NewVersion(ref); err != nil {
		return dispatcher.NewUserError(fmt.Sprintf("%q is not a valid version.", ref), err)
	}
	return nil
}

func looksLikeVersion(ref string) bool {
	s := strings.TrimPrefix(ref, "v")
	return s != "" && s[0] >= '0' && s[0] <= '9' && strings.Contains(s, ".")
}
