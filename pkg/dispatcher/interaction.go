package dispatcher

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// InteractionType tells slash commands apart from button callbacks.
type InteractionType string

const (
	TypeCommand   InteractionType = "command"
	TypeComponent InteractionType = "component"
)

// Interaction is one inbound event. It lives for a single dispatch and is
// never persisted as-is.
type Interaction struct {
	ID          string          `json:"id,omitempty"`
	Type        InteractionType `json:"type"`
	Name        string          `json:"name,omitempty"`
	CustomID    string          `json:"customId,omitempty"`
	UserID      string          `json:"userId"`
	RoleIDs     []string        `json:"userRoleIds,omitempty"`
	Options     map[string]any  `json:"options,omitempty"`
	Environment string          `json:"environment,omitempty"`
	ChannelID   string          `json:"channelId,omitempty"`
	// Token addresses follow-up messages for deferred responses.
	Token      string    `json:"token,omitempty"`
	ReceivedAt time.Time `json:"receivedAt,omitempty"`
}

// Target is the command name or component custom id, whichever applies.
func (i *Interaction) Target() string {
	if i.Type == TypeComponent {
		return i.CustomID
	}
	return i.Name
}

func (i *Interaction) StringOption(name string) (string, bool) {
	v, ok := i.Options[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// StringOptionOr returns the trimmed option or def when it is missing or blank.
func (i *Interaction) StringOptionOr(name, def string) string {
	if s, ok := i.StringOption(name); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

// IntOption accepts whole JSON numbers and numeric strings.
func (i *Interaction) IntOption(name string) (int, bool) {
	v, ok := i.Options[name]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	}
	return 0, false
}

func (i *Interaction) BoolOption(name string) (bool, bool) {
	v, ok := i.Options[name]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	}
	return false, false
}
