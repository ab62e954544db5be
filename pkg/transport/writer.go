package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
)

// FollowUpRecord is one line written by WriterSender.
type FollowUpRecord struct {
	InteractionID string              `json:"interactionId"`
	Kind          string              `json:"kind"`
	Message       *dispatcher.Message `json:"message"`
}

// WriterSender writes follow-ups as JSON lines. The CLI uses it in place of
// the platform webhook.
type WriterSender struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriterSender(w io.Writer) *WriterSender {
	return &WriterSender{enc: json.NewEncoder(w)}
}

func (s *WriterSender) SendFollowUp(_ context.Context, in *dispatcher.Interaction, msg *dispatcher.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(FollowUpRecord{InteractionID: in.ID, Kind: "followup", Message: msg})
}
