package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rodovia-recon/internal/recon"
)

// WebhookNotifier posts rejected reconciliations to the collaborator's
// defect endpoint. Fire-and-forget: the ledger issues the request
// exactly once and does not track delivery.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier creates a notifier with a bounded request timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type defectPayload struct {
	ReconciliationID string    `json:"reconciliation_id"`
	NeedID           string    `json:"need_id"`
	LotID            string    `json:"lot_id"`
	HighwayID        string    `json:"highway_id"`
	ElementType      string    `json:"element_type"`
	Verdict          string    `json:"verdict"`
	Justification    string    `json:"justification"`
	RejectedBy       string    `json:"rejected_by"`
	RejectedAt       time.Time `json:"rejected_at"`
}

func (n *WebhookNotifier) RaiseDefect(ctx context.Context, rec recon.Reconciliation, justification string) error {
	rejectedAt := time.Now().UTC()
	if rec.DecidedAt != nil {
		rejectedAt = *rec.DecidedAt
	}

	body, err := json.Marshal(defectPayload{
		ReconciliationID: rec.ID,
		NeedID:           rec.NeedID,
		LotID:            rec.LotID,
		HighwayID:        rec.HighwayID,
		ElementType:      string(rec.ElementType),
		Verdict:          string(rec.Verdict),
		Justification:    justification,
		RejectedBy:       rec.DecidedBy,
		RejectedAt:       rejectedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal defect payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build defect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("defect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("defect endpoint returned %s", resp.Status)
	}
	return nil
}
