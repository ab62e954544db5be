package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/checks"
	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
)

// healthTailBytes is how much output of a failing check is quoted inline.
const healthTailBytes = 600

var statusIcons = map[checks.Status]string{
	checks.StatusPass:    "✅",
	checks.StatusFail:    "❌",
	checks.StatusError:   "⚠️",
	checks.StatusSkipped: "⏭️",
}

// HealthReport is the document stored as an artifact after each run.
type HealthReport struct {
	Mode    string          `json:"mode"`
	Overall checks.Status   `json:"overall"`
	Results []checks.Result `json:"results"`
}

// HealthCommand runs the repository checks and reports their status.
func HealthCommand(deps Deps) dispatcher.Command {
	deps.defaults()
	return dispatcher.Command{
		Name:        "health",
		Description: "Run lint, test and build checks",
		Handler: dispatcher.HandlerFunc(func(context.Context, *dispatcher.Interaction) (*dispatcher.Response, error) {
			return dispatcher.Deferred(false, func(ctx context.Context) (*dispatcher.Message, error) {
				results, err := deps.Checks.Run(ctx)
				if err != nil {
					return nil, err
				}
				report := HealthReport{Mode: deps.Checks.Mode(), Overall: checks.Overall(results), Results: results}
				return &dispatcher.Message{Content: renderHealth(ctx, deps, report)}, nil
			}), nil
		}),
	}
}

func renderHealth(ctx context.Context, deps Deps, report HealthReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Health: %s %s (mode %s)", statusIcons[report.Overall], report.Overall, report.Mode)
	for _, r := range report.Results {
		fmt.Fprintf(&b, "\n%s %s: %s", statusIcons[r.Status], r.Name, r.Status)
		if r.Mocked {
			b.WriteString(" (mocked)")
		} else if r.Duration > 0 {
			fmt.Fprintf(&b, " in %s", r.Duration.Round(10*time.Millisecond))
		}
		if (r.Status == checks.StatusFail || r.Status == checks.StatusError) && r.Output != "" {
			fmt.Fprintf(&b, "\n```\n%s\n```", checks.Tail(strings.TrimSpace(r.Output), healthTailBytes))
		}
	}

	if deps.Artifacts == nil {
		return b.String()
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		deps.Logger.WarnContext(ctx, "encode health report failed", "error", err)
		return b.String()
	}
	ref, err := deps.Artifacts.Put(ctx, data)
	if err != nil {
		deps.Logger.WarnContext(ctx, "store health report failed", "backend", deps.Artifacts.Backend(), "error", err)
		return b.String()
	}
	fmt.Fprintf(&b, "\nFull log: %s", ref.Location)
	return b.String()
}
