package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hemostat/hemostat/internal/llm"
	"github.com/hemostat/hemostat/internal/schema"
)

const systemPrompt = `You are a container-health analyst. You receive a health alert
with the container's anomalies, current metrics, and up to three recent
observations. Decide whether this is a real issue worth remediating or a
false alarm.

Respond with a single JSON object and nothing else:
{"verdict": "real_issue" | "false_alarm",
 "action": "restart" | "scale_up" | "cleanup" | "exec" | "none",
 "confidence": <number between 0 and 1>,
 "reason": "<one short sentence>"}

A false_alarm must use action "none". Prefer "restart" for crashed or
resource-exhausted containers. Be conservative: a single transient spike is
usually a false alarm.`

// historyPromptEntries limits how much of the window goes into the prompt.
const historyPromptEntries = 3

// ModelClassifier consults a language-model endpoint. Any malformed reply,
// transport error, or deadline overrun is returned as an error so the caller
// can fall back to rules.
type ModelClassifier struct {
	provider llm.Provider
	model    string
	deadline time.Duration
}

// NewModelClassifier wires a provider. An empty model uses the provider
// default; a non-positive deadline defaults to 10s.
func NewModelClassifier(provider llm.Provider, model string, deadline time.Duration) *ModelClassifier {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	return &ModelClassifier{provider: provider, model: model, deadline: deadline}
}

type modelReply struct {
	Verdict    schema.Verdict `json:"verdict"`
	Action     schema.Action  `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// Classify sends the alert to the model and parses its reply into a Decision.
func (mc *ModelClassifier) Classify(ctx context.Context, alert schema.HealthAlert, history []schema.HistoryEntry) (schema.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, mc.deadline)
	defer cancel()

	prompt, err := buildPrompt(alert, history)
	if err != nil {
		return schema.Decision{}, err
	}

	resp, err := mc.provider.Chat(ctx, llm.ChatRequest{
		Model:       mc.model,
		Temperature: 0.1,
		MaxTokens:   256,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
	})
	if err != nil {
		return schema.Decision{}, fmt.Errorf("model request: %w", err)
	}

	reply, err := parseReply(resp.Content)
	if err != nil {
		return schema.Decision{}, err
	}

	return schema.Decision{
		Verdict:        reply.Verdict,
		Action:         reply.Action,
		Confidence:     reply.Confidence,
		Reason:         reply.Reason,
		AnalysisMethod: schema.MethodModel,
	}, nil
}

func buildPrompt(alert schema.HealthAlert, history []schema.HistoryEntry) (string, error) {
	if len(history) > historyPromptEntries {
		history = history[:historyPromptEntries]
	}
	payload, err := json.Marshal(struct {
		Alert   schema.HealthAlert    `json:"alert"`
		History []schema.HistoryEntry `json:"recent_history"`
	}{alert, history})
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	return string(payload), nil
}

// parseReply accepts the raw completion, tolerating markdown code fences, and
// validates every field.
func parseReply(content string) (modelReply, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply modelReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return modelReply{}, fmt.Errorf("malformed model reply: %w", err)
	}

	switch reply.Verdict {
	case schema.VerdictRealIssue, schema.VerdictFalseAlarm:
	default:
		return modelReply{}, fmt.Errorf("model reply: unknown verdict %q", reply.Verdict)
	}

	switch reply.Action {
	case schema.ActionRestart, schema.ActionScaleUp, schema.ActionCleanup, schema.ActionExec, schema.ActionNone:
	default:
		return modelReply{}, fmt.Errorf("model reply: unknown action %q", reply.Action)
	}

	if reply.Confidence < 0 || reply.Confidence > 1 {
		return modelReply{}, fmt.Errorf("model reply: confidence %v out of range", reply.Confidence)
	}

	if reply.Verdict == schema.VerdictFalseAlarm {
		reply.Action = schema.ActionNone
	}

	return reply, nil
}
