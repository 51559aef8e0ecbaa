package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"droid/internal/agent/ports"
	"droid/internal/logging"
)

// visionSystemPrompt teaches the executor model its observation role and the
// action grammar the parser understands.
const visionSystemPrompt = `You operate an Android phone by looking at screenshots.

Each turn you receive the current screenshot plus an instruction. Reply with
brief reasoning followed by exactly one action:

- do(action="Tap", element=[x,y]): tap at the coordinate (0-999 grid). Never
  tap elements you cannot see in the screenshot.
- do(action="Double Tap", element=[x,y])
- do(action="Long Press", element=[x,y])
- do(action="Type", text="string"): type into the focused input field.
- do(action="Swipe", start=[x1,y1], end=[x2,y2])
- do(action="Back") / do(action="Home")
- do(action="Launch", app="AppName")
- do(action="Wait", duration="seconds"): wait while a screen is loading.
- do(action="Take Over", message="why"): stop and hand control to a human
  (login walls, CAPTCHAs, payment confirmation).
- finish(message="..."): the instruction is complete, or you are answering a
  question about what the screen shows. Put the answer text in the message.

If the instruction is a question, do not tap anything: read the answer off
the screen and finish with it. If an element cannot be found, finish with a
short report of what the screen shows instead of guessing.`

type visionClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
	maxRetries int
}

// NewVisionClient constructs the vision-model client. It shares the chat
// completions wire format with the planner client but sends image content
// parts.
func NewVisionClient(model string, config Config) (ports.VisionClient, error) {
	config = config.normalized()
	if config.BaseURL == "" {
		return nil, fmt.Errorf("llm: base URL not configured")
	}

	return &visionClient{
		model:      model,
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logging.NewComponentLogger("llm.vision"),
		headers:    config.Headers,
		maxRetries: config.MaxRetries,
	}, nil
}

func (c *visionClient) Model() string { return c.model }

func (c *visionClient) Infer(ctx context.Context, req ports.VisionRequest) (string, error) {
	messages := []map[string]any{
		{"role": "system", "content": visionSystemPrompt},
	}

	// Replay the bounded window of prior turns, images already stripped.
	for _, turn := range req.History {
		messages = append(messages,
			map[string]any{"role": "user", "content": turn.Observation},
			map[string]any{"role": "assistant", "content": turn.Response},
		)
	}

	text := req.Instruction
	if req.ScreenInfo != "" {
		text = fmt.Sprintf("%s\n\n** Screen Info **\n\n%s", req.Instruction, req.ScreenInfo)
	}

	content := []map[string]any{
		{"type": "text", "text": text},
	}
	if req.Screenshot != nil {
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Screenshot.PNG),
			},
		})
	}
	messages = append(messages, map[string]any{"role": "user", "content": content})

	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("POST %s/chat/completions model=%s history=%d", c.baseURL, c.model, len(req.History))

	raw, err := doWithRetry(ctx, c.httpClient, c.logger, c.maxRetries, func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		for k, v := range c.headers {
			httpReq.Header.Set(k, v)
		}
		return httpReq, nil
	})
	if err != nil {
		return "", err
	}

	var oaiResp chatCompletionResponse
	if err := json.Unmarshal(raw, &oaiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("empty vision response")
	}
	return oaiResp.Choices[0].Message.Content, nil
}
