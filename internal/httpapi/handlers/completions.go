package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soragate/soragate/internal/catalog"
	"github.com/soragate/soragate/internal/common"
	"github.com/soragate/soragate/internal/prompt"
)

type chatCompletionReq struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url"`
	VideoURL *struct {
		URL string `json:"url"`
	} `json:"video_url"`
}

// CreateChatCompletion serves POST /v1/chat/completions. Generation only
// works with stream: true; a non-streaming request is answered with an
// availability check.
func (h *Handler) CreateChatCompletion(c *gin.Context) {
	var req chatCompletionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.OpenAIError(c, http.StatusBadRequest, "invalid_request", "invalid json body")
		return
	}
	if len(req.Messages) == 0 {
		common.OpenAIError(c, http.StatusBadRequest, "invalid_request", "messages required")
		return
	}

	spec, err := h.Catalog.Resolve(req.Model)
	if err != nil {
		common.OpenAIError(c, http.StatusNotFound, "model_not_found", fmt.Sprintf("model %q does not exist", req.Model))
		return
	}

	if !req.Stream {
		h.availability(c, req.Model, spec)
		return
	}

	parts, err := extractParts(req.Messages[len(req.Messages)-1])
	if err != nil {
		common.OpenAIError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	intent, err := prompt.Compile(parts, spec)
	if err != nil {
		if errors.Is(err, prompt.ErrMalformedPrompt) {
			common.OpenAIError(c, http.StatusBadRequest, "invalid_request", "prompt is empty or undecodable")
			return
		}
		common.OpenAIError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprint(c.Writer, "event: error\ndata: streaming unsupported\n\n")
		return
	}

	ctx := c.Request.Context()
	em := newEmitter(c.Writer, flusher, req.Model)
	em.Reasoning("**Generation Process Begins**\n\nInitializing generation request...\n")

	events := h.Jobs.Execute(ctx, intent)

	// heartbeat keeps idle stretches of long generations alive
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if !ev.Terminal {
				if ev.Note != "" {
					em.Reasoning(ev.Note)
				}
				continue
			}
			em.Final(terminalContent(intent, ev.ResultURLs, ev.Username, ev.Err))
			return

		case <-ticker.C:
			em.Reasoning("Generation in progress...\n")

		case <-ctx.Done():
			return
		}
	}
}

// availability answers non-streaming calls with a pool health summary, as a
// regular chat.completion object.
func (h *Handler) availability(c *gin.Context, model string, spec catalog.Spec) {
	noun := "video"
	if spec.Kind == catalog.KindImage {
		noun = "image"
	}
	var msg string
	if h.Pool.Available(spec.Tier(), spec.Kind) {
		msg = fmt.Sprintf("All credentials available for %s generation. Please enable streaming to use the generation feature.", noun)
	} else {
		msg = fmt.Sprintf("No available credentials for %s generation", noun)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []gin.H{{
			"index": 0,
			"message": gin.H{
				"role":    "assistant",
				"content": msg,
			},
			"finish_reason": "stop",
		}},
		"usage": gin.H{"prompt_tokens": 0, "completion_tokens": 1, "total_tokens": 1},
	})
}

// extractParts flattens the last inbound message into ordered prompt parts.
func extractParts(msg chatMessage) ([]prompt.Part, error) {
	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return []prompt.Part{{Text: text}}, nil
	}

	var list []contentPart
	if err := json.Unmarshal(msg.Content, &list); err != nil {
		return nil, fmt.Errorf("invalid content format")
	}

	parts := make([]prompt.Part, 0, len(list))
	for _, item := range list {
		switch item.Type {
		case "text":
			parts = append(parts, prompt.Part{Text: item.Text})
		case "image_url":
			if item.ImageURL == nil || item.ImageURL.URL == "" {
				continue
			}
			parts = append(parts, prompt.Part{Image: mediaRef(item.ImageURL.URL, "data:image")})
		case "video_url":
			if item.VideoURL == nil || item.VideoURL.URL == "" {
				continue
			}
			parts = append(parts, prompt.Part{Video: mediaRef(item.VideoURL.URL, "data:video", "data:application")})
		}
	}
	return parts, nil
}

// mediaRef splits data URIs into their base64 payload; anything else is a
// remote URL the submitter fetches.
func mediaRef(url string, dataPrefixes ...string) *prompt.MediaRef {
	for _, prefix := range dataPrefixes {
		if strings.HasPrefix(url, prefix) {
			if i := strings.Index(url, "base64,"); i >= 0 {
				return &prompt.MediaRef{Data: url[i+len("base64,"):]}
			}
			return &prompt.MediaRef{Data: url}
		}
	}
	return &prompt.MediaRef{URL: url}
}

// terminalContent renders the single terminal chunk body.
func terminalContent(intent prompt.Intent, urls []string, username string, err error) string {
	if err != nil {
		return fmt.Sprintf("Generation failed: %v", err)
	}
	if intent.Kind == prompt.CharacterCreate {
		return fmt.Sprintf("Character created successfully: @%s", username)
	}
	if intent.Spec.Kind == catalog.KindVideo {
		if len(urls) == 0 {
			return "Generation finished without results"
		}
		return fmt.Sprintf("```html\n<video src='%s' controls></video>\n```", urls[0])
	}
	lines := make([]string, 0, len(urls))
	for _, u := range urls {
		lines = append(lines, fmt.Sprintf("![Generated Image](%s)", u))
	}
	if len(lines) == 0 {
		return "Generation finished without results"
	}
	return strings.Join(lines, "\n")
}
