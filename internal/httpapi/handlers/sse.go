package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// chunkDelta keeps the null fields OpenAI clients expect to see explicitly.
type chunkDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content"`
	ReasoningContent *string `json:"reasoning_content"`
	ToolCalls        any     `json:"tool_calls"`
}

type chunkChoice struct {
	Index              int        `json:"index"`
	Delta              chunkDelta `json:"delta"`
	FinishReason       *string    `json:"finish_reason"`
	NativeFinishReason *string    `json:"native_finish_reason"`
}

type chunkUsage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
	Usage   chunkUsage    `json:"usage"`
}

// emitter writes chat.completion.chunk frames for one stream. The first
// frame carries the assistant role; exactly one frame carries a finish
// reason, followed by [DONE].
type emitter struct {
	w        http.ResponseWriter
	fl       http.Flusher
	model    string
	streamID string
	started  bool
	finished bool
}

func newEmitter(w http.ResponseWriter, fl http.Flusher, model string) *emitter {
	return &emitter{
		w:        w,
		fl:       fl,
		model:    model,
		streamID: "chatcmpl-" + uuid.NewString(),
	}
}

func (e *emitter) write(content, reasoning *string, finish string) {
	if e.finished {
		return
	}
	delta := chunkDelta{Content: content, ReasoningContent: reasoning}
	if !e.started {
		delta.Role = "assistant"
		e.started = true
	}
	choice := chunkChoice{Delta: delta}
	chunk := completionChunk{
		ID:      e.streamID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   e.model,
		Choices: []chunkChoice{choice},
	}
	if finish != "" {
		chunk.Choices[0].FinishReason = &finish
		chunk.Choices[0].NativeFinishReason = &finish
		one := 1
		chunk.Usage = chunkUsage{CompletionTokens: &one, TotalTokens: &one}
	}

	raw, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", raw)
	e.fl.Flush()
}

func (e *emitter) Reasoning(text string) {
	e.write(nil, &text, "")
}

// Final emits the single terminal content chunk and the [DONE] marker.
func (e *emitter) Final(content string) {
	e.write(&content, nil, "stop")
	fmt.Fprint(e.w, "data: [DONE]\n\n")
	e.fl.Flush()
	e.finished = true
}
