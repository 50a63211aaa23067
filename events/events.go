// Package events defines the outbound event protocol of a generation
// session and the publishers that carry it to clients.
package events

import (
	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/streamers"
)

// Event statuses. Model-load events additionally pass through the loader
// phase names (initiate, progress, ready) unchanged.
const (
	StatusLoading     = "loading"
	StatusAssistant   = "assistant"
	StatusUpdate      = "update"
	StatusImageUpdate = "image-update"
	StatusEnd         = "end"
	StatusError       = "error"
	StatusAppend      = "append"
	StatusResponse    = "response"
)

// Event is one outbound notification. Data holds the status-specific
// payload and may be nil.
type Event struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// AssistantData announces an interim assistant turn, such as the thinking
// placeholder shown while a reasoning model works.
type AssistantData struct {
	Text string `json:"text"`
}

// ImageData is the terminal payload of an image generation, matching the
// layout of a raw canvas image.
type ImageData struct {
	UInt8Array []uint8 `json:"uint8Array"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Channels   int     `json:"channels"`
}

// EndData is the terminal payload of a completed generation.
type EndData struct {
	Output        string            `json:"output"`
	CleanedOutput string            `json:"cleanedOutput,omitempty"`
	Chunks        []streamers.Chunk `json:"chunks,omitempty"`
}

// ErrorData carries a user-facing failure message.
type ErrorData struct {
	Message string `json:"message"`
}

// AppendData asks the client to append turns to its conversation view.
type AppendData struct {
	Messages []backends.Message `json:"messages"`
}

func Loading(message string) Event {
	return Event{Status: StatusLoading, Data: message}
}

// LoadProgress passes a model-load notification through with the loader
// phase as the event status.
func LoadProgress(p backends.Progress) Event {
	return Event{Status: p.Status, Data: p}
}

func Assistant(text string) Event {
	return Event{Status: StatusAssistant, Data: AssistantData{Text: text}}
}

func Update(snapshot streamers.TelemetrySnapshot) Event {
	return Event{Status: StatusUpdate, Data: snapshot}
}

func ImageProgress(update streamers.ProgressUpdate) Event {
	return Event{Status: StatusImageUpdate, Data: update}
}

func ImageResult(image ImageData) Event {
	return Event{Status: StatusImageUpdate, Data: image}
}

func End(data EndData) Event {
	return Event{Status: StatusEnd, Data: data}
}

func Error(message string) Event {
	return Event{Status: StatusError, Data: ErrorData{Message: message}}
}

func Append(messages []backends.Message) Event {
	return Event{Status: StatusAppend, Data: AppendData{Messages: messages}}
}
