package telegram

import (
	"sync"

	"halluclean/api/internal/llm"
	"halluclean/api/internal/pipeline"
)

// ModelManager keeps the backend tag each chat selected with /engine.
type ModelManager struct {
	def string
	m   sync.Map // chatID -> string
}

// NewModelManager starts every chat on defaultModel, or on
// pipeline.DefaultModel when that tag is not a hosted backend.
func NewModelManager(defaultModel string) *ModelManager {
	tag, ok := HostedEngine(defaultModel)
	if !ok {
		tag = pipeline.DefaultModel
	}
	return &ModelManager{def: tag}
}

// HostedEngine returns the canonical tag of a hosted backend. The bot has no
// local generator, so local tags and unknown tags report false.
func HostedEngine(tag string) (string, bool) {
	b, err := llm.ParseBackend(tag)
	if err != nil || !b.Hosted() {
		return "", false
	}
	return b.String(), true
}

func (m *ModelManager) Get(chatID int64) string {
	if v, ok := m.m.Load(chatID); ok {
		return v.(string)
	}
	return m.def
}

func (m *ModelManager) Set(chatID int64, tag string) {
	m.m.Store(chatID, tag)
}

var (
	pendingTask sync.Map // chatID -> pipeline.Task, set by a bare /<task>
	lastResult  sync.Map // chatID -> pipeline.PipelineResult
)

func setPending(chatID int64, t pipeline.Task) { pendingTask.Store(chatID, t) }

func takePending(chatID int64) (pipeline.Task, bool) {
	v, ok := pendingTask.LoadAndDelete(chatID)
	if !ok {
		return "", false
	}
	return v.(pipeline.Task), true
}
