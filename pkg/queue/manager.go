package queue

import (
	"sync"

	"github.com/seqlab/nanotrack/pkg/models"
)

// Manager owns one StageQueue per canonical stage plus the per-stage pause
// flags. Pausing a stage stops dispatch from its queue; steps already running
// are unaffected.
type Manager struct {
	queues map[models.Stage]*StageQueue

	mu            sync.RWMutex
	paused        map[models.Stage]bool
	pausedSamples map[string]bool
}

// NewManager creates a queue per canonical stage. stableOrdering selects the
// deterministic tie-break within a priority rank, normally on via the
// queue_ordering_stable setting.
func NewManager(stableOrdering bool) *Manager {
	queues := make(map[models.Stage]*StageQueue, len(models.CanonicalStages))
	for _, stage := range models.CanonicalStages {
		queues[stage] = NewStageQueue(stableOrdering)
	}
	return &Manager{
		queues:        queues,
		paused:        make(map[models.Stage]bool),
		pausedSamples: make(map[string]bool),
	}
}

// Queue returns the queue for a stage, or nil for an unknown stage.
func (m *Manager) Queue(stage models.Stage) *StageQueue {
	return m.queues[stage]
}

// Pause marks a stage as paused. Returns false for an unknown stage.
func (m *Manager) Pause(stage models.Stage) bool {
	if _, ok := m.queues[stage]; !ok {
		return false
	}
	m.mu.Lock()
	m.paused[stage] = true
	m.mu.Unlock()
	return true
}

// Resume clears a stage's pause flag. Returns false for an unknown stage.
func (m *Manager) Resume(stage models.Stage) bool {
	if _, ok := m.queues[stage]; !ok {
		return false
	}
	m.mu.Lock()
	delete(m.paused, stage)
	m.mu.Unlock()
	return true
}

// Paused reports whether a stage is paused.
func (m *Manager) Paused(stage models.Stage) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[stage]
}

// PausedStages lists the currently paused stages in canonical order.
func (m *Manager) PausedStages() []models.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stages []models.Stage
	for _, stage := range models.CanonicalStages {
		if m.paused[stage] {
			stages = append(stages, stage)
		}
	}
	return stages
}

// PauseSample marks a sample as paused so the reconciler stops feeding its
// steps back into the queues.
func (m *Manager) PauseSample(sampleID string) {
	m.mu.Lock()
	m.pausedSamples[sampleID] = true
	m.mu.Unlock()
}

// ResumeSample clears a sample's pause flag.
func (m *Manager) ResumeSample(sampleID string) {
	m.mu.Lock()
	delete(m.pausedSamples, sampleID)
	m.mu.Unlock()
}

// SamplePaused reports whether a sample is paused.
func (m *Manager) SamplePaused(sampleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pausedSamples[sampleID]
}

// Depths returns the current queue depth per stage.
func (m *Manager) Depths() map[models.Stage]int {
	depths := make(map[models.Stage]int, len(m.queues))
	for stage, q := range m.queues {
		depths[stage] = q.Len()
	}
	return depths
}

// RemoveStep drops a step id from whichever queue holds it.
func (m *Manager) RemoveStep(stepID string) bool {
	for _, q := range m.queues {
		if q.Remove(stepID) {
			return true
		}
	}
	return false
}
