package meeting

import (
	"fmt"
	"strings"
	"sync"
	"voxmeet/pkg/model"

	"github.com/google/uuid"
)

var speakerColors = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#EC4899",
	"#14B8A6",
	"#F97316",
}

// Registry holds the speakers of one meeting. Speakers are never removed.
// Exactly one speaker at a time is the active one used for automatic attribution.
type Registry struct {
	mu       sync.RWMutex
	speakers map[string]*model.Speaker
	order    []string
	active   string
	onCreate func(model.Speaker)
}

func NewRegistry() *Registry {
	return &Registry{
		speakers: make(map[string]*model.Speaker),
	}
}

// OnCreate sets a hook called (outside the lock) for every speaker made by Create
func (r *Registry) OnCreate(fn func(model.Speaker)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCreate = fn
}

// Register adds an externally created speaker. It returns false if the id is known.
func (r *Registry) Register(sp model.Speaker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sp.ID == "" {
		return false
	}
	if _, ok := r.speakers[sp.ID]; ok {
		return false
	}
	if sp.Color == "" {
		sp.Color = speakerColors[len(r.order)%len(speakerColors)]
	}
	if sp.Label == "" {
		sp.Label = r.nextLabelLocked()
	}
	r.speakers[sp.ID] = &sp
	r.order = append(r.order, sp.ID)
	return true
}

// Create makes a new speaker. An empty label gets the next free "Speaker N".
func (r *Registry) Create(label string) model.Speaker {
	r.mu.Lock()
	if label == "" {
		label = r.nextLabelLocked()
	}
	sp := &model.Speaker{
		ID:    uuid.New().String(),
		Label: label,
		Color: speakerColors[len(r.order)%len(speakerColors)],
	}
	r.speakers[sp.ID] = sp
	r.order = append(r.order, sp.ID)
	created := *sp
	hook := r.onCreate
	r.mu.Unlock()

	if hook != nil {
		hook(created)
	}
	return created
}

func (r *Registry) nextLabelLocked() string {
	for n := len(r.order) + 1; ; n++ {
		label := fmt.Sprintf("Speaker %d", n)
		if _, taken := r.findByLabelLocked(label); !taken {
			return label
		}
	}
}

func (r *Registry) Get(id string) (model.Speaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.speakers[id]
	if !ok {
		return model.Speaker{}, false
	}
	return *sp, true
}

// FindByLabel looks a speaker up by label, ignoring case
func (r *Registry) FindByLabel(label string) (model.Speaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findByLabelLocked(label)
}

func (r *Registry) findByLabelLocked(label string) (model.Speaker, bool) {
	for _, id := range r.order {
		if sp := r.speakers[id]; strings.EqualFold(sp.Label, label) {
			return *sp, true
		}
	}
	return model.Speaker{}, false
}

func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetActive makes a registered speaker the active one; unknown ids are ignored
func (r *Registry) SetActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.speakers[id]; !ok {
		return false
	}
	r.active = id
	return true
}

// AddSegment accumulates speaking statistics
func (r *Registry) AddSegment(id string, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sp, ok := r.speakers[id]
	if !ok {
		return
	}
	sp.SegmentCount++
	if durationMs > 0 {
		sp.TotalSpeakingTime += durationMs
	}
}

// Speakers returns copies in registration order
func (r *Registry) Speakers() []model.Speaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Speaker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.speakers[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
