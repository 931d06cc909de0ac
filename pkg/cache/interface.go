package cache

import (
	"context"
	"time"
	"voxmeet/pkg/model"
)

// Cache defines the interface for cache operations
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}) error
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// Progress is the last reported completion count of a meeting
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Transcript is the live, readable-while-running view of a meeting
type Transcript interface {
	AddSegment(ctx context.Context, meetingID string, seg model.Segment) error
	Segments(ctx context.Context, meetingID string) ([]model.Segment, error)
	SaveSpeaker(ctx context.Context, meetingID string, sp model.Speaker) error
	SetLiveText(ctx context.Context, meetingID, text string) error
	SetProgress(ctx context.Context, meetingID string, p Progress) error
}
