package cache

import (
	"fmt"
	"strconv"
)

type CacheKey struct {
	Prefix string
	ID     string
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s", k.Prefix, k.ID)
}

func meetingKey(meetingID, field string) string {
	return CacheKey{Prefix: "meeting", ID: meetingID + ":" + field}.String()
}

// SegmentsKey is a sorted set of segments scored by start time
func SegmentsKey(meetingID string) string {
	return meetingKey(meetingID, "segments")
}

// SpeakersKey is a hash of speaker id to speaker
func SpeakersKey(meetingID string) string {
	return meetingKey(meetingID, "speakers")
}

func LiveTextKey(meetingID string) string {
	return meetingKey(meetingID, "live")
}

func ProgressKey(meetingID string) string {
	return meetingKey(meetingID, "progress")
}

// ChatActiveCacheKey marks a Telegram chat that receives meeting notifications
func ChatActiveCacheKey(chatID int64) string {
	return CacheKey{Prefix: "chat:active", ID: strconv.FormatInt(chatID, 10)}.String()
}
