package catalog

import (
	"context"
	"fmt"
	"strings"
)

// StaticService serves a fixed track list from memory. It is the fixture
// variant used by tests where no upstream provider is reachable.
type StaticService struct {
	tracks  []Track
	streams map[string]StreamInfo
}

// NewStaticService constructs the fixture-backed catalog variant.
func NewStaticService(tracks []Track, streams map[string]StreamInfo) *StaticService {
	if streams == nil {
		streams = make(map[string]StreamInfo)
	}
	return &StaticService{tracks: tracks, streams: streams}
}

func (s *StaticService) SearchTracks(_ context.Context, _, query string, offset int) ([]Track, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	matched := make([]Track, 0)
	for _, track := range s.tracks {
		if query == "" ||
			strings.Contains(strings.ToLower(track.Title), query) ||
			strings.Contains(strings.ToLower(track.Artist), query) {
			matched = append(matched, track)
		}
	}
	if offset >= len(matched) {
		return []Track{}, nil
	}
	return matched[offset:], nil
}

func (s *StaticService) StreamTrack(_ context.Context, _, trackID string) (StreamInfo, error) {
	info, ok := s.streams[trackID]
	if !ok {
		return StreamInfo{}, fmt.Errorf("track %s has no stream", trackID)
	}
	return info, nil
}

func (s *StaticService) Close() error {
	return nil
}
