package nfi

import (
	"strings"
)

const MinQueryLength = 2

type MatchType string

const (
	HostMatch    MatchType = "host"
	ContentMatch MatchType = "content"
)

type SearchResult struct {
	MatchType MatchType `json:"match_type"`
	HostID    uint      `json:"host_id"`
	Hostname  string    `json:"hostname"`
	ScanID    *uint     `json:"scan_id,omitempty"`
	Snippet   string    `json:"snippet"`
}

// Search looks the query up in host metadata and in stored snapshots, case
// insensitively. Host matches come first.
func (s *Service) Search(query string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return nil, nil
	}

	hosts, err := s.repos.hosts.searchHosts(query)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, h := range hosts {
		text := h.Hostname
		if !strings.Contains(strings.ToLower(text), strings.ToLower(query)) {
			text = h.Address
		}
		results = append(results, SearchResult{
			MatchType: HostMatch,
			HostID:    h.ID,
			Hostname:  h.Hostname,
			Snippet:   snippet(text, query),
		})
	}

	snaps, err := s.repos.snapshots.searchSnapshots(query)
	if err != nil {
		return nil, err
	}

	names := make(map[uint]string)
	for _, snap := range snaps {
		name, ok := names[snap.HostID]
		if !ok {
			if h, err := s.repos.hosts.getHost(snap.HostID); err == nil {
				name = h.Hostname
			}
			names[snap.HostID] = name
		}

		results = append(results, SearchResult{
			MatchType: ContentMatch,
			HostID:    snap.HostID,
			Hostname:  name,
			ScanID:    &snap.ID,
			Snippet:   snippet(string(snap.Data), query),
		})
	}
	return results, nil
}
