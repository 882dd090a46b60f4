package fetcher

import (
	"testing"

	"secbrief/internal/store"
)

func TestShouldEmit(t *testing.T) {
	tests := []struct {
		name       string
		known      bool
		prev       store.RepoState
		stars      int
		releaseTag string
		wantEmit   bool
		wantReason string
	}{
		{
			name:       "unknown repo always emits",
			known:      false,
			stars:      10,
			wantEmit:   true,
			wantReason: "first_seen",
		},
		{
			name:       "new release tag emits",
			known:      true,
			prev:       store.RepoState{Stars: 100, ReleaseTag: "v1.0.0"},
			stars:      100,
			releaseTag: "v1.1.0",
			wantEmit:   true,
			wantReason: "release_changed",
		},
		{
			name:       "star growth over the ratio emits",
			known:      true,
			prev:       store.RepoState{Stars: 100, ReleaseTag: "v1.0.0"},
			stars:      125,
			releaseTag: "v1.0.0",
			wantEmit:   true,
			wantReason: "star_growth",
		},
		{
			name:       "growth under the ratio is quiet",
			known:      true,
			prev:       store.RepoState{Stars: 100, ReleaseTag: "v1.0.0"},
			stars:      110,
			releaseTag: "v1.0.0",
			wantEmit:   false,
		},
		{
			name:     "zero previous stars never counts as growth",
			known:    true,
			prev:     store.RepoState{Stars: 0},
			stars:    500,
			wantEmit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emit, reason := shouldEmit(tt.known, tt.prev, tt.stars, tt.releaseTag, 0.2)
			if emit != tt.wantEmit {
				t.Errorf("emit = %v, want %v", emit, tt.wantEmit)
			}
			if emit && reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}
