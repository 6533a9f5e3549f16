package preflight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"InboxRPA/internal/domain"
)

type fakeStats struct {
	memory, disk       uint64
	memoryErr, diskErr error
}

func (f fakeStats) AvailableMemory(context.Context) (uint64, error) { return f.memory, f.memoryErr }
func (f fakeStats) FreeDisk(context.Context, string) (uint64, error) {
	return f.disk, f.diskErr
}

var validCreds = Credentials{User: "robot@example.com", Password: "s3cretpass", Server: "imap.example.com"}

func TestCheck(t *testing.T) {
	t.Parallel()

	plenty := fakeStats{memory: 2048 * mib, disk: 4096 * mib}

	tests := []struct {
		name    string
		creds   Credentials
		stats   fakeStats
		wantErr string
	}{
		{name: "all good", creds: validCreds, stats: plenty},
		{name: "user without at", creds: Credentials{User: "robot", Password: "s3cretpass", Server: "imap"}, stats: plenty, wantErr: "must be an address"},
		{name: "short password", creds: Credentials{User: "a@b", Password: "short", Server: "imap"}, stats: plenty, wantErr: "at least 8"},
		{name: "missing server", creds: Credentials{User: "a@b", Password: "longenough"}, stats: plenty, wantErr: "imap server"},
		{name: "low memory", creds: validCreds, stats: fakeStats{memory: 100 * mib, disk: 4096 * mib}, wantErr: "available memory"},
		{name: "low disk", creds: validCreds, stats: fakeStats{memory: 2048 * mib, disk: 10 * mib}, wantErr: "free disk"},
		{name: "unreadable stats are skipped", creds: validCreds, stats: fakeStats{memoryErr: errors.New("no /proc"), diskErr: errors.New("no statfs")}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := NewChecker(tt.creds, nil, WithStats(tt.stats), WithDiskPath("/")).Check(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if !domain.IsKind(err, domain.KindConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}
