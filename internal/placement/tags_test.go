package placement

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	zserrors "github.com/zonesync/zonesync/internal/errors"
)

func TestExtractReplicaCount(t *testing.T) {
	tests := []struct {
		name        string
		tags        map[string]string
		wantCount   int
		wantPresent bool
		wantErr     bool
	}{
		{
			name:        "canonical key",
			tags:        map[string]string{"replica-count": "3"},
			wantCount:   3,
			wantPresent: true,
		},
		{
			name:        "underscore synonym",
			tags:        map[string]string{"replica_count": "2"},
			wantCount:   2,
			wantPresent: true,
		},
		{
			name:        "replicas synonym",
			tags:        map[string]string{"replicas": "4"},
			wantCount:   4,
			wantPresent: true,
		},
		{
			name:        "header-style synonym",
			tags:        map[string]string{"x-replica-count": "2"},
			wantCount:   2,
			wantPresent: true,
		},
		{
			name:        "case insensitive match",
			tags:        map[string]string{"Replica-Count": "3"},
			wantCount:   3,
			wantPresent: true,
		},
		{
			name:        "higher priority synonym wins",
			tags:        map[string]string{"replicas": "5", "replica-count": "2"},
			wantCount:   2,
			wantPresent: true,
		},
		{
			name:        "value whitespace trimmed",
			tags:        map[string]string{"replica-count": " 3 "},
			wantCount:   3,
			wantPresent: true,
		},
		{
			name:        "absent",
			tags:        map[string]string{"env": "prod"},
			wantPresent: false,
		},
		{
			name:        "empty tag set",
			tags:        nil,
			wantPresent: false,
		},
		{
			name:        "non-numeric value",
			tags:        map[string]string{"replica-count": "many"},
			wantPresent: true,
			wantErr:     true,
		},
		{
			name:        "zero value",
			tags:        map[string]string{"replica-count": "0"},
			wantPresent: true,
			wantErr:     true,
		},
		{
			name:        "negative value",
			tags:        map[string]string{"replica-count": "-1"},
			wantPresent: true,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, present, err := ExtractReplicaCount(tt.tags)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractReplicaCount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, zserrors.ErrInvalidReplicaTag) {
				t.Errorf("error = %v, want ErrInvalidReplicaTag", err)
			}
			if present != tt.wantPresent {
				t.Errorf("present = %v, want %v", present, tt.wantPresent)
			}
			if !tt.wantErr && count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}
		})
	}
}

func TestValidateTagSet(t *testing.T) {
	oversized := make(map[string]string)
	for i := 0; i <= MaxTagsPerSet; i++ {
		oversized[fmt.Sprintf("key-%d", i)] = "v"
	}

	tests := []struct {
		name    string
		tags    map[string]string
		wantErr bool
	}{
		{"nil set", nil, false},
		{"small set", map[string]string{"env": "prod", "replica-count": "2"}, false},
		{"at limit", func() map[string]string {
			m := make(map[string]string)
			for i := 0; i < MaxTagsPerSet; i++ {
				m[fmt.Sprintf("key-%d", i)] = "v"
			}
			return m
		}(), false},
		{"too many tags", oversized, true},
		{"empty key", map[string]string{"": "v"}, true},
		{"key too long", map[string]string{strings.Repeat("k", MaxTagKeyLen+1): "v"}, true},
		{"value too long", map[string]string{"k": strings.Repeat("v", MaxTagValLen+1)}, true},
		{"key at limit", map[string]string{strings.Repeat("k", MaxTagKeyLen): "v"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTagSet(tt.tags)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTagSet() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManagementTags(t *testing.T) {
	tags := ManagementTags("Tenant A")

	if tags[ManagedTagKey] != ManagedTagVal {
		t.Errorf("missing managed marker tag")
	}
	if tags[TenantTagKey] != "tenant-a" {
		t.Errorf("tenant tag = %q, want sanitized %q", tags[TenantTagKey], "tenant-a")
	}
	if err := ValidateTagSet(tags); err != nil {
		t.Errorf("management tags violate tag limits: %v", err)
	}
}
