package tenant

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_Validate(t *testing.T) {
	tests := []struct {
		name      string
		tenantID  string
		projectID string
		wantErr   error
	}{
		{name: "uuids", tenantID: "7d9f3a52-1c2b-4c3d-9e8f-0a1b2c3d4e5f", projectID: "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0"},
		{name: "slugs", tenantID: "acme", projectID: "handbook-2024"},
		{name: "mixed case", tenantID: "Acme", projectID: "HR"},
		{name: "empty tenant", tenantID: "", projectID: "p", wantErr: ErrInvalidTenantID},
		{name: "empty project", tenantID: "t", projectID: "", wantErr: ErrInvalidProjectID},
		{name: "underscore in tenant", tenantID: "a_b", projectID: "p", wantErr: ErrInvalidTenantID},
		{name: "colon in project", tenantID: "t", projectID: "p:1", wantErr: ErrInvalidProjectID},
		{name: "leading hyphen", tenantID: "-t", projectID: "p", wantErr: ErrInvalidTenantID},
		{name: "too long", tenantID: strings.Repeat("a", MaxIDLength+1), projectID: "p", wantErr: ErrInvalidTenantID},
		{name: "path traversal", tenantID: "t", projectID: "../p", wantErr: ErrInvalidProjectID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.tenantID, tt.projectID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestScope_NamespaceIsInjective(t *testing.T) {
	scopes := []Scope{
		{TenantID: "a", ProjectID: "b-c"},
		{TenantID: "a-b", ProjectID: "c"},
		{TenantID: "ab", ProjectID: "c"},
		{TenantID: "a", ProjectID: "bc"},
		{TenantID: "Acme", ProjectID: "hr"},
		{TenantID: "acme", ProjectID: "hr"},
	}

	seen := make(map[string]Scope)
	for _, s := range scopes {
		require.NoError(t, s.Validate())
		ns := s.Namespace()
		if prev, ok := seen[ns]; ok {
			t.Fatalf("namespace %q shared by %v and %v", ns, prev, s)
		}
		seen[ns] = s
	}
}

func TestScope_Namespace(t *testing.T) {
	s := Scope{TenantID: "acme", ProjectID: "handbook"}
	assert.Equal(t, "acme_handbook", s.Namespace())
	assert.Equal(t, s.Namespace(), s.Namespace())
}

func TestCheckScope(t *testing.T) {
	target := Scope{TenantID: "acme", ProjectID: "handbook"}

	t.Run("no scope in context", func(t *testing.T) {
		assert.NoError(t, CheckScope(context.Background(), target))
	})

	t.Run("same tenant", func(t *testing.T) {
		ctx := WithScope(context.Background(), Scope{TenantID: "acme", ProjectID: "other"})
		assert.NoError(t, CheckScope(ctx, target))
	})

	t.Run("different tenant", func(t *testing.T) {
		ctx := WithScope(context.Background(), Scope{TenantID: "globex", ProjectID: "handbook"})
		assert.ErrorIs(t, CheckScope(ctx, target), ErrScopeMismatch)
	})
}

func TestFromContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	want := Scope{TenantID: "acme", ProjectID: "handbook"}
	got, ok := FromContext(WithScope(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}
