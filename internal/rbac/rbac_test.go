package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerDefaultPolicy(t *testing.T) {
	c := NewChecker(nil)

	assert.True(t, c.Has(RoleMember, PermFilesDelete))
	assert.True(t, c.Has(RoleMember, PermFilesUpload))
	assert.True(t, c.Has(RoleAPIKey, PermFilesUpload))
	assert.True(t, c.Has(RoleAPIKey, PermFilesDownload))
	assert.False(t, c.Has(RoleAPIKey, PermFilesDelete))
	assert.True(t, c.Has(RoleAdmin, "anything:at-all"))
	assert.False(t, c.Has("guest", PermFilesList))
	assert.False(t, c.Has(RoleMember, "users:list"))
}

func TestCheckerCustomPolicyPrefix(t *testing.T) {
	c := NewChecker(map[string][]string{"viewer": {PermFilesList, "files:down*"}})

	assert.True(t, c.Has("viewer", PermFilesList))
	assert.True(t, c.Has("viewer", PermFilesDownload))
	assert.False(t, c.Has("viewer", PermFilesDelete))
	assert.False(t, c.Has(RoleMember, PermFilesList), "custom policy replaces the default")
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require(PermFilesDelete)(ok)

	cases := []struct {
		role string
		want int
	}{
		{RoleMember, http.StatusNoContent},
		{RoleAPIKey, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodDelete, "/files", nil)
		if tc.role != "" {
			req = req.WithContext(WithRole(context.Background(), tc.role))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, "role %q", tc.role)
	}
}
