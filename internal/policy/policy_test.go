package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/foreman/internal/fault"
)

func TestDefaultDenyAlwaysApplies(t *testing.T) {
	p := New(nil, nil)

	for _, path := range []string{
		".git/config",
		".foreman/locks/x.lock",
		"vendor/dep/go.lock",
	} {
		err := p.Check(path)
		require.Error(t, err, "path %q should be denied", path)
		assert.Equal(t, fault.KindPolicy, fault.Classify(err))
	}
}

func TestEscapingPathsRejected(t *testing.T) {
	p := New(nil, nil)
	for _, path := range []string{"../secrets.txt", "/etc/passwd", "a/../../b"} {
		require.Error(t, p.Check(path), "path %q should be rejected", path)
	}
}

func TestAllowListRestricts(t *testing.T) {
	p := New([]string{"src/**", "*.md"}, nil)

	assert.NoError(t, p.Check("src/main.go"))
	assert.NoError(t, p.Check("README.md"))
	assert.Error(t, p.Check("scripts/deploy.sh"))
}

func TestCustomDeny(t *testing.T) {
	p := New(nil, []string{"secrets/**"})
	assert.Error(t, p.Check("secrets/api_key.txt"))
	assert.NoError(t, p.Check("src/ok.go"))
}

func TestCheckAllReturnsFirstRejection(t *testing.T) {
	p := New(nil, nil)
	err := p.CheckAll([]string{"fine.go", ".git/HEAD", "also-fine.go"})
	require.Error(t, err)
	var pe *fault.PolicyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ".git/HEAD", pe.Path)
}
