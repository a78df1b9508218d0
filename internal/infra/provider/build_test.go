package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmux/internal/config"
	coreprovider "modelmux/internal/provider"
)

func TestBuildRegistry_StaticProviders(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{ID: "echo-1", Type: "static"},
			{ID: "echo-2", Type: "static", Model: "canned answer"},
		},
	}

	registry, err := BuildRegistry(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo-1", "echo-2"}, registry.IDs())

	p, ok := registry.Get("echo-2")
	require.True(t, ok)
	resp, err := p.Call(context.Background(), coreprovider.CallRequest{})
	require.NoError(t, err)
	assert.Equal(t, "canned answer", resp.Content)
}

func TestBuildRegistry_DuplicateID(t *testing.T) {
	cfg := &config.Config{
		Providers: []config.Provider{
			{ID: "echo", Type: "static"},
			{ID: "echo", Type: "static"},
		},
	}

	_, err := BuildRegistry(cfg)
	assert.Error(t, err)
}

func TestStatic_DefaultsAndHealth(t *testing.T) {
	s := NewStatic("echo", "")

	resp, err := s.Call(context.Background(), coreprovider.CallRequest{
		Messages: []coreprovider.Message{{Role: coreprovider.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.Zero(t, resp.TokensUsed.Input)

	status, err := s.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
