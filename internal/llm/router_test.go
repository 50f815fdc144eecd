package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/llm"
)

type fakeProvider struct {
	name   string
	secret string
	model  string
}

func (f *fakeProvider) Name() string         { return f.name }
func (f *fakeProvider) DefaultModel() string { return f.model }
func (f *fakeProvider) IsConfigured() bool   { return f.secret != "" }
func (f *fakeProvider) Analyze(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeProvider) GenerateFix(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeProvider) Chat(context.Context, []llm.Message, llm.ChatOptions, *llm.Callbacks) (string, error) {
	return "", nil
}

func TestRouter(t *testing.T) {
	r := llm.NewRouter("alpha")
	r.RegisterProvider(&fakeProvider{name: "alpha", secret: "k", model: "a1"})
	r.RegisterProvider(&fakeProvider{name: "beta", model: "b1"})

	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "alpha", p.Name())

	// unconfigured providers are still routable
	p, err = r.GetProvider("beta")
	require.NoError(t, err)
	assert.False(t, p.IsConfigured())

	_, err = r.GetProvider("gamma")
	assert.Error(t, err)

	assert.Equal(t, []string{"alpha"}, r.ListProviders())

	infos := r.GetProvidersInfo()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.True(t, infos[0].Default)
	assert.Equal(t, "b1", infos[1].Model)
}

func TestRouter_Rotate(t *testing.T) {
	r := llm.NewRouter("beta")
	r.RegisterFactory("beta", func(secret, model string) llm.Provider {
		return &fakeProvider{name: "beta", secret: secret, model: model}
	})

	_, err := r.Rotate("missing", "x", "")
	assert.Error(t, err)

	p, err := r.Rotate("beta", "new-secret", "b2")
	require.NoError(t, err)
	assert.True(t, p.IsConfigured())

	got, err := r.GetProvider("beta")
	require.NoError(t, err)
	assert.Equal(t, "b2", got.DefaultModel())
}
