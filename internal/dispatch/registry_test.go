package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	noop := ModuleFunc(func(context.Context, interface{}, InvokeOptions) (Result, error) {
		return Succeeded(nil), nil
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register("webhook.send", noop, WithTimeout(5*time.Second)))
	require.NoError(t, reg.Register("log", noop))

	assert.Error(t, reg.Register("log", noop))
	assert.Error(t, reg.Register("Bad ID", noop))
	assert.Error(t, reg.Register("nil", nil))

	_, timeout, err := reg.Lookup("webhook.send")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)

	_, timeout, err = reg.Lookup("log")
	require.NoError(t, err)
	assert.Zero(t, timeout)

	_, _, err = reg.Lookup("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"log", "webhook.send"}, reg.IDs())
	assert.True(t, reg.Has("log"))
}

func TestValidModuleID(t *testing.T) {
	assert.True(t, ValidModuleID("noop"))
	assert.True(t, ValidModuleID("broker.publish"))
	assert.True(t, ValidModuleID("ticket_notes.add"))
	assert.False(t, ValidModuleID(""))
	assert.False(t, ValidModuleID("1abc"))
	assert.False(t, ValidModuleID("a..b"))
	assert.False(t, ValidModuleID("A"))
}
