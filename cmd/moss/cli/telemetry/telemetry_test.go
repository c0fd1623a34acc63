package telemetry

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Off(t *testing.T) {
	on, off := true, false
	tests := []struct {
		name    string
		optOut  string
		enabled *bool
	}{
		{"opted out", "1", &on},
		{"disabled in settings", "", &off},
		{"not configured", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(OptOutEnvVar, tt.optOut)
			_, ok := NewClient("1.0.0", tt.enabled).(NoOpClient)
			assert.True(t, ok, "expected NoOpClient")
		})
	}
}

func TestNoOpClient(_ *testing.T) {
	var c Client = NoOpClient{}
	c.Track(Event{Command: "moss undo"})
	c.Close()
}

func TestEventFor_SkipsHiddenAndNil(t *testing.T) {
	t.Parallel()
	_, ok := EventFor(nil, true, "ok")
	assert.False(t, ok)
	_, ok = EventFor(&cobra.Command{Use: "internal", Hidden: true}, true, "ok")
	assert.False(t, ok)
}

func TestEventFor_OnlyFlagNames(t *testing.T) {
	t.Parallel()
	root := &cobra.Command{Use: "moss"}
	undo := &cobra.Command{Use: "undo", Run: func(*cobra.Command, []string) {}}
	undo.Flags().String("path", "", "")
	undo.Flags().Bool("force", false, "")
	root.AddCommand(undo)
	require.NoError(t, undo.Flags().Set("path", "secret/file.txt"))

	ev, ok := EventFor(undo, true, "conflict")
	require.True(t, ok)
	assert.Equal(t, Event{Command: "moss undo", Flags: []string{"path"}, ShadowEnabled: true, Result: "conflict"}, ev)

	props := ev.properties()
	assert.Equal(t, "moss undo", props["command"])
	assert.Equal(t, "path", props["flags"])
	assert.Equal(t, true, props["shadow_enabled"])
	for _, v := range props {
		assert.NotEqual(t, "secret/file.txt", v)
	}
}
