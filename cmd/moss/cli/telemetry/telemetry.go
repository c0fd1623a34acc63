// Package telemetry sends anonymous, opt-in command usage events. An event
// carries the command path, the names of the flags that were set and a
// result kind. Flag values, file paths and content are never sent.
package telemetry

import (
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// OptOutEnvVar disables telemetry regardless of settings when set to any value.
const OptOutEnvVar = "MOSS_TELEMETRY_OPTOUT"

const eventName = "moss_command"

// Overridden at build time with -ldflags -X.
var (
	PostHogAPIKey   = "phc_development_key"
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// Event is one executed command.
type Event struct {
	Command       string
	Flags         []string
	ShadowEnabled bool
	// Result is an error kind such as "ok", "conflict" or "nothing_to_undo".
	Result string
}

// EventFor builds the event for cmd. It reports false for commands that
// are not tracked.
func EventFor(cmd *cobra.Command, shadowEnabled bool, result string) (Event, bool) {
	if cmd == nil || cmd.Hidden {
		return Event{}, false
	}
	ev := Event{Command: cmd.CommandPath(), ShadowEnabled: shadowEnabled, Result: result}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		ev.Flags = append(ev.Flags, f.Name)
	})
	return ev, true
}

func (e Event) properties() posthog.Properties {
	props := posthog.NewProperties().
		Set("command", e.Command).
		Set("shadow_enabled", e.ShadowEnabled).
		Set("result", e.Result)
	if len(e.Flags) > 0 {
		props.Set("flags", strings.Join(e.Flags, ","))
	}
	return props
}

// Client sends events. Sending is best effort and never reports errors.
type Client interface {
	Track(ev Event)
	Close()
}

// NoOpClient drops every event.
type NoOpClient struct{}

func (NoOpClient) Track(Event) {}
func (NoOpClient) Close()      {}

type posthogClient struct {
	client     posthog.Client
	distinctID string
}

func (p *posthogClient) Track(ev Event) {
	//nolint:errcheck // best effort
	_ = p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      eventName,
		Properties: ev.properties(),
	})
}

func (p *posthogClient) Close() {
	_ = p.client.Close()
}

// NewClient returns a PostHog-backed client when telemetry is switched on in
// settings and not opted out through the environment. enabled is nil when
// the setting was never configured, which counts as off.
//
//nolint:ireturn // NoOpClient or the PostHog client
func NewClient(version string, enabled *bool) Client {
	if os.Getenv(OptOutEnvVar) != "" || enabled == nil || !*enabled {
		return NoOpClient{}
	}
	id, err := machineid.ProtectedID("moss")
	if err != nil {
		return NoOpClient{}
	}
	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    100 * time.Millisecond,
		BatchUploadTimeout: 200 * time.Millisecond,
		Transport:          quickTransport(),
		Logger:             quietLogger{},
		DisableGeoIP:       posthog.Ptr(true),
		DefaultEventProperties: posthog.NewProperties().
			Set("cli_version", version).
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	})
	if err != nil {
		return NoOpClient{}
	}
	return &posthogClient{client: client, distinctID: id}
}

// quickTransport gives up fast so an unreachable endpoint cannot hold up
// the command's exit.
func quickTransport() *http.Transport {
	const timeout = 100 * time.Millisecond
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
}

type quietLogger struct{}

func (quietLogger) Logf(string, ...interface{})   {}
func (quietLogger) Debugf(string, ...interface{}) {}
func (quietLogger) Warnf(string, ...interface{})  {}
func (quietLogger) Errorf(string, ...interface{}) {}
