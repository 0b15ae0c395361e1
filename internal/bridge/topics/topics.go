// Package topics centralises the topic naming scheme shared between the API
// side (dispatcher, relay) and the executor processes. Both sides must agree
// on these names, so nothing outside this package builds topic strings.
package topics

import "fmt"

// DefaultEventsTopic is the shared stream the executor publishes lifecycle and
// domain events on. Routing happens on the envelope, not the topic name, so a
// single relay subscription covers every channel regardless of transport
// wildcard support.
const DefaultEventsTopic = "channel.events"

// CommandRequest names the topic an executor subscribes to for one command
// kind on one channel. Exactly one executor owns a channel's live connection,
// so the subscription set is stable per process.
func CommandRequest(command, channelID string) string {
	return fmt.Sprintf("cmd.%s.%s", command, channelID)
}

// CommandResponses names the per-dispatcher reply topic. Requests carry it as
// reply-to metadata; one shared subscription per dispatcher demultiplexes
// responses by correlation id.
func CommandResponses(instanceID string) string {
	return "cmd.responses." + instanceID
}

// ChannelRoom names the real-time room scoped to a single channel.
func ChannelRoom(channelID string) string {
	return "room.channel." + channelID
}

// OrgRoom names the real-time room scoped to an organization.
func OrgRoom(orgID string) string {
	return "room.org." + orgID
}
