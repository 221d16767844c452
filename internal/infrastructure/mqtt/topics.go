package mqtt

import "strings"

// TopicPrefixCamera is the root of every camera topic. Topics are laid out
// per device: graylogic/camera/{device_id}/{kind}[/{sub}].
const TopicPrefixCamera = "graylogic/camera"

// Topics builds camera topic names so publishers and subscribers agree.
//
//	mqtt.Topics{}.CameraCommand("porch-cam") // graylogic/camera/porch-cam/command
type Topics struct{}

func cameraTopic(deviceID string, kind ...string) string {
	return TopicPrefixCamera + "/" + deviceID + "/" + strings.Join(kind, "/")
}

// CameraCommand is where controllers send start, stop, snapshot and config commands.
func (Topics) CameraCommand(deviceID string) string { return cameraTopic(deviceID, "command") }

// CameraAck carries command acknowledgements.
func (Topics) CameraAck(deviceID string) string { return cameraTopic(deviceID, "ack") }

// CameraStatus carries the retained session state.
func (Topics) CameraStatus(deviceID string) string { return cameraTopic(deviceID, "status") }

// CameraAvailability carries the retained online/offline marker, including
// the broker-published will.
func (Topics) CameraAvailability(deviceID string) string {
	return cameraTopic(deviceID, "availability")
}

// CameraSnapshot carries snapshot envelopes.
func (Topics) CameraSnapshot(deviceID string) string { return cameraTopic(deviceID, "snapshot") }

// CameraEvent carries one session event type, e.g. .../event/started.
func (Topics) CameraEvent(deviceID, eventType string) string {
	return cameraTopic(deviceID, "event", eventType)
}

// AllCameraCommands matches graylogic/camera/+/command.
func (Topics) AllCameraCommands() string { return cameraTopic("+", "command") }

// AllCameraEvents matches every event topic of one camera.
func (Topics) AllCameraEvents(deviceID string) string { return cameraTopic(deviceID, "event", "+") }

// AllCameraStatus matches graylogic/camera/+/status.
func (Topics) AllCameraStatus() string { return cameraTopic("+", "status") }

// AllCameraAvailability matches graylogic/camera/+/availability.
func (Topics) AllCameraAvailability() string { return cameraTopic("+", "availability") }

// AllTopics matches all camera traffic.
func (Topics) AllTopics() string { return TopicPrefixCamera + "/#" }
