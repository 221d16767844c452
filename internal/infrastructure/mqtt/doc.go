// Package mqtt provides MQTT client connectivity for the camera service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// Each camera node owns a subtree keyed by its device ID:
//
//	graylogic/camera/{device_id}/command    controllers -> camera
//	graylogic/camera/{device_id}/ack        command results
//	graylogic/camera/{device_id}/status     retained session stats
//	graylogic/camera/{device_id}/snapshot   VL envelopes
//	graylogic/camera/{device_id}/event/{t}  session events
//	graylogic/camera/{device_id}/availability  retained online/offline, also the LWT
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.CameraCommand("porch-cam"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command: %s", payload)
//	        return nil
//	    })
package mqtt
