// Package camera manages a single video-capture device.
//
// It covers three concerns:
//   - ConfigStore: a JSON configuration file merged over defaults, with
//     dot-separated path access and save-on-write
//   - Session: the device handle plus one background capture loop with
//     bounded Start/Stop transitions
//   - Capture: one fresh frame encoded as a base64 JPEG inside a VL envelope
//
// Hardware access goes through the Opener, Device, Encoder and Display
// interfaces so the package can be tested without a camera. The gocv-backed
// implementation lives in the gocvdevice subpackage.
//
// Example usage:
//
//	store := camera.OpenConfigStore("config/camera_config.json", logger)
//	session, err := camera.NewSession(camera.Options{
//	    Store:   store,
//	    Opener:  gocvdevice.Opener{},
//	    Encoder: gocvdevice.Encoder{},
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := session.Start(ctx); err != nil {
//	    return err
//	}
//	defer session.Stop()
//
//	if msg, ok := session.CaptureSnapshot(); ok {
//	    send(msg)
//	}
package camera
