// ABOUTME: Listener package documentation
// ABOUTME: Plays microphone audio relayed from ESP32 devices
// Package listener connects to a relay as a consumer and plays the audio it
// forwards. Packets are reordered by sequence number in a small jitter buffer
// before reaching the output. Opus downlink is decoded locally.
//
// Example:
//
//	l, err := listener.New(listener.Config{
//	    ServerAddr: "localhost:8080",
//	    Volume:     80,
//	})
//	err = l.Connect(ctx)
//	err = l.MicOn()
//	<-l.Done()
package listener
