// ABOUTME: Relay package documentation
// ABOUTME: Fan-out of microphone audio from devices to listeners
// Package relay implements the microphone relay: a WebSocket server that
// accepts producers (microphone devices) and consumers (listeners), forwards
// audio frames from producers to every consumer, forwards control commands
// from consumers to every producer, and broadcasts an aggregate status.
//
// Example:
//
//	srv, err := relay.NewServer(relay.Config{Port: 8080}, relay.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	go srv.Start()
//	defer srv.Stop()
package relay
