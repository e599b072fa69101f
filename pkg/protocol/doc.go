// ABOUTME: Mic relay wire protocol package
// ABOUTME: Defines audio framing, control messages and the consumer client
// Package protocol implements the mic relay wire protocol.
//
// Audio travels as binary frames with an 8-byte big-endian header (magic
// 0xA5, type, sequence, sample count, checksum). Control and status travel
// as JSON text messages, and commands as bare text tokens.
//
// Example:
//
//	client := protocol.NewClient(protocol.ClientConfig{ServerAddr: "relay.local:8080"})
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	for pkt := range client.Packets {
//	    play(pkt.Samples)
//	}
package protocol
