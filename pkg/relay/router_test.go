// ABOUTME: Tests for relay routing
// ABOUTME: Audio fan-out, command delivery, reclassification, status and send failures
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Sendspin/micrelay/pkg/audio/decode"
	"github.com/Sendspin/micrelay/pkg/audio/encode"
	"github.com/Sendspin/micrelay/pkg/protocol"
)

func TestAudioFanOut(t *testing.T) {
	r := newTestRelay(RelayConfig{})

	producer, producerT := joinAs(r, "esp32")
	_, c1 := joinAs(r, "browser")
	_, c2 := joinAs(r, "browser")
	_, unclassified := join(r, "")

	frame, err := protocol.Encode(7, []int16{100, -200, 300})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	r.HandleMessage(producer, true, frame)

	for name, ft := range map[string]*fakeTransport{"c1": c1, "c2": c2} {
		frames := ft.binaryFrames()
		if len(frames) != 1 {
			t.Fatalf("%s: expected 1 frame, got %d", name, len(frames))
		}
		if !bytes.Equal(frames[0], frame) {
			t.Errorf("%s: frame should be forwarded unchanged", name)
		}
	}

	if n := len(unclassified.binaryFrames()); n != 0 {
		t.Errorf("unclassified peer should receive no audio, got %d frames", n)
	}
	if n := len(producerT.binaryFrames()); n != 0 {
		t.Errorf("sender should not receive its own audio, got %d frames", n)
	}
	if got := r.Registry().AudioPackets(); got != 1 {
		t.Errorf("expected 1 audio packet counted, got %d", got)
	}
}

func TestCommandWithoutProducer(t *testing.T) {
	r := newTestRelay(RelayConfig{})

	consumer, consumerT := joinAs(r, "browser")
	_, other := joinAs(r, "browser")
	other.reset()

	r.HandleMessage(consumer, false, []byte("mic_on"))

	errs := consumerT.messages(t, protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if errs[0]["message"] != NoProducersMessage {
		t.Errorf("unexpected message %v", errs[0]["message"])
	}
	if n := len(other.messages(t, protocol.TypeError)); n != 0 {
		t.Errorf("error should go to the sender only, other got %d", n)
	}
}

func TestCommandForwardedToProducers(t *testing.T) {
	tests := []struct {
		name    string
		message string
		token   string
	}{
		{"bare token", "mic_off", "mic_off"},
		{"token with whitespace", " flash \n", "flash"},
		{"json command", `{"type":"command","action":"mic_check"}`, "mic_check"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRelay(RelayConfig{})
			_, p1 := joinAs(r, "esp32")
			_, p2 := joinAs(r, "esp32")
			consumer, consumerT := joinAs(r, "browser")
			p1.reset()
			p2.reset()

			r.HandleMessage(consumer, false, []byte(tt.message))

			for name, ft := range map[string]*fakeTransport{"p1": p1, "p2": p2} {
				got := ft.textFrames()
				if len(got) != 1 || got[0] != tt.token {
					t.Errorf("%s: expected [%s], got %v", name, tt.token, got)
				}
			}
			if n := len(consumerT.messages(t, protocol.TypeError)); n != 0 {
				t.Errorf("expected no error, got %d", n)
			}
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	_, producer := joinAs(r, "esp32")
	consumer, consumerT := joinAs(r, "browser")
	producer.reset()

	r.HandleMessage(consumer, false, []byte(`{"type":"command","action":"reboot"}`))

	errs := consumerT.messages(t, protocol.TypeError)
	if len(errs) != 1 || errs[0]["message"] != "Unknown command: reboot" {
		t.Errorf("unexpected errors %v", errs)
	}
	if n := len(producer.textFrames()); n != 0 {
		t.Errorf("producer should receive nothing, got %d", n)
	}
}

func TestCommandFromProducerIgnored(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	p1, p1T := joinAs(r, "esp32")
	_, p2T := joinAs(r, "esp32")
	p1T.reset()
	p2T.reset()

	r.HandleMessage(p1, false, []byte("mic_on"))

	if n := len(p2T.textFrames()); n != 0 {
		t.Errorf("command from producer should not be forwarded, got %d frames", n)
	}
	if n := len(p1T.messages(t, protocol.TypeError)); n != 0 {
		t.Errorf("producer should not get an error, got %d", n)
	}
}

func TestUnclassifiedReclassification(t *testing.T) {
	r := newTestRelay(RelayConfig{})

	sender, _ := join(r, "")
	frame, _ := protocol.Encode(1, []int16{1})
	r.HandleMessage(sender, true, frame)
	if sender.Role() != RoleProducer {
		t.Errorf("unclassified binary sender should become producer, got %s", sender.Role())
	}

	commander, _ := join(r, "")
	r.HandleMessage(commander, false, []byte("mic_on"))
	if commander.Role() != RoleConsumer {
		t.Errorf("unclassified command sender should become consumer, got %s", commander.Role())
	}
}

func TestExplicitConsumerAudioIgnored(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	consumer, _ := joinAs(r, "browser")
	_, other := joinAs(r, "browser")
	other.reset()

	frame, _ := protocol.Encode(1, []int16{1, 2})
	r.HandleMessage(consumer, true, frame)

	if consumer.Role() != RoleConsumer {
		t.Errorf("explicit consumer must keep its role, got %s", consumer.Role())
	}
	if n := len(other.binaryFrames()); n != 0 {
		t.Errorf("audio from a consumer should not be forwarded, got %d", n)
	}
	if got := r.Registry().AudioPackets(); got != 0 {
		t.Errorf("expected no packets counted, got %d", got)
	}
}

func TestHeuristicRoleCorrected(t *testing.T) {
	r := newTestRelay(RelayConfig{})

	c, _ := join(r, "Mozilla/5.0 (X11; Linux x86_64)")
	if c.Role() != RoleConsumer {
		t.Fatalf("browser user agent should start as consumer, got %s", c.Role())
	}

	frame, _ := protocol.Encode(1, []int16{1})
	r.HandleMessage(c, true, frame)
	if c.Role() != RoleProducer {
		t.Errorf("heuristic consumer sending audio should become producer, got %s", c.Role())
	}
}

func TestHelloWelcome(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	c, ft := join(r, "")

	r.HandleMessage(c, false, []byte(`{"type":"hello","client":"browser","name":"desk"}`))

	welcomes := ft.messages(t, protocol.TypeWelcome)
	if len(welcomes) != 1 {
		t.Fatalf("expected 1 welcome, got %d", len(welcomes))
	}
	if welcomes[0]["id"] != c.ID || welcomes[0]["role"] != "consumer" {
		t.Errorf("unexpected welcome %v", welcomes[0])
	}
	if c.Name() != "desk" {
		t.Errorf("expected name desk, got %q", c.Name())
	}
	if status := ft.lastStatus(t); status.Consumers != 1 || status.BrowserClients != 1 {
		t.Errorf("status should count the consumer, got %+v", status)
	}
}

func TestDeviceInfoRelayed(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	_, consumer := joinAs(r, "browser")
	device, _ := join(r, "")
	consumer.reset()

	info := `{"type":"device_info","device":"ESP32-S3","mac":"aa:bb","rssi":-60}`
	r.HandleMessage(device, false, []byte(info))

	if device.Role() != RoleProducer {
		t.Errorf("device_info sender should be producer, got %s", device.Role())
	}
	if d := device.Device(); d == nil || d.MAC != "aa:bb" {
		t.Errorf("device info not stored: %+v", d)
	}
	if got := consumer.messages(t, protocol.TypeDeviceInfo); len(got) != 1 {
		t.Errorf("consumer should receive device_info, got %d", len(got))
	}

	// A heuristic guess cannot undo the explicit role
	r.HandleMessage(device, false, []byte("mic_on"))
	if device.Role() != RoleProducer {
		t.Errorf("explicit producer changed role to %s", device.Role())
	}
}

func TestTelemetryRelayed(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	_, consumer := joinAs(r, "browser")
	device, _ := join(r, "")
	consumer.reset()

	r.HandleMessage(device, false, []byte(`{"type":"info","message":"ESP32 microphone connected"}`))
	r.HandleMessage(device, false, []byte(`{"type":"mic_status","connected":true,"enabled":true}`))

	if device.Role() != RoleProducer {
		t.Errorf("telemetry sender should be producer, got %s", device.Role())
	}
	if n := len(consumer.messages(t, protocol.TypeInfo)); n != 1 {
		t.Errorf("expected 1 info, got %d", n)
	}
	if n := len(consumer.messages(t, protocol.TypeMicStatus)); n != 1 {
		t.Errorf("expected 1 mic_status, got %d", n)
	}
}

func TestStatusOnConnectAndDisconnect(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	_, observer := joinAs(r, "browser")
	producer, _ := joinAs(r, "esp32")

	status := observer.lastStatus(t)
	if status.Clients != 2 || status.Producers != 1 || status.ESP32Devices != 1 {
		t.Errorf("unexpected status after connect: %+v", status)
	}

	r.Disconnect(producer, "closed")
	status = observer.lastStatus(t)
	if status.Clients != 1 || status.Producers != 0 {
		t.Errorf("unexpected status after disconnect: %+v", status)
	}
}

func TestStatusEveryNPackets(t *testing.T) {
	r := newTestRelay(RelayConfig{StatusEveryPackets: 3})
	producer, _ := joinAs(r, "esp32")
	_, consumer := joinAs(r, "browser")
	consumer.reset()

	frame, _ := protocol.Encode(1, []int16{1})
	for i := 0; i < 2; i++ {
		r.HandleMessage(producer, true, frame)
	}
	if n := len(consumer.messages(t, protocol.TypeStatus)); n != 0 {
		t.Fatalf("expected no status before the third packet, got %d", n)
	}

	r.HandleMessage(producer, true, frame)
	statuses := consumer.messages(t, protocol.TypeStatus)
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0]["audioPackets"] != float64(3) {
		t.Errorf("expected audioPackets 3, got %v", statuses[0]["audioPackets"])
	}
}

func TestSendFailureUnregisters(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	producer, _ := joinAs(r, "esp32")
	broken, brokenT := joinAs(r, "browser")
	_, healthy := joinAs(r, "browser")
	healthy.reset()

	brokenT.setSendErr(errors.New("connection reset"))

	frame, _ := protocol.Encode(1, []int16{5})
	r.HandleMessage(producer, true, frame)

	if _, ok := r.Registry().Get(broken.ID); ok {
		t.Error("peer with failing send should be unregistered")
	}
	if !brokenT.isClosed() {
		t.Error("peer with failing send should be closed")
	}
	if n := len(healthy.binaryFrames()); n != 1 {
		t.Errorf("healthy consumer should still receive audio, got %d", n)
	}
	if status := healthy.lastStatus(t); status.Consumers != 1 {
		t.Errorf("status should reflect the removal, got %+v", status)
	}
}

func TestSendBufferFullKeepsPeer(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	producer, _ := joinAs(r, "esp32")
	slow, slowT := joinAs(r, "browser")
	slowT.setSendErr(ErrSendBufferFull)

	frame, _ := protocol.Encode(1, []int16{5})
	r.HandleMessage(producer, true, frame)

	if _, ok := r.Registry().Get(slow.ID); !ok {
		t.Error("slow peer should stay registered")
	}
	if got := slow.Stats().Dropped; got == 0 {
		t.Error("dropped frame should be counted")
	}
}

func TestADPCMReframedAsPCM(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	producer, _ := joinAs(r, "esp32")
	_, consumer := joinAs(r, "browser")

	pcm := []int16{0, 500, 1000, 1500, 2000}
	payload, err := encode.NewADPCM(encode.ADPCMConfig{}).Encode(pcm)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want, _ := decode.NewADPCM(decode.ADPCMConfig{}).Decode(payload)
	want = want[:len(pcm)]

	frame, err := protocol.EncodeADPCM(42, len(pcm), protocol.Checksum(want), payload)
	if err != nil {
		t.Fatalf("frame failed: %v", err)
	}
	r.HandleMessage(producer, true, frame)

	frames := consumer.binaryFrames()
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	pkt, err := protocol.Parse(frames[0])
	if err != nil {
		t.Fatalf("forwarded frame should be PCM: %v", err)
	}
	if pkt.Sequence != 42 {
		t.Errorf("expected seq 42, got %d", pkt.Sequence)
	}
	if len(pkt.Samples) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pkt.Samples))
	}
	for i := range want {
		if pkt.Samples[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], pkt.Samples[i])
		}
	}
	if pkt.ChecksumMismatch() {
		t.Error("re-framed packet should carry a matching checksum")
	}
}

func TestJSONForwardMode(t *testing.T) {
	r := newTestRelay(RelayConfig{ForwardMode: ForwardJSON, SampleRate: 16000})
	producer, _ := joinAs(r, "esp32")
	_, consumer := joinAs(r, "browser")

	frame, _ := protocol.Encode(9, []int16{3, -3})
	r.HandleMessage(producer, true, frame)

	if n := len(consumer.binaryFrames()); n != 0 {
		t.Errorf("json mode should not send binary, got %d", n)
	}

	var found bool
	for _, text := range consumer.textFrames() {
		var msg protocol.AudioJSON
		if err := json.Unmarshal([]byte(text), &msg); err != nil || msg.Type != protocol.TypeAudioJSON {
			continue
		}
		found = true
		if msg.Seq != 9 || msg.SampleRate != 16000 || len(msg.Data) != 2 || msg.Data[1] != -3 {
			t.Errorf("unexpected audio message %+v", msg)
		}
	}
	if !found {
		t.Error("expected a JSON audio message")
	}
}

func TestTruncatedPacketForwarded(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	producer, _ := joinAs(r, "esp32")
	_, consumer := joinAs(r, "browser")

	frame, _ := protocol.Encode(1, []int16{1, 2, 3, 4})
	short := frame[:len(frame)-4]
	r.HandleMessage(producer, true, short)

	frames := consumer.binaryFrames()
	if len(frames) != 1 || !bytes.Equal(frames[0], short) {
		t.Errorf("truncated frame should be forwarded as received")
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	sender, _ := join(r, "")
	_, consumer := joinAs(r, "browser")

	r.HandleMessage(sender, true, []byte{0x00, 0x01, 0x02})
	r.HandleMessage(sender, true, []byte{0x5A, 0x01, 0, 1, 0, 1, 0, 0, 0, 0})

	if _, ok := r.Registry().Get(sender.ID); !ok {
		t.Error("malformed frames must not close the connection")
	}
	if sender.Role() != RoleUnclassified {
		t.Errorf("malformed frames should not classify the sender, got %s", sender.Role())
	}
	if n := len(consumer.binaryFrames()); n != 0 {
		t.Errorf("malformed frames should not be forwarded, got %d", n)
	}
}

func TestCloseAll(t *testing.T) {
	r := newTestRelay(RelayConfig{})
	_, a := joinAs(r, "browser")
	_, b := joinAs(r, "esp32")

	r.CloseAll()

	if !a.isClosed() || !b.isClosed() {
		t.Error("all transports should be closed")
	}
	if n := r.Registry().Counts().Total; n != 0 {
		t.Errorf("registry should be empty, got %d", n)
	}
}
