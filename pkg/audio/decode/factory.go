// ABOUTME: Decoder selection by codec name
// ABOUTME: Maps a stream format to the matching Decoder implementation
package decode

import (
	"fmt"

	"github.com/Sendspin/micrelay/pkg/audio"
)

// New returns a decoder for format.Codec. ADPCM decoders reset per buffer.
func New(format audio.Format) (Decoder, error) {
	switch format.Codec {
	case audio.CodecPCM:
		return NewPCM(format)
	case audio.CodecADPCM:
		return NewADPCM(ADPCMConfig{}), nil
	case audio.CodecOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported codec: %s", format.Codec)
	}
}
