package rtp

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"

	"firestige.xyz/rtpscope/internal/core"
)

// ParseSdp extracts the payload type map from an SDP session description.
// Every format listed on an m= line is mapped; rtpmap attributes win over
// the static table, and formats with neither are skipped.
func ParseSdp(text string) (core.Sdp, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(text)); err != nil {
		return core.Sdp{}, fmt.Errorf("%w: %v", core.ErrMalformedSDP, err)
	}

	formats := make(map[uint8]core.PayloadFormat)
	for _, md := range sd.MediaDescriptions {
		for _, f := range md.MediaName.Formats {
			n, err := strconv.ParseUint(f, 10, 7)
			if err != nil {
				continue // non-RTP formats such as "webrtc-datachannel"
			}
			pt := uint8(n)
			if _, seen := formats[pt]; seen {
				continue
			}

			codec, err := sd.GetCodecForPayloadType(pt)
			if err == nil && codec.ClockRate != 0 {
				formats[pt] = core.PayloadFormat{
					Name:      codec.Name,
					ClockRate: codec.ClockRate,
					Channels:  channels(codec.EncodingParameters),
				}
				continue
			}
			if static, ok := StaticFormat(pt); ok {
				formats[pt] = static
			}
		}
	}

	if len(formats) == 0 {
		return core.Sdp{}, fmt.Errorf("%w: no rtp payload formats", core.ErrMalformedSDP)
	}
	return core.Sdp{Formats: formats}, nil
}

func channels(params string) uint16 {
	if params == "" {
		return 1
	}
	n, err := strconv.ParseUint(params, 10, 16)
	if err != nil || n == 0 {
		return 1
	}
	return uint16(n)
}
