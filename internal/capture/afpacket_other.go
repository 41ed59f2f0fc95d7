//go:build !linux

package capture

import "errors"

func openAFPacket(string, Options) (Capturer, error) {
	return nil, errors.New("afpacket engine is only available on linux")
}
