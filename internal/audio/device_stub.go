//go:build !devices

package audio

// DefaultOutput is unavailable without the devices build tag.
func DefaultOutput() (Output, error) { return nil, ErrDeviceUnavailable }

// DefaultMicrophone is unavailable without the devices build tag.
func DefaultMicrophone() (Microphone, error) { return nil, ErrDeviceUnavailable }
