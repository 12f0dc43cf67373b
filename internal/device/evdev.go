package device

import (
	"fmt"
	"sort"

	evdev "github.com/holoplot/go-evdev"
)

type evdevSampler struct {
	dev  *evdev.InputDevice
	name string
}

// OpenEvdev は holoplot/go-evdev でデバイスを開く
func OpenEvdev(path string) (Sampler, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open device file: %w", err)
	}

	name, err := dev.Name()
	if err != nil || name == "" {
		name = path
	}
	return &evdevSampler{dev: dev, name: name}, nil
}

func (s *evdevSampler) Name() string {
	return s.name
}

func (s *evdevSampler) Close() error {
	return s.dev.Close()
}

func (s *evdevSampler) Sample() ([]int, error) {
	state, err := s.dev.State(evdev.EV_KEY)
	if err != nil {
		return nil, fmt.Errorf("key state: %w", err)
	}

	pressed := make([]int, 0, len(state))
	for code, down := range state {
		if down {
			pressed = append(pressed, int(code))
		}
	}
	sort.Ints(pressed)
	return pressed, nil
}
