package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// LineCamera adapts a keyboard-wedge or serial handheld scanner, which emits
// one decoded value per line, to the Camera interface.
type LineCamera struct {
	device Device
	src    io.Reader

	readOnce sync.Once
	mu       sync.Mutex
	active   *lineHandle
	nextID   int
	readErr  error
}

type lineHandle struct {
	id        int
	onDecoded func(string)
}

func NewLineCamera(src io.Reader, label string) *LineCamera {
	if label == "" {
		label = "line scanner"
	}
	return &LineCamera{src: src, device: Device{ID: "line-0", Label: label}}
}

func (c *LineCamera) Enumerate(context.Context) ([]Device, error) {
	if c.src == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, nil
	}
	return []Device{c.device}, nil
}

func (c *LineCamera) Start(_ context.Context, device Device, onDecoded func(string)) (Handle, error) {
	if device.ID != c.device.ID {
		return nil, errors.New("unknown device")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return nil, errors.New("device already in use")
	}
	if c.readErr != nil {
		return nil, c.readErr
	}
	c.nextID++
	c.active = &lineHandle{id: c.nextID, onDecoded: onDecoded}
	c.readOnce.Do(func() { go c.read() })
	return c.active, nil
}

func (c *LineCamera) Stop(_ context.Context, handle Handle) error {
	h, ok := handle.(*lineHandle)
	if !ok {
		return errors.New("foreign handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.id != h.id {
		return errors.New("handle is not running")
	}
	c.active = nil
	return nil
}

func (c *LineCamera) read() {
	scanner := bufio.NewScanner(c.src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.mu.Lock()
		var cb func(string)
		if c.active != nil {
			cb = c.active.onDecoded
		}
		c.mu.Unlock()
		if cb != nil {
			cb(line)
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}
