package sway

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType is an i3-ipc message or reply type.
type MessageType uint32

const (
	MessageRunCommand    MessageType = 0
	MessageGetWorkspaces MessageType = 1
	MessageSubscribe     MessageType = 2
	MessageGetOutputs    MessageType = 3
	MessageGetTree       MessageType = 4
	MessageGetVersion    MessageType = 7
)

// Event types have the high bit set.
const eventBit MessageType = 1 << 31

const (
	EventWorkspace MessageType = eventBit | 0
	EventOutput    MessageType = eventBit | 1
	EventMode      MessageType = eventBit | 2
	EventWindow    MessageType = eventBit | 3
	EventShutdown  MessageType = eventBit | 6
)

// IsEvent reports whether t is an event rather than a reply.
func (t MessageType) IsEvent() bool {
	return t&eventBit != 0
}

const (
	magic      = "i3-ipc"
	headerSize = len(magic) + 8
	// maxPayload bounds a single message; GET_TREE on a busy session is a
	// few hundred KiB.
	maxPayload = 64 << 20
)

var errBadMagic = errors.New("sway ipc: bad magic")

// writeMessage frames payload as <magic><len><type><payload>, integers in
// native (little-endian) byte order.
func writeMessage(w io.Writer, t MessageType, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	copy(buf, magic)
	binary.LittleEndian.PutUint32(buf[len(magic):], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[len(magic)+4:], uint32(t))
	copy(buf[headerSize:], payload)
	_, err := w.Write(buf)
	return err
}

// readMessage reads one framed message.
func readMessage(r io.Reader) (MessageType, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if string(header[:len(magic)]) != magic {
		return 0, nil, errBadMagic
	}
	size := binary.LittleEndian.Uint32(header[len(magic):])
	t := MessageType(binary.LittleEndian.Uint32(header[len(magic)+4:]))
	if size > maxPayload {
		return 0, nil, fmt.Errorf("sway ipc: message of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("sway ipc: short payload: %w", err)
	}
	return t, payload, nil
}

// rawNode is the GET_TREE node shape. Fields that sway omits for non-window
// containers decode to their zero values.
type rawNode struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	PID           int       `json:"pid"`
	Visible       *bool     `json:"visible"`
	Focused       bool      `json:"focused"`
	AppID         string    `json:"app_id"`
	Nodes         []rawNode `json:"nodes"`
	FloatingNodes []rawNode `json:"floating_nodes"`
}

type rawWindowEvent struct {
	Change    string `json:"change"`
	Container struct {
		ID int64 `json:"id"`
	} `json:"container"`
}

type rawSuccess struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
