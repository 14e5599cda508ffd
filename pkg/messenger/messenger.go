package messenger

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/ufo-core/pkg/log"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
	"github.com/rs/zerolog"
)

// MessageType is the wire-level request/reply discriminator.
type MessageType uint16

const (
	TypeInvalid MessageType = iota
	TypeStreamJSON
	TypeReplicateJSON
	TypeGetNumDevices
	TypeGetStructure
	TypeGetRequisition
	TypeSendInputs
	TypeGetResult
	TypeCleanup
	TypeTerminate
	TypeAck
)

func (t MessageType) String() string {
	switch t {
	case TypeStreamJSON:
		return "stream_json"
	case TypeReplicateJSON:
		return "replicate_json"
	case TypeGetNumDevices:
		return "get_num_devices"
	case TypeGetStructure:
		return "get_structure"
	case TypeGetRequisition:
		return "get_requisition"
	case TypeSendInputs:
		return "send_inputs"
	case TypeGetResult:
		return "get_result"
	case TypeCleanup:
		return "cleanup"
	case TypeTerminate:
		return "terminate"
	case TypeAck:
		return "ack"
	default:
		return "invalid"
	}
}

// MaxMessageSize bounds the declared data_size a peer may send, guarding
// against a corrupt or hostile length prefix driving an unbounded
// allocation.
const MaxMessageSize = 512 << 20 // 512 MiB

// Message is the wire unit: type:uint16 | data_size:uint64 | data:bytes.
// A fixed numeric type tag and an opaque byte payload; nothing more is
// needed for a strict one-request-one-reply conversation.
type Message struct {
	Type MessageType
	Data []byte
}

// Ack is the canonical success reply: reply type is always ack on success.
func Ack() *Message { return &Message{Type: TypeAck} }

// Messenger is the request/reply surface both daemon and remote-task proxy
// drive. RecvBlocking takes a context so a caller can unblock a pending
// receive by cancellation instead of a self-connect workaround.
type Messenger interface {
	SendBlocking(msg *Message) error
	RecvBlocking(ctx context.Context) (*Message, error)
	Close() error
}

// connMessenger adapts any net.Conn (TCP or an in-memory pipe) to
// Messenger.
type connMessenger struct {
	conn   net.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
}

func newConnMessenger(conn net.Conn) *connMessenger {
	return &connMessenger{conn: conn, logger: log.WithComponent("messenger")}
}

func (m *connMessenger) SendBlocking(msg *Message) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	var header [10]byte
	binary.BigEndian.PutUint16(header[0:2], uint16(msg.Type))
	binary.BigEndian.PutUint64(header[2:10], uint64(len(msg.Data)))

	if _, err := m.conn.Write(header[:]); err != nil {
		return ufoerr.Wrap(ufoerr.KindTransportFailed, "write message header", err)
	}
	if len(msg.Data) > 0 {
		if _, err := m.conn.Write(msg.Data); err != nil {
			return ufoerr.Wrap(ufoerr.KindTransportFailed, "write message body", err)
		}
	}
	return nil
}

// RecvBlocking reads the next message, or returns a transport_failed error
// if ctx is cancelled first: a background goroutine forces the read's
// deadline to expire, waking the blocked Read.
func (m *connMessenger) RecvBlocking(ctx context.Context) (*Message, error) {
	watchDone := make(chan struct{})
	defer close(watchDone)

	go func() {
		select {
		case <-ctx.Done():
			_ = m.conn.SetReadDeadline(time.Unix(0, 1))
		case <-watchDone:
		}
	}()

	var header [10]byte
	if _, err := io.ReadFull(m.conn, header[:]); err != nil {
		if ctx.Err() != nil {
			return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "receive cancelled", ctx.Err())
		}
		return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "read message header", err)
	}
	_ = m.conn.SetReadDeadline(time.Time{})

	typ := MessageType(binary.BigEndian.Uint16(header[0:2]))
	size := binary.BigEndian.Uint64(header[2:10])
	if size > MaxMessageSize {
		return nil, ufoerr.New(ufoerr.KindProtocolViolation, fmt.Sprintf("declared message size %d exceeds limit", size))
	}

	data := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(m.conn, data); err != nil {
			return nil, ufoerr.Wrap(ufoerr.KindTransportFailed, "read message body", err)
		}
	}
	return &Message{Type: typ, Data: data}, nil
}

func (m *connMessenger) Close() error {
	return m.conn.Close()
}
