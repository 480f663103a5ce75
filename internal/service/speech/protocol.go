package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎语音 WebSocket 二进制帧：
//
//	4 字节 header | [sequence] | [event, session id, connect id] | [error code] | payload size | payload
//
// 所有整数均为大端序。

// ProtocolVersion 二进制协议版本
const ProtocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// MessageFlags 消息标志，低两位描述 sequence，第三位表示携带事件。
type MessageFlags uint8

const (
	NoSequenceNumber       MessageFlags = 0b0000
	PositiveSequenceNumber MessageFlags = 0b0001
	LastPacketNoSequence   MessageFlags = 0b0010
	NegativeSequenceNumber MessageFlags = 0b0011
	WithEvent              MessageFlags = 0b0100

	sequenceMask MessageFlags = 0b0011
)

// EventType 服务端事件
type EventType int32

const (
	EventTypeStartConnection    EventType = 1
	EventTypeFinishConnection   EventType = 2
	EventTypeConnectionStarted  EventType = 50
	EventTypeConnectionFailed   EventType = 51
	EventTypeConnectionFinished EventType = 52
	EventTypeSessionStarted     EventType = 150
	EventTypeSessionFinished    EventType = 152
	EventTypeSessionFailed      EventType = 153
)

// SerializationMethod 序列化方法
type SerializationMethod uint8

const (
	NoSerialization   SerializationMethod = 0b0000
	JSONSerialization SerializationMethod = 0b0001
)

// CompressionMethod 压缩方法
type CompressionMethod uint8

const (
	NoCompression   CompressionMethod = 0b0000
	GzipCompression CompressionMethod = 0b0001
)

// Header 4 字节消息头，每个字段占 4 bit（Reserved 占 8 bit）。
type Header struct {
	ProtocolVersion     uint8
	HeaderSize          uint8
	MessageType         MessageType
	MessageFlags        MessageFlags
	SerializationMethod SerializationMethod
	CompressionMethod   CompressionMethod
	Reserved            uint8
}

// Message 一帧完整消息
type Message struct {
	Header      Header
	Sequence    int32
	EventType   EventType
	SessionID   string
	ConnectID   string
	ErrorCode   uint32
	PayloadSize uint32
	Payload     []byte
}

// NewHeader 创建新的消息头
func NewHeader(msgType MessageType, flags MessageFlags, serialization SerializationMethod, compression CompressionMethod) Header {
	return Header{
		ProtocolVersion:     ProtocolVersion,
		HeaderSize:          0b0001,
		MessageType:         msgType,
		MessageFlags:        flags,
		SerializationMethod: serialization,
		CompressionMethod:   compression,
	}
}

// Encode 编码消息头
func (h *Header) Encode() []byte {
	return []byte{
		(h.ProtocolVersion << 4) | h.HeaderSize,
		(uint8(h.MessageType) << 4) | uint8(h.MessageFlags),
		(uint8(h.SerializationMethod) << 4) | uint8(h.CompressionMethod),
		h.Reserved,
	}
}

// DecodeHeader 从 4 字节解码消息头
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("header data too short: got %d, need 4", len(data))
	}

	header := &Header{
		ProtocolVersion:     data[0] >> 4,
		HeaderSize:          data[0] & 0x0F,
		MessageType:         MessageType(data[1] >> 4),
		MessageFlags:        MessageFlags(data[1] & 0x0F),
		SerializationMethod: SerializationMethod(data[2] >> 4),
		CompressionMethod:   CompressionMethod(data[2] & 0x0F),
		Reserved:            data[3],
	}
	if header.ProtocolVersion != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", header.ProtocolVersion)
	}
	return header, nil
}

// EncodeMessage 编码完整消息
func EncodeMessage(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(msg.Header.Encode())

	if hasSequence(msg.Header.MessageFlags) {
		writeUint32(&buf, uint32(msg.Sequence))
	}

	if msg.Header.MessageFlags&WithEvent == WithEvent {
		writeUint32(&buf, uint32(msg.EventType))
		if !eventSkipsSessionID(msg.EventType) {
			writeSized(&buf, msg.SessionID)
		}
		if eventHasConnectID(msg.EventType) {
			writeSized(&buf, msg.ConnectID)
		}
	}

	if msg.Header.MessageType == ErrorMessage {
		writeUint32(&buf, msg.ErrorCode)
	}

	writeUint32(&buf, uint32(len(msg.Payload)))
	buf.Write(msg.Payload)
	return buf.Bytes(), nil
}

// DecodeMessage 解码完整消息
func DecodeMessage(reader io.Reader) (*Message, error) {
	headerBytes := make([]byte, 4)
	if _, err := io.ReadFull(reader, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	header, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	msg := &Message{Header: *header}

	// header size 以 4 字节为单位，超出部分是扩展头，直接跳过
	if extra := int(header.HeaderSize)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(extra)); err != nil {
			return nil, fmt.Errorf("failed to read extended header: %w", err)
		}
	}

	if hasSequence(header.MessageFlags) {
		seq, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read sequence: %w", err)
		}
		msg.Sequence = int32(seq)
	}

	if header.MessageFlags&WithEvent == WithEvent {
		event, err := readUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read event type: %w", err)
		}
		msg.EventType = EventType(int32(event))

		if !eventSkipsSessionID(msg.EventType) {
			if msg.SessionID, err = readSized(reader); err != nil {
				return nil, fmt.Errorf("failed to read session id: %w", err)
			}
		}
		if eventHasConnectID(msg.EventType) {
			if msg.ConnectID, err = readSized(reader); err != nil {
				return nil, fmt.Errorf("failed to read connect id: %w", err)
			}
		}
	}

	if header.MessageType == ErrorMessage {
		if msg.ErrorCode, err = readUint32(reader); err != nil {
			return nil, fmt.Errorf("failed to read error code: %w", err)
		}
	}

	if msg.PayloadSize, err = readUint32(reader); err != nil {
		return nil, fmt.Errorf("failed to read payload size: %w", err)
	}
	if msg.PayloadSize > 0 {
		msg.Payload = make([]byte, msg.PayloadSize)
		if _, err := io.ReadFull(reader, msg.Payload); err != nil {
			return nil, fmt.Errorf("failed to read payload (expected %d bytes): %w", msg.PayloadSize, err)
		}
	}
	return msg, nil
}

// CreateFullClientRequest 创建完整客户端请求消息
func CreateFullClientRequest(payload []byte, compression CompressionMethod) *Message {
	return &Message{
		Header:      NewHeader(FullClientRequest, NoSequenceNumber, JSONSerialization, compression),
		PayloadSize: uint32(len(payload)),
		Payload:     payload,
	}
}

// IsLastPacket 判断是否为最后一包
func (m *Message) IsLastPacket() bool {
	switch m.Header.MessageFlags & sequenceMask {
	case LastPacketNoSequence, NegativeSequenceNumber:
		return true
	default:
		return false
	}
}

func hasSequence(flags MessageFlags) bool {
	switch flags & sequenceMask {
	case PositiveSequenceNumber, NegativeSequenceNumber:
		return true
	default:
		return false
	}
}

func eventSkipsSessionID(event EventType) bool {
	switch event {
	case EventTypeStartConnection, EventTypeFinishConnection,
		EventTypeConnectionStarted, EventTypeConnectionFailed,
		EventTypeConnectionFinished:
		return true
	default:
		return false
	}
}

func eventHasConnectID(event EventType) bool {
	switch event {
	case EventTypeConnectionStarted, EventTypeConnectionFailed, EventTypeConnectionFinished:
		return true
	default:
		return false
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r io.Reader) (string, error) {
	size, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
