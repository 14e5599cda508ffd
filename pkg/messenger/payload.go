package messenger

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/ufo-core/pkg/types"
	"github.com/cuemby/ufo-core/pkg/ufoerr"
)

// This file encodes the fixed payload shapes used for each message type
// that carries more than raw bytes or JSON. Dims are encoded
// width, height, and (if non-zero) depth, in that order.

func dimsSlice(d types.Dims) []uint64 {
	if d.Depth != 0 {
		return []uint64{uint64(d.Width), uint64(d.Height), uint64(d.Depth)}
	}
	return []uint64{uint64(d.Width), uint64(d.Height)}
}

func dimsFromSlice(vals []uint64) types.Dims {
	d := types.Dims{Width: int(vals[0]), Height: int(vals[1])}
	if len(vals) > 2 {
		d.Depth = int(vals[2])
	}
	return d
}

// EncodeRequisition encodes a get_requisition reply: n_dims:uint32,
// dims[0..n_dims-1]:uint64.
func EncodeRequisition(req types.Requisition) []byte {
	vals := dimsSlice(req.Dims)
	buf := make([]byte, 4+8*len(vals))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(vals)))
	for i, v := range vals {
		binary.BigEndian.PutUint64(buf[4+8*i:4+8*(i+1)], v)
	}
	return buf
}

// DecodeRequisition parses a get_requisition reply payload.
func DecodeRequisition(data []byte) (types.Requisition, error) {
	if len(data) < 4 {
		return types.Requisition{}, ufoerr.New(ufoerr.KindProtocolViolation, "requisition payload too short")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	want := 4 + 8*int(n)
	if len(data) < want {
		return types.Requisition{}, ufoerr.New(ufoerr.KindProtocolViolation, fmt.Sprintf("requisition payload declares %d dims but has %d bytes", n, len(data)))
	}
	vals := make([]uint64, n)
	for i := range vals {
		vals[i] = binary.BigEndian.Uint64(data[4+8*i : 4+8*(i+1)])
	}
	dims := dimsFromSlice(vals)
	return types.Requisition{Dims: dims, NumElements: dims.NumElements()}, nil
}

// EncodeStructure encodes a get_structure reply: n_inputs:uint16,
// n_dims:uint16.
func EncodeStructure(numInputs int, dims types.Dims) []byte {
	nDims := uint16(len(dimsSlice(dims)))
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(numInputs))
	binary.BigEndian.PutUint16(buf[2:4], nDims)
	return buf
}

// DecodeStructure parses a get_structure reply payload.
func DecodeStructure(data []byte) (numInputs int, numDims int, err error) {
	if len(data) < 4 {
		return 0, 0, ufoerr.New(ufoerr.KindProtocolViolation, "structure payload too short")
	}
	return int(binary.BigEndian.Uint16(data[0:2])), int(binary.BigEndian.Uint16(data[2:4])), nil
}

// EncodeSendInputs encodes a send_inputs request: requisition,
// buffer_size:uint64, bytes[buffer_size].
func EncodeSendInputs(req types.Requisition, frame []byte) []byte {
	reqBytes := EncodeRequisition(req)
	buf := make([]byte, len(reqBytes)+8+len(frame))
	n := copy(buf, reqBytes)
	binary.BigEndian.PutUint64(buf[n:n+8], uint64(len(frame)))
	copy(buf[n+8:], frame)
	return buf
}

// DecodeSendInputs parses a send_inputs request payload.
func DecodeSendInputs(data []byte) (types.Requisition, []byte, error) {
	req, err := DecodeRequisition(data)
	if err != nil {
		return types.Requisition{}, nil, err
	}
	reqLen := 4 + 8*len(dimsSlice(req.Dims))
	if len(data) < reqLen+8 {
		return types.Requisition{}, nil, ufoerr.New(ufoerr.KindProtocolViolation, "send_inputs payload missing buffer_size")
	}
	size := binary.BigEndian.Uint64(data[reqLen : reqLen+8])
	if uint64(len(data)) < uint64(reqLen+8)+size {
		return types.Requisition{}, nil, ufoerr.New(ufoerr.KindProtocolViolation, "send_inputs payload shorter than declared buffer_size")
	}
	frame := data[reqLen+8 : uint64(reqLen+8)+size]
	return req, frame, nil
}

// EncodeDeviceCount encodes a get_num_devices reply: count:uint16.
func EncodeDeviceCount(count int) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(count))
	return buf
}

// DecodeDeviceCount parses a get_num_devices reply payload.
func DecodeDeviceCount(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, ufoerr.New(ufoerr.KindProtocolViolation, "device count payload too short")
	}
	return int(binary.BigEndian.Uint16(data[0:2])), nil
}

// FrameToBytes converts host float32 samples to the raw bytes get_result
// and send_inputs carry (little-endian, matching how a driver would memcpy
// a float32 array onto the wire).
func FrameToBytes(host []float32) []byte {
	buf := make([]byte, 4*len(host))
	for i, v := range host {
		binary.LittleEndian.PutUint32(buf[4*i:4*i+4], math.Float32bits(v))
	}
	return buf
}

// BytesToFrame converts raw wire bytes back into float32 samples.
func BytesToFrame(data []byte) []float32 {
	host := make([]float32, len(data)/4)
	for i := range host {
		host[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i : 4*i+4]))
	}
	return host
}
