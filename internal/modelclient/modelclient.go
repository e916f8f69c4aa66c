// Package modelclient implements the model-service client (C7, spec §4.7):
// a typed request/response protocol over two TCP sockets to the external
// predictor, treated as an opaque endpoint per spec §1/§9 "Model service as
// opaque endpoint".
//
// Grounded on the teacher's steel-orchestrator/proxy.go for the "one shared
// connection, context-bounded call, wrap every error" shape, adapted from
// HTTP+JSON to the spec's fixed-width binary records. Framing helpers are
// grounded on other_examples/calvinalkan-agent-task's exact-size
// read-retry discipline (slotcache.go's readBackoff), simplified here to a
// single full-frame io.ReadFull/Write since spec §4.7 calls for "exact-size
// record-at-a-time" framing rather than seqlock retries.
package modelclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"time"
)

func bitsToFloat32(b uint32) float32 { return math.Float32frombits(b) }
func floatToBits32(f float32) uint32 { return math.Float32bits(f) }

// TrainIntentBit marks a training-stream request as "train" rather than
// "test" (spec §4.7: "low 31 bits = num_measurements, MSB = intent"). The M
// announcement that opens a ring-mode session is sent with this bit clear,
// which is how a listener on the training stream tells the two kinds of
// message apart.
const TrainIntentBit = uint32(1) << 31

// Metrics is the training-stream response for a train/test command.
type Metrics struct {
	PsPowErr float32
	PlPowErr float32
	TimeErr  float32
}

// Features is a prediction-stream request: the CPU-usage triple plus one
// byte per kernel label indicating whether that label was live.
type Features struct {
	User, Kernel, Idle float32
	PerLabel           []byte // len == NumLabels
}

// Prediction is a prediction-stream response.
type Prediction struct {
	Power float32
	Time  float32
}

// Client owns the two connections to the external model service.
type Client struct {
	trainConn net.Conn
	predConn  net.Conn
}

// Dial opens both streams and, if m > 1, announces the ring size on the
// training stream before returning (spec §4.7 "Ring-mode startup requires
// announcing M on the training stream and receiving an acknowledgment
// before the first operation").
func Dial(addr string, m int, dialTimeout time.Duration) (*Client, error) {
	trainConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("modelclient: dial training stream: %w", err)
	}
	predConn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		trainConn.Close()
		return nil, fmt.Errorf("modelclient: dial prediction stream: %w", err)
	}

	c := &Client{trainConn: trainConn, predConn: predConn}

	if m > 1 {
		if err := writeUint32(trainConn, uint32(m)); err != nil {
			c.Close()
			return nil, fmt.Errorf("modelclient: announce M: %w", err)
		}
		ack, err := readUint32(trainConn)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("modelclient: await M acknowledgment: %w", err)
		}
		if ack != uint32(m) {
			c.Close()
			return nil, fmt.Errorf("modelclient: M acknowledgment mismatch: sent %d got %d", m, ack)
		}
	}

	return c, nil
}

// Operation requests a train step and returns the number of observations
// the hardware should idle for before the next measurement (spec §4.6
// "obs_to_wait = model_client.operation(measurements_per_training)").
// Connection loss or a short read is fatal per spec §7; callers should treat
// any returned error as process-fatal.
func (c *Client) Operation(numMeasurements int) (obsToWait int32, err error) {
	req := uint32(numMeasurements) | TrainIntentBit
	if err := writeUint32(c.trainConn, req); err != nil {
		return 0, fmt.Errorf("modelclient: operation request: %w", err)
	}
	v, err := readUint32(c.trainConn)
	if err != nil {
		return 0, fmt.Errorf("modelclient: operation response: %w", err)
	}
	return int32(v), nil
}

// TrainOrTest issues a plain train/test command and reads back the metrics
// structure (spec §6 "response is metrics{...} for train/test").
func (c *Client) TrainOrTest(numMeasurements int, train bool) (Metrics, error) {
	req := uint32(numMeasurements)
	if train {
		req |= TrainIntentBit
	}
	if err := writeUint32(c.trainConn, req); err != nil {
		return Metrics{}, fmt.Errorf("modelclient: train/test request: %w", err)
	}
	buf := make([]byte, 12)
	if _, err := io.ReadFull(c.trainConn, buf); err != nil {
		return Metrics{}, fmt.Errorf("modelclient: train/test response: %w", err)
	}
	return Metrics{
		PsPowErr: bitsToFloat32(binary.LittleEndian.Uint32(buf[0:4])),
		PlPowErr: bitsToFloat32(binary.LittleEndian.Uint32(buf[4:8])),
		TimeErr:  bitsToFloat32(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// EndSession sends the zero command that terminates the training stream
// session (spec §4.7 "An end-of-session marker is uint32 = 0").
func (c *Client) EndSession() error {
	return writeUint32(c.trainConn, 0)
}

// Predict sends one feature record and reads back one prediction record.
func (c *Client) Predict(f Features) (Prediction, error) {
	buf := make([]byte, 12+len(f.PerLabel))
	binary.LittleEndian.PutUint32(buf[0:4], floatToBits32(f.User))
	binary.LittleEndian.PutUint32(buf[4:8], floatToBits32(f.Kernel))
	binary.LittleEndian.PutUint32(buf[8:12], floatToBits32(f.Idle))
	copy(buf[12:], f.PerLabel)

	if _, err := c.predConn.Write(buf); err != nil {
		return Prediction{}, fmt.Errorf("modelclient: predict request: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(c.predConn, resp); err != nil {
		return Prediction{}, fmt.Errorf("modelclient: predict response: %w", err)
	}
	return Prediction{
		Power: bitsToFloat32(binary.LittleEndian.Uint32(resp[0:4])),
		Time:  bitsToFloat32(binary.LittleEndian.Uint32(resp[4:8])),
	}, nil
}

// Close closes both streams.
func (c *Client) Close() error {
	err1 := c.trainConn.Close()
	err2 := c.predConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
