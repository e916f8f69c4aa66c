// Package modelstub is a local TCP stand-in for the external model
// service, for integration tests driving internal/modelclient without a
// real Python-hosted predictor (spec §1 explicitly puts the real service
// out of scope; spec §8 scenario S5 needs "the model-service stub").
package modelstub

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hackstrix/workloadmgr/internal/modelclient"
)

func floatToBits32(f float32) uint32 { return math.Float32bits(f) }

// Server accepts exactly two connections in modelclient.Dial's dial order
// — training stream first, prediction stream second — and implements both
// wire protocols: the training stream's cmd/resp uint32 exchange, and the
// prediction stream's Features-in/Prediction-out fixed-width records. It
// sends no metrics records for train/test commands.
type Server struct {
	ln        net.Listener
	ObsToWait int32
	NumLabels int
	Power     float32
	Time      float32

	connCount atomic.Int32
	wg        sync.WaitGroup
}

// Start listens on an ephemeral local port and begins serving in the
// background. numLabels sizes the per-label byte tail of every Features
// record the prediction stream reads.
func Start(obsToWait int32, numLabels int) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ln: ln, ObsToWait: obsToWait, NumLabels: numLabels}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listen address to dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		if s.connCount.Add(1) == 1 {
			go s.serveTrainConn(conn)
		} else {
			go s.servePredConn(conn)
		}
	}
}

func (s *Server) serveTrainConn(conn net.Conn) {
	defer conn.Close()
	for {
		var buf [4]byte
		if _, err := io.ReadFull(conn, buf[:]); err != nil {
			return
		}
		cmd := binary.LittleEndian.Uint32(buf[:])
		if cmd == 0 {
			return // end-of-session marker
		}

		var resp [4]byte
		if cmd&modelclient.TrainIntentBit == 0 {
			// The ring-mode M announcement is sent with the intent bit
			// clear (spec §4.7); echo it back as the acknowledgment.
			binary.LittleEndian.PutUint32(resp[:], cmd)
		} else {
			binary.LittleEndian.PutUint32(resp[:], uint32(s.ObsToWait))
		}
		if _, err := conn.Write(resp[:]); err != nil {
			return
		}
	}
}

// servePredConn answers every Features record on the prediction stream
// with the fixed Power/Time pair configured on the server.
func (s *Server) servePredConn(conn net.Conn) {
	defer conn.Close()
	req := make([]byte, 12+s.NumLabels)
	for {
		if _, err := io.ReadFull(conn, req); err != nil {
			return
		}

		var resp [8]byte
		binary.LittleEndian.PutUint32(resp[0:4], floatToBits32(s.Power))
		binary.LittleEndian.PutUint32(resp[4:8], floatToBits32(s.Time))
		if _, err := conn.Write(resp[:]); err != nil {
			return
		}
	}
}

// Close stops accepting new connections and waits for the accept loop to
// exit.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}
