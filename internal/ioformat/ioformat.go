// Package ioformat reads the producer's per-workload input files and
// writes the final kernels_info.bin output, per spec §6 "Filesystem
// inputs"/"Filesystem outputs".
//
// Grounded on other_examples/calvinalkan-agent-task's use of
// encoding/binary for fixed-width little-endian record I/O, the same
// approach used here for the three flat input arrays and the packed
// output array.
package ioformat

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/hackstrix/workloadmgr/internal/kernel"
)

// Workload is one parsed input workload: three equal-length parallel
// sequences (spec §6 "All three sequences have length NUM_KERNELS").
type Workload struct {
	InterArrivalMS []float32
	KernelID       []int32
	NumExecutions  []int32
}

// NumKernels returns the shared sequence length.
func (w Workload) NumKernels() int {
	return len(w.InterArrivalMS)
}

// ReadWorkload loads inter_arrival_<w>.bin, kernel_id_<w>.bin, and
// num_executions_<w>.bin from dir for workload index w.
func ReadWorkload(dir string, w int) (Workload, error) {
	interArrival, err := readFloat32s(filepath.Join(dir, fmt.Sprintf("inter_arrival_%d.bin", w)))
	if err != nil {
		return Workload{}, err
	}
	kernelID, err := readInt32s(filepath.Join(dir, fmt.Sprintf("kernel_id_%d.bin", w)))
	if err != nil {
		return Workload{}, err
	}
	numExecutions, err := readInt32s(filepath.Join(dir, fmt.Sprintf("num_executions_%d.bin", w)))
	if err != nil {
		return Workload{}, err
	}

	if len(interArrival) != len(kernelID) || len(kernelID) != len(numExecutions) {
		return Workload{}, fmt.Errorf("ioformat: workload %d sequences have mismatched lengths (%d, %d, %d)",
			w, len(interArrival), len(kernelID), len(numExecutions))
	}

	return Workload{InterArrivalMS: interArrival, KernelID: kernelID, NumExecutions: numExecutions}, nil
}

func readFloat32s(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ioformat: read %s: %w", path, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("ioformat: %s length %d not a multiple of 4", path, len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

func readInt32s(path string) ([]int32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ioformat: read %s: %w", path, err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("ioformat: %s length %d not a multiple of 4", path, len(raw))
	}
	out := make([]int32, len(raw)/4)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[i*4 : i*4+4]))
	}
	return out, nil
}

// recordSize is the packed on-disk width of one KernelRecord in
// kernels_info.bin: id, label, executions, cu (4 i32 each) + intended
// arrival (f32) + commanded/measured_arrival/measured_finish/pre/post (5
// timestamps x 2 i64) + slot_mask (u64).
const recordSize = 4*4 + 4 + 5*16 + 8

// WriteKernelsInfo packs every admitted record, in definition order, into
// outputDir/kernels_info.bin (spec §6, §8 property 4 "Output completeness").
func WriteKernelsInfo(outputDir string, records []*kernel.Record) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("ioformat: mkdir %s: %w", outputDir, err)
	}
	path := filepath.Join(outputDir, "kernels_info.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("ioformat: create %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 0, recordSize*len(records))
	for _, r := range records {
		buf = appendI32(buf, int32(r.ID))
		buf = appendI32(buf, int32(r.Label))
		buf = appendI32(buf, int32(r.Executions))
		buf = appendI32(buf, int32(r.CU))
		buf = appendF32(buf, float32(r.IntendedArrivalMS))
		buf = appendTime(buf, r.CommandedArrival)
		buf = appendTime(buf, r.MeasuredArrival)
		buf = appendTime(buf, r.MeasuredFinish)
		buf = appendTime(buf, r.MeasuredPreExec)
		buf = appendTime(buf, r.MeasuredPostExec)
		buf = appendU64(buf, r.SlotMask)
	}

	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("ioformat: write %s: %w", path, err)
	}
	return f.Sync()
}

func appendI32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

func appendF32(buf []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendTime(buf []byte, t time.Time) []byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(t.Unix()))
	binary.LittleEndian.PutUint64(b[8:16], uint64(t.Nanosecond()))
	return append(buf, b[:]...)
}
