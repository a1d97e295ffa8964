package tracing

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"

	"github.com/fatih/structs"
	"github.com/tebeka/atexit"
)

// CSVRecorder writes events into a CSV file, one row per event.
type CSVRecorder struct {
	lock       sync.Mutex
	file       *os.File
	writer     *csv.Writer
	events     []Event
	bufferSize int
}

// NewCSVRecorder creates the CSV file. An existing file is overwritten.
func NewCSVRecorder(path string) (*CSVRecorder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &CSVRecorder{
		file:       file,
		writer:     csv.NewWriter(file),
		bufferSize: 1000,
	}

	if err := r.writer.Write(structs.Names(Event{})); err != nil {
		return nil, err
	}

	atexit.Register(func() { _ = r.Close() })

	return r, nil
}

// Record buffers an event.
func (r *CSVRecorder) Record(e Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = append(r.events, e)

	if len(r.events) >= r.bufferSize {
		if err := r.flush(); err != nil {
			panic(err)
		}
	}
}

// Flush writes the buffered events to the file.
func (r *CSVRecorder) Flush() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.flush()
}

func (r *CSVRecorder) flush() error {
	for _, e := range r.events {
		err := r.writer.Write([]string{
			e.ID,
			e.Kind,
			e.Where,
			strconv.FormatUint(uint64(e.PID), 10),
			e.What,
			e.Detail,
			strconv.FormatFloat(e.Time, 'f', 9, 64),
		})
		if err != nil {
			return err
		}
	}

	r.events = nil
	r.writer.Flush()

	return r.writer.Error()
}

// Close flushes the buffered events and closes the file.
func (r *CSVRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.file == nil {
		return nil
	}

	if err := r.flush(); err != nil {
		return err
	}

	err := r.file.Close()
	r.file = nil

	return err
}
