package sysid

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"swerve/drive"
	"swerve/swerve"
)

// Recorder writes one CSV row per cycle of a sweep.
type Recorder struct {
	file *os.File
	w    *csv.Writer
	path string
	rows int
}

// NewRecorder creates <dir>/<axis>-<routine>-<direction>-<uuid>.csv and writes the header.
func NewRecorder(dir string, axis drive.Axis, routine Routine, direction Direction) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating sysid log directory")
	}
	name := fmt.Sprintf("%s-%s-%s-%s.csv", axis, routine, direction, uuid.NewString())
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating sysid log")
	}

	header := []string{"time_s", "volts"}
	for i := 0; i < swerve.NumModules; i++ {
		header = append(header, swerve.ModuleName(i)+"_position_m", swerve.ModuleName(i)+"_velocity_mps")
	}
	r := &Recorder{file: f, w: csv.NewWriter(f), path: path}
	if err := r.w.Write(header); err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	return r, nil
}

// Record appends the drivetrain's response at elapsed.
func (r *Recorder) Record(elapsed time.Duration, volts float64, snap drive.Snapshot) error {
	row := []string{formatFloat(elapsed.Seconds()), formatFloat(volts)}
	for i := 0; i < swerve.NumModules; i++ {
		row = append(row, formatFloat(snap.Distances[i]), formatFloat(snap.Modules[i].Speed))
	}
	if err := r.w.Write(row); err != nil {
		return errors.Wrap(err, "writing sysid row")
	}
	r.rows++
	return nil
}

// Path is the file being written.
func (r *Recorder) Path() string {
	return r.path
}

// Rows is the number of samples written so far.
func (r *Recorder) Rows() int {
	return r.rows
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	r.w.Flush()
	return multierr.Combine(r.w.Error(), r.file.Close())
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
