// Package executor runs one OS process per dispatched task and reports each
// process's outcome back to the scheduler.
//
// Workers speak a framed line protocol on stdout: `NAME length payload\n`
// with a JSON payload. A worker announces itself with WORKER once it is
// ready, may emit any number of MSG progress frames, and finishes with
// exactly one of DONE, DATA_ERROR, ERROR or FATAL. A worker that exits
// without a terminal frame is classified as crashed.
package executor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// Worker announce, sent once after startup.
	msgWorker = "WORKER"
	// Free-form progress message.
	msgProgress = "MSG"
	// Task finished successfully.
	msgDone = "DONE"
	// Task input could not be read or was corrupt.
	msgDataError = "DATA_ERROR"
	// The job's own code failed.
	msgError = "ERROR"
	// The worker hit an internal fault.
	msgFatal = "FATAL"
)

// maxPayload bounds a single frame so a misbehaving worker cannot make the
// master buffer arbitrary amounts.
const maxPayload = 1 << 20

// frame is one parsed protocol message.
type frame struct {
	name    string
	payload json.RawMessage
}

// text decodes the payload as a JSON string, falling back to the raw bytes
// for workers that skip the quoting.
func (f *frame) text() string {
	var s string
	if err := json.Unmarshal(f.payload, &s); err == nil {
		return s
	}
	return string(f.payload)
}

func (f *frame) terminal() bool {
	switch f.name {
	case msgDone, msgDataError, msgError, msgFatal:
		return true
	}
	return false
}

// readFrame parses the next frame from r. io.EOF is returned as-is so
// callers can tell a clean stream end from a malformed frame.
func readFrame(r *bufio.Reader) (*frame, error) {
	name, err := readToken(r)
	if err != nil {
		return nil, err
	}
	lengthToken, err := readToken(r)
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s: missing length", name)
	}
	length, err := strconv.Atoi(lengthToken)
	if err != nil || length < 0 || length > maxPayload {
		return nil, errors.Errorf("frame %s: bad length %q", name, lengthToken)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrapf(err, "frame %s: short payload", name)
	}
	terminator, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s: missing terminator", name)
	}
	if terminator != '\n' {
		return nil, errors.Errorf("frame %s: payload longer than declared", name)
	}
	return &frame{name: name, payload: payload}, nil
}

// readToken consumes bytes up to the next space. The frame header is two
// space-separated tokens, so this is called twice per frame.
func readToken(r *bufio.Reader) (string, error) {
	token, err := r.ReadString(' ')
	if err != nil {
		return "", err
	}
	return token[:len(token)-1], nil
}

// writeFrame emits one frame. Used by the package tests to produce worker
// output.
func writeFrame(w io.Writer, name string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := fmt.Fprintf(w, "%s %d %s\n", name, len(body), body); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
