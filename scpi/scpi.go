// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/bragglab/braggcal/comm"
)

const (
	// DefaultTimeout bounds every read and write when SCPI.Timeout is zero
	DefaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// Error is an entry from the device's error queue
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return "scpi error " + strconv.Itoa(e.Code) + ": " + e.Msg
}

// parseError parses a SYSTem:ERRor? response of the form `-113,"Undefined header"`.
// A nil return means the queue held no error.
func parseError(resp string) error {
	resp = strings.TrimSpace(resp)
	code, msg := resp, ""
	if i := strings.IndexByte(resp, ','); i >= 0 {
		code, msg = resp[:i], strings.Trim(resp[i+1:], `"`)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(code, "+"))
	if err != nil {
		return errors.Errorf("malformed error queue response %q", resp)
	}
	if n == 0 {
		return nil
	}
	return &Error{Code: n, Msg: msg}
}

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Terminators are the line endings; the zero value means "\n" both ways
	Terminators comm.Terminators

	// Timeout bounds each read and write; zero means DefaultTimeout
	Timeout time.Duration
}

func (s *SCPI) wrap(conn io.ReadWriter) *comm.Terminator {
	tx, rx := s.Terminators.Tx, s.Terminators.Rx
	if tx == "" {
		tx = "\n"
	}
	if rx == 0 {
		rx = '\n'
	}
	to := s.Timeout
	if to == 0 {
		to = DefaultTimeout
	}
	return comm.NewTerminator(comm.NewTimeout(conn, to), tx, rx)
}

func (s *SCPI) frame(cmds []string) string {
	str := strings.Join(cmds, " ")
	if s.Handshaking {
		str = "*CLS;" + str + ";:SYSTem:ERRor?"
	}
	return str
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) error {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := s.wrap(conn)
	if _, err = io.WriteString(wrap, s.frame(cmds)); err != nil {
		return err
	}
	if !s.Handshaking {
		return nil
	}
	resp, err := wrap.ReadMessage()
	if err != nil {
		return err
	}
	if qerr := parseError(string(resp)); qerr != nil {
		// the exchange completed, so the connection is still good
		return qerr
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	var resp []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := s.wrap(conn)
	if _, err = io.WriteString(wrap, s.frame(cmds)); err != nil {
		return nil, err
	}
	resp, err = wrap.ReadMessage()
	if err != nil {
		return nil, err
	}
	if s.Handshaking {
		str := string(resp)
		i := strings.LastIndexByte(str, ';')
		if i < 0 {
			return resp, errors.Errorf("handshake missing from response %q", str)
		}
		if qerr := parseError(str[i+1:]); qerr != nil {
			return resp[:i], qerr
		}
		return resp[:i], nil
	}
	return resp, nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	return strings.TrimSpace(string(resp)), err
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(resp) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(resp)
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string.  Handshaking is not used.
func (s *SCPI) Raw(str string) (string, error) {
	raw := *s
	raw.Handshaking = false
	if strings.Contains(str, "?") {
		return raw.ReadString(str)
	}
	return "", raw.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	raw := *s
	raw.Handshaking = false
	str, err := raw.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return parseError(str)
}

// AllErrors drains the device's error queue.  At most limit entries are read.
func (s *SCPI) AllErrors(limit int) []error {
	var errs []error
	for i := 0; i < limit; i++ {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		var qerr *Error
		if !errors.As(err, &qerr) {
			break
		}
	}
	return errs
}
