/*Package comm provides connection plumbing for lab hardware that speaks a
line-oriented protocol over TCP or RS-232.

Most usages of this package will boil down to:
	1.  build a CreationFunc with TCPMaker or SerialMaker
	2.  hand it to NewPool, which opens connections lazily and closes them
		after they have sat idle for a while
	3.  Get a connection, wrap it with NewTimeout and NewTerminator, talk,
		and give it back with ReturnWithError

A minimal example for an instrument that answers "FREQ?" with a number:

	pool := comm.NewPool(1, 10*time.Second, comm.TCPMaker("192.168.0.143:5025", 3*time.Second))
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	rw := comm.NewTerminator(comm.NewTimeout(conn, time.Second), "\n", '\n')
	if _, err = io.WriteString(rw, "FREQ?"); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, err := rw.Read(buf)
	...
*/
package comm

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when a serial connection is requested without a serial.Config
	ErrNoSerialConf = errors.New("serial connection requested without a serial config")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the transmit and receive line terminators of a device
type Terminators struct {
	Tx string
	Rx byte
}

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// TCPMaker returns a CreationFunc which dials addr over TCP.  Failed dials
// are retried with an exponential backoff for up to a few seconds, since some
// instruments reject connections that arrive in quick succession.  A refused
// connection is not retried; nothing is listening.
func TCPMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var (
			conn    net.Conn
			refused error
		)
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					refused = err
					return nil
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if refused != nil {
			return nil, errors.Wrapf(refused, "connecting to %s", addr)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "connection timeout to %s", addr)
		}
		return conn, nil
	}
}

// SerialMaker returns a CreationFunc which opens the serial port described by conf
func SerialMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if conf == nil {
			return nil, ErrNoSerialConf
		}
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, errors.Wrapf(err, "opening serial port %s", conf.Name)
		}
		return port, nil
	}
}

// Maker returns SerialMaker(conf) if isSerial, else TCPMaker(addr, timeout)
func Maker(addr string, isSerial bool, conf *serial.Config, timeout time.Duration) CreationFunc {
	if isSerial {
		return SerialMaker(conf)
	}
	return TCPMaker(addr, timeout)
}
