package monitor

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// ErrShutdownTimeout is returned by Run when workers are still running after the
// shutdown grace period.
var ErrShutdownTimeout = errors.New("workers did not stop within the shutdown grace period")

// Connection stages reported in ConnectionError.
const (
	StageSubscribe = "subscribe"
	StageReceive   = "receive"
)

// ConnectionError is a subscribe or receive failure on one worker's stream.
type ConnectionError struct {
	Address solanago.PublicKey
	Stage   string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// FetchError is a failed transaction lookup. The signature is abandoned.
type FetchError struct {
	Signature solanago.Signature
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Signature, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
