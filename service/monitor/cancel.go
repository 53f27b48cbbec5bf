package monitor

import (
	"bufio"
	"context"
	"errors"
	"io"
)

// CancelSource blocks until the user asks to stop or ctx is done.
type CancelSource interface {
	Wait(ctx context.Context) error
}

// CancelSourceFunc adapts a function to CancelSource.
type CancelSourceFunc func(ctx context.Context) error

// Wait implements CancelSource.
func (f CancelSourceFunc) Wait(ctx context.Context) error {
	return f(ctx)
}

// ReaderCancelSource completes when a line is read from its reader, i.e. when the
// user presses ENTER on stdin. If the reader is exhausted without a full line, only
// ctx can end the wait.
//
// A blocked read cannot be interrupted, so the reading goroutine may outlive Wait
// until the reader delivers data or is closed.
type ReaderCancelSource struct {
	r io.Reader
}

// NewReaderCancelSource creates a CancelSource reading from r.
func NewReaderCancelSource(r io.Reader) *ReaderCancelSource {
	return &ReaderCancelSource{r: r}
}

// Wait implements CancelSource.
func (s *ReaderCancelSource) Wait(ctx context.Context) error {
	lines := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(s.r).ReadString('\n')
		lines <- err
	}()

	select {
	case err := <-lines:
		if err == nil {
			return nil
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	<-ctx.Done()
	return ctx.Err()
}
