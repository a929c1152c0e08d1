package client

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/ianremillard/tterm/internal/ids"
)

// RunInteractive attaches to id, puts the calling process's stdin in raw
// mode, and pipes stdin to the session and the session's output to stdout
// until escape (Ctrl-]) or end of input is read from stdin, or sending
// input fails. On Ctrl-] or end of input it closes the connection and
// returns once the output copy has stopped. The end of the output stream
// does not by itself end the stdin loop. It restores the terminal mode
// before returning.
//
// Grounded on cmd/catherd/main.go's cmdAttach: MakeRaw/Restore bracketing
// two goroutines, one copying stdout from the connection, one scanning
// stdin for the detach escape byte.
func (c *Client) RunInteractive(id ids.SessionID) error {
	if err := c.AttachToSession(id); err != nil {
		return fmt.Errorf("client: attach: %w", err)
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("client: enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range c.Output() {
			if _, err := os.Stdout.Write(chunk); err != nil {
				return
			}
		}
	}()

	const detachByte = 0x1D // Ctrl-]
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if idx := indexByte(buf[:n], detachByte); idx >= 0 {
				if idx > 0 {
					_ = c.SendInput(buf[:idx])
				}
				_ = c.DetachFromSession(id)
				_ = c.Close()
				<-done
				return nil
			}
			if werr := c.SendInput(buf[:n]); werr != nil {
				return fmt.Errorf("client: send input: %w", werr)
			}
		}
		if err != nil {
			if err == io.EOF {
				_ = c.Close()
				<-done
				return nil
			}
			return fmt.Errorf("client: read stdin: %w", err)
		}
	}
}

func indexByte(b []byte, target byte) int {
	for i, c := range b {
		if c == target {
			return i
		}
	}
	return -1
}
