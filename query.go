package pcienpu

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Query writes a human readable report of the session's register window and
// transfer counters
func (s *Session) Query(w io.Writer) error {

	if err := s.usable(); err != nil {
		return errors.Wrap(err, "querying session")
	}

	fmt.Fprintf(w, "Device: %s\n", s.name)
	fmt.Fprintf(w, "Register window: %d registers (%s), payload capacity %d words (%s)\n",
		s.win.Capacity(), humanize.Bytes(uint64(s.win.Capacity()*WordSize)),
		s.ch.MaxPayloadWords(), humanize.Bytes(uint64(s.MaxPayloadBytes())))
	fmt.Fprintf(w, "Input address: 0x%08x, chunked transfers: %t\n",
		s.cfg.InputAddress, s.cfg.Chunked)

	st := s.ch.Stats()

	fmt.Fprintf(w, "Commands: %s, words sent: %s, words received: %s\n",
		humanize.Comma(int64(st.Commands)), humanize.Comma(int64(st.WordsSent)),
		humanize.Comma(int64(st.WordsReceived)))

	return nil
}
