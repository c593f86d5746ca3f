package pcienpu

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// cancelCheckInterval is how many words of a bulk transfer are moved between
// checks of the context
const cancelCheckInterval = 256

// ProgressFunc is called during bulk transfers with the number of words moved
// so far and the total for the transfer
type ProgressFunc func(done, total int)

// TransferStats are running totals of register traffic on a Channel
type TransferStats struct {
	Commands      uint64
	WordsSent     uint64
	WordsReceived uint64
}

// Channel writes command headers and moves bulk payloads through a register
// Window.  It is not safe for concurrent use, there is exactly one writer and
// reader of the window
type Channel struct {
	win Window
	// progress is an optional callback for bulk transfers
	progress ProgressFunc
	stats    TransferStats
}

// NewChannel returns a Channel over the given window
func NewChannel(win Window) *Channel {
	return &Channel{win: win}
}

// SetProgress sets a callback invoked as bulk transfers progress, pass nil to
// disable
func (c *Channel) SetProgress(fn ProgressFunc) {
	c.progress = fn
}

// MaxPayloadWords returns the largest bulk transfer the window can carry
func (c *Channel) MaxPayloadWords() int {
	return c.win.Capacity() - RegPayload
}

// Stats returns the register traffic totals
func (c *Channel) Stats() TransferStats {
	return c.stats
}

// CheckPayload returns ErrBufferTooLarge if a bulk transfer of n words does
// not fit in the window
func (c *Channel) CheckPayload(n int) error {

	if n < 0 || n > c.MaxPayloadWords() {
		return errors.Wrapf(ErrBufferTooLarge, "payload of %d words, window holds %d",
			n, c.MaxPayloadWords())
	}

	return nil
}

// SendCommand writes the header to registers 0-3 in the order opcode,
// address, immediate, length.  No acknowledgement is read back, the
// accelerator is expected to buffer the command internally
func (c *Channel) SendCommand(ctx context.Context, hdr CommandHeader) error {

	if err := ctx.Err(); err != nil {
		return errors.Wrapf(ErrTransferFailed, "command %s: %v", hdr.Opcode, err)
	}

	klog.V(4).Infof("command %s", hdr)

	for idx, val := range hdr.Words() {
		if err := c.win.Write32(idx, val); err != nil {
			return errors.WithMessagef(err, "writing %s header register %d", hdr.Opcode, idx)
		}
	}

	c.stats.Commands++
	return nil
}

// SendData writes words to consecutive registers starting at RegPayload.  The
// whole buffer is checked against the window capacity before anything is
// written
func (c *Channel) SendData(ctx context.Context, words []uint32) error {
	return c.sendWords(ctx, words, 0, len(words))
}

// sendWords writes words as the part of a larger transfer of total words that
// starts at word offset, so progress is reported against the whole transfer
func (c *Channel) sendWords(ctx context.Context, words []uint32, offset, total int) error {

	if err := c.CheckPayload(len(words)); err != nil {
		return err
	}

	for i, val := range words {

		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return errors.Wrapf(ErrTransferFailed, "sent %d of %d words: %v",
					offset+i, total, err)
			}
			c.report(offset+i, total)
		}

		if err := c.win.Write32(RegPayload+i, val); err != nil {
			return errors.WithMessagef(err, "writing payload word %d", offset+i)
		}

		c.stats.WordsSent++
	}

	c.report(offset+len(words), total)
	return nil
}

// ReceiveData reads n words from consecutive registers starting at
// RegPayload
func (c *Channel) ReceiveData(ctx context.Context, n int) ([]uint32, error) {

	if err := c.CheckPayload(n); err != nil {
		return nil, err
	}

	words := make([]uint32, n)

	for i := range words {

		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(ErrTransferFailed, "received %d of %d words: %v",
					i, n, err)
			}
		}

		val, err := c.win.Read32(RegPayload + i)

		if err != nil {
			return nil, errors.WithMessagef(err, "reading payload word %d", i)
		}

		words[i] = val
		c.stats.WordsReceived++
	}

	return words, nil
}

func (c *Channel) report(done, total int) {
	if c.progress != nil {
		c.progress(done, total)
	}
}
