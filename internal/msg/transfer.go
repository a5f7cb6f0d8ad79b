package msg

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// TransferMeter is an io.Writer that shows how many kilobytes have passed
// through it. Clone sizes are unknown up front, so there is no percent bar.
type TransferMeter struct {
	Indent     int
	W          io.Writer
	current    int64
	lastPrint  time.Time
	throbIndex int
}

var throbbers = []rune{'|', '/', '-', '\\'}

func NewTransferMeter(indent int, w io.Writer) *TransferMeter {
	return &TransferMeter{
		Indent:    indent,
		W:         w,
		lastPrint: time.Now(),
	}
}

func (tm *TransferMeter) Write(p []byte) (int, error) {
	n := len(p)
	tm.current += int64(n)

	if time.Since(tm.lastPrint) > 40*time.Millisecond {
		tm.print(false)
		tm.lastPrint = time.Now()
	}
	return n, nil
}

func (tm *TransferMeter) print(finish bool) {
	throb := throbbers[tm.throbIndex%len(throbbers)]
	tm.throbIndex++
	if finish {
		throb = ' '
	}

	fmt.Fprintf(tm.W, "\r%s%d KB %c",
		strings.Repeat(" ", tm.Indent),
		tm.current/1024,
		throb,
	)
}

func (tm *TransferMeter) Finish() {
	tm.print(true)
	fmt.Fprintln(tm.W)
}
