package query

import (
	"github.com/dakota-m/mstflint/errkind"
	"github.com/dakota-m/mstflint/toc"
)

// VerifyFunc observes every CRC comparison made during a query or burn.
type VerifyFunc = toc.VerifyFunc

// ProgressFunc reports long-running work. Returning false asks the
// engine to stop at the next safe point; it is consulted between writes,
// never mid-write.
type ProgressFunc func(stage string, done, total int64) bool

// PrintFunc receives one human-readable status line at a time.
type PrintFunc func(line string)

// Callbacks bundles the consumer-facing hooks. Any field may be nil.
type Callbacks struct {
	Verify   VerifyFunc
	Progress ProgressFunc
	Print    PrintFunc
}

func (c *Callbacks) verify(what errkind.Where, addr, size int64, actual, expected uint16, ignore bool) {
	if c != nil && c.Verify != nil {
		c.Verify(what, addr, size, actual, expected, ignore)
	}
}

func (c *Callbacks) print(line string) {
	if c != nil && c.Print != nil {
		c.Print(line)
	}
}

func (c *Callbacks) progress(stage string, done, total int64) bool {
	if c == nil || c.Progress == nil {
		return true
	}
	return c.Progress(stage, done, total)
}
