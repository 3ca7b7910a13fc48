package mbtiles

import "github.com/schollz/progressbar/v3"

// Progress reports incremental completion of a long-running scan.
// Convert reports its per-file progress through it; the Reader, the
// Writer and the other operations do not. NewProgress returns either a
// terminal bar or a no-op implementation.
type Progress interface {
	Add(n int)
	Finish()
}

// barProgress renders an interactive terminal progress bar.
type barProgress struct {
	bar *progressbar.ProgressBar
}

// NewProgress returns a terminal-rendered Progress over total items, or a
// no-op Progress if quiet is true.
func NewProgress(total int64, quiet bool) Progress {
	if quiet {
		return quietProgress{}
	}
	return barProgress{bar: progressbar.Default(total)}
}

func (p barProgress) Add(n int) {
	p.bar.Add(n)
}

func (p barProgress) Finish() {
	p.bar.Finish()
}

// quietProgress discards every update; NewProgress returns it when
// quiet is true.
type quietProgress struct{}

func (quietProgress) Add(int)  {}
func (quietProgress) Finish() {}
