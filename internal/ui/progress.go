package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tonimelisma/onedrive-extractor/pkg/onedrive"
)

// TransferProgress shows a progress bar counting transferred files. It
// satisfies pipeline.Progress.
type TransferProgress struct {
	w   io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewTransferProgress returns a reporter drawing on w, usually os.Stderr so
// it does not interfere with the summary on stdout.
func NewTransferProgress(w io.Writer) *TransferProgress {
	return &TransferProgress{w: w}
}

func (p *TransferProgress) Start(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
	)
}

func (p *TransferProgress) Done(file onedrive.RemoteFile, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	if err != nil {
		p.bar.Describe("Failed " + file.Name)
	} else {
		p.bar.Describe(file.Name)
	}
	_ = p.bar.Add(1)
}

func (p *TransferProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}
