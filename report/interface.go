package report

// ProgressReporter is an interface to report per-file download progress.
// Reporters are best effort; callers log their errors and keep going.
type ProgressReporter interface {
	Release()

	StartFile(label string) error
	Progress(percent int) error
	DoneFile() error
}

// NewNilReporter returns a reporter that discards everything
func NewNilReporter() ProgressReporter {
	return &NilReporter{}
}

// NilReporter discards progress
type NilReporter struct{}

// Release releases resources used
func (reporter *NilReporter) Release() {}

// StartFile starts a file
func (reporter *NilReporter) StartFile(label string) error {
	return nil
}

// Progress reports progress
func (reporter *NilReporter) Progress(percent int) error {
	return nil
}

// DoneFile completes a file
func (reporter *NilReporter) DoneFile() error {
	return nil
}
