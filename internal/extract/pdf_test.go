package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRunner struct {
	name   string
	args   []string
	stdout string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name = name
	f.args = args
	return []byte(f.stdout), []byte("stderr output"), f.err
}

func TestPDFExtractor_Args(t *testing.T) {
	r := &fakeRunner{stdout: "page one"}
	e := NewPDFExtractorWithRunner(Config{}, r, nil)

	_ = e.Text(context.Background(), "/tmp/a.pdf")
	assert.Equal(t, "pdftotext", r.name)
	assert.Equal(t, []string{"-f", "1", "-l", "3", "-layout", "-enc", "UTF-8", "-eol", "unix", "/tmp/a.pdf", "-"}, r.args)
}

func TestPDFExtractor_CustomPages(t *testing.T) {
	r := &fakeRunner{}
	e := NewPDFExtractorWithRunner(Config{Pdftotext: "/opt/bin/pdftotext", MaxPages: 5}, r, nil)

	_ = e.Text(context.Background(), "x.pdf")
	assert.Equal(t, "/opt/bin/pdftotext", r.name)
	assert.Equal(t, "5", r.args[3])
}

func TestPDFExtractor_JoinsPages(t *testing.T) {
	r := &fakeRunner{stdout: "first page\f  \fthird page\f"}
	e := NewPDFExtractorWithRunner(Config{}, r, nil)

	assert.Equal(t, "first page\nthird page\n", e.Text(context.Background(), "x.pdf"))
}

func TestPDFExtractor_ErrorYieldsEmpty(t *testing.T) {
	r := &fakeRunner{stdout: "partial", err: errors.New("exit status 1")}
	e := NewPDFExtractorWithRunner(Config{}, r, nil)

	assert.Equal(t, "", e.Text(context.Background(), "broken.pdf"))
}
