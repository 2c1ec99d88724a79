// Package testmodel writes a tiny but complete model directory for tests.
//
// The model has two phones with identical GMMs, so the graph alone ranks
// hypotheses: phone 1 loops cost 0.5 per frame, entering the word "hello"
// costs 1 once and phone 2 then loops for free. Any utterance longer than
// two frames decodes to "hello".
package testmodel

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ieee0824/livedecode-go/acoustic"
	"github.com/ieee0824/livedecode-go/config"
)

// SampleRate is the waveform rate of the model.
const SampleRate = 16000

// Options adjusts the written model.
type Options struct {
	// Dim is the GMM feature dimension. Default 91, which matches the
	// default MFCC and splice settings.
	Dim int
	// ModelType is written to the master file. Default "gmm".
	ModelType string
	// Master holds extra master file lines; later keys override earlier.
	Master []string
	// Decoder replaces the decoder option file.
	Decoder string
	// Endpoint replaces the endpoint option file. Default sets phone 1 as
	// silence.
	Endpoint string
	// WordCost is the graph cost of entering "hello". Default 1.
	WordCost float64
}

// Write writes the model into a temp dir and returns the master file path.
func Write(t testing.TB, o Options) string {
	t.Helper()
	if o.Dim == 0 {
		o.Dim = 13 * 7
	}
	if o.ModelType == "" {
		o.ModelType = "gmm"
	}
	if o.Decoder == "" {
		o.Decoder = "--beam=12\n--lattice-beam=6\n--max-active=1000\n"
	}
	if o.Endpoint == "" {
		o.Endpoint = "--endpoint.silence-phones=1\n"
	}
	if o.WordCost == 0 {
		o.WordCost = 1
	}
	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tm, err := acoustic.NewLeftToRight([]int{1, 2}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	mean := make([]float64, o.Dim)
	vars := make([]float64, o.Dim)
	for i := range vars {
		vars[i] = 100
	}
	pdfs := make([]*acoustic.GMM, tm.NumPdfs())
	for i := range pdfs {
		pdfs[i] = acoustic.NewGMMWithParams([][]float64{mean}, [][]float64{vars}, []float64{0})
	}
	am, err := acoustic.NewAmDiagGMM(pdfs)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := acoustic.WriteModel(&buf, tm, am); err != nil {
		t.Fatal(err)
	}
	write("final.mdl", buf.String())

	var g strings.Builder
	for tid := 1; tid <= tm.NumTransitionIDs(); tid++ {
		if tm.TransitionIDToPhone(tid) == 1 {
			fmt.Fprintf(&g, "0 0 %d 0 0.5\n", tid)
		} else {
			fmt.Fprintf(&g, "1 1 %d 0 0\n", tid)
		}
	}
	fmt.Fprintf(&g, "0 1 %d 1 %g\n", tm.TransitionID(2, 0, false), o.WordCost)
	g.WriteString("1 0 0 0 0\n0\n1\n")
	write("HCLG.fst", g.String())
	write("words.txt", "<eps> 0\nhello 1\n")
	write("decoder.cfg", o.Decoder)
	write("endpoint.cfg", o.Endpoint)

	master := []string{
		"--model_type=" + o.ModelType,
		"--model=final.mdl",
		"--hclg=HCLG.fst",
		"--words=words.txt",
		"--cfg_decoder=decoder.cfg",
		"--cfg_endpoint=endpoint.cfg",
	}
	master = append(master, o.Master...)
	write(config.DefaultFile, strings.Join(master, "\n")+"\n")
	return filepath.Join(dir, config.DefaultFile)
}

// Tone returns seconds of a 440 Hz tone at rate, as 16-bit PCM values.
func Tone(seconds float64, rate int) []float64 {
	n := int(seconds * float64(rate))
	out := make([]float64, n)
	for i := range out {
		out[i] = 3000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
	}
	return out
}
