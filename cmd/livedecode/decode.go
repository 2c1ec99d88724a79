package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	livedecode "github.com/ieee0824/livedecode-go"
	"github.com/ieee0824/livedecode-go/audio"
	"github.com/ieee0824/livedecode-go/config"
	"github.com/ieee0824/livedecode-go/internal/logging"
	"github.com/ieee0824/livedecode-go/scoring"
	"github.com/ieee0824/livedecode-go/store"
)

type decodeOptions struct {
	config    string
	chunkMs   int
	maxFrames int
	endpoint  bool
	arcs      bool
	storeDir  string
	ref       string
}

type utteranceView struct {
	ID                   string `json:"id,omitempty" yaml:"id,omitempty"`
	EndpointRule         int    `json:"endpoint_rule,omitempty" yaml:"endpoint_rule,omitempty"`
	livedecode.Utterance `yaml:",inline"`
}

type fileResult struct {
	File       string          `json:"file" yaml:"file"`
	Session    string          `json:"session" yaml:"session"`
	Utterances []utteranceView `json:"utterances" yaml:"utterances"`
	// Reference and Score are set when a reference transcript is given.
	Reference string             `json:"reference,omitempty" yaml:"reference,omitempty"`
	Score     *scoring.Alignment `json:"score,omitempty" yaml:"score,omitempty"`
}

func (f fileResult) words() []string {
	var ws []string
	for _, u := range f.Utterances {
		ws = append(ws, u.Words...)
	}
	return ws
}

type decodeResults []fileResult

func (r decodeResults) text(s styles) string {
	var b strings.Builder
	var total scoring.Alignment
	scored := 0
	for _, f := range r {
		b.WriteString(s.Title.Render(f.File))
		b.WriteByte('\n')
		if len(f.Utterances) == 0 {
			b.WriteString(s.Dim.Render("  (no speech)"))
			b.WriteByte('\n')
		}
		for _, u := range f.Utterances {
			fmt.Fprintf(&b, "  %s %s\n", s.Text.Render(u.Text),
				s.Dim.Render(fmt.Sprintf("[%d frames, cost %.2f]", u.Frames, u.Cost)))
		}
		if f.Score != nil {
			fmt.Fprintf(&b, "  %s %s\n", s.Dim.Render("ref:"), f.Reference)
			fmt.Fprintf(&b, "  %s\n", s.Dim.Render(f.Score.String()))
			total.Add(*f.Score)
			scored++
		}
	}
	if scored > 1 {
		fmt.Fprintf(&b, "%s %s\n", s.Title.Render("total"), total)
	}
	return b.String()
}

func newDecodeCmd(g *globalOptions) *cobra.Command {
	o := &decodeOptions{}
	cmd := &cobra.Command{
		Use:   "decode <file.wav>...",
		Short: "Decode WAV files",
		Long: `Decode mono 8- or 16-bit PCM WAV files. Audio at another rate is
resampled to the model rate. With --endpoint a file is split into several
utterances wherever an endpoint rule fires.`,
		Example: `  livedecode decode -c model/pykaldi.cfg a.wav b.wav
  livedecode decode -c model/pykaldi.cfg -o json -q '.[].utterances[].text' a.wav`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(g, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			res, err := runDecode(cmd.Context(), g, o, args)
			if err != nil {
				return err
			}
			return p.print(res)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.config, "config", "c", config.DefaultFile, "master config file")
	f.IntVar(&o.chunkMs, "chunk-ms", 100, "audio fed per step, in milliseconds")
	f.IntVar(&o.maxFrames, "max-frames", -1, "frames decoded per step (-1 for all ready)")
	f.BoolVar(&o.endpoint, "endpoint", false, "split utterances at endpoints")
	f.BoolVar(&o.arcs, "arcs", false, "include word posterior arcs")
	f.StringVar(&o.storeDir, "store", "", "store results in this directory")
	f.StringVar(&o.ref, "ref", "", "reference transcripts (\"<key> <words...>\" per line, key = file name without extension)")
	return cmd
}

func runDecode(ctx context.Context, g *globalOptions, o *decodeOptions, files []string) (decodeResults, error) {
	if o.chunkMs <= 0 {
		return nil, fmt.Errorf("--chunk-ms must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d := livedecode.New(livedecode.WithLogger(g.log))
	if err := d.Setup(ctx, o.config); err != nil {
		return nil, err
	}
	var st *store.Store
	if o.storeDir != "" {
		var err error
		st, err = store.Open(store.Options{Dir: o.storeDir, Logger: logging.Component(g.log, "store")})
		if err != nil {
			return nil, err
		}
		defer st.Close()
	}

	var refs map[string][]string
	if o.ref != "" {
		f, err := os.Open(o.ref)
		if err != nil {
			return nil, err
		}
		refs, err = scoring.ReadTranscripts(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.ref, err)
		}
	}

	var out decodeResults
	for _, path := range files {
		res, err := decodeFile(d, o, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		res.Session = d.SessionID()
		for i, u := range res.Utterances {
			if st != nil {
				id, err := st.Put(ctx, storeResult(res.Session, u))
				if err != nil {
					return nil, err
				}
				res.Utterances[i].ID = id
			}
			if !o.arcs {
				res.Utterances[i].Arcs = nil
			}
		}
		key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if ref, ok := refs[key]; ok {
			a := scoring.Align(ref, res.words())
			res.Reference = strings.Join(ref, " ")
			res.Score = &a
		} else if refs != nil {
			g.log.Warn().Str("file", path).Str("key", key).Msg("no reference transcript")
		}
		out = append(out, res)
	}
	return out, nil
}

func decodeFile(d *livedecode.Decoder, o *decodeOptions, path string) (fileResult, error) {
	res := fileResult{File: path}
	samples, hdr, err := audio.ReadWAVFile(path)
	if err != nil {
		return res, err
	}
	rate := d.SampleRate()
	if int(hdr.SampleRate) != rate {
		if samples, err = audio.Resample(samples, int(hdr.SampleRate), rate); err != nil {
			return res, err
		}
	}
	if err := d.Reset(false); err != nil {
		return res, err
	}

	emit := func(rule int) error {
		if d.NumFramesDecoded() > 0 {
			d.FinalizeDecoding()
			u, err := d.Utterance()
			if err != nil {
				return err
			}
			res.Utterances = append(res.Utterances, utteranceView{EndpointRule: rule, Utterance: u})
		}
		return d.Reset(false)
	}
	decode := func() error {
		for d.Decode(o.maxFrames) > 0 {
		}
		if !o.endpoint {
			return nil
		}
		if rule, ok := d.Endpoint(); ok {
			return emit(rule)
		}
		return nil
	}

	chunk := max(1, rate*o.chunkMs/1000)
	for off := 0; off < len(samples); off += chunk {
		d.FrameIn(samples[off:min(off+chunk, len(samples))])
		if err := decode(); err != nil {
			return res, err
		}
	}
	d.InputFinished()
	if err := decode(); err != nil {
		return res, err
	}
	if err := emit(0); err != nil {
		return res, err
	}
	return res, nil
}

func storeResult(session string, u utteranceView) store.Result {
	r := store.Result{
		Session:         session,
		Text:            u.Text,
		Words:           u.Words,
		Cost:            u.Cost,
		TotalLikelihood: u.TotalLikelihood,
		Frames:          u.Frames,
		EndpointRule:    u.EndpointRule,
	}
	for _, a := range u.Arcs {
		r.Arcs = append(r.Arcs, store.Arc{From: a.From, To: a.To, Word: a.Word, Posterior: a.Posterior})
	}
	return r
}
