package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/ieee0824/livedecode-go/asrerr"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const master = `# model
--model_type=gmm
--model=final.mdl
--hclg=HCLG.fst
--words=words.txt
--use-cmvn=false   # dashes and underscores are interchangeable
--cfg_decoder=decoder.cfg
--cfg_mfcc=missing.cfg
`

func TestLoadOptionFiles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		DefaultFile:   master,
		"decoder.cfg": "--beam=13\n--max-active=7000\n--lattice_beam=6\n",
	})
	cfg, err := Load(filepath.Join(dir, DefaultFile))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelType != "gmm" || cfg.Model != "final.mdl" {
		t.Errorf("master = %+v", cfg)
	}
	if cfg.Decoder.Beam != 13 || cfg.Decoder.MaxActive != 7000 || cfg.Decoder.LatticeBeam != 6 {
		t.Errorf("decoder = %+v", cfg.Decoder)
	}
	if cfg.MFCC.NumCeps != 13 {
		t.Errorf("missing mfcc file changed defaults: %+v", cfg.MFCC)
	}
	if cfg.Decodable.AcousticScale != 0.1 || cfg.Splice.LeftContext != 3 || cfg.BitsPerSample != 16 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if got, want := cfg.Resolve("final.mdl"), filepath.Join(dir, "final.mdl"); got != want {
		t.Errorf("Resolve = %q, want %q", got, want)
	}
	if got := cfg.Resolve("s3://bucket/HCLG.fst"); got != "s3://bucket/HCLG.fst" {
		t.Errorf("Resolve(url) = %q", got)
	}
}

func TestLoadBaseDirOverride(t *testing.T) {
	dir := writeFiles(t, map[string]string{DefaultFile: master})
	cfg, err := Load(filepath.Join(dir, DefaultFile), WithBaseDir("/models"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Resolve("words.txt"); got != filepath.Join("/models", "words.txt") {
		t.Errorf("Resolve = %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		wantMsg string
	}{
		{
			name:    "missing required",
			files:   map[string]string{DefaultFile: "--model_type=gmm\n--model=m\n"},
			wantMsg: "hclg is required",
		},
		{
			name:    "bad model type",
			files:   map[string]string{DefaultFile: strings.Replace(master, "gmm", "hmm", 1)},
			wantMsg: "model_type must be one of",
		},
		{
			name:    "cmvn without stats",
			files:   map[string]string{DefaultFile: master + "--use_cmvn=true\n"},
			wantMsg: "mat_cmvn is required when UseCMVN is true",
		},
		{
			name:    "malformed value",
			files:   map[string]string{DefaultFile: master, "decoder.cfg": "--beam=wide\n"},
			wantMsg: "beam",
		},
		{
			name:    "unknown option",
			files:   map[string]string{DefaultFile: master, "decoder.cfg": "--bogus=1\n"},
			wantMsg: "bogus",
		},
		{
			name:    "missing dashes",
			files:   map[string]string{DefaultFile: "model=final.mdl\n"},
			wantMsg: "expected --option=value",
		},
		{
			name:    "odd sample width",
			files:   map[string]string{DefaultFile: master + "--bits_per_sample=12\n"},
			wantMsg: "multiple of 8",
		},
		{
			name:    "invalid subsystem option",
			files:   map[string]string{DefaultFile: master, "decoder.cfg": "--beam=-1\n"},
			wantMsg: "beam must be greater than 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, tt.files)
			_, err := Load(filepath.Join(dir, DefaultFile))
			if !errors.Is(err, asrerr.ErrConfigInvalid) {
				t.Fatalf("Load error = %v, want ConfigInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoadMissingMaster(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), DefaultFile))
	if !errors.Is(err, asrerr.ErrConfigInvalid) {
		t.Errorf("Load error = %v, want ConfigInvalid", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"livedecode.yaml": `model_type: nnet2
model: final.mdl
hclg: HCLG.fst
words: words.txt
cfg_decoder: decoder.cfg
decoder:
  beam: 11
endpoint:
  silence-phones: "1:2"
  rule2:
    min-trailing-silence: 0.3
`,
		"decoder.cfg": "--beam=13\n--max-active=5000\n",
	})
	t.Setenv("LIVEDECODE_DECODER_LATTICE_BEAM", "6")
	cfg, err := Load(filepath.Join(dir, "livedecode.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ModelType != "nnet2" || cfg.HCLG != "HCLG.fst" {
		t.Errorf("master = %+v", cfg)
	}
	// Inline options win over the option file, the file over defaults.
	if cfg.Decoder.Beam != 11 || cfg.Decoder.MaxActive != 5000 {
		t.Errorf("decoder = %+v", cfg.Decoder)
	}
	if cfg.Decoder.LatticeBeam != 6 {
		t.Errorf("env override not applied: lattice beam %v", cfg.Decoder.LatticeBeam)
	}
	if cfg.Endpoint.SilencePhones != "1:2" || cfg.Endpoint.Rule2.MinTrailingSilence != 0.3 {
		t.Errorf("endpoint = %+v", cfg.Endpoint)
	}
}

func TestLoadYAMLUnknownKey(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"c.yaml": "model_type: gmm\nmodel: m\nhclg: h\nwords: w\ndecoder:\n  bem: 3\n",
	})
	_, err := Load(filepath.Join(dir, "c.yaml"))
	if !errors.Is(err, asrerr.ErrConfigInvalid) || !strings.Contains(err.Error(), "decoder.bem") {
		t.Errorf("Load error = %v", err)
	}
}

func TestParseOptions(t *testing.T) {
	var beam float64
	var on bool
	fs := newFlagSet("t")
	fs.Float64Var(&beam, "beam", 1, "")
	fs.BoolVar(&on, "use_pitch", false, "")
	err := ParseOptions(strings.NewReader("\n  --beam=2.5 # wide\n--use_pitch\n"), fs)
	if err != nil {
		t.Fatal(err)
	}
	if beam != 2.5 || !on {
		t.Errorf("beam = %v, use_pitch = %v", beam, on)
	}
	if err := ParseOptions(strings.NewReader("--beam=1 extra\n"), pflag.NewFlagSet("x", pflag.ContinueOnError)); err == nil {
		t.Error("expected error for unknown flag")
	}
}
