package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/ieee0824/livedecode-go/asrerr"
)

type sample struct {
	Scale   float64 `flag:"acoustic-scale" validate:"gt=0"`
	UseCMVN bool
	CMVN    string `mapstructure:"mat_cmvn" validate:"required_if=UseCMVN true"`
	Beam    float64
}

func TestStructValid(t *testing.T) {
	if err := Struct("test", sample{Scale: 0.1}); err != nil {
		t.Errorf("Struct = %v, want nil", err)
	}
}

func TestStructReportsEveryViolation(t *testing.T) {
	err := Struct("test", sample{Scale: 0, UseCMVN: true})
	if !errors.Is(err, asrerr.ErrConfigInvalid) {
		t.Fatalf("err = %v, want ConfigInvalid", err)
	}
	msg := err.Error()
	for _, want := range []string{"acoustic-scale must be greater than 0", "mat_cmvn is required when"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Error("errors.As(*FieldError) = false")
	}
}

func TestJoin(t *testing.T) {
	if err := Join("op", nil, nil); err != nil {
		t.Errorf("Join(nil, nil) = %v", err)
	}
	err := Join("op", errors.New("a"), errors.New("b"))
	if asrerr.KindOf(err) != asrerr.ConfigInvalid {
		t.Errorf("KindOf = %v", asrerr.KindOf(err))
	}
	if !strings.Contains(err.Error(), "a\nb") {
		t.Errorf("err = %q", err.Error())
	}
}

func TestJoinFlattensNested(t *testing.T) {
	err := Join("config", Struct("config", sample{Scale: 0}), Join("decoder config", errors.New("beam")))
	msg := err.Error()
	if n := strings.Count(msg, string(asrerr.ConfigInvalid)); n != 1 {
		t.Errorf("kind appears %d times in %q, want 1", n, msg)
	}
	if strings.Count(msg, "config: ") != 2 {
		t.Errorf("err = %q", msg)
	}
	for _, want := range []string{"acoustic-scale must be greater than 0", "decoder config: beam"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Error("errors.As(*FieldError) = false")
	}
}

func TestToSnakeCase(t *testing.T) {
	if got := toSnakeCase("LeftContext"); got != "left_context" {
		t.Errorf("toSnakeCase = %q", got)
	}
}
