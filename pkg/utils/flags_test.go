package utils

import (
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

func TestNormalizeBooleanFlags(t *testing.T) {
	args := []string{"cmd", "--debug", "false", "--name", "value", "--verbose", "true"}
	out := NormalizeBooleanFlags(args, map[string]struct{}{"debug": {}, "verbose": {}})
	expected := []string{"cmd", "--debug=false", "--name", "value", "--verbose=true"}
	if !reflect.DeepEqual(out, expected) {
		t.Fatalf("unexpected normalization: %#v", out)
	}
}

func TestNormalizeBooleanFlagsStopsAtTerminator(t *testing.T) {
	args := []string{"cmd", "--", "--debug", "false"}
	out := NormalizeBooleanFlags(args, map[string]struct{}{"debug": {}})
	if !reflect.DeepEqual(out, args) {
		t.Fatalf("args after -- must be untouched: %#v", out)
	}
}

func TestBoolFlagNames(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.BoolP("debug", "d", false, "")
	fs.Bool("verbose", false, "")
	fs.String("name", "", "")
	fs.Int("retries", 3, "")

	got := BoolFlagNames(fs)
	want := map[string]struct{}{"debug": {}, "d": {}, "verbose": {}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names: %#v", got)
	}

	out := NormalizeBooleanFlags([]string{"cmd", "-d", "FALSE", "--name", "true", "--retries", "false"}, got)
	expected := []string{"cmd", "-d=false", "--name", "true", "--retries", "false"}
	if !reflect.DeepEqual(out, expected) {
		t.Fatalf("only boolean flags are joined: %#v", out)
	}
}

func TestMultiValueHeader(t *testing.T) {
	var mvh MultiValueHeader
	if err := mvh.Set("A=B"); err != nil {
		t.Fatal(err)
	}
	if err := mvh.Set("C=D=E"); err != nil {
		t.Fatal(err)
	}
	if err := mvh.Set("X"); err != nil {
		t.Fatal(err)
	}
	if err := mvh.Set("=novalue"); err == nil {
		t.Fatalf("expected error for header without name")
	}
	want := map[string]string{"A": "B", "C": "D=E", "X": ""}
	if !reflect.DeepEqual(mvh.Headers, want) {
		t.Fatalf("headers mismatch: got %#v want %#v", mvh.Headers, want)
	}
	if mvh.String() != "A,C,X" {
		t.Fatalf("unexpected String(): %q", mvh.String())
	}
}

func TestMultiValueHeaderAsPflag(t *testing.T) {
	var mvh MultiValueHeader
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Var(&mvh, "header", "")
	if err := fs.Parse([]string{"--header", "Authorization=Bearer x", "--header", "X-Id=1"}); err != nil {
		t.Fatal(err)
	}
	if mvh.Headers["Authorization"] != "Bearer x" || mvh.Headers["X-Id"] != "1" {
		t.Fatalf("unexpected headers: %#v", mvh.Headers)
	}
}
