package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand_RejectsArgs(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := newVersionCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"extra"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error: command takes no arguments")
	}
}

func TestVersionCommand_PrintsVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := newVersionCommand()
	version = "v1.2.3"
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimRight(buf.String(), "\n"); got != "v1.2.3" {
		t.Fatalf("expected v1.2.3, got %s", got)
	}
}
