package main

import (
	"testing"
	"time"

	"adamcp/internal/config"
)

func TestMergeConfigBackoffPrecedence(t *testing.T) {
	file := config.Config{
		BackoffBaseMS:   250,
		BackoffMaxMS:    8000,
		ProbeIntervalMS: 1500,
		MaxRestarts:     4,
	}

	// No flags set: the file values win.
	cmd := buildRootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var dst config.Config
	mergeConfig(&dst, file, cmd)
	if dst.BackoffBaseMS != 250 || dst.BackoffMaxMS != 8000 {
		t.Fatalf("file backoff not merged: %+v", dst)
	}
	if dst.ProbeIntervalMS != 1500 || dst.MaxRestarts != 4 {
		t.Fatalf("file supervision tunables not merged: %+v", dst)
	}

	// An explicit flag beats the file.
	cmd = buildRootCmd()
	if err := cmd.ParseFlags([]string{"--backoff-base-ms", "100"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	dst = config.Config{BackoffBaseMS: 100}
	mergeConfig(&dst, file, cmd)
	if dst.BackoffBaseMS != 100 {
		t.Fatalf("flag lost to file: %+v", dst)
	}
	if dst.BackoffMaxMS != 8000 {
		t.Fatalf("unset flag should take the file value: %+v", dst)
	}
}

func TestMsDuration(t *testing.T) {
	if got := msDuration(250); got != 250*time.Millisecond {
		t.Fatalf("msDuration(250) = %v", got)
	}
	if got := msDuration(0); got != 0 {
		t.Fatalf("msDuration(0) = %v", got)
	}
}
