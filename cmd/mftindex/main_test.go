package main

import (
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestAppExposesAllSubcommands(t *testing.T) {
	app := &cli.App{
		Commands: []*cli.Command{scanCommand, serviceCommand, searchCommand, statusCommand},
	}

	want := map[string]bool{"scan": true, "service": true, "search": true, "status": true}
	for _, cmd := range app.Commands {
		delete(want, cmd.Name)
	}
	if len(want) != 0 {
		t.Errorf("missing subcommands: %v", want)
	}
}

func TestServiceCommandRequiresMftServiceFlag(t *testing.T) {
	var required bool
	for _, f := range serviceCommand.Flags {
		if bf, ok := f.(*cli.BoolFlag); ok && bf.Name == "mft-service" {
			required = bf.Required
		}
	}
	if !required {
		t.Errorf("expected --mft-service to be a required flag")
	}
}

func TestDefaultConfigPathIsUnderUserConfigDir(t *testing.T) {
	path := defaultConfigPath()
	if filepath.Base(filepath.Dir(path)) != "mftindex" {
		t.Errorf("expected config path to live under a mftindex directory, got %s", path)
	}
}

func TestDefaultIndexDirIsUnderUserCacheDir(t *testing.T) {
	dir := defaultIndexDir()
	if filepath.Base(dir) != "mftindex" {
		t.Errorf("expected index dir to be named mftindex, got %s", dir)
	}
}
