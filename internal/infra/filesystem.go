package infra

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/xeylabs/xbot/internal/config"
)

// GetWorkDir resolves (and creates) the bot's dot directory, optionally
// descending into the given subpath.
func GetWorkDir(path ...string) string {
	parts := append([]string{config.Get().DotPath}, path...)
	workDir, err := homedir.Expand(filepath.Join(parts...))
	if err != nil {
		log.Fatalln(err)
	}
	if err = os.MkdirAll(workDir, os.ModePerm); err != nil {
		log.Fatalln(err)
	}
	return workDir
}
