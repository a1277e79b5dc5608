package cli

import (
	"os"

	"github.com/ajbt200128/mosaic/internal/config"
)

func configPath() string {
	if p := os.Getenv(config.EnvPath); p != "" {
		return p
	}
	return "(default) " + config.DefaultPath
}

func (r *Root) configShow() error {
	r.printf("# config file: %s\n", configPath())
	r.printf("%s", r.cfg.AsYAML())
	return nil
}

func (r *Root) configValidate() error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	r.printf("configuration ok\n")
	return nil
}
