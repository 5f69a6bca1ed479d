package cli

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/yxlao/StanfordPCL-sub001/registration"
	"github.com/yxlao/StanfordPCL-sub001/sampleconsensus"
	"github.com/yxlao/StanfordPCL-sub001/utils"
)

// fileConfig is the layout of a config file. Every section is decoded with the json tags of the
// matching configuration struct, for example
//
//	model:
//	  type: plane
//	sample_consensus:
//	  method: msac
//	  distance_threshold: 0.02
//	registration:
//	  max_iterations: 30
type fileConfig struct {
	Model           utils.AttributeMap `yaml:"model"`
	SampleConsensus utils.AttributeMap `yaml:"sample_consensus"`
	Registration    utils.AttributeMap `yaml:"registration"`
}

// readConfigFile parses path. An empty path yields an empty config.
func readConfigFile(path string) (*fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return &fc, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	return &fc, nil
}

func decodeSection(section string, attrs utils.AttributeMap, out interface{}) error {
	if len(attrs) == 0 {
		return nil
	}
	return errors.Wrapf(utils.DecodeAttributes(attrs, out), "config section %q", section)
}

func (fc *fileConfig) modelConfig() (sampleconsensus.ModelConfig, error) {
	var cfg sampleconsensus.ModelConfig
	if err := decodeSection("model", fc.Model, &cfg); err != nil {
		return sampleconsensus.ModelConfig{}, err
	}
	return cfg, nil
}

func (fc *fileConfig) sampleConsensusConfig() (sampleconsensus.Config, error) {
	cfg := sampleconsensus.DefaultConfig()
	if err := decodeSection("sample_consensus", fc.SampleConsensus, &cfg); err != nil {
		return sampleconsensus.Config{}, err
	}
	return cfg, nil
}

func (fc *fileConfig) registrationConfig() (registration.Config, error) {
	cfg := registration.DefaultConfig()
	if err := decodeSection("registration", fc.Registration, &cfg); err != nil {
		return registration.Config{}, err
	}
	return cfg, nil
}
