package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/vikasgaddu1/sdtmforge/pkg/config"
)

// outputPaths resolves where a domain run writes its artifacts. The layout
// under the output root is fixed; only the root itself is configurable.
type outputPaths struct {
	root    string
	domain  string
	dataExt string
	progExt string
}

func newOutputPaths(cfg *config.Config, domain string) outputPaths {
	root := cfg.Paths.OutputDir
	if root == "" {
		root = filepath.Join(cfg.Study.Root, cfg.Study.ID, "output")
	}

	dataExt := ".parquet"
	if cfg.Comparison.OutputFormat == "csv" {
		dataExt = ".csv"
	}

	progExt := ".R"
	if strings.Contains(strings.ToLower(cfg.Generator.Interpreter), "python") {
		progExt = ".py"
	}

	return outputPaths{
		root:    root,
		domain:  strings.ToLower(domain),
		dataExt: dataExt,
		progExt: progExt,
	}
}

func (p outputPaths) specsDir() string {
	return filepath.Join(p.root, "specs")
}

// SpecsDir returns where runs under this config persist their specs.
func SpecsDir(cfg *config.Config) string {
	return newOutputPaths(cfg, "").specsDir()
}

// DatasetPath returns where the named side's dataset materializes, so
// generators can point their programs at the right output file.
func DatasetPath(cfg *config.Config, domain, side string) string {
	return newOutputPaths(cfg, domain).dataset(side)
}

// program returns the program path for one side ("production" or "qc").
func (p outputPaths) program(side string) string {
	return filepath.Join(p.root, "programs", p.domain+"_"+side+p.progExt)
}

// dataset returns the dataset path for one side. The qc candidate lives
// apart from the production one so regenerations never clobber it.
func (p outputPaths) dataset(side string) string {
	if side == "qc" {
		return filepath.Join(p.root, "qc", p.domain+"_qc"+p.dataExt)
	}
	return filepath.Join(p.root, "datasets", p.domain+p.dataExt)
}

func (p outputPaths) compareReport() string {
	return filepath.Join(p.root, "compare", p.domain+"_compare.txt")
}

func (p outputPaths) validationReport() string {
	return filepath.Join(p.root, "validation", p.domain+"_validation.yaml")
}
