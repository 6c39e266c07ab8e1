package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vikasgaddu1/sdtmforge/pkg/config"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
	"github.com/vikasgaddu1/sdtmforge/pkg/generate"
	"github.com/vikasgaddu1/sdtmforge/pkg/igclient"
	"github.com/vikasgaddu1/sdtmforge/pkg/logging"
	"github.com/vikasgaddu1/sdtmforge/pkg/memory"
	"github.com/vikasgaddu1/sdtmforge/pkg/pipeline"
	"github.com/vikasgaddu1/sdtmforge/pkg/spec"
)

func main() {
	configPath := flag.String("config", "", "Path to a single config file (default: layered standards + study config)")
	standardsDir := flag.String("standards", "standards", "Organization standards directory")
	studiesDir := flag.String("studies", "studies", "Studies root directory")
	studyID := flag.String("study", "", "Study identifier")
	domain := flag.String("domain", "DM", "Domain to process (e.g. DM, VS, AE)")
	resume := flag.Bool("resume", false, "Resume the run from its persisted stage")
	force := flag.Bool("force", false, "Force past failed spec-review findings and continue")
	reset := flag.Bool("reset", false, "Discard the persisted run state")
	decide := flag.String("decide", "", "Apply pending decisions as VAR=OPTION[,VAR=OPTION] and resume")
	scanPromotions := flag.Bool("scan-promotions", false, "List pitfall patterns eligible for promotion")
	promote := flag.Bool("promote", false, "Promote all pending pitfall patterns to the organization store")
	approvedBy := flag.String("approved-by", "", "Approver identity required by -promote")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	promotionMode := *scanPromotions || *promote

	cfg, err := loadConfig(*configPath, *standardsDir, *studiesDir, *studyID)
	if err != nil {
		if !promotionMode {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(1)
		}
		// Promotion maintenance needs only the two directory roots.
		cfg = config.Default()
		cfg.Study.Root = *studiesDir
		cfg.Study.StandardsDir = *standardsDir
	}

	setupLogging(cfg, *debug)
	ctx := context.Background()
	logger := logging.GetLogger()

	// Promotion maintenance runs against the memory tiers alone; no study
	// run and no generator are involved.
	if promotionMode {
		if err := runPromotions(cfg, *promote, *approvedBy); err != nil {
			logger.Error(ctx, "promotion scan failed: %v", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if cfg.Study.ID == "" {
		fmt.Fprintln(os.Stderr, "missing -study (or study.id in config)")
		os.Exit(1)
	}

	machine, cleanup, err := buildMachine(ctx, cfg, *domain)
	if err != nil {
		logger.Error(ctx, "setup failed: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	switch {
	case *reset:
		err = machine.Reset()
	case *decide != "":
		err = provideDecisions(ctx, machine, cfg, *domain, *decide)
		if err == nil {
			err = machine.Resume(ctx)
		}
	case *force:
		err = machine.Force(ctx)
	case *resume:
		err = machine.Resume(ctx)
	default:
		err = machine.Run(ctx)
	}

	if err != nil {
		if errors.CodeOf(err) == errors.WaitingForHuman {
			printPendingDecisions(cfg, *domain)
			os.Exit(2)
		}
		logger.Error(ctx, "run failed: %v", err)
		os.Exit(1)
	}
}

func loadConfig(configPath, standardsDir, studiesDir, studyID string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		applyOverrides(cfg, studyID)
		return cfg, nil
	}

	studyDir := ""
	if studyID != "" {
		studyDir = filepath.Join(studiesDir, studyID)
	}
	cfg, err := config.LoadLayered(standardsDir, studyDir)
	if err != nil {
		return nil, err
	}
	cfg.Study.Root = studiesDir
	applyOverrides(cfg, studyID)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, studyID string) {
	if studyID != "" {
		cfg.Study.ID = studyID
	}
}

func setupLogging(cfg *config.Config, debug bool) {
	severity := logging.ParseSeverity(cfg.Logging.Level)
	if debug {
		severity = logging.DEBUG
	}

	outputs := []logging.Output{
		logging.NewConsoleOutput(true, logging.WithColor(cfg.Logging.Color)),
	}
	if cfg.Logging.File != "" {
		if fileOut, err := logging.NewFileOutput(cfg.Logging.File); err == nil {
			outputs = append(outputs, fileOut)
		} else {
			fmt.Fprintf(os.Stderr, "log file unavailable: %v\n", err)
		}
	}

	logging.SetLogger(logging.NewLogger(logging.Config{
		Severity: severity,
		Outputs:  outputs,
	}))
}

func buildMachine(ctx context.Context, cfg *config.Config, domain string) (*pipeline.Machine, func(), error) {
	studyDir := filepath.Join(cfg.Study.Root, cfg.Study.ID)
	mem := memory.NewManager(cfg.Study.StandardsDir, studyDir, cfg.Study.ID)

	stateDir := cfg.Paths.StateDir
	if stateDir == "" {
		stateDir = studyDir
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, errors.Unknown, "failed to create state directory")
	}
	store, err := pipeline.NewStateStore(filepath.Join(stateDir, "pipeline_state.db"))
	if err != nil {
		return nil, nil, err
	}

	llm, err := generate.NewAnthropicCompleter(cfg.Generator)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	rawData := cfg.Paths.RawData
	if rawData == "" {
		rawData = filepath.Join(studyDir, "raw", "raw_"+strings.ToLower(domain)+".csv")
	}

	builder := generate.NewSpecBuilder(llm, rawData)
	var igConn *igclient.Client
	if cfg.IG.ServerCommand != "" {
		igConn, err = igclient.Connect(ctx, cfg.IG)
		if err != nil {
			logging.GetLogger().Warn(ctx, "ig content server unavailable, drafting without it: %v", err)
		} else {
			builder.IG = igConn
		}
	}

	language := generate.LanguageForInterpreter(cfg.Generator.Interpreter)
	prodGen := generate.NewProgramGenerator(llm, "production", language)
	prodGen.RawDataPath = rawData
	prodGen.OutputPath = pipeline.DatasetPath(cfg, domain, "production")

	qcGen := generate.NewProgramGenerator(llm, "qc", language)
	qcGen.RawDataPath = rawData
	qcGen.OutputPath = pipeline.DatasetPath(cfg, domain, "qc")

	validator, err := generate.NewRuleValidator(ctx, cfg.Paths.CTLookup)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	deps := pipeline.Deps{
		Builder:   builder,
		Reviewer:  generate.NewSpecReviewer(llm),
		ProdGen:   prodGen,
		QCGen:     qcGen,
		Executor:  generate.NewScriptExecutor(cfg.Generator.Interpreter, ""),
		Validator: validator,
	}

	machine, err := pipeline.NewMachine(cfg, domain, store, mem, deps)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		store.Close()
		if igConn != nil {
			igConn.Close()
		}
	}
	return machine, cleanup, nil
}

// provideDecisions parses VAR=OPTION pairs into resolutions. Decisions made
// at the command line are always recorded with manual provenance; accepting
// a convention default still went through a human here.
func provideDecisions(ctx context.Context, machine *pipeline.Machine, cfg *config.Config, domain, pairs string) error {
	resolutions := make(map[string]spec.Resolution)
	for _, pair := range strings.Split(pairs, ",") {
		name, option, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || option == "" {
			return errors.WithFields(
				errors.New(errors.InvalidInput, "decisions must be VAR=OPTION pairs"),
				errors.Fields{"got": pair},
			)
		}
		resolutions[name] = spec.Resolution{OptionID: option, Provenance: "manual"}
	}
	return machine.ProvideDecisions(ctx, resolutions)
}

// printPendingDecisions shows the reviewer what the run is waiting on.
func printPendingDecisions(cfg *config.Config, domain string) {
	fmt.Println("Run suspended: decisions pending human review.")

	store := spec.NewStore(pipeline.SpecsDir(cfg))
	s, err := store.ReadLatest(domain)
	if err != nil {
		fmt.Printf("  (could not read spec: %v)\n", err)
		return
	}

	for _, v := range s.PendingDecisions() {
		fmt.Printf("\n  %s.%s:\n", domain, v.Name)
		for _, opt := range v.Options {
			marker := " "
			if opt.Convention {
				marker = "*"
			}
			fmt.Printf("   %s %-28s %s\n", marker, opt.ID, opt.Description)
		}
	}
	fmt.Printf("\nResume with: sdtmforge -study %s -domain %s -decide VAR=OPTION[,VAR=OPTION]\n",
		cfg.Study.ID, domain)
	fmt.Println("(* marks the organization convention default)")
}

func runPromotions(cfg *config.Config, doPromote bool, approvedBy string) error {
	scanner := memory.NewScanner(cfg.Study.Root, cfg.Study.StandardsDir)
	pending, err := scanner.PendingPromotions()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pitfall patterns pending promotion.")
		return nil
	}

	for _, c := range pending {
		fmt.Printf("[%s] %s\n    seen in %d studies: %s\n",
			c.Category, c.FirstObserved.Description, len(c.Studies), strings.Join(c.Studies, ", "))
	}

	if !doPromote {
		fmt.Printf("\n%d pattern(s) eligible. Promote with -promote -approved-by <name>.\n", len(pending))
		return nil
	}

	for _, c := range pending {
		if err := scanner.Promote(c.FirstObserved, approvedBy); err != nil {
			return err
		}
		fmt.Printf("promoted: %s\n", c.FirstObserved.Description)
	}
	fmt.Printf("%d pattern(s) promoted by %s.\n", len(pending), approvedBy)
	return nil
}
