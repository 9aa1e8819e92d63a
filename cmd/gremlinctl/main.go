package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"gremlin/pkg/gremlin"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "train":
		return runTrain(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "contacts":
		return runContacts(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: gremlinctl <train|runs|contacts|export> [flags]", msg)
}

type storeFlags struct {
	kind    *string
	dbPath  *string
	runsDir *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:    fs.String("store", "memory", "store backend: memory|sqlite"),
		dbPath:  fs.String("db-path", "gremlin.db", "sqlite database path"),
		runsDir: fs.String("runs-dir", "runs", "run artifacts directory"),
	}
}

func (f storeFlags) client() (*gremlin.Client, error) {
	return gremlin.New(gremlin.Options{
		StoreKind: *f.kind,
		DBPath:    *f.dbPath,
		RunsDir:   *f.runsDir,
	})
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional JSON config file; flags override it")
	msaPath := fs.String("data", "", "aligned FASTA or A3M file (required)")
	structureFile := fs.String("structure-file", "", "optional true-contact file for AUC evaluation")
	outputFile := fs.String("output-file", "", "optional gob file for trained parameters")
	contactsFile := fs.String("contacts-file", "", "optional CSV file for APC-corrected contacts")
	learningRate := fs.Float64("learning-rate", 1e-3, "learning rate")
	l2Coeff := fs.Float64("l2-coeff", 1e-2, "L2 regularization coefficient")
	noBias := fs.Bool("no-bias", false, "disable the single-site bias")
	heads := fs.Int("heads", 32, "number of attention heads")
	headDim := fs.Int("head-dim", 16, "dims in each attention head")
	optimizer := fs.String("optimizer", "adam", "optimizer: adam|lamb")
	maxSteps := fs.Int("max-steps", 1000, "number of optimizer steps")
	batchSize := fs.Int("batch-size", 64, "minibatch size")
	seed := fs.Int64("seed", 0, "random seed")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req gremlin.TrainRequest
	if *configPath != "" {
		loaded, err := loadTrainRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}
	applyFlag := func(name string, apply func()) {
		set := false
		fs.Visit(func(f *flag.Flag) {
			if f.Name == name {
				set = true
			}
		})
		if set || *configPath == "" {
			apply()
		}
	}
	applyFlag("data", func() { req.MSAPath = *msaPath })
	applyFlag("structure-file", func() { req.StructureFile = *structureFile })
	applyFlag("output-file", func() { req.OutputFile = *outputFile })
	applyFlag("contacts-file", func() { req.ContactsFile = *contactsFile })
	applyFlag("learning-rate", func() { req.LearningRate = *learningRate })
	applyFlag("l2-coeff", func() { req.L2Coeff = *l2Coeff })
	applyFlag("no-bias", func() { req.NoBias = *noBias })
	applyFlag("heads", func() { req.Heads = *heads })
	applyFlag("head-dim", func() { req.HeadDim = *headDim })
	applyFlag("optimizer", func() { req.Optimizer = *optimizer })
	applyFlag("max-steps", func() { req.MaxSteps = *maxSteps })
	applyFlag("batch-size", func() { req.BatchSize = *batchSize })
	applyFlag("seed", func() { req.Seed = *seed })

	if req.MSAPath == "" {
		return usageError("train: -data is required")
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if isatty.IsTerminal(os.Stdout.Fd()) {
		every := req.MaxSteps / 20
		if every < 1 {
			every = 1
		}
		req.Progress = func(step int, loss float64) {
			if step%every == 0 || step == req.MaxSteps {
				fmt.Printf("step %d/%d loss=%.4f\n", step, req.MaxSteps, loss)
			}
		}
	}

	started := time.Now()
	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s sequences, length %d, %d steps in %s\n",
		summary.RunID,
		humanize.Comma(int64(summary.NumSeqs)),
		summary.Length,
		summary.Steps,
		time.Since(started).Round(time.Millisecond),
	)
	fmt.Printf("final loss: %.4f\n", summary.FinalLoss)
	if summary.AUC != nil && summary.AUCAPC != nil {
		fmt.Printf("AUC: %.3f, AUC_APC: %.3f\n", *summary.AUC, *summary.AUCAPC)
	}
	fmt.Printf("artifacts: %s\n", summary.RunDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum runs to list")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, gremlin.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}
	for _, item := range items {
		age := item.CreatedAtUTC
		if t, err := time.Parse(time.RFC3339, item.CreatedAtUTC); err == nil {
			age = humanize.Time(t)
		}
		line := fmt.Sprintf("%s  %s  N=%s L=%d  %s x%d  loss=%.4f",
			item.RunID,
			age,
			humanize.Comma(int64(item.NumSeqs)),
			item.Length,
			item.Optimizer,
			item.MaxSteps,
			item.FinalLoss,
		)
		if item.AUC != nil {
			line += fmt.Sprintf("  auc=%.3f", *item.AUC)
		}
		fmt.Println(line)
	}
	return nil
}

func runContacts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("contacts", flag.ContinueOnError)
	runID := fs.String("run", "", "run id (required)")
	top := fs.Int("top", 0, "print only the top N pairs by score (0 = all)")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("contacts: -run is required")
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	rows, err := client.Contacts(ctx, *runID)
	if err != nil {
		return err
	}

	type pair struct {
		i, j  int
		score float64
	}
	var pairs []pair
	for i := range rows {
		for j := i + 1; j < len(rows[i]); j++ {
			pairs = append(pairs, pair{i + 1, j + 1, rows[i][j]})
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].score > pairs[b].score })
	if *top > 0 && len(pairs) > *top {
		pairs = pairs[:*top]
	}
	for _, p := range pairs {
		fmt.Printf("%d\t%d\t%g\n", p.i, p.j, p.score)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run", "", "run id (required)")
	outDir := fs.String("out", "exports", "destination directory")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("export: -run is required")
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	dst, err := client.Export(ctx, gremlin.ExportRequest{RunID: *runID, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported %s to %s\n", *runID, dst)
	return nil
}
