package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/warp/internal/materialize"
	"github.com/rohankatakam/warp/internal/objstore"
	"github.com/rohankatakam/warp/internal/reduce"
	"github.com/rohankatakam/warp/internal/trust"
)

var (
	auditSince         string
	auditWriter        string
	auditTrustRequired bool
	auditTrustRefTip   string
)

var verifyAuditCmd = &cobra.Command{
	Use:   "verify-audit",
	Short: "Verify writer-chain integrity and (optionally) trust-chain admission",
	Long: `verify-audit walks every writer's patch chain, checking each patch's
shape and that the combined history folds cleanly, then (with
--trust-required) verifies the signed trust chain and confirms every
writer with patches is currently trusted.

Exit 0 on pass; nonzero if integrity or trust fails.`,
	RunE: runVerifyAudit,
}

func init() {
	verifyAuditCmd.Flags().StringVar(&auditSince, "since", "", "RFC3339 timestamp; reserved, the object-store port carries no commit wall-clock yet")
	verifyAuditCmd.Flags().StringVar(&auditWriter, "writer", "", "limit the audit to a single writer id")
	verifyAuditCmd.Flags().BoolVar(&auditTrustRequired, "trust-required", false, "fail unless every writer with patches is admitted by the trust chain")
	verifyAuditCmd.Flags().StringVar(&auditTrustRefTip, "trust-ref-tip", "", "fail unless the trust chain's current tip commit sha matches exactly")
}

type auditReport struct {
	Writers        []string `json:"writers"`
	PatchesChecked int      `json:"patchesChecked"`
	TrustChecked   bool     `json:"trustChecked"`
	TrustedWriters []string `json:"trustedWriters,omitempty"`
	Failures       []string `json:"failures"`
	Pass           bool     `json:"pass"`
}

func runVerifyAudit(cmd *cobra.Command, args []string) error {
	if auditSince != "" {
		if _, err := time.Parse(time.RFC3339, auditSince); err != nil {
			return &usageError{fmt.Errorf("--since: %w", err)}
		}
	}

	store, layout, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report := auditReport{Pass: true}

	chain := materialize.NewStoreChainReader(store, layout)
	writers, err := chain.DiscoverWriters(ctx)
	if err != nil {
		return err
	}
	if auditWriter != "" {
		writers = filterWriter(writers, auditWriter)
	}
	sort.Strings(writers)
	report.Writers = writers

	byWriter := make(map[string][]reduce.Sourced, len(writers))
	for _, w := range writers {
		patches, err := chain.PatchesSince(ctx, w, "")
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("writer %s: %v", w, err))
			report.Pass = false
			continue
		}
		for _, p := range patches {
			if err := p.Patch.ValidateShape(); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("writer %s patch %s: %v", w, p.Sha, err))
				report.Pass = false
			}
		}
		byWriter[w] = patches
		report.PatchesChecked += len(patches)
	}

	var allPatches []reduce.Sourced
	for _, patches := range byWriter {
		allPatches = append(allPatches, patches...)
	}
	if _, err := reduce.Reduce(reduce.New(), allPatches); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("combined history does not fold cleanly: %v", err))
		report.Pass = false
	}

	if auditTrustRequired || auditTrustRefTip != "" {
		report.TrustChecked = true
		if err := runTrustAudit(ctx, store, layout, writers, &report); err != nil {
			return err
		}
	}

	if jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printAuditReport(report)
	}

	if !report.Pass {
		return fmt.Errorf("verify-audit: %d failure(s)", len(report.Failures))
	}
	return nil
}

func runTrustAudit(ctx context.Context, store objstore.Store, layout objstore.RefLayout, writers []string, report *auditReport) error {
	if auditTrustRefTip != "" {
		tip, err := trust.CurrentTip(ctx, store, layout)
		if err != nil {
			return err
		}
		if tip.Sha != auditTrustRefTip {
			report.Failures = append(report.Failures, fmt.Sprintf("trust ref tip %q does not match expected %q", tip.Sha, auditTrustRefTip))
			report.Pass = false
		}
	}

	if !auditTrustRequired {
		return nil
	}

	records, err := trust.LoadChain(ctx, store, layout)
	if err != nil {
		return err
	}
	if err := trust.VerifyChain(records, cfg.Trust.GenesisRecordID); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("trust chain verification failed: %v", err))
		report.Pass = false
		return nil
	}

	eval := trust.EvaluateWriters(records)
	var trusted []string
	for w := range eval.Trusted {
		trusted = append(trusted, w)
	}
	sort.Strings(trusted)
	report.TrustedWriters = trusted

	for _, w := range writers {
		if !eval.IsTrusted(w) {
			report.Failures = append(report.Failures, fmt.Sprintf("writer %s has patches but is not trusted", w))
			report.Pass = false
		}
	}
	return nil
}

func filterWriter(writers []string, want string) []string {
	for _, w := range writers {
		if w == want {
			return []string{w}
		}
	}
	return nil
}

func printAuditReport(r auditReport) {
	fmt.Printf("verify-audit: %d writer(s), %d patch(es) checked\n", len(r.Writers), r.PatchesChecked)
	if r.TrustChecked {
		fmt.Printf("  trust chain checked, %d trusted writer(s)\n", len(r.TrustedWriters))
	}
	for _, f := range r.Failures {
		fmt.Printf("  ✗ %s\n", f)
	}
	if r.Pass {
		fmt.Println("✓ PASS")
	} else {
		fmt.Println("✗ FAIL")
	}
}
