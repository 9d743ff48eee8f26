package core

import (
	"strings"
	"testing"
)

func TestTelemetryGatherTextReflectsCounters(t *testing.T) {
	tel := NewTelemetry(testLogger())
	tel.IncAdmitted()
	tel.IncAdmitted()
	tel.IncRejected(CodeDuplicate)
	tel.SetChainHeight(42)
	tel.SetDifficulty(7)

	text, err := tel.GatherText()
	if err != nil {
		t.Fatalf("GatherText: %v", err)
	}
	if !strings.Contains(text, "theblock_tx_admitted_total 2") {
		t.Fatalf("expected admitted counter to read 2, got:\n%s", text)
	}
	if !strings.Contains(text, `theblock_tx_rejected_total{reason="duplicate"} 1`) {
		t.Fatalf("expected rejected counter labelled duplicate, got:\n%s", text)
	}
	if !strings.Contains(text, "theblock_chain_height 42") {
		t.Fatalf("expected chain height gauge 42, got:\n%s", text)
	}
	if !strings.Contains(text, "theblock_difficulty 7") {
		t.Fatalf("expected difficulty gauge 7, got:\n%s", text)
	}
}

func TestCodeLabelCoversEveryCode(t *testing.T) {
	codes := []Code{
		CodeOK, CodeUnknownSender, CodeInsufficientBalance, CodeNonceGap,
		CodeInvalidSelector, CodeBadSignature, CodeDuplicate, CodeNotFound,
		CodeBalanceOverflow, CodeFeeOverflow, CodeFeeTooLow, CodeMempoolFull,
		CodeLockPoisoned, CodePendingLimit, CodeFeeTooLarge,
	}
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		label := codeLabel(c)
		if label == "unknown" {
			t.Fatalf("code %d has no symbolic label", c)
		}
		if seen[label] {
			t.Fatalf("label %q reused by more than one code", label)
		}
		seen[label] = true
	}
}
