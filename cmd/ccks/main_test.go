package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("ccks %s failed: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPrepareTrainPredict(t *testing.T) {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "model")
	writeFile(t, filepath.Join(modelDir, "vocab.txt"),
		"[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\n问\n题\n描\n述\n答\n案\n是\n否\n")

	train := []string{"label\tdocid\tquestion\tdescription\tanswer"}
	for i := 0; i < 8; i++ {
		answer, label := "答案是", "1"
		if i%2 == 0 {
			answer, label = "答案否", "0"
		}
		train = append(train, label+"\td"+string(rune('0'+i))+"\t问题\t描述\t"+answer)
	}
	writeFile(t, filepath.Join(dir, "train.tsv"), strings.Join(train, "\n")+"\n")
	writeFile(t, filepath.Join(dir, "test.tsv"),
		"docid\tquestion\tdescription\tanswer\nt1\t问题\t描述\t答案是\nt2\t问题\t描述\t答案否\nt3\t问\t述\t答\n")

	common := []string{"--log-level", "warn", "--progress=false"}
	files := []string{
		"--train-tsv", filepath.Join(dir, "train.tsv"),
		"--test-tsv", filepath.Join(dir, "test.tsv"),
		"--train-csv", filepath.Join(dir, "train.csv"),
		"--test-csv", filepath.Join(dir, "test.csv"),
	}
	execute(t, append(append([]string{"prepare"}, common...), files...)...)

	ckptDir := filepath.Join(dir, "ckpt")
	execute(t, append([]string{"train",
		"--model", modelDir,
		"--train-csv", filepath.Join(dir, "train.csv"),
		"--output-dir", ckptDir,
		"--fold-num", "2",
		"--epochs", "1",
		"--train-bs", "2",
		"--valid-bs", "3",
		"--max-len", "16",
		"--hidden-size", "8",
		"--lr", "0.001",
	}, common...)...)

	saved, err := filepath.Glob(filepath.Join(ckptDir, "*"+checkpoints.Extension))
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(saved)
	if len(saved) != 2 {
		t.Fatalf("train wrote %d checkpoints, want 2: %v", len(saved), saved)
	}
	for i, path := range saved {
		info, err := checkpoints.ParseName(path)
		if err != nil {
			t.Fatalf("ParseName(%s) failed: %v", path, err)
		}
		if info.Fold != i || info.Epoch != 0 || info.Tag != checkpoints.DefaultTag {
			t.Errorf("checkpoint %s has unexpected name info %+v", path, info)
		}
	}

	outDir := filepath.Join(dir, "out")
	execute(t, append(append([]string{"predict",
		"--model", modelDir,
		"--test-csv", filepath.Join(dir, "test.csv"),
		"--output-dir", outDir,
		"--max-len", "16",
	}, common...), saved...)...)

	result, err := os.ReadFile(filepath.Join(outDir, "WENGSYX_valid_result.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(result), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("result has %d lines, want 4:\n%s", len(lines), result)
	}
	if lines[0] != "Label\tDocid\tQuestion\tDescription\tAnswer" {
		t.Errorf("header = %q", lines[0])
	}
	for i, line := range lines[1:] {
		fields := strings.Split(line, "\t")
		if len(fields) != 5 || (fields[0] != "0" && fields[0] != "1") {
			t.Errorf("row %d = %q", i, line)
		}
	}
}

func TestPredictWithoutCheckpoints(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"predict", "--log-level", "error"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Error("expected predict to fail without checkpoints")
	}
}

func TestInvalidFlagValue(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"train", "--fold-num", "1", "--log-level", "error"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fold_num") {
		t.Errorf("train --fold-num 1 error = %v, want a fold_num validation error", err)
	}
}
